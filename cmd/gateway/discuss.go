package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/cli"
	"mercator-hq/gateway/internal/config"
	"mercator-hq/gateway/internal/discussion"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/logging"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/store"
)

var discussFlags struct {
	providers string
}

var discussCmd = &cobra.Command{
	Use:   "discuss <topic>",
	Short: "Run a discussion session from the command line",
	Long: `Run a full propose -> review -> revise -> summarize discussion
session against the configured providers and print the resulting
summary. This is the Discussion Orchestrator's only command-line
entry point; it is not exposed over the gateway's REST surface.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscuss,
}

func init() {
	rootCmd.AddCommand(discussCmd)
	discussCmd.Flags().StringVar(&discussFlags.providers, "providers", "", "comma-separated provider names (default: discussion.providers from config)")
}

func runDiscuss(cmd *cobra.Command, args []string) error {
	topic := args[0]

	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()
	log := logging.New(logging.Config{Level: cfg.Telemetry.Logging.Level, Format: cfg.Telemetry.Logging.Format})

	st, err := store.Open(store.Config{Path: cfg.Store.Path, BusyTimeoutMS: cfg.Store.BusyTimeoutMS}, log)
	if err != nil {
		return cli.NewCommandError("discuss", fmt.Errorf("opening store: %w", err))
	}
	defer st.Close()

	backends := backend.NewManager()
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		switch model.BackendKind(pc.Kind) {
		case model.BackendHTTP:
			backends.Register(name, model.BackendHTTP, backend.NewHTTPBackend(backend.HTTPConfig{
				Name: name, Endpoint: pc.Endpoint, APIKey: pc.APIKey,
				AuthHeader: pc.AuthHeader, RequestField: pc.RequestField, ResponseField: pc.ResponseField,
			}, log))
		case model.BackendCLI:
			backends.Register(name, model.BackendCLI, backend.NewCLIBackend(backend.CLIConfig{Name: name, Command: pc.Command, Args: pc.Args}))
		case model.BackendCLIInteractive:
			backends.Register(name, model.BackendCLIInteractive, backend.NewInteractiveCLIBackend(backend.CLIConfig{Name: name, Command: pc.Command, Args: pc.Args}))
		}
	}

	providers := cfg.Discussion.Providers
	if discussFlags.providers != "" {
		providers = strings.Split(discussFlags.providers, ",")
	}

	orchestrator := discussion.New(st, backends, events.New(32), log)
	session, err := orchestrator.StartDiscussion(topic, providers, model.DiscussionConfig{
		ProviderTimeoutS: cfg.Discussion.RoundTimeout.Seconds(),
		SummaryProvider:  cfg.Discussion.SummaryProvider,
	})
	if err != nil {
		return cli.NewCommandError("discuss", err)
	}

	fmt.Printf("started discussion %s on %q with providers %v\n", session.ID, topic, session.Providers)

	session, err = orchestrator.RunFullDiscussion(cmd.Context(), session.ID)
	if err != nil {
		return cli.NewCommandError("discuss", err)
	}

	fmt.Printf("status: %s\n", session.Status)
	if session.Summary != nil {
		fmt.Printf("\nsummary:\n%s\n", *session.Summary)
	}
	return nil
}
