package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/cleanup"
	"mercator-hq/gateway/internal/cli"
	"mercator-hq/gateway/internal/config"
	"mercator-hq/gateway/internal/dispatch"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/health"
	"mercator-hq/gateway/internal/logging"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/queue"
	"mercator-hq/gateway/internal/server"
	"mercator-hq/gateway/internal/store"
	"mercator-hq/gateway/internal/telemetry/metrics"
	"mercator-hq/gateway/internal/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the gateway server with the specified configuration.

The server listens on the configured address and serves requests through
the Request Queue, Backend Manager, and Dispatch Loop. Discussions are run
by the separate discuss command, not by this server.

Examples:
  # Start with default config
  gateway run

  # Start with custom config
  gateway run --config /etc/gateway/config.yaml

  # Override listen address
  gateway run --listen 0.0.0.0:8080

  # Validate config without starting the server
  gateway run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen host:port")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		if err := splitHostPort(runFlags.listenAddress, &cfg.Server.Host, &cfg.Server.Port); err != nil {
			return cli.NewConfigError("server.host/port", err.Error())
		}
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	log := logging.New(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
		Redact: cfg.Telemetry.Logging.Redact,
	})

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	fmt.Printf("gateway %s starting, config %s\n", Version, cfgFile)
	log.Info("loaded configuration", "providers", len(cfg.Providers))

	collector := metrics.New()

	tracer, err := tracing.New(tracing.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		ServiceName: "gateway",
		SampleRatio: cfg.Telemetry.Tracing.SampleRatio,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	st, err := store.Open(store.Config{
		Path:          cfg.Store.Path,
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	}, log)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("opening store: %w", err))
	}
	defer st.Close()

	q := queue.New(queue.Config{
		MaxQueueSize:          cfg.Queue.MaxQueueSize,
		MaxConcurrentRequests: cfg.Queue.MaxConcurrentRequests,
	}, st, log)
	if err := q.Rebuild(); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("rebuilding queue from store: %w", err))
	}

	backends := backend.NewManager()
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		switch model.BackendKind(pc.Kind) {
		case model.BackendHTTP:
			backends.Register(name, model.BackendHTTP, backend.NewHTTPBackend(backend.HTTPConfig{
				Name:          name,
				Endpoint:      pc.Endpoint,
				APIKey:        pc.APIKey,
				AuthHeader:    pc.AuthHeader,
				RequestField:  pc.RequestField,
				ResponseField: pc.ResponseField,
			}, log))
		case model.BackendCLI:
			backends.Register(name, model.BackendCLI, backend.NewCLIBackend(backend.CLIConfig{
				Name:    name,
				Command: pc.Command,
				Args:    pc.Args,
			}))
		case model.BackendCLIInteractive:
			backends.Register(name, model.BackendCLIInteractive, backend.NewInteractiveCLIBackend(backend.CLIConfig{
				Name:    name,
				Command: pc.Command,
				Args:    pc.Args,
			}))
		default:
			log.Warn("skipping provider with unknown backend kind", "provider", name, "kind", pc.Kind)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := backends.ShutdownAll(shutdownCtx); err != nil {
			log.Error("backend shutdown", "error", err)
		}
	}()

	bus := events.New(256)

	queueDepth := func(provider string) int { return q.Stats().ByProvider[provider] }
	monitor := health.New(health.Config{}, backends, st, queueDepth, log)
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		var rateLimit *int
		if pc.RateLimitRPM > 0 {
			rl := pc.RateLimitRPM
			rateLimit = &rl
		}
		monitor.RegisterProvider(name, model.BackendKind(pc.Kind), pc.Priority, rateLimit, float64(pc.TimeoutSeconds), pc.Enabled)
	}

	dispatchLoop := dispatch.New(dispatch.Config{Workers: cfg.Queue.MaxConcurrentRequests}, q, backends, st, bus, log)
	dispatchLoop.Metrics = collector
	dispatchLoop.Tracer = tracer

	cleanupLoop := cleanup.New(st, cleanup.Config{
		RequestTTLHours:    cfg.Telemetry.Cleanup.RequestTTLHours,
		MetricsTTLHours:    cfg.Telemetry.Cleanup.MetricsTTLHours,
		DiscussionTTLHours: cfg.Telemetry.Cleanup.DiscussionTTLHours,
		Schedule:           cfg.Telemetry.Cleanup.Schedule,
	}, log)

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		DefaultProvider: cfg.Server.DefaultProvider,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORS: server.CORSConfig{
			Enabled:          cfg.Server.CORS.Enabled,
			AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
			AllowCredentials: cfg.Server.CORS.AllowCredentials,
			MaxAge:           cfg.Server.CORS.MaxAge,
		},
		AuthToken:   cfg.Security.AuthToken,
		TLSEnabled:  cfg.Security.TLS.Enabled,
		TLSCertFile: cfg.Security.TLS.CertFile,
		TLSKeyFile:  cfg.Security.TLS.KeyFile,
	}
	if cfg.Telemetry.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Telemetry.Metrics.Path
		srvCfg.MetricsHandler = collector.Handler()
	}
	srv := server.New(srvCfg, st, q, backends, bus, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watcher, werr := config.NewWatcher(cfgFile, log); werr != nil {
		log.Warn("config watcher disabled", "error", werr)
	} else {
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	go monitor.Run(ctx)
	go dispatchLoop.Run(ctx)
	if err := cleanupLoop.Start(ctx); err != nil {
		log.Warn("cleanup scheduler failed to start", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	fmt.Printf("listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Printf("metrics: http://%s:%d%s\n", cfg.Server.Host, cfg.Server.Port, cfg.Telemetry.Metrics.Path)
	}
	fmt.Println("press Ctrl+C to stop")

	sigChan := cli.WaitForShutdown()
	select {
	case err := <-errCh:
		return cli.NewCommandError("run", err)
	case sig := <-sigChan:
		fmt.Printf("received signal %s, shutting down\n", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", "error", err)
		}

		cleanupLoop.Stop()
		cancel() // stops monitor and dispatch loops

		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}

		fmt.Println("stopped")
		return nil
	}
}

func splitHostPort(addr string, host *string, port *int) error {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			*host = addr[:i]
			_, err := fmt.Sscanf(addr[i+1:], "%d", port)
			return err
		}
	}
	return fmt.Errorf("expected host:port, got %q", addr)
}
