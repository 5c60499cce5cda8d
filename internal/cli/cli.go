// Package cli provides the small set of command-line helpers cmd/gateway
// needs: typed startup errors and signal-based shutdown. Grounded on the
// teacher's pkg/cli (errors.go, signals.go) — the teacher's output.go and
// progress.go formatters/progress bars have no SPEC_FULL.md component
// (the gateway has no interactive batch commands that report progress),
// so they are not carried forward.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// ConfigError represents a failure to load or validate configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// NewConfigError builds a ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// CommandError wraps an error with the command that produced it.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError builds a CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{Command: command, Err: err}
}

// SetupSignalHandler returns a context canceled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	return ctx
}

// WaitForShutdown returns a channel that receives the triggering signal.
func WaitForShutdown() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return sigChan
}
