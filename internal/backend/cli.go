package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mercator-hq/gateway/internal/gwerr"
)

// skipPhrases are status/progress lines stripped from CLI stdout
// before the response is returned, matching original_source's
// cli_backend.py _clean_output.
var skipPhrases = []string{"loading", "initializing", "connecting", "thinking...", "processing..."}

// CLIConfig configures a CLIBackend.
type CLIConfig struct {
	Name    string
	Command string   // absolute path, or a name resolved via $PATH
	Args    []string // fixed arguments placed before the message
}

// CLIBackend executes an AI CLI tool as a one-shot subprocess per
// request: spawn, wait for exit or timeout, classify by exit code.
// Grounded on original_source's CLIBackend.
type CLIBackend struct {
	cfg CLIConfig

	resolveOnce sync.Once
	resolved    string
	resolveErr  error
}

// NewCLIBackend builds a backend around a configured command name.
func NewCLIBackend(cfg CLIConfig) *CLIBackend {
	return &CLIBackend{cfg: cfg}
}

// resolve finds the CLI's absolute path via $PATH once and caches it,
// matching the Python original's shutil.which-then-cache behavior.
func (b *CLIBackend) resolve() (string, error) {
	b.resolveOnce.Do(func() {
		if filepath.IsAbs(b.cfg.Command) {
			b.resolved = b.cfg.Command
			return
		}
		path, err := exec.LookPath(b.cfg.Command)
		if err != nil {
			b.resolveErr = fmt.Errorf("CLI command not found: %s", b.cfg.Command)
			return
		}
		b.resolved = path
	})
	return b.resolved, b.resolveErr
}

// buildArgs appends the message as the final argument, the
// convention most CLI tools expect for an inline prompt.
func (b *CLIBackend) buildArgs(message string) []string {
	args := make([]string, 0, len(b.cfg.Args)+1)
	args = append(args, b.cfg.Args...)
	args = append(args, message)
	return args
}

// Execute spawns the CLI, captures stdout/stderr to completion or
// ctx's deadline, and kills the child on timeout.
func (b *CLIBackend) Execute(ctx context.Context, message string) Result {
	start := time.Now()

	cli, err := b.resolve()
	if err != nil {
		return failResult(err.Error(), gwerr.ClassSpawnFailure, start)
	}

	cmd := exec.CommandContext(ctx, cli, b.buildArgs(message)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	latency := float64(time.Since(start).Microseconds()) / 1000

	if ctx.Err() != nil {
		return failResult(fmt.Sprintf("CLI command timed out after %s", time.Since(start)), gwerr.ClassTimeout, start)
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return failResult(runErr.Error(), gwerr.ClassSpawnFailure, start)
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = fmt.Sprintf("CLI exited with error: %v", runErr)
		}
		return Result{Success: false, Error: errMsg, Class: gwerr.ClassExitNonzero, LatencyMs: latency}
	}

	return Result{
		Success:   true,
		Response:  cleanOutput(stdout.String()),
		RawOutput: stdout.String(),
		LatencyMs: latency,
	}
}

// cleanOutput strips known status/progress lines from CLI output,
// matching original_source's _clean_output.
func cleanOutput(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var kept []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		skip := false
		for _, phrase := range skipPhrases {
			if strings.Contains(lower, phrase) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// HealthCheck runs the CLI with --version, accepting any exit as long
// as the process ran (many CLIs don't honor --version).
func (b *CLIBackend) HealthCheck(ctx context.Context) bool {
	cli, err := b.resolve()
	if err != nil {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(checkCtx, cli, "--version")
	cmd.Run()
	return checkCtx.Err() != context.DeadlineExceeded
}

// Shutdown is a no-op: a one-shot CLI backend holds no resources
// between calls.
func (b *CLIBackend) Shutdown(ctx context.Context) error {
	return nil
}
