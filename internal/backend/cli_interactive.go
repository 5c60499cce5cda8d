package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"mercator-hq/gateway/internal/gwerr"
)

// sentinels mark an interactive CLI's response as complete — its
// prompt has reprinted, meaning it's ready for the next message.
// Grounded on original_source's InteractiveCLIBackend._is_response_complete.
var sentinels = []string{"> ", ">>> "}

// InteractiveCLIBackend keeps one long-lived child process per
// backend instance and serializes calls through it, preserving
// context across requests the way an interactive REPL-style CLI
// tool (e.g. Codex) expects.
type InteractiveCLIBackend struct {
	cfg CLIConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
}

// NewInteractiveCLIBackend builds a backend that will lazily spawn its
// child process on the first Execute call.
func NewInteractiveCLIBackend(cfg CLIConfig) *InteractiveCLIBackend {
	return &InteractiveCLIBackend{cfg: cfg}
}

// ensureProcess starts the child if it isn't already running. Caller
// must hold mu.
func (b *InteractiveCLIBackend) ensureProcess() error {
	if b.cmd != nil && b.cmd.ProcessState == nil {
		return nil
	}

	cli, err := exec.LookPath(b.cfg.Command)
	if err != nil {
		if !strings.HasPrefix(b.cfg.Command, "/") {
			return fmt.Errorf("CLI command not found: %s", b.cfg.Command)
		}
		cli = b.cfg.Command
	}

	cmd := exec.Command(cli, b.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	b.cmd = cmd
	b.stdin = stdin
	b.scanner = bufio.NewScanner(stdout)
	return nil
}

// Execute serializes through mu (only one request in flight against
// the shared child at a time), writes message+"\n" to stdin, then
// reads lines until a sentinel or ctx's deadline.
func (b *InteractiveCLIBackend) Execute(ctx context.Context, message string) Result {
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureProcess(); err != nil {
		return failResult(err.Error(), gwerr.ClassSpawnFailure, start)
	}

	if _, err := fmt.Fprintln(b.stdin, message); err != nil {
		return failResult(fmt.Sprintf("write stdin: %v", err), gwerr.ClassProtocol, start)
	}

	lines := make(chan string)
	stop := make(chan struct{})
	go func() {
		defer close(lines)
		for b.scanner.Scan() {
			line := b.scanner.Text()
			select {
			case lines <- line:
			case <-stop:
				return
			}
			if isResponseComplete(line) {
				return
			}
		}
	}()

	var collected []string
readLoop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break readLoop
			}
			collected = append(collected, line)
			if isResponseComplete(line) {
				break readLoop
			}
		case <-ctx.Done():
			break readLoop
		}
	}
	close(stop)

	latency := float64(time.Since(start).Microseconds()) / 1000
	text := cleanOutput(strings.Join(collected, "\n"))
	return Result{Success: true, Response: text, RawOutput: strings.Join(collected, "\n"), LatencyMs: latency}
}

func isResponseComplete(line string) bool {
	for _, s := range sentinels {
		if strings.HasSuffix(line, s) {
			return true
		}
	}
	return false
}

// HealthCheck reports whether the child process is alive, starting it
// if needed.
func (b *InteractiveCLIBackend) HealthCheck(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureProcess() == nil
}

// Shutdown terminates the child process, if one is running.
func (b *InteractiveCLIBackend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.ProcessState != nil {
		return nil
	}
	if err := b.cmd.Process.Kill(); err != nil {
		return err
	}
	b.cmd.Wait()
	return nil
}
