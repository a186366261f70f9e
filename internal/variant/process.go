package variant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/hostdispatch/internal/log"
	"github.com/mattjoyce/hostdispatch/internal/protocol"
	"github.com/mattjoyce/hostdispatch/internal/result"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a variant.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	defaultTimeout = 5 * time.Minute
)

// ErrTimedOut is returned when a variant process outlives its timeout.
var ErrTimedOut = errors.New("variant timed out")

// ProcessVariant runs a variant as a subprocess speaking the JSON protocol
// over stdin/stdout.
type ProcessVariant struct {
	Name       string
	Version    string
	Path       string
	Entrypoint string
	Timeout    time.Duration
}

func (p *ProcessVariant) Execute(ctx context.Context, inv Invocation) (result.Record, error) {
	logger := log.WithDispatch(inv.DispatchID).With("variant", p.Name, "host", inv.Host.Name)

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}

	args := inv.Args
	if args == nil {
		args = map[string]any{}
	}
	req := &protocol.Request{
		Protocol:   protocol.Version,
		DispatchID: inv.DispatchID,
		Operation:  inv.Kind,
		Variant:    p.Name,
		Host:       inv.Host,
		Args:       args,
		Facts:      inv.Facts,
		Transport:  inv.Transport,
		DeadlineAt: time.Now().Add(timeout),
	}

	resp, stderr, err := p.spawn(ctx, req, timeout, logger)
	if err != nil {
		if errors.Is(err, ErrTimedOut) {
			return result.Failure(fmt.Sprintf("variant %s timed out after %v", p.Name, timeout)), nil
		}
		if stderr != "" {
			return nil, fmt.Errorf("%w (stderr: %s)", err, stderr)
		}
		return nil, err
	}

	for _, entry := range resp.Logs {
		logger.Info("variant log", "level", entry.Level, "message", entry.Message)
	}

	rec := result.Record{}
	rec.Merge(resp.Result)
	if resp.Status == "error" {
		logger.Warn("variant returned error", "error", resp.Error)
		rec[result.KeyFailed] = true
		rec[result.KeyMsg] = resp.Error
	}
	return rec, nil
}

// spawn starts the entrypoint, writes the request to stdin, and reads the
// response from stdout. Returns the response, stderr output, and any error.
func (p *ProcessVariant) spawn(
	ctx context.Context,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Termination is managed below, so no CommandContext.
	cmd := exec.Command(p.Entrypoint)
	cmd.Dir = p.Path

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning variant", "entrypoint", p.Entrypoint, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var abort string
	select {
	case <-timeoutTimer.C:
		abort = "timeout"
	case <-ctx.Done():
		abort = "cancelled"
	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		werr := <-writeErr
		if werr != nil && (err != nil || !stdinClosedEarly(werr)) {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("variant exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			if werr != nil {
				return nil, stderrStr, werr
			}
			logger.Error("failed to decode variant response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		if werr != nil {
			logger.Debug("variant exited before reading the whole request", "error", werr)
		}
		return resp, stderrStr, nil
	}

	logger.Warn("variant aborted, sending SIGTERM", "reason", abort)
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("variant exited after SIGTERM")
	case <-grace.C:
		logger.Warn("variant did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}

	stderrStr := truncateStderr(stderr.String())
	if abort == "cancelled" {
		return nil, stderrStr, ctx.Err()
	}
	return nil, stderrStr, ErrTimedOut
}

// stdinClosedEarly reports whether a request write failed only because the
// variant stopped reading stdin.
func stdinClosedEarly(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
