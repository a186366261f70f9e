package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// LocalExecutor runs command lines through /bin/sh on this machine. It backs
// "connection: local" hosts and tests.
type LocalExecutor struct {
	Shell string
}

func (e LocalExecutor) Exec(ctx context.Context, cmdline string) (Result, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", cmdline)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	res := Result{Stdout: truncate(stdout.String()), Stderr: truncate(stderr.String())}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
}
