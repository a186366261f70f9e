// Package remote runs command lines on managed hosts.
//
// An Executor returns a Result whenever the command actually ran, whatever its
// exit status. A non-nil error means the command could not be run at all
// (dial failure, broken session, cancelled context) and is always wrapped
// around ErrUnavailable.
package remote

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/mattjoyce/hostdispatch/internal/remote Executor

// maxOutputBytes caps captured stdout/stderr per command.
const maxOutputBytes = 64 * 1024

// ErrUnavailable marks a command that never ran.
var ErrUnavailable = errors.New("remote: command could not run")

// Result is the observable outcome of one command that ran.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports a zero exit status.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Executor runs a shell command line on one host.
type Executor interface {
	Exec(ctx context.Context, cmdline string) (Result, error)
}

func truncate(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
