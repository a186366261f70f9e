package remote

import (
	"context"
	"time"
)

// WithTimeout bounds every Exec on e by d. A zero or negative d returns e
// unchanged.
func WithTimeout(e Executor, d time.Duration) Executor {
	if d <= 0 {
		return e
	}
	return timeoutExecutor{next: e, timeout: d}
}

type timeoutExecutor struct {
	next    Executor
	timeout time.Duration
}

func (t timeoutExecutor) Exec(ctx context.Context, cmdline string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Exec(ctx, cmdline)
}
