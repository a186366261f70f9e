package dispatch

import (
	"context"
	"maps"

	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/result"
	"golang.org/x/sync/errgroup"
)

// HostResult pairs a host with its dispatch record.
type HostResult struct {
	Host       string        `json:"host"`
	DispatchID string        `json:"dispatch_id"`
	Record     result.Record `json:"result"`
}

// RunAll dispatches req to every target with at most workers in flight.
// Results keep the order of targets. One host failing does not stop the rest.
func (d *Dispatcher) RunAll(ctx context.Context, targets []Target, req operation.Request, workers int) []HostResult {
	if workers <= 0 {
		workers = 1
	}
	out := make([]HostResult, len(targets))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, t := range targets {
		g.Go(func() error {
			// Each host gets its own args map; variants may mutate theirs.
			args := maps.Clone(req.Args)
			id, rec := d.Dispatch(ctx, t, operation.Request{Kind: req.Kind, Args: args})
			out[i] = HostResult{Host: t.Host.Name, DispatchID: id, Record: rec}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
