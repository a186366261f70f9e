package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/protocol"
	"github.com/mattjoyce/hostdispatch/internal/remote"
	"github.com/mattjoyce/hostdispatch/internal/result"
	"github.com/mattjoyce/hostdispatch/internal/variant"
)

func TestRunAll_TransportOverrideIsPerDispatch(t *testing.T) {
	table, vs := newTable(t)
	var leaks atomic.Int32
	vs.transferPrimary.fn = func(inv variant.Invocation) (result.Record, error) {
		time.Sleep(time.Millisecond)
		if inv.Transport.ForceSCP {
			leaks.Add(1)
		}
		return result.Record{"scp": inv.Transport.ForceSCP}, nil
	}
	vs.transferAlt.fn = func(inv variant.Invocation) (result.Record, error) {
		time.Sleep(time.Millisecond)
		return result.Record{"scp": inv.Transport.ForceSCP}, nil
	}
	d := New(table, Options{})

	var targets []Target
	for i := 0; i < 40; i++ {
		platform := "Debian"
		if i%2 == 0 {
			platform = "OpenWRT"
		}
		targets = append(targets, Target{
			Host:             protocol.Host{Name: fmt.Sprintf("h%02d", i)},
			DeclaredPlatform: platform,
			Executor:         remote.LocalExecutor{},
		})
	}

	results := d.RunAll(context.Background(), targets, operation.Request{Kind: operation.Transfer}, 8)

	require.Len(t, results, len(targets))
	assert.Zero(t, leaks.Load(), "primary transfers must never observe another host's override")
	for i, r := range results {
		assert.Equal(t, targets[i].Host.Name, r.Host)
		assert.Equal(t, r.Record[KeyInvocationID], r.DispatchID)
		assert.Equal(t, i%2 == 0, r.Record["scp"], "host %s", r.Host)
	}
}

func TestRunAll_ArgsAreNotShared(t *testing.T) {
	table, vs := newTable(t)
	vs.transferPrimary.fn = func(inv variant.Invocation) (result.Record, error) {
		inv.Args["touched_by"] = inv.Host.Name
		return result.Record{"src": inv.Args["src"]}, nil
	}
	d := New(table, Options{})

	args := map[string]any{"src": "motd"}
	targets := []Target{
		{Host: protocol.Host{Name: "a"}, Executor: remote.LocalExecutor{}},
		{Host: protocol.Host{Name: "b"}, Executor: remote.LocalExecutor{}},
	}
	results := d.RunAll(context.Background(), targets, operation.Request{Kind: operation.Transfer, Args: args}, 0)

	assert.NotContains(t, args, "touched_by")
	for _, r := range results {
		assert.Equal(t, "motd", r.Record["src"])
	}
}
