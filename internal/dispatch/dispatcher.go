package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/hostdispatch/internal/events"
	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/installer"
	"github.com/mattjoyce/hostdispatch/internal/log"
	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/probe"
	"github.com/mattjoyce/hostdispatch/internal/protocol"
	"github.com/mattjoyce/hostdispatch/internal/remote"
	"github.com/mattjoyce/hostdispatch/internal/result"
	"github.com/mattjoyce/hostdispatch/internal/selector"
	"github.com/mattjoyce/hostdispatch/internal/transport"
	"github.com/mattjoyce/hostdispatch/internal/variant"
)

// Base record keys set by DefaultBaseHook.
const (
	KeyInvocationID = "invocation_id"
	KeyHost         = "host"
)

// Target is the host a request runs against.
type Target struct {
	Host             protocol.Host
	DeclaredPlatform string
	Executor         remote.Executor
	// Settings is the connection-scoped transport setting. Nil means a fresh
	// one per Run, seeded from Options.ForceSCP.
	Settings *transport.Settings
}

// BaseHook builds the record a dispatch starts from.
type BaseHook func(ctx context.Context, t Target, req operation.Request, dispatchID string) result.Record

// DefaultBaseHook stamps the record with the dispatch id and host name.
func DefaultBaseHook(_ context.Context, t Target, _ operation.Request, dispatchID string) result.Record {
	return result.Record{KeyInvocationID: dispatchID, KeyHost: t.Host.Name}
}

// HistoryRecorder persists finished dispatches.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) (string, error)
}

// Options configure a Dispatcher. Zero values are usable.
type Options struct {
	Commands probe.Commands
	// Package is the bridge dependency of the alternate inventory.
	Package  string
	ForceSCP bool
	BaseHook BaseHook
	History  HistoryRecorder
	Events   events.Publisher
}

// Dispatcher selects and runs operation variants. It is safe for concurrent
// use; each Run keeps its own probe, installer and transport settings.
type Dispatcher struct {
	table    *variant.Table
	cmds     probe.Commands
	pkg      string
	forceSCP bool
	hook     BaseHook
	history  HistoryRecorder
	events   events.Publisher
	logger   *slog.Logger
}

// New creates a Dispatcher over a filled variant table.
func New(table *variant.Table, opts Options) *Dispatcher {
	if opts.Package == "" {
		opts.Package = selector.BridgePackage
	}
	if opts.BaseHook == nil {
		opts.BaseHook = DefaultBaseHook
	}
	return &Dispatcher{
		table:    table,
		cmds:     opts.Commands,
		pkg:      opts.Package,
		forceSCP: opts.ForceSCP,
		hook:     opts.BaseHook,
		history:  opts.History,
		events:   opts.Events,
		logger:   log.WithComponent("dispatch"),
	}
}

// run carries the per-request state that ends up in history and events.
type run struct {
	id      string
	started time.Time
	facts   operation.Facts
	variant string
	logger  *slog.Logger
}

// Run executes req against t and returns the merged record. It never panics
// on variant failure and never returns an error: failure is failed/msg.
func (d *Dispatcher) Run(ctx context.Context, t Target, req operation.Request) result.Record {
	_, rec := d.Dispatch(ctx, t, req)
	return rec
}

// Dispatch is Run that also returns the dispatch id. The id is the one used
// for history and events, whatever keys the variant put in the record.
func (d *Dispatcher) Dispatch(ctx context.Context, t Target, req operation.Request) (string, result.Record) {
	r := &run{
		id:      uuid.New().String(),
		started: time.Now(),
		facts:   operation.Facts{DeclaredPlatform: t.DeclaredPlatform},
	}
	r.logger = d.logger.With("dispatch_id", r.id, "host", t.Host.Name, "operation", string(req.Kind))

	base := d.hook(ctx, t, req, r.id)
	if base == nil {
		base = result.Record{}
	}
	d.publish(events.DispatchStarted, events.Dispatch{DispatchID: r.id, Host: t.Host.Name, Operation: string(req.Kind)})

	rec := d.execute(ctx, r, t, req, base)

	d.finish(ctx, r, t, req, rec)
	return r.id, rec
}

func (d *Dispatcher) execute(ctx context.Context, r *run, t Target, req operation.Request, base result.Record) result.Record {
	kind, err := operation.ParseKind(string(req.Kind))
	if err != nil {
		return base.Merge(result.Failure(err.Error()))
	}
	req.Kind = kind
	if t.Executor == nil {
		return base.Merge(result.Failure(fmt.Sprintf("no executor for host %q", t.Host.Name)))
	}

	p := probe.New(t.Executor, d.cmds)
	if selector.NeedsRuntimeProbe(req.Kind) {
		present, err := p.Runtime(ctx)
		if err != nil {
			// Unreachable for probing counts as absent.
			r.logger.Warn("runtime probe unavailable, treating runtime as absent", "error", err)
		}
		r.facts.RuntimePresent = present
	}

	decision := selector.SelectWith(req.Kind, r.facts, d.pkg)
	r.variant = operation.VariantName(req.Kind, decision.Variant)
	r.logger = r.logger.With("variant", r.variant)
	r.logger.Info("variant selected",
		"declared_platform", r.facts.DeclaredPlatform,
		"runtime_present", r.facts.RuntimePresent)

	if decision.Variant == operation.Alternate && decision.RequiresDependency != "" {
		outcome := installer.New(t.Executor, p).Ensure(ctx, decision.RequiresDependency)
		if !outcome.OK {
			r.logger.Error("dependency unavailable, variant not invoked",
				"package", decision.RequiresDependency, "error", outcome.Err)
			return base.Merge(result.Failure(outcome.Message))
		}
	}

	impl, ok := d.table.Lookup(req.Kind, decision.Variant)
	if !ok {
		return base.Merge(result.Failure(fmt.Sprintf("variant %s is not registered", r.variant)))
	}

	settings := t.Settings
	if settings == nil {
		settings = transport.NewSettings(d.forceSCP)
	}
	inv := variant.Invocation{
		DispatchID: r.id,
		Host:       t.Host,
		Kind:       req.Kind,
		Name:       r.variant,
		Args:       req.Args,
		Facts:      r.facts,
	}

	var out result.Record
	if req.Kind == operation.Transfer && decision.Variant == operation.Alternate {
		out, err = d.invokeWithOverride(ctx, r.logger, settings, impl, inv)
	} else {
		inv.Transport = settings.Snapshot()
		out, err = invoke(ctx, impl, inv)
	}
	if err != nil {
		r.logger.Error("variant execution failed", "error", err)
		return base.Merge(result.Failure(err.Error()))
	}
	return base.Merge(out)
}

// invokeWithOverride runs impl with the alternate transport forced on. The
// prior setting is restored on every exit path. A restore error is logged and
// never replaces the variant's outcome.
func (d *Dispatcher) invokeWithOverride(
	ctx context.Context,
	logger *slog.Logger,
	settings *transport.Settings,
	impl variant.Variant,
	inv variant.Invocation,
) (result.Record, error) {
	tok := settings.Begin(true)
	defer func() {
		if err := settings.End(tok); err != nil {
			logger.Error("failed to restore transport setting", "error", err)
		}
	}()

	inv.Transport = settings.Snapshot()
	return invoke(ctx, impl, inv)
}

func invoke(ctx context.Context, impl variant.Variant, inv variant.Invocation) (rec result.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec, err = nil, fmt.Errorf("variant %s panicked: %v", inv.Name, p)
		}
	}()
	return impl.Execute(ctx, inv)
}

func (d *Dispatcher) finish(ctx context.Context, r *run, t Target, req operation.Request, rec result.Record) {
	completed := time.Now()
	duration := completed.Sub(r.started)

	if rec.Failed() {
		r.logger.Warn("dispatch failed", "msg", rec.Msg(), "duration_ms", duration.Milliseconds())
	} else {
		r.logger.Info("dispatch completed", "duration_ms", duration.Milliseconds())
	}

	if d.history != nil {
		// History is kept even when the caller's context is already done.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, err := d.history.Record(hctx, history.Entry{
			ID:          r.id,
			Host:        t.Host.Name,
			Operation:   req.Kind,
			Variant:     r.variant,
			Failed:      rec.Failed(),
			Msg:         rec.Msg(),
			Facts:       r.facts,
			Result:      rec,
			StartedAt:   r.started,
			CompletedAt: completed,
		})
		if err != nil {
			r.logger.Error("failed to record dispatch history", "error", err)
		}
	}

	d.publish(events.DispatchCompleted, events.Dispatch{
		DispatchID: r.id,
		Host:       t.Host.Name,
		Operation:  string(req.Kind),
		Variant:    r.variant,
		Failed:     rec.Failed(),
		Msg:        rec.Msg(),
		DurationMS: duration.Milliseconds(),
	})
}

func (d *Dispatcher) publish(eventType string, data events.Dispatch) {
	if d.events != nil {
		d.events.Publish(eventType, data)
	}
}
