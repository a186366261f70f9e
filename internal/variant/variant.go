// Package variant holds the closed table of operation implementations the
// dispatcher can invoke: one primary and one alternate per operation.
package variant

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/protocol"
	"github.com/mattjoyce/hostdispatch/internal/result"
	"github.com/mattjoyce/hostdispatch/internal/transport"
)

// Invocation is everything a variant receives for one call.
type Invocation struct {
	DispatchID string
	Host       protocol.Host
	Kind       operation.Kind
	Name       string
	Args       map[string]any
	Facts      operation.Facts
	Transport  transport.Snapshot
}

// Variant executes one implementation of an operation. A returned error means
// the variant could not be run; a variant that ran and failed reports that in
// the record instead.
type Variant interface {
	Execute(ctx context.Context, inv Invocation) (result.Record, error)
}

// Func adapts a plain function to Variant.
type Func func(ctx context.Context, inv Invocation) (result.Record, error)

func (f Func) Execute(ctx context.Context, inv Invocation) (result.Record, error) {
	return f(ctx, inv)
}

type key struct {
	kind    operation.Kind
	variant operation.Variant
}

// Table maps (operation, variant) to an implementation. It is filled once at
// startup and read-only afterwards.
type Table struct {
	entries map[key]Variant
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[key]Variant)}
}

// Register binds impl to (kind, v). Each slot can be filled once.
func (t *Table) Register(kind operation.Kind, v operation.Variant, impl Variant) error {
	if impl == nil {
		return fmt.Errorf("variant %s is nil", operation.VariantName(kind, v))
	}
	if kind != operation.Transfer && kind != operation.Inventory {
		return fmt.Errorf("unknown operation %q", kind)
	}
	if v != operation.Primary && v != operation.Alternate {
		return fmt.Errorf("unknown variant %q", v)
	}
	k := key{kind, v}
	if _, exists := t.entries[k]; exists {
		return fmt.Errorf("variant %s already registered", operation.VariantName(kind, v))
	}
	t.entries[k] = impl
	return nil
}

// Lookup returns the implementation for (kind, v).
func (t *Table) Lookup(kind operation.Kind, v operation.Variant) (Variant, bool) {
	impl, ok := t.entries[key{kind, v}]
	return impl, ok
}

// Missing lists the logical names of unfilled slots, sorted.
func (t *Table) Missing() []string {
	var out []string
	for _, kind := range operation.Kinds {
		for _, v := range []operation.Variant{operation.Primary, operation.Alternate} {
			if _, ok := t.entries[key{kind, v}]; !ok {
				out = append(out, operation.VariantName(kind, v))
			}
		}
	}
	sort.Strings(out)
	return out
}
