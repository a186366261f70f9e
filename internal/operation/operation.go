// Package operation defines the two dispatchable operations and the per-call
// host facts the variant selector decides on.
package operation

import (
	"fmt"
	"strings"
)

// Kind identifies a dispatchable operation.
type Kind string

const (
	Transfer  Kind = "transfer"
	Inventory Kind = "inventory"
)

// Kinds lists every supported operation in a stable order.
var Kinds = []Kind{Transfer, Inventory}

// ParseKind validates a user-supplied operation name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Transfer, Inventory:
		return k, nil
	default:
		return "", fmt.Errorf("unknown operation %q (valid: transfer, inventory)", s)
	}
}

// Variant is the implementation flavour chosen for one request.
type Variant string

const (
	Primary   Variant = "primary"
	Alternate Variant = "alternate"
)

// VariantName is the logical name a variant implementation is registered under,
// e.g. "transfer-primary" or "inventory-openwrt".
func VariantName(kind Kind, v Variant) string {
	if v == Alternate {
		return string(kind) + "-openwrt"
	}
	return string(kind) + "-primary"
}

// Request is one operation invocation supplied by the caller.
type Request struct {
	Kind Kind
	Args map[string]any
}

// Facts describes the target host for the duration of one dispatch.
// DeclaredPlatform comes from the inventory; RuntimePresent is probed.
type Facts struct {
	DeclaredPlatform string `json:"declared_platform,omitempty"`
	RuntimePresent   bool   `json:"runtime_present"`
}
