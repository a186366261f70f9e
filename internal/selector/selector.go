// Package selector picks the variant of an operation to run against a host.
package selector

import "github.com/mattjoyce/hostdispatch/internal/operation"

// OpenWRT is the declared platform identity that forces the alternate variants.
const OpenWRT = "OpenWRT"

// BridgePackage is the dependency the alternate inventory variant needs to emit
// structured output on a host without the primary runtime.
const BridgePackage = "json4lua"

// Decision is the selector's verdict for one request.
type Decision struct {
	Variant            operation.Variant
	RequiresDependency string // empty when no dependency is needed
}

// Select is pure: same inputs, same decision, no I/O.
//
// Platform identity and runtime absence are independent triggers for the
// alternate inventory variant; either alone is enough, so an OpenWRT host with
// a working runtime still gets the alternate path.
func Select(kind operation.Kind, facts operation.Facts) Decision {
	return SelectWith(kind, facts, BridgePackage)
}

// SelectWith is Select with a configurable bridge package name.
func SelectWith(kind operation.Kind, facts operation.Facts, bridge string) Decision {
	openwrt := facts.DeclaredPlatform == OpenWRT

	switch kind {
	case operation.Transfer:
		if openwrt {
			return Decision{Variant: operation.Alternate}
		}
	case operation.Inventory:
		if !facts.RuntimePresent || openwrt {
			return Decision{Variant: operation.Alternate, RequiresDependency: bridge}
		}
	}
	return Decision{Variant: operation.Primary}
}

// NeedsRuntimeProbe reports whether the decision for kind depends on
// Facts.RuntimePresent at all.
func NeedsRuntimeProbe(kind operation.Kind) bool {
	return kind == operation.Inventory
}
