package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/hostdispatch/internal/operation"
)

var platforms = []string{"", "Debian", "openwrt", "OpenWrt", "Ubuntu", "OpenWRT "}

func TestSelect_TransferNonOpenWRTIsPrimary(t *testing.T) {
	for _, p := range platforms {
		for _, rt := range []bool{true, false} {
			d := Select(operation.Transfer, operation.Facts{DeclaredPlatform: p, RuntimePresent: rt})
			assert.Equal(t, operation.Primary, d.Variant, "platform=%q runtime=%v", p, rt)
			assert.Empty(t, d.RequiresDependency)
		}
	}
}

func TestSelect_TransferOpenWRTIsAlternate(t *testing.T) {
	for _, rt := range []bool{true, false} {
		d := Select(operation.Transfer, operation.Facts{DeclaredPlatform: OpenWRT, RuntimePresent: rt})
		assert.Equal(t, operation.Alternate, d.Variant)
		assert.Empty(t, d.RequiresDependency, "alternate transfer is self-contained")
	}
}

func TestSelect_Inventory(t *testing.T) {
	for _, p := range append(platforms, OpenWRT) {
		for _, rt := range []bool{true, false} {
			d := Select(operation.Inventory, operation.Facts{DeclaredPlatform: p, RuntimePresent: rt})
			if !rt || p == OpenWRT {
				assert.Equal(t, operation.Alternate, d.Variant, "platform=%q runtime=%v", p, rt)
				assert.Equal(t, BridgePackage, d.RequiresDependency)
			} else {
				assert.Equal(t, operation.Primary, d.Variant, "platform=%q runtime=%v", p, rt)
				assert.Empty(t, d.RequiresDependency)
			}
		}
	}
}

func TestSelect_OpenWRTOverridesWorkingRuntime(t *testing.T) {
	d := Select(operation.Inventory, operation.Facts{DeclaredPlatform: OpenWRT, RuntimePresent: true})
	assert.Equal(t, Decision{Variant: operation.Alternate, RequiresDependency: BridgePackage}, d)
}

func TestSelectWith_CustomBridge(t *testing.T) {
	d := SelectWith(operation.Inventory, operation.Facts{}, "lua-cjson")
	assert.Equal(t, "lua-cjson", d.RequiresDependency)
}

func TestNeedsRuntimeProbe(t *testing.T) {
	assert.True(t, NeedsRuntimeProbe(operation.Inventory))
	assert.False(t, NeedsRuntimeProbe(operation.Transfer))
}
