package variant

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/hostdispatch/internal/operation"
)

// Manifest is the manifest.yaml of a process-backed variant.
type Manifest struct {
	Name        string        `yaml:"name"` // transfer-primary | transfer-openwrt | inventory-primary | inventory-openwrt
	Version     string        `yaml:"version"`
	Protocol    int           `yaml:"protocol"`
	Entrypoint  string        `yaml:"entrypoint"`
	Description string        `yaml:"description,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// Slot resolves a logical variant name to its table slot.
func Slot(name string) (operation.Kind, operation.Variant, error) {
	for _, kind := range operation.Kinds {
		for _, v := range []operation.Variant{operation.Primary, operation.Alternate} {
			if operation.VariantName(kind, v) == name {
				return kind, v, nil
			}
		}
	}
	return "", "", fmt.Errorf("unknown variant name %q (valid: transfer-primary, transfer-openwrt, inventory-primary, inventory-openwrt)", name)
}

func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, _, err := Slot(m.Name); err != nil {
		return err
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}
