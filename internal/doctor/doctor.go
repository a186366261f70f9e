// Package doctor validates hostdispatch configuration, host inventory and
// variant setup.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/hostdispatch/internal/config"
	"github.com/mattjoyce/hostdispatch/internal/selector"
	"github.com/mattjoyce/hostdispatch/internal/variant"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the discovered variants.
type Doctor struct {
	cfg   *config.Config
	table *variant.Table
}

// New creates a Doctor from a loaded config and variant table. A nil table
// means discovery failed; every variant is reported missing.
func New(cfg *config.Config, table *variant.Table) *Doctor {
	if table == nil {
		table = variant.NewTable()
	}
	return &Doctor{cfg: cfg, table: table}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateVariants(r)
	d.validateHosts(r)
	d.validateTransport(r)
	d.validateAPIConfig(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.VariantsDir == "" {
		d.addError(r, "service", "variants_dir", "variants_dir is required")
		return
	}
	info, err := os.Stat(d.cfg.VariantsDir)
	if err != nil || !info.IsDir() {
		d.addError(r, "service", "variants_dir",
			fmt.Sprintf("variants_dir %q is not a readable directory", d.cfg.VariantsDir))
	}
}

// validateVariants checks that every operation has both implementations.
func (d *Doctor) validateVariants(r *Result) {
	for _, name := range d.table.Missing() {
		d.addError(r, "variants", name,
			fmt.Sprintf("variant %q not found in variants_dir", name))
	}
}

func (d *Doctor) validateHosts(r *Result) {
	if len(d.cfg.Hosts) == 0 {
		d.addWarning(r, "hosts", "hosts", "no hosts configured; run has nothing to dispatch to")
		return
	}

	for i, h := range d.cfg.Hosts {
		field := fmt.Sprintf("hosts[%d]", i)

		// The selector compares platform identity exactly.
		if h.Platform != selector.OpenWRT && strings.EqualFold(h.Platform, selector.OpenWRT) {
			d.addWarning(r, "hosts", field+".platform",
				fmt.Sprintf("host %q platform %q is not %q; primary variants will be selected", h.Name, h.Platform, selector.OpenWRT))
		}

		if h.Connection != config.ConnectionSSH {
			continue
		}
		if h.KeyPath == "" && d.cfg.Transport.KeyPath == "" {
			d.addError(r, "hosts", field+".key_path",
				fmt.Sprintf("host %q uses ssh but neither hosts[].key_path nor transport.key_path is set", h.Name))
			continue
		}
		keyPath := h.KeyPath
		if keyPath == "" {
			keyPath = d.cfg.Transport.KeyPath
		}
		if _, err := os.Stat(keyPath); err != nil {
			d.addError(r, "hosts", field+".key_path",
				fmt.Sprintf("host %q: private key %q not readable", h.Name, keyPath))
		}
	}
}

func (d *Doctor) validateTransport(r *Result) {
	if d.cfg.Transport.InsecureSkipHostKey {
		d.addWarning(r, "transport", "transport.insecure_skip_host_key",
			"host key checking is disabled; connections are open to interception")
		return
	}
	if d.cfg.Transport.KnownHostsPath != "" {
		if _, err := os.Stat(d.cfg.Transport.KnownHostsPath); err != nil {
			d.addError(r, "transport", "transport.known_hosts_path",
				fmt.Sprintf("known_hosts file %q not readable", d.cfg.Transport.KnownHostsPath))
		}
	}
	if d.cfg.Transport.ForceSCP {
		d.addWarning(r, "transport", "transport.force_scp",
			"force_scp is the default for every transfer, not only OpenWRT hosts")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.APIKey == "" {
		d.addError(r, "api", "api.api_key", "API enabled but api_key is empty; every request would be rejected")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	writeIssues(&b, "ERROR", r.Errors)
	writeIssues(&b, "WARN ", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, label string, issues []Issue) {
	for _, is := range issues {
		if is.Field != "" {
			fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		} else {
			fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
		}
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
