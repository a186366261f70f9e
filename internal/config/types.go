package config

import "time"

// Config represents the complete hostdispatch configuration.
type Config struct {
	Service     ServiceConfig    `yaml:"service"`
	State       StateConfig      `yaml:"state"`
	Transport   TransportConfig  `yaml:"transport"`
	Runtime     RuntimeConfig    `yaml:"runtime"`
	Dependency  DependencyConfig `yaml:"dependency"`
	VariantsDir string           `yaml:"variants_dir"`
	Hosts       []HostConf       `yaml:"hosts"`
	API         APIConfig        `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	Workers  int    `yaml:"workers"` // hosts dispatched in parallel by run --all
}

// StateConfig defines dispatch history storage.
type StateConfig struct {
	Path string `yaml:"path"`
}

// TransportConfig defines how remote commands and variants reach hosts.
type TransportConfig struct {
	ForceSCP            bool          `yaml:"force_scp"` // default before any override
	CommandTimeout      time.Duration `yaml:"command_timeout"`
	VariantTimeout      time.Duration `yaml:"variant_timeout"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	User                string        `yaml:"user"`
	KeyPath             string        `yaml:"key_path"`
	KnownHostsPath      string        `yaml:"known_hosts_path,omitempty"`
	InsecureSkipHostKey bool          `yaml:"insecure_skip_host_key,omitempty"`
}

// RuntimeConfig names the probe for the primary variants' runtime.
type RuntimeConfig struct {
	ProbeCommand string `yaml:"probe_command"`
}

// DependencyConfig describes the bridge package the alternate inventory needs.
type DependencyConfig struct {
	Package      string `yaml:"package"`
	Manager      string `yaml:"manager"`
	CheckCommand string `yaml:"check_command"`
}

// HostConf is one managed host in the inventory.
type HostConf struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address,omitempty"`
	Port       string `yaml:"port,omitempty"`
	User       string `yaml:"user,omitempty"`     // overrides transport.user
	KeyPath    string `yaml:"key_path,omitempty"` // overrides transport.key_path
	Platform   string `yaml:"platform,omitempty"` // declared platform identity, e.g. OpenWRT
	Connection string `yaml:"connection,omitempty"`
}

// Connection kinds.
const (
	ConnectionSSH   = "ssh"
	ConnectionLocal = "local"
)

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// Host returns the inventory entry named name.
func (c *Config) Host(name string) (HostConf, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostConf{}, false
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "hostdispatch",
			LogLevel: "info",
			Workers:  8,
		},
		State: StateConfig{
			Path: "./data/history.db",
		},
		Transport: TransportConfig{
			ForceSCP:       false,
			CommandTimeout: 2 * time.Minute,
			VariantTimeout: 5 * time.Minute,
			ConnectTimeout: 10 * time.Second,
			User:           "root",
		},
		Runtime: RuntimeConfig{
			ProbeCommand: "python -V",
		},
		Dependency: DependencyConfig{
			Package:      "json4lua",
			Manager:      "opkg",
			CheckCommand: `lua -e "require('json')"`,
		},
		VariantsDir: "./variants",
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
