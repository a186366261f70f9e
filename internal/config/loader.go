package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	envVarPattern  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	packagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+._-]*$`)
	binaryPattern  = regexp.MustCompile(`^[A-Za-z0-9/][A-Za-z0-9/._-]*$`)
)

// Load reads, interpolates, defaults and validates the configuration file.
// A directory argument means <dir>/config.yaml. If a .checksums manifest sits
// next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, filepath.Dir(absPath))
}

// Parse decodes YAML config data. Relative paths resolve against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg = applyConfigDefaults(cfg)
	resolvePaths(cfg, baseDir)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolvePath turns a config argument into the absolute path of the YAML file.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $HOSTDISPATCH_CONFIG, ~/.config/hostdispatch, /etc/hostdispatch, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv("HOSTDISPATCH_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "hostdispatch")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/hostdispatch"
	if _, err := os.Stat(filepath.Join(systemConfigDir, "config.yaml")); err == nil {
		return systemConfigDir, nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $HOSTDISPATCH_CONFIG, ~/.config/hostdispatch, /etc/hostdispatch, ./config.yaml)")
}

func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		// No .checksums manifest: verification is opt-in.
		return nil
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: hostdispatch config lock --config %s", basename, dir, path)
	}
	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: hostdispatch config lock --config %s", path, err, path)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.Workers == 0 {
		cfg.Service.Workers = defaults.Service.Workers
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Transport.CommandTimeout == 0 {
		cfg.Transport.CommandTimeout = defaults.Transport.CommandTimeout
	}
	if cfg.Transport.VariantTimeout == 0 {
		cfg.Transport.VariantTimeout = defaults.Transport.VariantTimeout
	}
	if cfg.Transport.ConnectTimeout == 0 {
		cfg.Transport.ConnectTimeout = defaults.Transport.ConnectTimeout
	}
	if cfg.Transport.User == "" {
		cfg.Transport.User = defaults.Transport.User
	}

	if cfg.Runtime.ProbeCommand == "" {
		cfg.Runtime.ProbeCommand = defaults.Runtime.ProbeCommand
	}

	if cfg.Dependency.Package == "" {
		cfg.Dependency.Package = defaults.Dependency.Package
	}
	if cfg.Dependency.Manager == "" {
		cfg.Dependency.Manager = defaults.Dependency.Manager
	}
	if cfg.Dependency.CheckCommand == "" {
		cfg.Dependency.CheckCommand = defaults.Dependency.CheckCommand
	}

	if cfg.VariantsDir == "" {
		cfg.VariantsDir = defaults.VariantsDir
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}

	for i := range cfg.Hosts {
		if cfg.Hosts[i].Connection == "" {
			cfg.Hosts[i].Connection = ConnectionSSH
		}
		if cfg.Hosts[i].Address == "" && cfg.Hosts[i].Connection == ConnectionSSH {
			cfg.Hosts[i].Address = cfg.Hosts[i].Name
		}
	}

	return cfg
}

func resolvePaths(cfg *Config, baseDir string) {
	if baseDir == "" {
		return
	}
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.State.Path = abs(cfg.State.Path)
	cfg.VariantsDir = abs(cfg.VariantsDir)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.Workers < 1 {
		return fmt.Errorf("service.workers must be positive")
	}

	if cfg.Transport.CommandTimeout < 0 || cfg.Transport.VariantTimeout < 0 || cfg.Transport.ConnectTimeout < 0 {
		return fmt.Errorf("transport timeouts must not be negative")
	}

	if !packagePattern.MatchString(cfg.Dependency.Package) {
		return fmt.Errorf("dependency.package %q is not a valid package name", cfg.Dependency.Package)
	}
	if !binaryPattern.MatchString(cfg.Dependency.Manager) {
		return fmt.Errorf("dependency.manager %q is not a valid binary name", cfg.Dependency.Manager)
	}

	seen := make(map[string]bool, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("hosts[%d].name is required", i)
		}
		if seen[h.Name] {
			return fmt.Errorf("hosts[%d]: duplicate host name %q", i, h.Name)
		}
		seen[h.Name] = true

		switch h.Connection {
		case ConnectionSSH, ConnectionLocal:
		default:
			return fmt.Errorf("hosts[%d] (%s): connection must be ssh or local (got %q)", i, h.Name, h.Connection)
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if envVarPattern.MatchString(cfg.API.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.APIKey)
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	return nil
}
