package variant

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hostdispatch/internal/protocol"
)

const manifestFilename = "manifest.yaml"

// Discover scans root for variant manifests and registers a ProcessVariant for
// each valid one. Invalid manifests are logged and skipped; duplicates keep the
// first discovered.
func Discover(root string, defaultTimeout time.Duration, logger func(level, msg string, args ...any)) (*Table, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("variants dir is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve variants dir %q: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("variants dir does not exist: %s", absRoot)
		}
		return nil, fmt.Errorf("failed to stat variants dir %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("variants dir is not a directory: %s", absRoot)
	}

	table := NewTable()
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFilename {
			return nil
		}

		dir := filepath.Dir(path)
		pv, err := loadVariant(dir, absRoot, defaultTimeout)
		if err != nil {
			logger("warn", "failed to load variant", "path", dir, "error", err.Error())
			return nil
		}

		kind, v, _ := Slot(pv.Name)
		if err := table.Register(kind, v, pv); err != nil {
			logger("warn", "duplicate variant ignored (keeping first discovered)", "variant", pv.Name, "ignored_path", dir)
			return nil
		}
		logger("info", "loaded variant", "variant", pv.Name, "path", dir, "version", pv.Version)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan variants dir %s: %w", absRoot, err)
	}
	return table, nil
}

func loadVariant(dir, root string, defaultTimeout time.Duration) (*ProcessVariant, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if manifest.Protocol != protocol.Version {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, protocol.Version)
	}

	entrypoint := filepath.Join(dir, manifest.Entrypoint)
	if err := validateTrust(entrypoint, dir, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	timeout := manifest.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &ProcessVariant{
		Name:       manifest.Name,
		Version:    manifest.Version,
		Path:       dir,
		Entrypoint: entrypoint,
		Timeout:    timeout,
	}, nil
}

// validateTrust requires the entrypoint to live inside its variant directory
// under root, be executable, and the directory not to be world-writable.
func validateTrust(entrypoint, dir, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypoint)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve variant path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve variants dir symlink: %w", err)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under variants dir %s", resolvedEntrypoint, resolvedRoot)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedDir+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under variant directory %s", resolvedEntrypoint, resolvedDir)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	dirInfo, err := os.Stat(resolvedDir)
	if err != nil {
		return fmt.Errorf("variant directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("variant directory is world-writable: %s", resolvedDir)
	}
	return nil
}
