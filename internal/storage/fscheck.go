package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/hostdispatch/internal/log"
)

// ErrNetworkFilesystem is returned when state.path sits on a network mount.
// SQLite's WAL locking is unreliable there and parallel dispatches write
// history concurrently.
var ErrNetworkFilesystem = errors.New("history database is on a network filesystem")

// mount describes the filesystem holding a path.
type mount struct {
	Type    string
	Network bool
	// Known is false when the platform cannot identify filesystems.
	Known bool
}

// checkHistoryPath refuses a history database path on a network filesystem.
func checkHistoryPath(path string) error {
	return checkHistoryPathWith(path, statMount)
}

func checkHistoryPathWith(path string, stat func(string) (mount, error)) error {
	if path == "" {
		return fmt.Errorf("state.path is empty")
	}

	dir, err := nearestExistingDir(path)
	if err != nil {
		return fmt.Errorf("resolve state.path %q: %w", path, err)
	}

	m, err := stat(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for state.path %q: %w", dir, err)
	}
	if !m.Known {
		log.WithComponent("storage").Warn("cannot identify filesystem of state.path; assuming local disk",
			"path", path)
		return nil
	}
	if m.Network {
		return fmt.Errorf("%w: state.path %q is on %s; point state.path at local disk",
			ErrNetworkFilesystem, path, m.Type)
	}
	return nil
}

// nearestExistingDir walks up from path to the first directory that exists.
// The database file and its parents are created after the check.
func nearestExistingDir(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}
