//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

var darwinNetworkMounts = map[string]bool{
	"afpfs":   true,
	"nfs":     true,
	"smbfs":   true,
	"webdav":  true,
	"macfuse": true,
}

func statMount(dir string) (mount, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return mount{}, fmt.Errorf("statfs: %w", err)
	}
	name := make([]byte, 0, len(st.Fstypename))
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		name = append(name, byte(c))
	}
	return darwinMount(string(name)), nil
}

func darwinMount(name string) mount {
	return mount{Type: name, Network: darwinNetworkMounts[name], Known: true}
}
