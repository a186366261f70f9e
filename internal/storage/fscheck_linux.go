//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// linuxMounts maps statfs f_type magic numbers to names. Unlisted magics are
// treated as local.
var linuxMounts = map[uint64]mount{
	0xEF53:     {Type: "ext4", Known: true},
	0x58465342: {Type: "xfs", Known: true},
	0x9123683E: {Type: "btrfs", Known: true},
	0x01021994: {Type: "tmpfs", Known: true},
	0x794C7630: {Type: "overlayfs", Known: true},
	0x6969:     {Type: "nfs", Network: true, Known: true},
	0xFF534D42: {Type: "cifs", Network: true, Known: true},
	0x517B:     {Type: "smbfs", Network: true, Known: true},
	0xFE534D42: {Type: "smb2", Network: true, Known: true},
}

func statMount(dir string) (mount, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return mount{}, fmt.Errorf("statfs: %w", err)
	}
	return linuxMount(uint64(st.Type)), nil
}

func linuxMount(magic uint64) mount {
	if m, ok := linuxMounts[magic]; ok {
		return m
	}
	return mount{Type: fmt.Sprintf("0x%x", magic), Known: true}
}
