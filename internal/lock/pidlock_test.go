package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "run", "hostdispatch.lock")
	l, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, ok := ReadPID(lockPath)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, lockPath, l.Path())
}

func TestAcquirePIDLockIsExclusive(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "hostdispatch.lock")
	first, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)

	// flock is per open file description, so a second open in the same
	// process conflicts too.
	_, err = AcquirePIDLock(lockPath)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "pid")

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	again, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	_, err := AcquirePIDLock("")
	assert.Error(t, err)
}
