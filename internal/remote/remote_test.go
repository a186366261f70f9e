package remote

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutor_Success(t *testing.T) {
	res, err := LocalExecutor{}.Exec(context.Background(), "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestLocalExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	res, err := LocalExecutor{}.Exec(context.Background(), "echo partial; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", res.Stdout)
}

func TestLocalExecutor_MissingBinaryRanInShell(t *testing.T) {
	res, err := LocalExecutor{}.Exec(context.Background(), "definitely-not-a-binary-xyz --version")
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)
}

func TestLocalExecutor_MissingShellIsUnavailable(t *testing.T) {
	_, err := LocalExecutor{Shell: "/nonexistent/sh"}.Exec(context.Background(), "true")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLocalExecutor_CancelledIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := LocalExecutor{}.Exec(ctx, "sleep 5")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxOutputBytes+10)
	assert.Len(t, truncate(long), maxOutputBytes)
	assert.Equal(t, "short", truncate("short"))
}

func TestSSHExecutor_ConfigErrorsAreUnavailable(t *testing.T) {
	e := &SSHExecutor{Host: "", User: "root"}
	_, err := e.Exec(context.Background(), "true")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "ssh host is required")

	e = &SSHExecutor{Host: "127.0.0.1", Port: "1"}
	_, err = e.Exec(context.Background(), "true")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "ssh user is required")
}

func TestSSHExecutor_Address(t *testing.T) {
	addr, err := (&SSHExecutor{Host: "router"}).address()
	require.NoError(t, err)
	assert.Equal(t, "router:22", addr)

	addr, err = (&SSHExecutor{Host: "router", Port: "2222"}).address()
	require.NoError(t, err)
	assert.Equal(t, "router:2222", addr)

	addr, err = (&SSHExecutor{Host: "10.0.0.1:2200"}).address()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:2200", addr)
}

func TestWithTimeout_BoundsSlowCommand(t *testing.T) {
	e := WithTimeout(LocalExecutor{}, 100*time.Millisecond)
	start := time.Now()
	_, err := e.Exec(context.Background(), "exec sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestWithTimeout_ZeroIsPassthrough(t *testing.T) {
	base := LocalExecutor{}
	assert.Equal(t, Executor(base), WithTimeout(base, 0))
}
