package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hostdispatch/internal/dispatch"
	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/log"
)

func TestMain(m *testing.M) {
	log.SetupWriter(io.Discard, "ERROR")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout, oldStderr := os.Stdout, os.Stderr
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout, os.Stderr = stdoutW, stderrW

	// Drain concurrently so large output cannot fill the pipe.
	outCh := make(chan string)
	errCh := make(chan string)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- string(b) }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- string(b) }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout, os.Stderr = oldStdout, oldStderr
	return code, <-outCh, <-errCh
}

// echoScript replies ok and echoes the whole request under result.request.
const echoScript = `#!/bin/sh
read input
printf '{"status":"ok","result":{"changed":true,"request":%s}}\n' "$input"
`

func writeVariant(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := "name: " + name + "\nversion: 0.1.0\nprotocol: 1\nentrypoint: run.sh\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(echoScript), 0o755))
}

func setupWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	variants := filepath.Join(root, "variants")
	for _, name := range []string{"transfer-primary", "transfer-openwrt", "inventory-primary", "inventory-openwrt"} {
		writeVariant(t, variants, name)
	}

	cfg := `
service:
  log_level: error
  workers: 2
state:
  path: ./data/history.db
variants_dir: ./variants
runtime:
  probe_command: "true"
dependency:
  check_command: "true"
hosts:
  - name: router1
    platform: OpenWRT
    connection: local
  - name: server1
    platform: Debian
    connection: local
`
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRunCLI_UnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"bogus"}) })
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "Unknown command: bogus")
}

func TestRunVersionJSON(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int { return runCLI([]string{"version", "--json"}) })
	require.Equal(t, exitOK, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.NotEmpty(t, info.Version)
}

func TestRunDispatch_OpenWRTTransfer(t *testing.T) {
	cfgPath := setupWorkspace(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", cfgPath, "router1", "transfer", "--arg", "dest=/etc/motd", "--arg", "mode=420"})
	})
	require.Equal(t, exitOK, code, stderr)

	var results []dispatch.HostResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 1)
	rec := results[0].Record
	assert.Equal(t, "router1", results[0].Host)
	assert.Equal(t, true, rec["changed"])

	req, ok := rec["request"].(map[string]any)
	require.True(t, ok, "request echoed by variant: %v", rec)
	assert.Equal(t, "transfer-openwrt", req["variant"])
	assert.Equal(t, true, req["transport"].(map[string]any)["force_scp"])
	args := req["args"].(map[string]any)
	assert.Equal(t, "/etc/motd", args["dest"])
	assert.Equal(t, float64(420), args["mode"])

	// The dispatch landed in history under the same id.
	id := results[0].DispatchID
	assert.Equal(t, id, rec[dispatch.KeyInvocationID])
	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"history", "--config", cfgPath, "--json", id})
	})
	require.Equal(t, exitOK, code, stderr)
	var entry history.Entry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entry))
	assert.Equal(t, "transfer-openwrt", entry.Variant)
	assert.False(t, entry.Failed)

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"history", "--config", cfgPath, "--host", "router1"})
	})
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, id)
	assert.Contains(t, stdout, "transfer-openwrt")
}

func TestRunDispatch_AllInventory(t *testing.T) {
	cfgPath := setupWorkspace(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", cfgPath, "--all", "inventory"})
	})
	require.Equal(t, exitOK, code, stderr)

	var results []dispatch.HostResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 2)

	variants := map[string]string{}
	for _, r := range results {
		req := r.Record["request"].(map[string]any)
		variants[r.Host] = req["variant"].(string)
	}
	// The dependency check passes locally, so no install is attempted.
	assert.Equal(t, "inventory-openwrt", variants["router1"])
	assert.Equal(t, "inventory-primary", variants["server1"])
}

func TestRunDispatch_Usage(t *testing.T) {
	tests := [][]string{
		{"run"},
		{"run", "router1"},
		{"run", "--all", "router1", "inventory"},
		{"run", "router1", "reboot"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			code, _, _ := captureOutputWithExitCode(t, func() int { return runCLI(args) })
			assert.Equal(t, exitError, code)
		})
	}
}

func TestConfigCheckAndLock(t *testing.T) {
	cfgPath := setupWorkspace(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", cfgPath})
	})
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Configuration valid")

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", cfgPath})
	})
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, ".checksums")

	// Tampering after lock is caught on load.
	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("\n# edited\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", cfgPath})
	})
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "hash mismatch")
}

func TestConfigCheckReportsMissingVariants(t *testing.T) {
	cfgPath := setupWorkspace(t)
	require.NoError(t, os.RemoveAll(filepath.Join(filepath.Dir(cfgPath), "variants", "inventory-openwrt")))

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", cfgPath, "--json"})
	})
	assert.Equal(t, exitError, code)
	assert.Contains(t, stdout, `"inventory-openwrt"`)
}

func TestArgList(t *testing.T) {
	a := argList{}
	require.NoError(t, a.Set("dest=/tmp/x"))
	require.NoError(t, a.Set("backup=true"))
	require.NoError(t, a.Set("mode=0644"))
	require.NoError(t, a.Set(`obj={"a":1}`))
	assert.Error(t, a.Set("novalue"))
	assert.Error(t, a.Set("=x"))

	assert.Equal(t, "/tmp/x", a["dest"])
	assert.Equal(t, true, a["backup"])
	assert.Equal(t, "0644", a["mode"], "leading zero is not a JSON number")
	assert.Equal(t, `{"a":1}`, a["obj"])
}

func TestRunWatch_RequiresAPIKey(t *testing.T) {
	t.Setenv("HOSTDISPATCH_API_KEY", "")
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"watch"}) })
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "API key required")
}
