package inspect

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/result"
)

func sampleEntry() history.Entry {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return history.Entry{
		ID:        "d-1",
		Host:      "router1",
		Operation: operation.Inventory,
		Variant:   "inventory-openwrt",
		Facts:     operation.Facts{DeclaredPlatform: "OpenWRT"},
		Result: result.Record{
			"failed":        false,
			"invocation_id": "d-1",
			"host":          "router1",
			"packages":      []any{"lua", "json4lua"},
			"kernel":        "5.15",
		},
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestBuildReport(t *testing.T) {
	out := BuildReport(sampleEntry())

	assert.Contains(t, out, "Dispatch ID : d-1\n")
	assert.Contains(t, out, "Variant     : inventory-openwrt\n")
	assert.Contains(t, out, "Status      : ok\n")
	assert.Contains(t, out, "Duration    : 1.5s\n")
	assert.Contains(t, out, "    platform        : OpenWRT\n")
	assert.Contains(t, out, "    runtime_present : false\n")
	assert.Contains(t, out, "    kernel : 5.15\n")
	assert.Contains(t, out, "    packages :\n")
	assert.Contains(t, out, `"json4lua"`)
	assert.NotContains(t, out, "invocation_id")
	assert.NotContains(t, out, "Message")

	// Result keys are sorted.
	assert.Less(t, strings.Index(out, "kernel"), strings.Index(out, "packages"))
}

func TestBuildReportFailure(t *testing.T) {
	e := sampleEntry()
	e.Variant = ""
	e.Failed = true
	e.Msg = "no package manager available on host"
	e.Result = result.Failure(e.Msg)

	out := BuildReport(e)
	assert.Contains(t, out, "Variant     : <none>\n")
	assert.Contains(t, out, "Status      : failed\n")
	assert.Contains(t, out, "Message     : no package manager available on host\n")
	assert.Contains(t, out, "result      : <empty>\n")
}

func TestBuildHostTable(t *testing.T) {
	assert.Equal(t, "No dispatches recorded.\n", BuildHostTable(nil))

	failed := sampleEntry()
	failed.ID = "d-2"
	failed.Failed = true
	failed.Msg = strings.Repeat("x", 100)

	out := BuildHostTable([]history.Entry{failed, sampleEntry()})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "STARTED"))
	assert.Contains(t, lines[1], "d-2")
	assert.Contains(t, lines[1], "failed")
	assert.Contains(t, lines[1], strings.Repeat("x", 57)+"...")
	assert.Contains(t, lines[2], "ok")
}
