package watch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hostdispatch/internal/events"
)

func dispatchEvent(t *testing.T, id int64, typ string, d events.Dispatch) events.Event {
	t.Helper()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: data}
}

func TestReadSSE(t *testing.T) {
	stream := ": keepalive\n\n" +
		"id: 7\nevent: dispatch.started\ndata: {\"dispatch_id\":\"abc\",\"host\":\"r1\",\"operation\":\"transfer\"}\n\n" +
		"id: 8\nevent: dispatch.completed\ndata: {\"dispatch_id\":\"abc\",\"host\":\"r1\",\"operation\":\"transfer\",\"variant\":\"transfer-openwrt\"}\n\n"

	ch := make(chan events.Event, 4)
	readSSE(strings.NewReader(stream), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.DispatchStarted, got[0].Type)
	assert.Equal(t, int64(8), got[1].ID)
	assert.Contains(t, string(got[1].Data), "transfer-openwrt")
	assert.False(t, got[1].At.IsZero())
}

func TestUpdateHostState(t *testing.T) {
	hosts := map[string]*HostState{}

	updateHostState(hosts, dispatchEvent(t, 1, events.DispatchStarted,
		events.Dispatch{DispatchID: "d1", Host: "r1", Operation: "inventory"}))
	require.Contains(t, hosts, "r1")
	assert.Equal(t, "running", hosts["r1"].Status)

	updateHostState(hosts, dispatchEvent(t, 2, events.DispatchCompleted,
		events.Dispatch{DispatchID: "d1", Host: "r1", Operation: "inventory", Variant: "inventory-openwrt", Failed: true, Msg: "no package manager available", DurationMS: 1200}))
	h := hosts["r1"]
	assert.Equal(t, "failed", h.Status)
	assert.Equal(t, "inventory-openwrt", h.Variant)
	assert.Equal(t, 1200*time.Millisecond, h.Duration)
	assert.Equal(t, 1, h.Total)
	assert.Equal(t, 1, h.Failures)

	updateHostState(hosts, dispatchEvent(t, 3, events.DispatchStarted,
		events.Dispatch{DispatchID: "d2", Host: "r1", Operation: "transfer"}))
	assert.Equal(t, "running", h.Status)
	assert.Empty(t, h.Variant)
	assert.Empty(t, h.Msg)

	// Payloads without a host are ignored.
	updateHostState(hosts, events.Event{Type: events.DispatchStarted, Data: json.RawMessage(`{}`)})
	assert.Len(t, hosts, 1)
}

func TestHostRowsSortedByName(t *testing.T) {
	hosts := map[string]*HostState{
		"zeta":  {Host: "zeta", Status: "ok", Operation: "transfer", Variant: "transfer-primary", Duration: time.Second, Total: 2},
		"alpha": {Host: "alpha", Status: "failed", Operation: "inventory", Total: 3, Failures: 1},
	}
	rows := hostRows(hosts)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0][1])
	assert.Equal(t, "∅", rows[0][0])
	assert.Equal(t, "-", rows[0][3])
	assert.Equal(t, "3/1!", rows[0][5])
	assert.Equal(t, "zeta", rows[1][1])
	assert.Equal(t, "1s", rows[1][4])
	assert.Equal(t, "2", rows[1][5])
}

func TestExtractEventDesc(t *testing.T) {
	ok := dispatchEvent(t, 1, events.DispatchCompleted, events.Dispatch{
		DispatchID: "0123456789", Host: "r1", Operation: "transfer", Variant: "transfer-openwrt", DurationMS: 42,
	})
	assert.Equal(t, "[01234567] r1 transfer transfer-openwrt ok 42ms", extractEventDesc(ok))

	failed := dispatchEvent(t, 2, events.DispatchCompleted, events.Dispatch{
		DispatchID: "d", Host: "r1", Operation: "inventory", Failed: true, Msg: "boom",
	})
	assert.Equal(t, "[d] r1 inventory failed: boom", extractEventDesc(failed))

	raw := events.Event{Type: "other", Data: json.RawMessage(`"` + strings.Repeat("x", 80) + `"`)}
	assert.True(t, strings.HasSuffix(extractEventDesc(raw), "..."))
}

func TestModelAppliesEventsOnce(t *testing.T) {
	m := New("http://127.0.0.1:0", "key")
	e := dispatchEvent(t, 5, events.DispatchStarted, events.Dispatch{DispatchID: "d1", Host: "r1", Operation: "transfer"})

	next, _ := m.Update(eventMsg(e))
	model := next.(Model)
	// A replayed event after reconnect is dropped.
	next, _ = model.Update(eventMsg(e))
	model = next.(Model)

	assert.Len(t, model.eventLog, 1)
	assert.Equal(t, int64(5), model.lastID)
	assert.True(t, model.health.Connected)
	assert.Equal(t, 5, model.spinner.Dots())
}

func TestModelView(t *testing.T) {
	m := New("http://127.0.0.1:0", "key")
	assert.Equal(t, "Initializing watch...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.Update(eventMsg(dispatchEvent(t, 1, events.DispatchStarted,
		events.Dispatch{DispatchID: "d1", Host: "router1", Operation: "inventory"})))
	next, _ = next.Update(healthMsg{Status: "ok", Hosts: 3, InFlight: 1})

	view := next.View()
	assert.Contains(t, view, "HOSTDISPATCH WATCH")
	assert.Contains(t, view, "Hosts: 3")
	assert.Contains(t, view, "router1")
	assert.Contains(t, view, "EVENT STREAM")
}

func TestModelQuit(t *testing.T) {
	m := New("http://127.0.0.1:0", "key")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestSpinnerDecay(t *testing.T) {
	var s Spinner
	start := time.Now()
	s.OnEvent(start)
	s.Decay(start.Add(3 * time.Second))
	assert.Equal(t, 4, s.Dots())
	s.Decay(start.Add(11 * time.Second))
	assert.Equal(t, 0, s.Dots())
}
