package watch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hostdispatch/internal/events"
)

// HostState is the latest dispatch seen for one host.
type HostState struct {
	Host       string
	DispatchID string
	Operation  string
	Variant    string
	Status     string // running | ok | failed
	Msg        string
	StartTime  time.Time
	Duration   time.Duration
	Total      int
	Failures   int
}

// updateHostState applies a dispatch.* event.
func updateHostState(hosts map[string]*HostState, e events.Event) {
	var d events.Dispatch
	if err := json.Unmarshal(e.Data, &d); err != nil || d.Host == "" {
		return
	}

	h, ok := hosts[d.Host]
	if !ok {
		h = &HostState{Host: d.Host}
		hosts[d.Host] = h
	}

	switch e.Type {
	case events.DispatchStarted:
		h.DispatchID = d.DispatchID
		h.Operation = d.Operation
		h.Variant = ""
		h.Status = "running"
		h.Msg = ""
		h.StartTime = e.At
		h.Duration = 0
	case events.DispatchCompleted:
		h.DispatchID = d.DispatchID
		h.Operation = d.Operation
		h.Variant = d.Variant
		h.Msg = d.Msg
		h.Duration = time.Duration(d.DurationMS) * time.Millisecond
		h.Total++
		if d.Failed {
			h.Status = "failed"
			h.Failures++
		} else {
			h.Status = "ok"
		}
	}
}

func newHostTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Host", Width: 18},
			{Title: "Operation", Width: 10},
			{Title: "Variant", Width: 18},
			{Title: "Duration", Width: 10},
			{Title: "Runs", Width: 8},
			{Title: "Message", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// hostRows renders one row per host, sorted by name.
func hostRows(hosts map[string]*HostState) []table.Row {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		h := hosts[name]

		sym := "○"
		switch h.Status {
		case "running":
			sym = "◉"
		case "ok":
			sym = "●"
		case "failed":
			sym = "∅"
		}

		duration := "-"
		if h.Duration > 0 {
			duration = h.Duration.Round(time.Millisecond).String()
		} else if h.Status == "running" && !h.StartTime.IsZero() {
			duration = time.Since(h.StartTime).Round(time.Second).String()
		}

		variant := h.Variant
		if variant == "" {
			variant = "-"
		}

		rows = append(rows, table.Row{
			sym,
			h.Host,
			h.Operation,
			variant,
			duration,
			runsLabel(h),
			h.Msg,
		})
	}
	return rows
}

func runsLabel(h *HostState) string {
	if h.Failures == 0 {
		return itoa(h.Total)
	}
	return itoa(h.Total) + "/" + itoa(h.Failures) + "!"
}

func renderHosts(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("HOSTS"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
