package watch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hostdispatch/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for dispatches..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.DispatchStarted:
		typeStyle = theme.StatusRunning
	case events.DispatchCompleted:
		typeStyle = theme.StatusOK
		if d, ok := decodeDispatch(e); ok && d.Failed {
			typeStyle = theme.StatusFailed
		}
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func decodeDispatch(e events.Event) (events.Dispatch, bool) {
	var d events.Dispatch
	if err := json.Unmarshal(e.Data, &d); err != nil || d.DispatchID == "" {
		return d, false
	}
	return d, true
}

// extractEventDesc summarizes an event in one line.
func extractEventDesc(e events.Event) string {
	d, ok := decodeDispatch(e)
	if !ok {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	id := d.DispatchID
	if len(id) > 8 {
		id = id[:8]
	}
	parts := []string{fmt.Sprintf("[%s]", id), d.Host, d.Operation}
	if d.Variant != "" {
		parts = append(parts, d.Variant)
	}
	if e.Type == events.DispatchCompleted {
		if d.Failed {
			parts = append(parts, "failed: "+d.Msg)
		} else {
			parts = append(parts, "ok "+strconv.FormatInt(d.DurationMS, 10)+"ms")
		}
	}
	return strings.Join(parts, " ")
}

func itoa(n int) string { return strconv.Itoa(n) }
