package inspect

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/hostdispatch/internal/dispatch"
	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/result"
)

// hiddenKeys are printed in the header, not under the result block.
var hiddenKeys = map[string]struct{}{
	result.KeyFailed:         {},
	result.KeyMsg:            {},
	dispatch.KeyInvocationID: {},
	dispatch.KeyHost:         {},
}

// BuildReport renders a terminal-friendly report for one dispatch.
func BuildReport(e history.Entry) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Dispatch Report\n")
	fmt.Fprintf(&out, "Dispatch ID : %s\n", e.ID)
	fmt.Fprintf(&out, "Host        : %s\n", e.Host)
	fmt.Fprintf(&out, "Operation   : %s\n", e.Operation)
	fmt.Fprintf(&out, "Variant     : %s\n", orNone(e.Variant))
	fmt.Fprintf(&out, "Status      : %s\n", status(e))
	if e.Msg != "" {
		fmt.Fprintf(&out, "Message     : %s\n", e.Msg)
	}
	fmt.Fprintf(&out, "Started     : %s\n", e.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %s\n", e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "facts       :\n")
	fmt.Fprintf(&out, "    platform        : %s\n", orNone(e.Facts.DeclaredPlatform))
	fmt.Fprintf(&out, "    runtime_present : %t\n", e.Facts.RuntimePresent)

	keys := make([]string, 0, len(e.Result))
	for k := range e.Result {
		if _, skip := hiddenKeys[k]; !skip {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		fmt.Fprintf(&out, "result      : <empty>\n")
		return out.String()
	}
	fmt.Fprintf(&out, "result      :\n")
	for _, k := range keys {
		value := prettyJSON(e.Result[k])
		lines := strings.Split(strings.TrimSpace(value), "\n")
		if len(lines) == 1 {
			fmt.Fprintf(&out, "    %s : %s\n", k, lines[0])
			continue
		}
		fmt.Fprintf(&out, "    %s :\n", k)
		for _, line := range lines {
			fmt.Fprintf(&out, "      %s\n", line)
		}
	}
	return out.String()
}

// BuildHostTable renders recent dispatches for a host, newest first.
func BuildHostTable(entries []history.Entry) string {
	if len(entries) == 0 {
		return "No dispatches recorded.\n"
	}
	var out strings.Builder
	w := tabwriter.NewWriter(&out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tID\tOPERATION\tVARIANT\tSTATUS\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Format(time.RFC3339), e.ID, e.Operation, orNone(e.Variant), status(e), truncate(e.Msg, 60))
	}
	_ = w.Flush()
	return out.String()
}

func status(e history.Entry) string {
	if e.Failed {
		return "failed"
	}
	return "ok"
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func prettyJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
