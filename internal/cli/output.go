package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

func printPaths(w io.Writer, title string, paths []string) {
	if len(paths) == 0 {
		fmt.Fprintf(w, "%s\n", yellow("No "+title))
		return
	}
	fmt.Fprintf(w, "Found %d %s:\n", len(paths), title)
	for _, p := range paths {
		fmt.Fprintf(w, "  %s\n", p)
	}
}

func printTrace(w io.Writer, entries []domain.TraceEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, yellow("No trace entries"))
		return
	}
	for _, e := range entries {
		status := green("OK  ")
		if !e.OK {
			status = red("FAIL")
		}
		fmt.Fprintf(w, "#%-5d %s %-24s try=%d %6dms %s %s\n", e.SequenceID, status, e.Action, e.Attempt,
			e.DurationMs, faint(e.StartedAt.Format("2006-01-02 15:04:05")), faint(e.RequestID))
		if e.ErrorMessage != "" {
			fmt.Fprintf(w, "       %s\n", red(firstLine(e.ErrorMessage)))
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " …"
	}
	return s
}
