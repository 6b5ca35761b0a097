package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ari/agent-index/internal/store"
	"github.com/ari/agent-index/internal/timeline"
)

// ANSI color codes
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorBold    = "\033[1m"
)

// FormatDuration formats seconds into a human-readable duration
func FormatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	d := time.Duration(seconds) * time.Second
	h := d.Hours()
	if h >= 1 {
		return fmt.Sprintf("%.1fh", h)
	}
	m := d.Minutes()
	return fmt.Sprintf("%.1fm", m)
}

// FormatTokens formats token count with K/M suffix
func FormatTokens(tokens int64) string {
	if tokens >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	}
	if tokens >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000)
	}
	return fmt.Sprintf("%d", tokens)
}

// FormatDateTime formats a Unix timestamp into a human-readable datetime
func FormatDateTime(timestamp int64) string {
	if timestamp == 0 {
		return "-"
	}
	t := time.Unix(timestamp, 0)
	return t.Format("2006-01-02 15:04")
}

// scopeLabel renders the scope filter for headers.
func scopeLabel(sc store.Scope) string {
	if sc.IsAll() {
		return "All Sessions"
	}
	var parts []string
	if len(sc.Projects) > 0 {
		parts = append(parts, "projects "+strings.Join(sc.Projects, ", "))
	}
	if sc.From != "" || sc.To != "" {
		if sc.From == sc.To {
			parts = append(parts, sc.From)
		} else {
			parts = append(parts, sc.From+" .. "+sc.To)
		}
	}
	return strings.Join(parts, " | ")
}

// DisplayTotals displays a scope aggregate with formatting
func DisplayTotals(sc store.Scope, agg *store.Aggregate) {
	fmt.Printf("\n%sIndex Totals - %s%s\n", ColorBold, scopeLabel(sc), ColorReset)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n%s%sSummary%s\n", ColorBold, ColorMagenta, ColorReset)
	fmt.Printf("  Sessions:      %s\n", humanize.Comma(agg.Sessions))
	fmt.Printf("  Active Time:   %s\n", FormatDuration(agg.ActiveSeconds))
	fmt.Printf("  Messages:      %s\n", humanize.Comma(agg.Messages))
	fmt.Printf("  Tool Calls:    %s\n", humanize.Comma(agg.ToolCalls))
	fmt.Printf("  Total Tokens:  %s (in: %s, out: %s, cache read: %s, cache write: %s)\n",
		FormatTokens(agg.TotalTokens),
		FormatTokens(agg.InputTokens),
		FormatTokens(agg.OutputTokens),
		FormatTokens(agg.CacheRead),
		FormatTokens(agg.CacheCreation))
	if agg.ParseErrors > 0 {
		fmt.Printf("  %sUnreadable:    %d file(s) excluded from totals%s\n", ColorYellow, agg.ParseErrors, ColorReset)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

// DisplaySources displays the per-tool-family breakdown of a scope
func DisplaySources(sc store.Scope, sources []store.SourceAggregate) {
	fmt.Printf("\n%sPer-Source Breakdown - %s%s\n", ColorBold, scopeLabel(sc), ColorReset)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  %-10s %10s %12s %12s %20s\n", "Source", "Sessions", "Time", "Messages", "Tokens (in/out)")
	fmt.Printf("  %s\n", strings.Repeat("-", 58))
	for _, s := range sources {
		fmt.Printf("  %-10s %10d %12s %12d %s\n",
			sourceName(s.Source),
			s.Sessions,
			FormatDuration(s.ActiveSeconds),
			s.Messages,
			fmt.Sprintf("%s/%s", FormatTokens(s.InputTokens), FormatTokens(s.OutputTokens)))
	}
	if len(sources) == 0 {
		fmt.Printf("  %sNo data%s\n", ColorYellow, ColorReset)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

// DisplayDaily displays the per-day breakdown of a scope
func DisplayDaily(sc store.Scope, days []store.DatePoint) {
	fmt.Printf("\n%sDaily Breakdown - %s%s\n", ColorBold, scopeLabel(sc), ColorReset)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  %-12s %10s %12s %12s\n", "Date", "Sessions", "Time", "Tokens")
	fmt.Printf("  %s\n", strings.Repeat("-", 52))
	for _, d := range days {
		fmt.Printf("  %-12s %10d %12s %12s\n",
			d.Day,
			d.Sessions,
			FormatDuration(d.ActiveSeconds),
			FormatTokens(d.TotalTokens))
	}
	if len(days) == 0 {
		fmt.Printf("  %sNo data%s\n", ColorYellow, ColorReset)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

// DisplaySessions lists the sessions in a scope, newest first
func DisplaySessions(sc store.Scope, records []store.Record) {
	fmt.Printf("\n%sSessions - %s%s\n", ColorBold, scopeLabel(sc), ColorReset)
	fmt.Println(strings.Repeat("=", 60))

	if len(records) == 0 {
		fmt.Printf("\n  %sNo sessions in scope%s\n", ColorYellow, ColorReset)
		fmt.Println("\n" + strings.Repeat("=", 60))
		return
	}

	for i, r := range records {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("\n  %d. %s%s%s\n", i+1, ColorBold, r.SessionID, ColorReset)
		fmt.Printf("     %s | %s | %s\n", sourceName(string(r.Source)), r.Project, FormatDateTime(r.LastUpdatedAt))
		if r.ParseError != "" {
			fmt.Printf("     %sunreadable: %s%s\n", ColorYellow, r.ParseError, ColorReset)
			continue
		}
		fmt.Printf("     %s\n", title)
		if r.Comment != "" {
			fmt.Printf("     %s# %s%s\n", ColorCyan, r.Comment, ColorReset)
		}
		fmt.Printf("     %s active, %s tokens, %d tool calls\n",
			FormatDuration(r.ActiveSeconds), FormatTokens(r.TotalTokens), r.ToolCalls)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

// DisplayTimeline renders a session's full turn list
func DisplayTimeline(r *store.Record, turns []timeline.Turn) {
	fmt.Printf("\n%s%s%s\n", ColorBold, r.SessionID, ColorReset)
	fmt.Printf("%s | %s | started %s\n", sourceName(string(r.Source)), r.Project, FormatDateTime(r.StartedAt))
	if r.Model != "" {
		fmt.Printf("model: %s\n", r.Model)
	}
	if r.Comment != "" {
		fmt.Printf("%s# %s%s\n", ColorCyan, r.Comment, ColorReset)
	}
	fmt.Println(strings.Repeat("=", 60))

	for i, t := range turns {
		fmt.Printf("\n%s%sTurn %d%s", ColorBold, ColorBlue, i+1, ColorReset)
		if !t.StartedAt.IsZero() {
			fmt.Printf("  %s", t.StartedAt.Format("15:04:05"))
		}
		var flags []string
		if t.HasToolCalls() {
			flags = append(flags, "tools")
		}
		if t.HasThinking() {
			flags = append(flags, "thinking")
		}
		if len(flags) > 0 {
			fmt.Printf("  [%s]", strings.Join(flags, " "))
		}
		fmt.Println()

		if user := t.UserText(); user != "" {
			fmt.Printf("%s> %s%s\n", ColorGreen, firstLine(user), ColorReset)
		}
		if out := t.AssistantText(); out != "" {
			for _, line := range strings.Split(out, "\n") {
				fmt.Printf("  %s\n", line)
			}
		}
		if n := t.OutputCount(); n > 0 {
			fmt.Printf("  %s(%d output event(s))%s\n", ColorYellow, n, ColorReset)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

// DisplayPreviews renders cached turn previews (the fast first stage of a
// session view)
func DisplayPreviews(r *store.Record, previews []store.PreviewRow) {
	fmt.Printf("\n%s%s%s (preview)\n", ColorBold, r.SessionID, ColorReset)
	fmt.Println(strings.Repeat("=", 60))

	for i, p := range previews {
		fmt.Printf("\n%s%sTurn %d%s\n", ColorBold, ColorBlue, i+1, ColorReset)
		if p.UserText != "" {
			fmt.Printf("%s> %s%s\n", ColorGreen, firstLine(p.UserText), ColorReset)
		}
		if p.AssistantText != "" {
			fmt.Printf("  %s\n", firstLine(p.AssistantText))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

// Error displays an error message
func Error(msg string) {
	fmt.Fprintf(os.Stderr, "%sError: %s%s\n", ColorRed, msg, ColorReset)
}

func sourceName(s string) string {
	switch s {
	case "claude":
		return "Claude"
	case "codex":
		return "Codex"
	case "gemini":
		return "Gemini"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
