package timeline

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/ari/agent-index/internal/source"
	"github.com/ari/agent-index/internal/store"
)

// Turn groups one user input with the assistant/tool events it produced.
// The ID derives from the position and content of the turn's first event,
// never from the slice index, so regrouping after an incremental append
// leaves earlier turns' IDs untouched.
type Turn struct {
	ID        string
	StartedAt time.Time
	Events    []source.Event
}

// previewTextLimit caps the text carried by a cached preview row.
const previewTextLimit = 200

// Group partitions an event stream into turns. A user event opens a new
// turn; everything up to the next user event belongs to it. Events before
// the first user input form a leading turn of their own.
func Group(events []source.Event) []Turn {
	var turns []Turn
	var cur []source.Event

	flush := func() {
		if len(cur) == 0 {
			return
		}
		turns = append(turns, newTurn(cur))
		cur = nil
	}

	for _, ev := range events {
		if ev.Role == source.RoleUser {
			flush()
		}
		cur = append(cur, ev)
	}
	flush()
	return turns
}

func newTurn(events []source.Event) Turn {
	t := Turn{Events: events, ID: turnID(events[0])}
	for _, ev := range events {
		if !ev.Timestamp.IsZero() {
			t.StartedAt = ev.Timestamp
			break
		}
	}
	return t
}

// turnID hashes the opening event's position and content.
func turnID(first source.Event) string {
	h := fnv.New64a()
	text := first.Text
	if len(text) > 64 {
		text = text[:64]
	}
	fmt.Fprintf(h, "%d|%s|%s", first.Ordinal, first.Role, text)
	return fmt.Sprintf("%016x", h.Sum64())
}

// UserText returns the turn's user input text.
func (t *Turn) UserText() string {
	for _, ev := range t.Events {
		if ev.Role == source.RoleUser {
			return ev.Text
		}
	}
	return ""
}

// AssistantText returns the concatenated assistant output.
func (t *Turn) AssistantText() string {
	var parts []string
	for _, ev := range t.Events {
		if ev.Role == source.RoleAssistant && ev.Text != "" {
			parts = append(parts, ev.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// OutputCount counts the non-user events of the turn.
func (t *Turn) OutputCount() int {
	n := 0
	for _, ev := range t.Events {
		if ev.Role != source.RoleUser {
			n++
		}
	}
	return n
}

// HasToolCalls reports whether the turn invoked any tools.
func (t *Turn) HasToolCalls() bool {
	for _, ev := range t.Events {
		if ev.Role == source.RoleTool {
			return true
		}
	}
	return false
}

// HasThinking reports whether the turn carries thinking blocks.
func (t *Turn) HasThinking() bool {
	for _, ev := range t.Events {
		if ev.Thinking {
			return true
		}
	}
	return false
}

// Preview projects the turn into its cached, lossy form.
func (t *Turn) Preview(sessionID string) store.PreviewRow {
	return store.PreviewRow{
		SessionID:     sessionID,
		TurnID:        t.ID,
		Ordinal:       t.Events[0].Ordinal,
		UserText:      truncate(t.UserText(), previewTextLimit),
		AssistantText: truncate(t.AssistantText(), previewTextLimit),
		OutputCount:   t.OutputCount(),
		HasToolCalls:  t.HasToolCalls(),
		HasThinking:   t.HasThinking(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
