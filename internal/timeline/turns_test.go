package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ari/agent-index/internal/source"
)

func ev(ordinal int, role source.Role, text string) source.Event {
	return source.Event{
		Ordinal:   ordinal,
		Role:      role,
		Text:      text,
		Timestamp: time.Date(2026, 8, 20, 10, 0, ordinal, 0, time.UTC),
	}
}

func TestGroup_SplitsOnUserEvents(t *testing.T) {
	events := []source.Event{
		ev(0, source.RoleUser, "first question"),
		ev(1, source.RoleAssistant, "answer one"),
		ev(2, source.RoleTool, ""),
		ev(3, source.RoleUser, "second question"),
		ev(4, source.RoleAssistant, "answer two"),
	}

	turns := Group(events)
	require.Len(t, turns, 2)
	require.Len(t, turns[0].Events, 3)
	require.Len(t, turns[1].Events, 2)
	require.Equal(t, "first question", turns[0].UserText())
	require.Equal(t, "second question", turns[1].UserText())
	require.Equal(t, "answer one", turns[0].AssistantText())
	require.True(t, turns[0].HasToolCalls())
	require.False(t, turns[1].HasToolCalls())
	require.Equal(t, 2, turns[0].OutputCount())
}

func TestGroup_LeadingEventsFormOwnTurn(t *testing.T) {
	events := []source.Event{
		ev(0, source.RoleOther, "session start"),
		ev(1, source.RoleUser, "hello"),
		ev(2, source.RoleAssistant, "hi"),
	}

	turns := Group(events)
	require.Len(t, turns, 2)
	require.Empty(t, turns[0].UserText())
	require.Equal(t, "hello", turns[1].UserText())
}

func TestGroup_EmptyStream(t *testing.T) {
	require.Empty(t, Group(nil))
}

func TestTurnIDs_StableAcrossAppends(t *testing.T) {
	base := []source.Event{
		ev(0, source.RoleUser, "first"),
		ev(1, source.RoleAssistant, "one"),
		ev(2, source.RoleUser, "second"),
		ev(3, source.RoleAssistant, "two"),
	}
	grown := append(append([]source.Event{}, base...),
		ev(4, source.RoleUser, "third"),
		ev(5, source.RoleAssistant, "three"))

	before := Group(base)
	after := Group(grown)
	require.Len(t, before, 2)
	require.Len(t, after, 3)

	for i := range before {
		require.Equal(t, before[i].ID, after[i].ID, "turn %d ID changed after append", i)
	}
	require.NotEqual(t, after[1].ID, after[2].ID)
}

func TestTurnPreview_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	turns := Group([]source.Event{
		ev(0, source.RoleUser, string(long)),
		ev(1, source.RoleAssistant, "short"),
	})
	require.Len(t, turns, 1)

	p := turns[0].Preview("claude:a")
	require.Equal(t, "claude:a", p.SessionID)
	require.Equal(t, turns[0].ID, p.TurnID)
	require.Len(t, p.UserText, previewTextLimit)
	require.Equal(t, "short", p.AssistantText)
	require.Equal(t, 1, p.OutputCount)
}

func TestTurnHasThinking(t *testing.T) {
	events := []source.Event{
		ev(0, source.RoleUser, "q"),
		{Ordinal: 1, Role: source.RoleReasoning, Thinking: true},
	}
	turns := Group(events)
	require.Len(t, turns, 1)
	require.True(t, turns[0].HasThinking())
}
