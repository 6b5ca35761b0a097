package timeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ari/agent-index/internal/index"
	"github.com/ari/agent-index/internal/source"
	"github.com/ari/agent-index/internal/store"
)

func claudeUserLine(ts, text string) string {
	return `{"type":"user","timestamp":"` + ts + `","sessionId":"s","cwd":"/p","message":{"role":"user","content":"` + text + `"}}`
}

func claudeAssistantLine(ts, text string) string {
	return `{"type":"assistant","timestamp":"` + ts + `","sessionId":"s","cwd":"/p","message":{"role":"assistant","content":[{"type":"text","text":"` + text + `"}]}}`
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func appendFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
}

// bump pushes the mtime forward so identity changes are visible regardless
// of filesystem timestamp resolution.
func bump(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	next := info.ModTime().Add(10 * time.Millisecond)
	require.NoError(t, os.Chtimes(path, next, next))
}

func newTestLoader(t *testing.T) (*Loader, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewLoader(st), st, filepath.Join(dir, "a.jsonl")
}

func TestLoader_FullLoad(t *testing.T) {
	l, _, path := newTestLoader(t)
	ctx := context.Background()

	writeFile(t, path,
		claudeUserLine("2026-08-20T10:00:00Z", "first"),
		claudeAssistantLine("2026-08-20T10:00:05Z", "one"))

	turns, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "first", turns[0].UserText())
	require.Equal(t, "one", turns[0].AssistantText())
}

func TestLoader_UnchangedFileReturnsCached(t *testing.T) {
	l, _, path := newTestLoader(t)
	ctx := context.Background()

	writeFile(t, path, claudeUserLine("2026-08-20T10:00:00Z", "first"))

	turns1, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)
	turns2, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)
	require.Equal(t, turns1, turns2)
}

func TestLoader_IncrementalAppendMatchesFullParse(t *testing.T) {
	l, _, path := newTestLoader(t)
	ctx := context.Background()

	writeFile(t, path,
		claudeUserLine("2026-08-20T10:00:00Z", "first"),
		claudeAssistantLine("2026-08-20T10:00:05Z", "one"))

	before, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)
	require.Len(t, before, 1)

	appendFile(t, path,
		claudeAssistantLine("2026-08-20T10:00:06Z", "one more"),
		claudeUserLine("2026-08-20T10:01:00Z", "second"),
		claudeAssistantLine("2026-08-20T10:01:05Z", "two"))
	bump(t, path)

	after, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)
	require.Len(t, after, 2)

	// The incremental result must be indistinguishable from a cold parse.
	fresh, _, _ := newTestLoader(t)
	full, err := fresh.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)

	require.Equal(t, len(full), len(after))
	for i := range full {
		require.Equal(t, full[i].ID, after[i].ID, "turn %d", i)
		require.Equal(t, full[i].UserText(), after[i].UserText())
		require.Equal(t, full[i].AssistantText(), after[i].AssistantText())
	}

	// The pre-existing turn kept its identity.
	require.Equal(t, before[0].ID, after[0].ID)
}

func TestLoader_RewrittenFileFallsBackToFullParse(t *testing.T) {
	l, _, path := newTestLoader(t)
	ctx := context.Background()

	writeFile(t, path,
		claudeUserLine("2026-08-20T10:00:00Z", "original content that is long enough"),
		claudeAssistantLine("2026-08-20T10:00:05Z", "one"))

	_, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)

	// Rewrite with different leading bytes but a larger size; the head
	// check must reject the incremental path.
	writeFile(t, path,
		claudeUserLine("2026-08-21T09:00:00Z", "completely different history"),
		claudeAssistantLine("2026-08-21T09:00:05Z", "reply"),
		claudeUserLine("2026-08-21T09:01:00Z", "and another question here"),
		claudeAssistantLine("2026-08-21T09:01:05Z", "second reply"))
	bump(t, path)

	turns, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "completely different history", turns[0].UserText())
}

func TestLoader_PreviewsRefreshedOnLoad(t *testing.T) {
	l, st, path := newTestLoader(t)
	ctx := context.Background()

	writeFile(t, path,
		claudeUserLine("2026-08-20T10:00:00Z", "first"),
		claudeAssistantLine("2026-08-20T10:00:05Z", "one"))

	// No cache before the first load.
	rows, err := l.Previews(ctx, "claude:a", path)
	require.NoError(t, err)
	require.Empty(t, rows)

	turns, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)

	rows, err = l.Previews(ctx, "claude:a", path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, turns[0].ID, rows[0].TurnID)
	require.Equal(t, "first", rows[0].UserText)

	// The cache is keyed to the live identity; after a change it reads
	// empty until the next load.
	appendFile(t, path, claudeUserLine("2026-08-20T10:02:00Z", "second"))
	bump(t, path)

	rows, err = l.Previews(ctx, "claude:a", path)
	require.NoError(t, err)
	require.Empty(t, rows)

	_, err = l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)
	rows, err = st.FetchPreviews(ctx, "claude:a", mustStat(t, path).Mtime, mustStat(t, path).Size)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestLoader_Release(t *testing.T) {
	l, _, path := newTestLoader(t)
	ctx := context.Background()

	writeFile(t, path, claudeUserLine("2026-08-20T10:00:00Z", "first"))
	_, err := l.Load(ctx, "claude:a", source.KindClaude, path)
	require.NoError(t, err)

	l.Release("claude:a")
	l.mu.Lock()
	_, ok := l.sessions["claude:a"]
	l.mu.Unlock()
	require.False(t, ok)
}

func mustStat(t *testing.T, path string) index.Identity {
	t.Helper()
	id, err := index.Stat(path)
	require.NoError(t, err)
	return id
}
