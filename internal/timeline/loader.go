package timeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ari/agent-index/internal/index"
	"github.com/ari/agent-index/internal/source"
	"github.com/ari/agent-index/internal/store"
)

// Loader serves full timelines for open sessions. It keeps the parsed event
// stream per session in memory so that a growing file only costs a reparse
// of the appended tail, not the whole transcript. The cheap first stage of
// a view (cached previews) comes straight from the store; Load is the slow
// stage that yields the complete turn list.
type Loader struct {
	store *store.Store

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState is the retained parse of one open session.
type sessionState struct {
	path   string
	kind   source.Kind
	id     index.Identity
	head   []byte
	events []source.Event
	turns  []Turn
}

// NewLoader creates a timeline loader backed by the given store.
func NewLoader(st *store.Store) *Loader {
	return &Loader{store: st, sessions: make(map[string]*sessionState)}
}

// Previews returns the cached turn previews for a session, but only if they
// match the file's live identity. A nil slice means the cache is stale or
// empty and the caller should fall through to Load.
func (l *Loader) Previews(ctx context.Context, sessionID, path string) ([]store.PreviewRow, error) {
	id, err := index.Stat(path)
	if err != nil {
		return nil, err
	}
	return l.store.FetchPreviews(ctx, sessionID, id.Mtime, id.Size)
}

// Load returns the session's full turn list, reparsing as little of the
// file as possible. Repeated calls while the file grows take the
// incremental path; a rewritten or truncated file falls back to a full
// reparse. The preview cache is refreshed as a side effect.
func (l *Loader) Load(ctx context.Context, sessionID string, kind source.Kind, path string) ([]Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := index.Stat(path)
	if err != nil {
		return nil, err
	}

	prev, ok := l.sessions[sessionID]
	if ok && prev.id == id {
		return prev.turns, nil
	}

	head, err := index.ReadHead(path)
	if err != nil {
		return nil, err
	}

	var st *sessionState
	switch {
	case ok && id.Size == prev.id.Size && index.HeadCompatible(prev.head, head):
		// Same content, new mtime (e.g. a touch). Refresh the identity only.
		prev.id = id
		prev.head = head
		st = prev
	case ok && id.Size > prev.id.Size && index.HeadCompatible(prev.head, head):
		st, err = l.loadTail(prev, path, id, head)
		if err != nil {
			return nil, err
		}
	default:
		st, err = l.loadFull(kind, path, id, head)
		if err != nil {
			return nil, err
		}
	}
	l.sessions[sessionID] = st

	rows := make([]store.PreviewRow, len(st.turns))
	for i := range st.turns {
		rows[i] = st.turns[i].Preview(sessionID)
	}
	if err := l.store.ReplacePreviews(ctx, sessionID, id.Mtime, id.Size, rows); err != nil {
		return nil, err
	}
	return st.turns, nil
}

// Release drops the retained state for a closed session.
func (l *Loader) Release(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
}

// loadFull parses the whole file and groups it from scratch.
func (l *Loader) loadFull(kind source.Kind, path string, id index.Identity, head []byte) (*sessionState, error) {
	parser, err := source.ParserFor(kind)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := parser.Parse(f)
	if err != nil {
		return nil, err
	}
	return &sessionState{
		path:   path,
		kind:   kind,
		id:     id,
		head:   head,
		events: parsed.Events,
		turns:  Group(parsed.Events),
	}, nil
}

// loadTail parses only the appended byte range and merges the new events
// into the retained stream. Only the trailing turn is regrouped; earlier
// turns and their IDs are untouched.
func (l *Loader) loadTail(prev *sessionState, path string, id index.Identity, head []byte) (*sessionState, error) {
	parser, err := source.ParserFor(prev.kind)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(prev.id.Size, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek %s: %w", path, err)
	}
	tail, err := parser.Parse(io.LimitReader(f, id.Size-prev.id.Size))
	if err != nil {
		return nil, err
	}

	// Tail events restart at ordinal zero; rebase onto the retained stream.
	base := len(prev.events)
	fresh := make([]source.Event, len(tail.Events))
	for i, ev := range tail.Events {
		ev.Ordinal += base
		fresh[i] = ev
	}

	events := append(prev.events, fresh...)

	var kept []Turn
	regroup := fresh
	if n := len(prev.turns); n > 0 {
		kept = prev.turns[:n-1]
		last := prev.turns[n-1]
		regroup = append(append([]source.Event{}, last.Events...), fresh...)
	}
	turns := append(append([]Turn{}, kept...), Group(regroup)...)

	return &sessionState{
		path:   path,
		kind:   prev.kind,
		id:     id,
		head:   head,
		events: events,
		turns:  turns,
	}, nil
}
