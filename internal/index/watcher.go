package index

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ari/agent-index/internal/source"
	"github.com/ari/agent-index/internal/store"
)

// Watcher turns raw OS file events under the transcript roots into batched
// background refresh requests. Events are buffered over a debounce window
// that extends while new events keep arriving, up to a hard cap, then
// flushed as one request per affected scope rather than one full-corpus
// scan per file save.
type Watcher struct {
	fs       *fsnotify.Watcher
	store    *store.Store
	sched    *Scheduler
	roots    map[source.Kind][]string
	debounce time.Duration
	maxDelay time.Duration
}

// NewWatcher creates a directory watcher feeding the scheduler. The store
// is consulted to map flat-root changes to the day their session is
// indexed under.
func NewWatcher(st *store.Store, sched *Scheduler, roots map[source.Kind][]string, debounce, maxDelay time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		fs:       fs,
		store:    st,
		sched:    sched,
		roots:    roots,
		debounce: debounce,
		maxDelay: maxDelay,
	}, nil
}

// Start registers the roots (recursively) and begins dispatching. It
// returns once the watches are in place; event handling runs until ctx is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	for _, kind := range source.Kinds() {
		for _, root := range w.roots[kind] {
			if root == "" {
				continue
			}
			if err := w.addTree(root); err != nil {
				return err
			}
		}
	}
	go w.loop(ctx)
	return nil
}

// Close stops the underlying OS watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// addTree watches a directory and all its subdirectories. A missing root
// is tolerated; the tool may be installed later.
func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			log.Printf("watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	changed := make(map[string]struct{})
	var timer *time.Timer
	var flushC <-chan time.Time
	var deadline time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addTree(ev.Name)
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			changed[ev.Name] = struct{}{}

			if timer == nil {
				deadline = time.Now().Add(w.maxDelay)
				timer = time.NewTimer(w.debounce)
				flushC = timer.C
				continue
			}
			// Extend the window while events keep arriving, but never past
			// the hard cap.
			if !timer.Stop() {
				<-timer.C
			}
			d := w.debounce
			if remain := time.Until(deadline); remain < d {
				d = remain
				if d < 0 {
					d = 0
				}
			}
			timer.Reset(d)

		case <-flushC:
			timer = nil
			flushC = nil
			w.flush(ctx, changed)
			changed = make(map[string]struct{})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("watch: %v", err)
		}
	}
}

// flush maps the buffered paths to their scopes and emits one background
// refresh per scope.
func (w *Watcher) flush(ctx context.Context, changed map[string]struct{}) {
	if len(changed) == 0 {
		return
	}
	scopes := make(map[string]store.Scope)
	for path := range changed {
		sc := w.scopeFor(ctx, path)
		scopes[sc.Key()] = sc
	}
	for _, sc := range scopes {
		w.sched.Request(sc, false)
	}
}

// scopeFor narrows a changed path to the scope it affects: the project
// directory for project-structured roots; for flat roots, the day the
// session is indexed under. A session is keyed by its start day, so an
// append landing on a later wall-clock day still resolves to the scope
// whose candidate list contains the file. Paths the cache has never seen
// fall back to today's scope, which discovers new files regardless of day.
func (w *Watcher) scopeFor(ctx context.Context, path string) store.Scope {
	for _, root := range w.roots[source.KindClaude] {
		if root == "" {
			continue
		}
		if rel, ok := isUnder(root, path); ok {
			if dir, _, found := cutPath(rel); found {
				return store.Scope{Projects: []string{dir}}
			}
		}
	}
	if w.store != nil {
		if sf, ok, err := w.store.LookupPath(ctx, path); err == nil && ok && sf.Day != "" {
			return store.Scope{From: sf.Day, To: sf.Day}
		} else if err != nil {
			log.Printf("watch: %v", err)
		}
	}
	day := time.Now().UTC().Format("2006-01-02")
	return store.Scope{From: day, To: day}
}

// cutPath splits a relative path at its first separator.
func cutPath(rel string) (string, string, bool) {
	for i := 0; i < len(rel); i++ {
		if os.IsPathSeparator(rel[i]) {
			return rel[:i], rel[i+1:], true
		}
	}
	return rel, "", false
}
