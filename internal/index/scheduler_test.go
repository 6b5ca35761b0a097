package index

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ari/agent-index/internal/store"
)

func TestScheduler_ForcedRunsImmediately(t *testing.T) {
	var runs atomic.Int64
	s := NewScheduler(context.Background(),
		func(ctx context.Context, sc store.Scope) (*store.Aggregate, error) {
			runs.Add(1)
			return &store.Aggregate{}, nil
		}, nil, 50*time.Millisecond, 0)

	s.Request(store.All, true)
	s.Wait()
	require.Equal(t, int64(1), runs.Load())
}

func TestScheduler_BackgroundCoalesced(t *testing.T) {
	var runs atomic.Int64
	s := NewScheduler(context.Background(),
		func(ctx context.Context, sc store.Scope) (*store.Aggregate, error) {
			runs.Add(1)
			return &store.Aggregate{}, nil
		}, nil, 30*time.Millisecond, 0)

	sc := store.Scope{Projects: []string{"p"}}
	s.Request(sc, false)
	s.Request(sc, false)
	s.Request(sc, false)

	time.Sleep(100 * time.Millisecond)
	s.Wait()
	require.Equal(t, int64(1), runs.Load())
}

func TestScheduler_DistinctScopesRunSeparately(t *testing.T) {
	var runs atomic.Int64
	s := NewScheduler(context.Background(),
		func(ctx context.Context, sc store.Scope) (*store.Aggregate, error) {
			runs.Add(1)
			return &store.Aggregate{}, nil
		}, nil, 10*time.Millisecond, 0)

	s.Request(store.Scope{Projects: []string{"a"}}, false)
	s.Request(store.Scope{Projects: []string{"b"}}, false)

	time.Sleep(80 * time.Millisecond)
	s.Wait()
	require.Equal(t, int64(2), runs.Load())
}

func TestScheduler_ForcedCancelsPendingDebounce(t *testing.T) {
	var runs atomic.Int64
	s := NewScheduler(context.Background(),
		func(ctx context.Context, sc store.Scope) (*store.Aggregate, error) {
			runs.Add(1)
			return &store.Aggregate{}, nil
		}, nil, time.Hour, 0)

	s.Request(store.All, false) // would debounce for an hour
	s.Request(store.All, true)  // forced: runs now, cancels the timer
	s.Wait()
	require.Equal(t, int64(1), runs.Load())
}

func TestScheduler_ForcedWhileRunningSupersedes(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int64
	var mu sync.Mutex
	var published []int64

	s := NewScheduler(context.Background(),
		func(ctx context.Context, sc store.Scope) (*store.Aggregate, error) {
			n := runs.Add(1)
			if n == 1 {
				<-release
			}
			return &store.Aggregate{Sessions: n}, nil
		},
		func(sc store.Scope, agg *store.Aggregate) {
			mu.Lock()
			published = append(published, agg.Sessions)
			mu.Unlock()
		},
		10*time.Millisecond, 0)

	s.Request(store.All, true)
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	// A forced request while running marks the in-flight run superseded and
	// queues a rerun.
	s.Request(store.All, true)
	close(release)
	s.Wait()

	require.Equal(t, int64(2), runs.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{2}, published)
}

func TestScheduler_GraceWindowDropsDuplicates(t *testing.T) {
	var runs atomic.Int64
	s := NewScheduler(context.Background(),
		func(ctx context.Context, sc store.Scope) (*store.Aggregate, error) {
			runs.Add(1)
			return &store.Aggregate{}, nil
		}, nil, 5*time.Millisecond, time.Hour)

	s.Request(store.All, true)
	s.Wait()
	require.Equal(t, int64(1), runs.Load())

	// Background request right after completion falls inside the grace
	// window and is dropped.
	s.Request(store.All, false)
	time.Sleep(50 * time.Millisecond)
	s.Wait()
	require.Equal(t, int64(1), runs.Load())

	// Forced requests ignore the grace window.
	s.Request(store.All, true)
	s.Wait()
	require.Equal(t, int64(2), runs.Load())
}
