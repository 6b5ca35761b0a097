package index

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ari/agent-index/internal/store"
)

// Runner executes one refresh for a scope and returns the resulting
// aggregate.
type Runner func(ctx context.Context, sc store.Scope) (*store.Aggregate, error)

// ResultFunc receives the aggregate of a completed run. Superseded runs
// (a newer forced request arrived while they were in flight) are never
// published.
type ResultFunc func(sc store.Scope, agg *store.Aggregate)

type phase int

const (
	phaseIdle phase = iota
	phasePending
	phaseRunning
)

// scopeState is the single point of truth for one logical scope key.
type scopeState struct {
	phase      phase
	timer      *time.Timer
	scope      store.Scope
	generation uint64
	rerun      bool // a forced request arrived while running
	lastDone   time.Time
}

// Scheduler deduplicates and debounces refresh requests per logical scope.
// Forced requests always run; background requests are coalesced within the
// debounce window, skipped while the scope is already running, and skipped
// again within a short grace period after completion.
type Scheduler struct {
	ctx      context.Context
	run      Runner
	onResult ResultFunc
	debounce time.Duration
	grace    time.Duration

	mu     sync.Mutex
	scopes map[string]*scopeState
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. onResult may be nil.
func NewScheduler(ctx context.Context, run Runner, onResult ResultFunc, debounce, grace time.Duration) *Scheduler {
	return &Scheduler{
		ctx:      ctx,
		run:      run,
		onResult: onResult,
		debounce: debounce,
		grace:    grace,
		scopes:   make(map[string]*scopeState),
	}
}

// Request asks for a refresh of the scope. Forced requests start
// immediately, cancelling any pending debounce timer; background requests
// are debounced and deduplicated.
func (s *Scheduler) Request(sc store.Scope, forced bool) {
	key := sc.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.scopes[key]
	if !ok {
		st = &scopeState{}
		s.scopes[key] = st
	}
	st.scope = sc

	if forced {
		switch st.phase {
		case phasePending:
			if st.timer != nil {
				st.timer.Stop()
				st.timer = nil
			}
			s.startLocked(key, st)
		case phaseRunning:
			// Supersede the in-flight run: its output is discarded at
			// publish time and a fresh run starts on completion.
			st.generation++
			st.rerun = true
		default:
			s.startLocked(key, st)
		}
		return
	}

	switch st.phase {
	case phaseRunning, phasePending:
		// Coalesced with the in-flight or already-debouncing request.
	default:
		if s.grace > 0 && !st.lastDone.IsZero() && time.Since(st.lastDone) < s.grace {
			return // duplicate of a run that just finished
		}
		st.phase = phasePending
		st.timer = time.AfterFunc(s.debounce, func() { s.fire(key) })
	}
}

// fire promotes a debounced scope to running.
func (s *Scheduler) fire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scopes[key]
	if !ok || st.phase != phasePending {
		return
	}
	st.timer = nil
	s.startLocked(key, st)
}

// startLocked transitions a scope to running. Callers hold s.mu.
func (s *Scheduler) startLocked(key string, st *scopeState) {
	st.phase = phaseRunning
	st.generation++
	gen := st.generation
	sc := st.scope

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		agg, err := s.run(s.ctx, sc)
		s.complete(key, gen, sc, agg, err)
	}()
}

func (s *Scheduler) complete(key string, gen uint64, sc store.Scope, agg *store.Aggregate, err error) {
	s.mu.Lock()
	st := s.scopes[key]
	superseded := st.generation != gen

	st.phase = phaseIdle
	if err == nil {
		// Failed runs leave lastDone untouched so the next trigger is not
		// swallowed by the grace window.
		st.lastDone = time.Now()
	}
	rerun := st.rerun
	st.rerun = false
	if rerun {
		s.startLocked(key, st)
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("refresh %s: %v", key, err)
		return
	}
	if !superseded && s.onResult != nil {
		s.onResult(sc, agg)
	}
}

// Wait blocks until all in-flight runs have completed. Pending debounce
// timers are not waited on.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
