package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/ari/agent-index/internal/source"
	"github.com/ari/agent-index/internal/store"
)

// Pipeline runs one scoped ingestion pass: enumerate candidate files,
// diff their identities against the cache, parse what changed under a
// bounded worker pool, and commit the results as a single transaction.
type Pipeline struct {
	store   *store.Store
	roots   map[source.Kind][]string
	include []string
	exclude []string
	workers int

	parseCalls atomic.Int64
}

// NewPipeline creates a pipeline over the configured roots. workers <= 0
// selects max(2, NumCPU/2).
func NewPipeline(st *store.Store, roots map[source.Kind][]string, include, exclude []string, workers int) *Pipeline {
	if workers <= 0 {
		workers = runtime.NumCPU() / 2
		if workers < 2 {
			workers = 2
		}
	}
	return &Pipeline{
		store:   st,
		roots:   roots,
		include: include,
		exclude: exclude,
		workers: workers,
	}
}

// ParseCalls returns how many files the pipeline has handed to a parser
// since creation. Unchanged files never increment it.
func (p *Pipeline) ParseCalls() int64 {
	return p.parseCalls.Load()
}

// candidate is one enumerated transcript file.
type candidate struct {
	path    string
	kind    source.Kind
	dirHint string // project directory under the root, when the layout has one
}

// parseJob is a changed or new file queued for a worker.
type parseJob struct {
	candidate
	id        Identity
	sessionID string
}

type parseResult struct {
	record  *store.Record
	deleted string // session id, when the file vanished mid-run
}

// Run executes one ingestion pass for the scope and returns the refreshed
// scope aggregate. Files that change while the run is in flight keep the
// identity captured at classification time, so the next run picks them up.
func (p *Pipeline) Run(ctx context.Context, sc store.Scope) (*store.Aggregate, error) {
	stored, err := p.store.Identities(ctx)
	if err != nil {
		return nil, err
	}

	candidates, full, err := p.enumerate(ctx, sc, stored)
	if err != nil {
		return nil, err
	}

	var jobs []parseJob
	var deletes []string
	seen := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		seen[c.path] = struct{}{}

		id, err := Stat(c.path)
		if errors.Is(err, ErrFileVanished) {
			if sf, ok := stored[c.path]; ok {
				deletes = append(deletes, sf.SessionID)
			}
			continue
		}
		if err != nil {
			log.Printf("index: %v", err)
			continue
		}

		if sf, ok := stored[c.path]; ok && sf.Mtime == id.Mtime && sf.Size == id.Size {
			continue // unchanged: never touched
		}

		jobs = append(jobs, parseJob{
			candidate: c,
			id:        id,
			sessionID: deriveSessionID(c.kind, c.path),
		})
	}

	// Tombstone files the cache knows about that no longer exist under the
	// scanned roots. Only a full enumeration can prove absence.
	if full {
		for path, sf := range stored {
			if _, ok := seen[path]; ok {
				continue
			}
			if !p.underRoots(sf.Source, path) || !sc.Matches(sf.Project, sf.Day) {
				continue
			}
			deletes = append(deletes, sf.SessionID)
		}
	}

	upserts, vanished := p.parseAll(ctx, jobs)
	deletes = append(deletes, vanished...)

	if err := p.store.CommitBatch(ctx, upserts, deletes); err != nil {
		return nil, err
	}
	return p.store.FetchTotals(ctx, sc)
}

// enumerate lists candidate files for the scope. A single-day scope narrows
// the walked tree to the files the date index holds for that day plus any
// file the cache has never seen, so a brand-new transcript is still
// discovered by a date-scoped run. The second return value reports whether
// the enumeration was exhaustive for the scope.
func (p *Pipeline) enumerate(ctx context.Context, sc store.Scope, stored map[string]store.StoredFile) ([]candidate, bool, error) {
	all, err := p.walkAll(sc)
	if err != nil {
		return nil, false, err
	}

	if day, ok := sc.SingleDay(); ok {
		known, err := p.store.CandidatePathsForDate(ctx, day)
		if err != nil {
			return nil, false, err
		}
		onDay := make(map[string]struct{}, len(known))
		for _, path := range known {
			onDay[path] = struct{}{}
		}

		// Stored files indexed under other days cannot contribute to this
		// day: transcripts are append-only, so a session's start day never
		// moves forward. Unseen paths stay in; their day is unknown until
		// they are parsed.
		narrowed := all[:0]
		for _, c := range all {
			if _, ok := onDay[c.path]; ok {
				narrowed = append(narrowed, c)
				continue
			}
			if _, ok := stored[c.path]; !ok {
				narrowed = append(narrowed, c)
			}
		}
		return narrowed, true, nil
	}

	// Narrowed enumerations cannot prove absence across the whole corpus,
	// but they are exhaustive for the scope itself.
	return all, true, nil
}

// walkAll walks the configured roots. A project scope narrows
// project-structured roots to the named subdirectories; flat roots are
// still walked in full.
func (p *Pipeline) walkAll(sc store.Scope) ([]candidate, error) {
	var all []candidate
	for _, kind := range source.Kinds() {
		for _, root := range p.roots[kind] {
			if root == "" {
				continue
			}
			if kind == source.KindClaude && len(sc.Projects) > 0 {
				for _, proj := range sc.Projects {
					found, err := p.walkRoot(kind, filepath.Join(root, proj))
					if err != nil {
						return nil, err
					}
					for i := range found {
						found[i].dirHint = proj
					}
					all = append(all, found...)
				}
				continue
			}
			found, err := p.walkRoot(kind, root)
			if err != nil {
				return nil, err
			}
			all = append(all, found...)
		}
	}
	return all, nil
}

func (p *Pipeline) walkRoot(kind source.Kind, root string) ([]candidate, error) {
	var out []candidate
	ext := source.Ext(kind)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable subtree; keep walking
		}
		if info.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || !p.included(rel) {
			return nil
		}
		c := candidate{path: path, kind: kind}
		if parts := strings.Split(rel, string(filepath.Separator)); len(parts) > 1 {
			c.dirHint = parts[0]
		}
		out = append(out, c)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return out, nil
}

// included applies the configured inclusion/exclusion subpath rules to a
// root-relative path.
func (p *Pipeline) included(rel string) bool {
	for _, ex := range p.exclude {
		if ex != "" && strings.Contains(rel, ex) {
			return false
		}
	}
	if len(p.include) == 0 {
		return true
	}
	for _, in := range p.include {
		if in != "" && strings.Contains(rel, in) {
			return true
		}
	}
	return false
}

func (p *Pipeline) underRoots(kind source.Kind, path string) bool {
	for _, root := range p.roots[kind] {
		if root == "" {
			continue
		}
		if _, ok := isUnder(root, path); ok {
			return true
		}
	}
	return false
}

// isUnder reports whether path lies strictly inside dir, returning the
// relative path on success.
func isUnder(dir, path string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return "", false
	}
	sep := string(filepath.Separator)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+sep) {
		return "", false
	}
	return rel, true
}

// parseAll fans the jobs out across the worker pool. Claude transcripts are
// the heaviest format, so they run under a stricter sub-limit to keep the
// pool from saturating on them.
func (p *Pipeline) parseAll(ctx context.Context, jobs []parseJob) ([]*store.Record, []string) {
	if len(jobs) == 0 {
		return nil, nil
	}

	in := make(chan parseJob, len(jobs))
	out := make(chan parseResult, len(jobs))

	heavy := make(chan struct{}, max(1, p.workers/2))

	for i := 0; i < p.workers; i++ {
		go func() {
			for job := range in {
				if job.kind == source.KindClaude {
					heavy <- struct{}{}
					out <- p.parseOne(job)
					<-heavy
				} else {
					out <- p.parseOne(job)
				}
			}
		}()
	}

	for _, j := range jobs {
		in <- j
	}
	close(in)

	var upserts []*store.Record
	var deletes []string
	for range jobs {
		r := <-out
		switch {
		case r.record != nil:
			upserts = append(upserts, r.record)
		case r.deleted != "":
			deletes = append(deletes, r.deleted)
		}
	}
	return upserts, deletes
}

// parseOne parses a single file in isolation and returns an immutable
// result. A corrupt file yields a record with parse_error set and the
// identity captured at classification time, so it is not retried until the
// file changes.
func (p *Pipeline) parseOne(job parseJob) parseResult {
	parser, err := source.ParserFor(job.kind)
	if err != nil {
		log.Printf("index: %v", err)
		return parseResult{}
	}

	f, err := os.Open(job.path)
	if err != nil {
		if os.IsNotExist(err) {
			return parseResult{deleted: job.sessionID}
		}
		log.Printf("index: open %s: %v", job.path, err)
		return parseResult{}
	}
	defer f.Close()

	p.parseCalls.Add(1)
	parsed, err := parser.Parse(f)
	if err != nil {
		if errors.Is(err, source.ErrCorrupt) {
			return parseResult{record: &store.Record{
				SessionID:  job.sessionID,
				Source:     job.kind,
				Project:    job.dirHint,
				FilePath:   job.path,
				FileMtime:  job.id.Mtime,
				FileSize:   job.id.Size,
				ParseError: err.Error(),
			}}
		}
		log.Printf("index: parse %s: %v", job.path, err)
		return parseResult{}
	}

	return parseResult{record: p.toRecord(job, parsed)}
}

func (p *Pipeline) toRecord(job parseJob, parsed *source.ParsedSession) *store.Record {
	r := &store.Record{
		SessionID: job.sessionID,
		Source:    job.kind,
		Project:   projectFor(parsed, job),
		CWD:       parsed.CWD,
		Title:     parsed.Title,
		Model:     parsed.Model,

		ActiveSeconds: int64(parsed.ActiveDuration.Seconds()),

		UserMessages:      parsed.Counts.User,
		AssistantMessages: parsed.Counts.Assistant,
		ToolMessages:      parsed.Counts.Tool,
		ReasoningMessages: parsed.Counts.Reasoning,
		OtherMessages:     parsed.Counts.Other,
		ToolCalls:         parsed.ToolCalls,
		ThinkingBlocks:    parsed.ThinkingBlocks,

		InputTokens:         parsed.Tokens.Input,
		OutputTokens:        parsed.Tokens.Output,
		CacheReadTokens:     parsed.Tokens.CacheRead,
		CacheCreationTokens: parsed.Tokens.CacheCreation,
		TotalTokens:         parsed.Tokens.Total,

		FilePath:  job.path,
		FileMtime: job.id.Mtime,
		FileSize:  job.id.Size,
	}
	if !parsed.FirstTimestamp.IsZero() {
		r.StartedAt = parsed.FirstTimestamp.Unix()
	}
	if !parsed.LastTimestamp.IsZero() {
		r.LastUpdatedAt = parsed.LastTimestamp.Unix()
	}
	return r
}

// projectFor derives the grouping key for a session. Project-structured
// roots use the directory name (so watcher scopes line up with stored
// records); flat roots fall back to the transcript's working directory.
func projectFor(parsed *source.ParsedSession, job parseJob) string {
	if job.kind == source.KindClaude && job.dirHint != "" {
		return job.dirHint
	}
	if parsed.CWD != "" {
		return filepath.Base(parsed.CWD)
	}
	return job.dirHint
}

// deriveSessionID builds the stable session id from the file path alone, so
// re-parsing never changes it.
func deriveSessionID(kind source.Kind, path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return string(kind) + ":" + stem
}
