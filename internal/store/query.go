package store

import (
	"context"
	"fmt"
	"strings"
)

// Scope filters sessions for refresh and aggregation: all sessions, a set of
// projects, a date range, or both. The zero value means "all".
type Scope struct {
	Projects []string
	From     string // inclusive day bound, YYYY-MM-DD; empty = unbounded
	To       string
}

// All is the unfiltered scope.
var All = Scope{}

// IsAll reports whether the scope carries no filter.
func (sc Scope) IsAll() bool {
	return len(sc.Projects) == 0 && sc.From == "" && sc.To == ""
}

// SingleDay returns the day when the scope is exactly one date.
func (sc Scope) SingleDay() (string, bool) {
	if len(sc.Projects) == 0 && sc.From != "" && sc.From == sc.To {
		return sc.From, true
	}
	return "", false
}

// Key is the scheduler's logical scope key. Two requests with the same key
// are candidates for deduplication.
func (sc Scope) Key() string {
	if sc.IsAll() {
		return "all"
	}
	var parts []string
	if len(sc.Projects) > 0 {
		parts = append(parts, "project:"+strings.Join(sc.Projects, "+"))
	}
	if sc.From != "" || sc.To != "" {
		parts = append(parts, "date:"+sc.From+".."+sc.To)
	}
	return strings.Join(parts, "|")
}

// Matches reports whether a stored file's (project, day) falls inside the
// scope. Used by the pipeline when classifying cached entries.
func (sc Scope) Matches(project, day string) bool {
	if len(sc.Projects) > 0 {
		found := false
		for _, p := range sc.Projects {
			if p == project {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if sc.From != "" && day < sc.From {
		return false
	}
	if sc.To != "" && day > sc.To {
		return false
	}
	return true
}

// where builds the SQL filter for the scope, without parse-error conditions.
func (sc Scope) where() (string, []any) {
	var conds []string
	var args []any
	if len(sc.Projects) > 0 {
		ph := strings.TrimPrefix(strings.Repeat(",?", len(sc.Projects)), ",")
		conds = append(conds, "project IN ("+ph+")")
		for _, p := range sc.Projects {
			args = append(args, p)
		}
	}
	if sc.From != "" {
		conds = append(conds, "day >= ?")
		args = append(args, sc.From)
	}
	if sc.To != "" {
		conds = append(conds, "day <= ?")
		args = append(args, sc.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (sc Scope) whereAnd(extra string) (string, []any) {
	where, args := sc.where()
	if where == "" {
		return "WHERE " + extra, args
	}
	return where + " AND " + extra, args
}

// Aggregate is a computed view over the records in scope. It is never
// stored; every value comes from a grouped SUM/COUNT over the sessions
// table so it cannot drift from the records it derives from. Records with a
// parse error are excluded from the sums and surfaced via ParseErrors.
type Aggregate struct {
	Sessions      int64
	InputTokens   int64
	OutputTokens  int64
	CacheRead     int64
	CacheCreation int64
	TotalTokens   int64
	ActiveSeconds int64
	Messages      int64
	ToolCalls     int64
	ParseErrors   int64
}

const aggregateSums = `
	COUNT(*),
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(cache_read_tokens), 0),
	COALESCE(SUM(cache_creation_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(active_seconds), 0),
	COALESCE(SUM(user_messages + assistant_messages + tool_messages + reasoning_messages + other_messages), 0),
	COALESCE(SUM(tool_calls), 0)`

// FetchTotals computes the scope aggregate server-side.
func (s *Store) FetchTotals(ctx context.Context, sc Scope) (*Aggregate, error) {
	where, args := sc.whereAnd("parse_error IS NULL")
	var agg Aggregate
	err := s.db.QueryRowContext(ctx, `SELECT `+aggregateSums+` FROM sessions `+where, args...).Scan(
		&agg.Sessions, &agg.InputTokens, &agg.OutputTokens, &agg.CacheRead, &agg.CacheCreation,
		&agg.TotalTokens, &agg.ActiveSeconds, &agg.Messages, &agg.ToolCalls,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate scope: %w", err)
	}

	whereErr, argsErr := sc.whereAnd("parse_error IS NOT NULL")
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions `+whereErr, argsErr...).Scan(&agg.ParseErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to count parse errors: %w", err)
	}
	return &agg, nil
}

// SourceAggregate is the per-tool-family slice of an aggregate.
type SourceAggregate struct {
	Source string
	Aggregate
}

// FetchSourceBreakdown groups the scope aggregate by source kind.
func (s *Store) FetchSourceBreakdown(ctx context.Context, sc Scope) ([]SourceAggregate, error) {
	where, args := sc.whereAnd("parse_error IS NULL")
	query := `SELECT source, ` + aggregateSums + ` FROM sessions ` + where +
		` GROUP BY source ORDER BY source`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query source breakdown: %w", err)
	}
	defer rows.Close()

	var out []SourceAggregate
	for rows.Next() {
		var a SourceAggregate
		if err := rows.Scan(&a.Source, &a.Sessions, &a.InputTokens, &a.OutputTokens,
			&a.CacheRead, &a.CacheCreation, &a.TotalTokens, &a.ActiveSeconds,
			&a.Messages, &a.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to scan source breakdown: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DatePoint is one day of the daily breakdown.
type DatePoint struct {
	Day string
	Aggregate
}

// FetchDailyBreakdown groups the scope aggregate by day, oldest first.
func (s *Store) FetchDailyBreakdown(ctx context.Context, sc Scope) ([]DatePoint, error) {
	where, args := sc.whereAnd("parse_error IS NULL AND day != ''")
	query := `SELECT day, ` + aggregateSums + ` FROM sessions ` + where +
		` GROUP BY day ORDER BY day`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily breakdown: %w", err)
	}
	defer rows.Close()

	var out []DatePoint
	for rows.Next() {
		var p DatePoint
		if err := rows.Scan(&p.Day, &p.Sessions, &p.InputTokens, &p.OutputTokens,
			&p.CacheRead, &p.CacheCreation, &p.TotalTokens, &p.ActiveSeconds,
			&p.Messages, &p.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to scan daily breakdown: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CandidatePathsForDate returns the file paths of every session indexed
// under the given day. Single-day refreshes use it to narrow their work to
// these files plus whatever the cache has never seen.
func (s *Store) CandidatePathsForDate(ctx context.Context, day string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_path FROM sessions WHERE day = ?`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan candidate path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
