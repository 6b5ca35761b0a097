package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ari/agent-index/internal/source"
)

// Record is one indexed session: the metadata extracted from a transcript
// file plus the file identity it was extracted from. A record is stale when
// the live file's (mtime, size) differs from the stored pair.
type Record struct {
	SessionID string
	Source    source.Kind
	Project   string
	CWD       string
	Title     string
	Comment   string
	Model     string

	StartedAt     int64 // unix seconds
	LastUpdatedAt int64
	ActiveSeconds int64

	UserMessages      int64
	AssistantMessages int64
	ToolMessages      int64
	ReasoningMessages int64
	OtherMessages     int64
	ToolCalls         int64
	ThinkingBlocks    int64

	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	TotalTokens         int64

	FilePath  string
	FileMtime int64 // unix nanoseconds
	FileSize  int64

	ParseError string // empty when the file parsed cleanly
}

// Day returns the record's grouping date (UTC) for the daily index.
func (r *Record) Day() string {
	ts := r.StartedAt
	if ts == 0 {
		ts = r.LastUpdatedAt
	}
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

// StoredFile is the identity the cache holds for one indexed path.
type StoredFile struct {
	SessionID string
	Source    source.Kind
	Project   string
	Day       string
	Mtime     int64
	Size      int64
}

const recordColumns = `session_id, source, project, cwd, title, comment, model, day,
	started_at, last_updated_at, active_seconds,
	user_messages, assistant_messages, tool_messages, reasoning_messages, other_messages,
	tool_calls, thinking_blocks,
	input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, total_tokens,
	file_path, file_mtime, file_size, parse_error`

// CommitBatch applies one ingestion run's results in a single transaction:
// upserts for parsed (or corrupt) files and tombstone deletes for vanished
// ones. On any error the whole batch is rolled back and nothing is
// published; change notifications are emitted only after commit.
func (s *Store) CommitBatch(ctx context.Context, upserts []*Record, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	var changes []Change

	existsStmt, err := tx.PrepareContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare existence check: %w", err)
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			source = excluded.source,
			project = excluded.project,
			cwd = excluded.cwd,
			title = excluded.title,
			model = excluded.model,
			day = excluded.day,
			started_at = excluded.started_at,
			last_updated_at = excluded.last_updated_at,
			active_seconds = excluded.active_seconds,
			user_messages = excluded.user_messages,
			assistant_messages = excluded.assistant_messages,
			tool_messages = excluded.tool_messages,
			reasoning_messages = excluded.reasoning_messages,
			other_messages = excluded.other_messages,
			tool_calls = excluded.tool_calls,
			thinking_blocks = excluded.thinking_blocks,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cache_creation_tokens = excluded.cache_creation_tokens,
			total_tokens = excluded.total_tokens,
			file_path = excluded.file_path,
			file_mtime = excluded.file_mtime,
			file_size = excluded.file_size,
			parse_error = excluded.parse_error`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, r := range upserts {
		var one int
		op := OpInsert
		switch err := existsStmt.QueryRowContext(ctx, r.SessionID).Scan(&one); err {
		case nil:
			op = OpUpdate
		case sql.ErrNoRows:
		default:
			return fmt.Errorf("failed to check session %s: %w", r.SessionID, err)
		}

		if _, err := upsertStmt.ExecContext(ctx,
			r.SessionID, string(r.Source), r.Project, r.CWD, r.Title, r.Comment, r.Model, r.Day(),
			r.StartedAt, r.LastUpdatedAt, r.ActiveSeconds,
			r.UserMessages, r.AssistantMessages, r.ToolMessages, r.ReasoningMessages, r.OtherMessages,
			r.ToolCalls, r.ThinkingBlocks,
			r.InputTokens, r.OutputTokens, r.CacheReadTokens, r.CacheCreationTokens, r.TotalTokens,
			r.FilePath, r.FileMtime, r.FileSize, nullable(r.ParseError),
		); err != nil {
			return fmt.Errorf("failed to upsert session %s: %w", r.SessionID, err)
		}

		// Previews produced from an older identity are invalid now.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM previews WHERE session_id = ? AND (file_mtime != ? OR file_size != ?)`,
			r.SessionID, r.FileMtime, r.FileSize); err != nil {
			return fmt.Errorf("failed to invalidate previews for %s: %w", r.SessionID, err)
		}

		changes = append(changes, Change{Op: op, SessionID: r.SessionID})
	}

	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM previews WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete previews for %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changes = append(changes, Change{Op: OpDelete, SessionID: id})
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	for _, c := range changes {
		s.notifier.publish(c)
	}
	return nil
}

// Identities returns the stored file identity for every indexed path. The
// ingestion pipeline diffs live stat results against this map to classify
// files as unchanged, changed or new.
func (s *Store) Identities(ctx context.Context) (map[string]StoredFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, session_id, source, COALESCE(project, ''), COALESCE(day, ''), file_mtime, file_size FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]StoredFile)
	for rows.Next() {
		var path, src string
		var f StoredFile
		if err := rows.Scan(&path, &f.SessionID, &src, &f.Project, &f.Day, &f.Mtime, &f.Size); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		f.Source = source.Kind(src)
		out[path] = f
	}
	return out, rows.Err()
}

// LookupPath returns the cache's entry for a single file path.
func (s *Store) LookupPath(ctx context.Context, path string) (StoredFile, bool, error) {
	var f StoredFile
	var src string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, source, COALESCE(project, ''), COALESCE(day, ''), file_mtime, file_size
		 FROM sessions WHERE file_path = ?`, path).
		Scan(&f.SessionID, &src, &f.Project, &f.Day, &f.Mtime, &f.Size)
	if err == sql.ErrNoRows {
		return StoredFile{}, false, nil
	}
	if err != nil {
		return StoredFile{}, false, fmt.Errorf("failed to look up path %s: %w", path, err)
	}
	f.Source = source.Kind(src)
	return f, true, nil
}

// FetchRecords returns the full records for the given session IDs, in the
// order the cache yields them.
func (s *Store) FetchRecords(ctx context.Context, sessionIDs []string) ([]Record, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + recordColumns + ` FROM sessions WHERE session_id IN (?` +
		strings.Repeat(",?", len(sessionIDs)-1) + `)`
	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		args[i] = id
	}
	return s.queryRecords(ctx, query, args...)
}

// FetchScope returns record summaries matching a scope, newest first.
func (s *Store) FetchScope(ctx context.Context, sc Scope) ([]Record, error) {
	where, args := sc.where()
	query := `SELECT ` + recordColumns + ` FROM sessions ` + where + ` ORDER BY last_updated_at DESC`
	return s.queryRecords(ctx, query, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var src, day string
		var parseErr sql.NullString
		if err := rows.Scan(
			&r.SessionID, &src, &r.Project, &r.CWD, &r.Title, &r.Comment, &r.Model, &day,
			&r.StartedAt, &r.LastUpdatedAt, &r.ActiveSeconds,
			&r.UserMessages, &r.AssistantMessages, &r.ToolMessages, &r.ReasoningMessages, &r.OtherMessages,
			&r.ToolCalls, &r.ThinkingBlocks,
			&r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheCreationTokens, &r.TotalTokens,
			&r.FilePath, &r.FileMtime, &r.FileSize, &parseErr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		r.Source = source.Kind(src)
		r.ParseError = parseErr.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// SetComment stores a user-assigned comment on a session.
func (s *Store) SetComment(ctx context.Context, sessionID, comment string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET comment = ? WHERE session_id = ?`, comment, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.notifier.publish(Change{Op: OpUpdate, SessionID: sessionID})
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
