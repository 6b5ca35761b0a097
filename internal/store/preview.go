package store

import (
	"context"
	"fmt"
)

// PreviewRow is a cached, lossy projection of one conversation turn:
// truncated text plus cheap flags. Rows are keyed by (session_id, turn_id)
// and carry the file identity they were computed from, so they invalidate
// exactly like session records.
type PreviewRow struct {
	SessionID     string
	TurnID        string
	Ordinal       int
	UserText      string
	AssistantText string
	OutputCount   int
	HasToolCalls  bool
	HasThinking   bool
}

// ReplacePreviews swaps a session's preview cache for the given file
// identity in one transaction.
func (s *Store) ReplacePreviews(ctx context.Context, sessionID string, mtime, size int64, rows []PreviewRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin preview replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM previews WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear previews: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO previews (session_id, turn_id, ordinal, user_text, assistant_text,
			output_count, has_tool_calls, has_thinking, file_mtime, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare preview insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range rows {
		if _, err := stmt.ExecContext(ctx, sessionID, p.TurnID, p.Ordinal, p.UserText, p.AssistantText,
			p.OutputCount, p.HasToolCalls, p.HasThinking, mtime, size); err != nil {
			return fmt.Errorf("failed to insert preview %s/%s: %w", sessionID, p.TurnID, err)
		}
	}
	return tx.Commit()
}

// FetchPreviews returns the cached previews for a session if they were
// produced from exactly the given file identity; otherwise nil, and the
// caller must wait for the full parse.
func (s *Store) FetchPreviews(ctx context.Context, sessionID string, mtime, size int64) ([]PreviewRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, ordinal, user_text, assistant_text, output_count, has_tool_calls, has_thinking
		FROM previews
		WHERE session_id = ? AND file_mtime = ? AND file_size = ?
		ORDER BY ordinal`, sessionID, mtime, size)
	if err != nil {
		return nil, fmt.Errorf("failed to query previews: %w", err)
	}
	defer rows.Close()

	var out []PreviewRow
	for rows.Next() {
		p := PreviewRow{SessionID: sessionID}
		if err := rows.Scan(&p.TurnID, &p.Ordinal, &p.UserText, &p.AssistantText,
			&p.OutputCount, &p.HasToolCalls, &p.HasThinking); err != nil {
			return nil, fmt.Errorf("failed to scan preview: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
