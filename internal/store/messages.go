package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/streamspace/streamspace/api/internal/models"
)

// ErrThreadParentMissing is returned when a message's ThreadID does not
// reference an existing message in the same base session.
var ErrThreadParentMissing = errors.New("thread parent message not found in base session")

// AppendMessage persists one message. msg.SessionKey is always the BASE
// session key the sender addressed; if msg.ThreadID is set, the row is
// stored under the synthetic key "{base}:thread:{threadID}",
// and the thread parent is verified to already exist in the base session
// before the insert proceeds.
func (s *Store) AppendMessage(ctx context.Context, msg models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append message: begin tx: %w", err)
	}
	defer tx.Rollback()

	baseKey := msg.SessionKey
	storageKey := baseKey

	if msg.ThreadID != "" {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND session_key = $2)
		`, msg.ThreadID, baseKey).Scan(&exists)
		if err != nil {
			return fmt.Errorf("append message: check thread parent: %w", err)
		}
		if !exists {
			return ErrThreadParentMissing
		}
		storageKey = models.ThreadKey(baseKey, msg.ThreadID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_key, sender, text, media_url, a2ui, thread_id, encrypted, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, storageKey, string(msg.Sender), msg.Text, nullString(msg.MediaURL),
		nullString(msg.A2UI), nullString(msg.ThreadID), msg.Encrypted, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: insert: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns up to limit messages stored under sessionKey (which
// may itself be a base key or a "{base}:thread:{id}" key), ordered
// ascending by timestamp with ties broken by id. limit truncates the
// OLDEST entries when exceeded.
//
// When sessionKey is a base key (no ":thread:" suffix), replyCounts
// summarizes how many persisted messages target each root message id.
func (s *Store) ListMessages(ctx context.Context, sessionKey string, limit int) ([]models.Message, map[string]int, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, sender, text, media_url, a2ui, thread_id, encrypted, timestamp
		FROM (
			SELECT id, session_key, sender, text, media_url, a2ui, thread_id, encrypted, timestamp
			FROM messages
			WHERE session_key = $1
			ORDER BY timestamp DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY timestamp ASC, id ASC
	`, sessionKey, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var sender string
		var mediaURL, a2ui, threadID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionKey, &sender, &m.Text, &mediaURL, &a2ui, &threadID, &m.Encrypted, &m.Timestamp); err != nil {
			return nil, nil, fmt.Errorf("list messages: scan: %w", err)
		}
		m.Sender = models.Sender(sender)
		m.MediaURL = mediaURL.String
		m.A2UI = a2ui.String
		m.ThreadID = threadID.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("list messages: rows: %w", err)
	}

	var replyCounts map[string]int
	if !strings.Contains(sessionKey, ":thread:") {
		replyCounts, err = s.replyCounts(ctx, sessionKey)
		if err != nil {
			return nil, nil, err
		}
	}

	return out, replyCounts, nil
}

// replyCounts returns, for every message under baseSessionKey that has at
// least one persisted thread reply, the number of replies. This is the
// authoritative source; any in-memory cache of these counts is derived
// from it.
func (s *Store) replyCounts(ctx context.Context, baseSessionKey string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, COUNT(*) FROM messages
		WHERE session_key LIKE $1 AND thread_id IS NOT NULL
		GROUP BY thread_id
	`, baseSessionKey+":thread:%")
	if err != nil {
		return nil, fmt.Errorf("reply counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var threadID string
		var n int
		if err := rows.Scan(&threadID, &n); err != nil {
			return nil, fmt.Errorf("reply counts: scan: %w", err)
		}
		counts[threadID] = n
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
