package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/streamspace/streamspace/api/internal/models"
)

// DefaultChannelName is used for the channel auto-created on first plugin
// attach when a user has none yet.
const DefaultChannelName = "General"

// EnsureDefaultChannel returns the user's first channel, creating one named
// DefaultChannelName (with one session) if none exists yet.
func (s *Store) EnsureDefaultChannel(ctx context.Context, userID string) (models.Channel, error) {
	var ch models.Channel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, COALESCE(description, ''), COALESCE(openclaw_agent_id, '')
		FROM channels WHERE user_id = $1 ORDER BY id LIMIT 1
	`, userID).Scan(&ch.ID, &ch.UserID, &ch.Name, &ch.Description, &ch.OpenclawAgentID)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, fmt.Errorf("ensure default channel: lookup: %w", err)
	}

	ch = models.Channel{ID: uuid.NewString(), UserID: userID, Name: DefaultChannelName}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Channel{}, fmt.Errorf("ensure default channel: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO channels (id, user_id, name) VALUES ($1, $2, $3)`, ch.ID, ch.UserID, ch.Name); err != nil {
		return models.Channel{}, fmt.Errorf("ensure default channel: insert channel: %w", err)
	}

	sessionID := uuid.NewString()
	sessionKey := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, channel_id, name, session_key) VALUES ($1, $2, $3, $4)
	`, sessionID, ch.ID, "Main", sessionKey); err != nil {
		return models.Channel{}, fmt.Errorf("ensure default channel: insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Channel{}, fmt.Errorf("ensure default channel: commit: %w", err)
	}
	return ch, nil
}

// ErrLastSessionInChannel is returned by DeleteSession when it would leave
// a channel with zero sessions.
var ErrLastSessionInChannel = errors.New("cannot delete the last session in a channel")

// DeleteSession removes a session, refusing when it is the channel's last.
func (s *Store) DeleteSession(ctx context.Context, sessionID, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session: begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE channel_id = $1`, channelID).Scan(&count); err != nil {
		return fmt.Errorf("delete session: count: %w", err)
	}
	if count <= 1 {
		return ErrLastSessionInChannel
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1 AND channel_id = $2`, sessionID, channelID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}
