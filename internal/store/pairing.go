package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// ErrTokenNotFound is returned when no pairing token matches the presented
// value at all.
var ErrTokenNotFound = errors.New("pairing token not found")

// ErrTokenRevoked is returned when the token matched a row but that row's
// revoked_at is set: a token is valid if and only if revokedAt is null.
var ErrTokenRevoked = errors.New("pairing token revoked")

// hashToken produces the fast, constant-length lookup hash a pairing token
// is stored and searched by. Pairing tokens are resolved on every plugin
// attach (a hot path), so this intentionally does NOT use bcrypt: bcrypt is
// unsuitable for high-frequency validation, while a SHA-256 digest is fast
// enough for lookups at high request rates and is paired with sufficient
// token entropy to make offline guessing infeasible.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// GeneratePairingToken returns a new random pairing token (256 bits of
// entropy) and its lookup hash.
// The caller persists only the hash; the plaintext is shown to the user
// once and never stored.
func GeneratePairingToken() (plain string, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate pairing token: %w", err)
	}
	plain = base64.URLEncoding.EncodeToString(b)
	hash = hashToken(plain)
	return plain, hash, nil
}

// ResolvePairingToken looks up the user a pairing token belongs to. It
// returns ErrTokenNotFound if no row matches and ErrTokenRevoked if the
// matching row has been revoked; callers must not reveal which case
// occurred to an unauthenticated caller (both should surface as 401).
func (s *Store) ResolvePairingToken(ctx context.Context, token string) (userID, tokenID string, err error) {
	h := hashToken(token)

	var revokedAt sql.NullTime
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, revoked_at FROM pairing_tokens WHERE token = $1
	`, h)

	if err := row.Scan(&tokenID, &userID, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrTokenNotFound
		}
		return "", "", fmt.Errorf("resolve pairing token: %w", err)
	}

	if revokedAt.Valid {
		return "", "", ErrTokenRevoked
	}

	return userID, tokenID, nil
}

// RecordPairingUse updates audit fields for a successful connection
// attempt. Calling it N times increments connection_count by exactly N.
func (s *Store) RecordPairingUse(ctx context.Context, tokenID, ip string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE pairing_tokens
		SET last_connected_at = $1, last_ip = $2, connection_count = connection_count + 1
		WHERE id = $3
	`, now, ip, tokenID)
	if err != nil {
		logger.Database().Error().Err(err).Str("tokenId", tokenID).Msg("failed to record pairing use")
		return fmt.Errorf("record pairing use: %w", err)
	}
	return nil
}
