package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestResolvePairingTokenReturnsUserIDForValidToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer db.Close()

	s := NewForTesting(db)
	plain, hash, err := GeneratePairingToken()
	if err != nil {
		t.Fatalf("GeneratePairingToken returned error: %v", err)
	}

	mock.ExpectQuery("SELECT id, user_id, revoked_at FROM pairing_tokens WHERE token = \\$1").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "revoked_at"}).
			AddRow("token-1", "user-1", nil))

	userID, tokenID, err := s.ResolvePairingToken(context.Background(), plain)
	if err != nil {
		t.Fatalf("ResolvePairingToken returned error: %v", err)
	}
	if userID != "user-1" || tokenID != "token-1" {
		t.Errorf("got userID=%q tokenID=%q, want user-1/token-1", userID, tokenID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResolvePairingTokenReturnsNotFoundForNoMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer db.Close()

	s := NewForTesting(db)

	mock.ExpectQuery("SELECT id, user_id, revoked_at FROM pairing_tokens WHERE token = \\$1").
		WillReturnError(sql.ErrNoRows)

	_, _, err = s.ResolvePairingToken(context.Background(), "unknown-token")
	if err != ErrTokenNotFound {
		t.Errorf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestResolvePairingTokenReturnsRevokedForRevokedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer db.Close()

	s := NewForTesting(db)

	mock.ExpectQuery("SELECT id, user_id, revoked_at FROM pairing_tokens WHERE token = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "revoked_at"}).
			AddRow("token-1", "user-1", time.Now()))

	_, _, err = s.ResolvePairingToken(context.Background(), "revoked-token")
	if err != ErrTokenRevoked {
		t.Errorf("err = %v, want ErrTokenRevoked", err)
	}
}

func TestRecordPairingUseIncrementsConnectionCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New returned error: %v", err)
	}
	defer db.Close()

	s := NewForTesting(db)

	mock.ExpectExec("UPDATE pairing_tokens").
		WithArgs(sqlmock.AnyArg(), "1.2.3.4", "token-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RecordPairingUse(context.Background(), "token-1", "1.2.3.4"); err != nil {
		t.Fatalf("RecordPairingUse returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGeneratePairingTokenHashIsDeterministicForSameToken(t *testing.T) {
	plain, hash, err := GeneratePairingToken()
	if err != nil {
		t.Fatalf("GeneratePairingToken returned error: %v", err)
	}
	if hashToken(plain) != hash {
		t.Error("hashToken(plain) must match the hash returned by GeneratePairingToken")
	}
}
