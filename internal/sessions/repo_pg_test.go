package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	expiry := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO dashboard_sessions").
		WithArgs("s-1", "u-1", "ed@example.com", "access", "refresh", expiry, "agency").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), Session{
		ID:           "s-1",
		UserID:       "u-1",
		Email:        "ed@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenExpiry:  expiry,
		PendingPlan:  "agency",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetHandlesNulls(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "user_id", "email", "access_token", "refresh_token", "token_expiry", "pending_plan", "created_at", "last_seen_at"}).
		AddRow("s-1", "u-1", "ed@example.com", "access", "refresh", nil, nil, created, created)
	mock.ExpectQuery("SELECT id, user_id, email").WithArgs("s-1").WillReturnRows(rows)

	s, err := repo.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.UserID != "u-1" || !s.TokenExpiry.IsZero() || s.PendingPlan != "" || !s.CreatedAt.Equal(created) {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestPGRepoGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id, user_id, email").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoUpdateCredentialMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE dashboard_sessions").
		WithArgs("s-1", "a2", "r2", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateCredential(context.Background(), "s-1", "a2", "r2", time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoDeleteIdle(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM dashboard_sessions WHERE last_seen_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteIdle(context.Background(), cutoff)
	if err != nil || n != 3 {
		t.Fatalf("DeleteIdle = %d, %v", n, err)
	}
}
