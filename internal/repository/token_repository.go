package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TokenRepo persists refresh tokens (single 'token_hash' column; the raw
// value never reaches this layer).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Store inserts a refresh token hash row. The insert is a single statement,
// so a failure leaves no partial row behind and the caller must discard the
// raw token it generated.
func (r *TokenRepo) Store(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)",
		userID, tokenHash, exp)
	return err
}

// Validate resolves a token hash to its owning user id. The lookup and the
// delete-on-expiry run in one transaction with the row locked, so a refresh
// racing a logout (or another refresh) cannot double-delete or observe a
// half-cleaned session. Absent hash -> ErrRefreshInvalid; expired row is
// deleted and the commit happens before ErrRefreshExpired is returned.
func (r *TokenRepo) Validate(ctx context.Context, tokenHash string) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id        uint64
		userID    uint64
		expiresAt time.Time
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, user_id, expires_at FROM refresh_tokens WHERE token_hash=? FOR UPDATE",
		tokenHash).Scan(&id, &userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRefreshInvalid
	}
	if err != nil {
		return 0, err
	}

	if time.Now().UTC().After(expiresAt) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id=?", id); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return 0, ErrRefreshExpired
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return userID, nil
}

// Revoke deletes the row matching a token hash. Deleting zero rows is not
// an error: logout is idempotent.
func (r *TokenRepo) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE token_hash=?", tokenHash)
	return err
}

// DeleteAllForUser removes every session of a user (sign out everywhere).
func (r *TokenRepo) DeleteAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id=?", userID)
	return err
}
