package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loamlabs/project-oauth/storage"
)

// SaveRefreshToken persists the first generation of a new family.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	createdAt := token.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens
		(token, user_id, client_id, scope, family_id, generation, predecessor_token,
		 created_at, expires_at, superseded_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Token, token.UserID, token.ClientID, token.Scope,
		token.FamilyID, token.Generation, token.PredecessorToken,
		toMillis(createdAt), toMillis(token.ExpiresAt),
		toMillis(token.SupersededAt), toMillis(token.RevokedAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves a token by value, whatever its state.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	return scanRefreshToken(s.db.QueryRowContext(ctx,
		`SELECT token, user_id, client_id, scope, family_id, generation, predecessor_token,
		 created_at, expires_at, superseded_at, revoked_at
		FROM refresh_tokens WHERE token = ?`, token))
}

// RotateRefreshToken supersedes the presented token and inserts its
// successor in one transaction. The conditional UPDATE arbitrates concurrent
// rotations the same way code consumption does; losers learn the state from
// a follow-up read inside the same transaction.
func (s *Store) RotateRefreshToken(ctx context.Context, presented string, next *storage.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMs := toMillis(s.now())
	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET superseded_at = ?
		WHERE token = ? AND superseded_at = 0 AND revoked_at = 0`, nowMs, presented)
	if err != nil {
		return fmt.Errorf("supersede refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede refresh token: %w", err)
	}
	if affected != 1 {
		old, err := scanRefreshToken(tx.QueryRowContext(ctx,
			`SELECT token, user_id, client_id, scope, family_id, generation, predecessor_token,
			 created_at, expires_at, superseded_at, revoked_at
			FROM refresh_tokens WHERE token = ?`, presented))
		if err != nil {
			return err
		}
		if old.Revoked() {
			return storage.ErrFamilyRevoked
		}
		return storage.ErrTokenSuperseded
	}

	createdAt := next.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens
		(token, user_id, client_id, scope, family_id, generation, predecessor_token,
		 created_at, expires_at, superseded_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		next.Token, next.UserID, next.ClientID, next.Scope,
		next.FamilyID, next.Generation, next.PredecessorToken,
		toMillis(createdAt), toMillis(next.ExpiresAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert successor token: %w", err)
	}
	return tx.Commit()
}

// RevokeFamily revokes every live token in a family.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?
		WHERE family_id = ? AND revoked_at = 0`, toMillis(s.now()), familyID)
	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}
	return int(n), nil
}

// RevokeAllForUserClient revokes every live token for a user+client pair.
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?
		WHERE user_id = ? AND client_id = ? AND revoked_at = 0`,
		toMillis(s.now()), userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return int(n), nil
}

func scanRefreshToken(row rowScanner) (*storage.RefreshToken, error) {
	var t storage.RefreshToken
	var createdAt, expiresAt, supersededAt, revokedAt int64
	err := row.Scan(&t.Token, &t.UserID, &t.ClientID, &t.Scope,
		&t.FamilyID, &t.Generation, &t.PredecessorToken,
		&createdAt, &expiresAt, &supersededAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	t.CreatedAt = fromMillis(createdAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.SupersededAt = fromMillis(supersededAt)
	t.RevokedAt = fromMillis(revokedAt)
	return &t, nil
}
