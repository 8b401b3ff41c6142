package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loamlabs/project-oauth/storage"
)

// SaveAuthorizationCode persists an issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO authorization_codes
		(code, client_id, redirect_uri, redirect_uri_provided, scope, code_challenge, code_challenge_method,
		 user_id, provider, subject, email, email_verified, display_name,
		 created_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.RedirectURI, boolToInt(code.RedirectURIProvided),
		code.Scope, code.CodeChallenge, code.CodeChallengeMethod,
		code.UserID, code.Provider, code.Subject, code.Email,
		boolToInt(code.EmailVerified), code.Name,
		toMillis(code.CreatedAt), toMillis(code.ExpiresAt), boolToInt(code.Consumed),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode atomically flips an unconsumed, unexpired code to
// consumed. The conditional UPDATE arbitrates concurrent exchanges: exactly
// one caller sees RowsAffected == 1, every other caller falls through to the
// SELECT to learn why it lost.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	now := toMillis(s.now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE authorization_codes SET consumed = 1
		WHERE code = ? AND consumed = 0 AND expires_at > ?`, code, now)
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	if affected == 1 {
		return s.getAuthorizationCode(ctx, code)
	}

	existing, err := s.getAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing.Consumed {
		return existing, storage.ErrCodeConsumed
	}
	return nil, storage.ErrCodeExpired
}

// DeleteAuthorizationCode removes a code regardless of state.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	return nil
}

func (s *Store) getAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var c storage.AuthorizationCode
	var uriProvided, emailVerified, consumed int
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT code, client_id, redirect_uri, redirect_uri_provided, scope, code_challenge, code_challenge_method,
		 user_id, provider, subject, email, email_verified, display_name,
		 created_at, expires_at, consumed
		FROM authorization_codes WHERE code = ?`, code).
		Scan(&c.Code, &c.ClientID, &c.RedirectURI, &uriProvided, &c.Scope,
			&c.CodeChallenge, &c.CodeChallengeMethod,
			&c.UserID, &c.Provider, &c.Subject, &c.Email, &emailVerified, &c.Name,
			&createdAt, &expiresAt, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan authorization code: %w", err)
	}
	c.RedirectURIProvided = uriProvided != 0
	c.EmailVerified = emailVerified != 0
	c.Consumed = consumed != 0
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	return &c, nil
}

// CleanupExpired deletes expired codes and refresh tokens dead longer than
// retention. Implements storage.MaintenanceStore.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	nowMs := toMillis(now)
	cutoff := toMillis(now.Add(-retention))

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE expires_at <= ?`, nowMs)
	if err != nil {
		return 0, fmt.Errorf("cleanup authorization codes: %w", err)
	}
	codes, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens
		WHERE expires_at <= ?
		   OR (superseded_at != 0 AND superseded_at <= ?)
		   OR (revoked_at != 0 AND revoked_at <= ?)`,
		cutoff, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	tokens, _ := res.RowsAffected()

	return int(codes + tokens), nil
}
