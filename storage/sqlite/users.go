package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loamlabs/project-oauth/storage"
)

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, external_id, email, email_verified, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.ExternalID, user.Email, boolToInt(user.EmailVerified),
		user.Name, toMillis(createdAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by row id.
func (s *Store) GetUser(ctx context.Context, id string) (*storage.User, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByExternalID retrieves a user by the id used in token subjects.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*storage.User, error) {
	return s.getUserBy(ctx, "external_id", externalID)
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *Store) getUserBy(ctx context.Context, column, value string) (*storage.User, error) {
	var u storage.User
	var verified int
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, email, email_verified, name, created_at
		FROM users WHERE `+column+` = ?`, value).
		Scan(&u.ID, &u.ExternalID, &u.Email, &verified, &u.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.EmailVerified = verified != 0
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// SetEmailVerified updates the user's email verification state.
func (s *Store) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = ? WHERE id = ?`, boolToInt(verified), id)
	if err != nil {
		return fmt.Errorf("update email verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update email verified: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertIdentity records a (provider, subject, client) binding. Recording an
// existing binding changes nothing; bindings through other clients are
// separate rows and stay untouched.
func (s *Store) UpsertIdentity(ctx context.Context, identity *storage.Identity) error {
	createdAt := identity.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (provider, subject, user_id, client_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, subject, client_id) DO NOTHING`,
		identity.Provider, identity.Subject, identity.UserID, identity.ClientID,
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

// GetIdentity resolves the identity behind (provider, subject). All bindings
// of a pair share one user; the oldest row answers.
func (s *Store) GetIdentity(ctx context.Context, provider, subject string) (*storage.Identity, error) {
	var id storage.Identity
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, subject, user_id, client_id, created_at
		FROM identities WHERE provider = ? AND subject = ?
		ORDER BY created_at, client_id LIMIT 1`, provider, subject).
		Scan(&id.Provider, &id.Subject, &id.UserID, &id.ClientID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	id.CreatedAt = fromMillis(createdAt)
	return &id, nil
}

// ListIdentities lists the identity bindings linked to a user.
func (s *Store) ListIdentities(ctx context.Context, userID string) ([]*storage.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, subject, user_id, client_id, created_at
		FROM identities WHERE user_id = ?
		ORDER BY created_at, client_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*storage.Identity
	for rows.Next() {
		var id storage.Identity
		var createdAt int64
		if err := rows.Scan(&id.Provider, &id.Subject, &id.UserID, &id.ClientID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		id.CreatedAt = fromMillis(createdAt)
		out = append(out, &id)
	}
	return out, rows.Err()
}
