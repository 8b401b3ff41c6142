package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loamlabs/project-oauth/storage"
)

// SaveClient inserts a client row.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients
		(id, secret_hash, project_id, name, redirect_uris, scopes, require_pkce, first_party, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID, client.SecretHash, client.ProjectID, client.Name,
		joinList(client.RedirectURIs), joinList(client.Scopes),
		boolToInt(client.RequirePKCE), boolToInt(client.FirstParty), boolToInt(client.Default),
		toMillis(createdAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, secret_hash, project_id, name, redirect_uris, scopes, require_pkce, first_party, is_default, created_at
		FROM clients WHERE id = ?`, clientID)
	return scanClient(row)
}

// DeleteClient removes a client unless it is the project default.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete client: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var isDefault int
	err = tx.QueryRowContext(ctx, `SELECT is_default FROM clients WHERE id = ?`, clientID).Scan(&isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load client: %w", err)
	}
	if isDefault != 0 {
		return storage.ErrClientProtected
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return tx.Commit()
}

// ListClients lists the clients of a project.
func (s *Store) ListClients(ctx context.Context, projectID string) ([]*storage.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, secret_hash, project_id, name, redirect_uris, scopes, require_pkce, first_party, is_default, created_at
		FROM clients WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*storage.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*storage.Client, error) {
	var c storage.Client
	var uris, scopes string
	var requirePKCE, firstParty, isDefault int
	var createdAt int64
	err := row.Scan(&c.ID, &c.SecretHash, &c.ProjectID, &c.Name, &uris, &scopes,
		&requirePKCE, &firstParty, &isDefault, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	c.RedirectURIs = splitList(uris)
	c.Scopes = splitList(scopes)
	c.RequirePKCE = requirePKCE != 0
	c.FirstParty = firstParty != 0
	c.Default = isDefault != 0
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
