package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loamlabs/project-oauth/storage"
)

// CreateProject inserts the project row, registers its partitions, and
// creates the per-tenant tables in one transaction. A failure at any step
// rolls the whole tenant back.
func (s *Store) CreateProject(ctx context.Context, project *storage.Project) error {
	createdAt := project.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		project.ID, project.Name, toMillis(createdAt))
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	for _, kind := range s.partitionKinds {
		table, err := partitionTableName(kind, project.ID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO partitions (kind, project_id, table_name, created_at)
			VALUES (?, ?, ?, ?)`,
			kind, project.ID, table, toMillis(createdAt))
		if err != nil {
			return fmt.Errorf("register partition %s: %w", kind, err)
		}
		// Table names come from validated identifiers, not caller input.
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE TABLE %s (
				id TEXT PRIMARY KEY,
				payload BLOB NOT NULL,
				created_at INTEGER NOT NULL
			)`, table))
		if err != nil {
			return fmt.Errorf("create partition table %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*storage.Project, error) {
	var p storage.Project
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

// ListProjects lists all projects.
func (s *Store) ListProjects(ctx context.Context) ([]*storage.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*storage.Project
	for rows.Next() {
		var p storage.Project
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.CreatedAt = fromMillis(createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteProject removes the project, drops its partition tables, and clears
// the registry in one transaction. Clients and memberships go by cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT table_name FROM partitions WHERE project_id = ?`, id)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			rows.Close()
			return fmt.Errorf("scan partition: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("list partitions: %w", err)
	}
	rows.Close()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			return fmt.Errorf("drop partition table %s: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return tx.Commit()
}

// ListPartitions lists the registered partitions of a project.
func (s *Store) ListPartitions(ctx context.Context, projectID string) ([]*storage.Partition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, project_id, table_name, created_at
		FROM partitions WHERE project_id = ? ORDER BY kind`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var out []*storage.Partition
	for rows.Next() {
		var p storage.Partition
		var createdAt int64
		if err := rows.Scan(&p.Kind, &p.ProjectID, &p.TableName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		p.CreatedAt = fromMillis(createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpsertMembership inserts a membership or updates its role.
func (s *Store) UpsertMembership(ctx context.Context, m *storage.Membership) error {
	now := toMillis(s.now())
	createdAt := toMillis(m.CreatedAt)
	if createdAt == 0 {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (project_id, user_id, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, user_id) DO UPDATE SET
			role = excluded.role,
			updated_at = excluded.updated_at`,
		m.ProjectID, m.UserID, m.Role, createdAt, now)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// GetMembership retrieves the membership for (project, user).
func (s *Store) GetMembership(ctx context.Context, projectID, userID string) (*storage.Membership, error) {
	var m storage.Membership
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, user_id, role, created_at, updated_at
		FROM memberships WHERE project_id = ? AND user_id = ?`, projectID, userID).
		Scan(&m.ProjectID, &m.UserID, &m.Role, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan membership: %w", err)
	}
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}

// ListMemberships lists the memberships of a project.
func (s *Store) ListMemberships(ctx context.Context, projectID string) ([]*storage.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, user_id, role, created_at, updated_at
		FROM memberships WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*storage.Membership
	for rows.Next() {
		var m storage.Membership
		var createdAt, updatedAt int64
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		m.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMembership removes a membership unless it is the project's last
// owner. The owner count and delete share a transaction so concurrent
// removals cannot strip the final owner.
func (s *Store) DeleteMembership(ctx context.Context, projectID, userID string, ownerRole string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete membership: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var role string
	err = tx.QueryRowContext(ctx,
		`SELECT role FROM memberships WHERE project_id = ? AND user_id = ?`,
		projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}

	if role == ownerRole {
		var owners int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memberships WHERE project_id = ? AND role = ?`,
			projectID, ownerRole).Scan(&owners)
		if err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners <= 1 {
			return storage.ErrLastOwner
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memberships WHERE project_id = ? AND user_id = ?`,
		projectID, userID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return tx.Commit()
}
