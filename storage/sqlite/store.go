// Package sqlite implements storage.Store over a single SQLite file.
//
// One file backs all authorization state so code consumption, token
// rotation, and tenant provisioning can share transaction and visibility
// boundaries.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loamlabs/project-oauth/storage"
)

// DefaultPartitionKinds are the per-tenant table kinds provisioned for every
// new project.
var DefaultPartitionKinds = []string{"records", "audit"}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	secret_hash TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	redirect_uris TEXT NOT NULL DEFAULT '',
	scopes TEXT NOT NULL DEFAULT '',
	require_pkce INTEGER NOT NULL DEFAULT 1,
	first_party INTEGER NOT NULL DEFAULT 0,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_project ON clients(project_id);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	email_verified INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
	provider TEXT NOT NULL,
	subject TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	client_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (provider, subject, client_id)
);
CREATE INDEX IF NOT EXISTS idx_identities_user ON identities(user_id);

CREATE TABLE IF NOT EXISTS authorization_codes (
	code TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	redirect_uri TEXT NOT NULL,
	redirect_uri_provided INTEGER NOT NULL DEFAULT 0,
	scope TEXT NOT NULL DEFAULT '',
	code_challenge TEXT NOT NULL DEFAULT '',
	code_challenge_method TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	email_verified INTEGER NOT NULL DEFAULT 0,
	display_name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	consumed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	client_id TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	family_id TEXT NOT NULL,
	generation INTEGER NOT NULL,
	predecessor_token TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	superseded_at INTEGER NOT NULL DEFAULT 0,
	revoked_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_family ON refresh_tokens(family_id);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_client ON refresh_tokens(user_id, client_id);

CREATE TABLE IF NOT EXISTS memberships (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS partitions (
	kind TEXT NOT NULL,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	table_name TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (kind, project_id)
);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// joinList flattens a string slice for a TEXT column.
func joinList(values []string) string {
	return strings.Join(values, "\n")
}

// splitList restores a slice stored with joinList.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, "\n")
}

// Store implements storage.Store over SQLite.
type Store struct {
	db             *sql.DB
	partitionKinds []string
	now            func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens the store at path and applies the schema. kinds lists the
// partition kinds provisioned per project; nil means DefaultPartitionKinds.
func Open(path string, kinds ...string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if len(kinds) == 0 {
		kinds = DefaultPartitionKinds
	}
	for _, kind := range kinds {
		if !validPartitionKind(kind) {
			return nil, fmt.Errorf("invalid partition kind %q", kind)
		}
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, partitionKinds: kinds, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// validPartitionKind restricts kinds to identifier-safe names since they
// become part of table names.
func validPartitionKind(kind string) bool {
	if kind == "" {
		return false
	}
	for _, c := range kind {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// partitionTableName derives the per-tenant table name for (kind, project).
// Project ids pass through the same identifier filter as kinds; dashes from
// UUIDs are folded to underscores.
func partitionTableName(kind, projectID string) (string, error) {
	id := strings.ToLower(strings.ReplaceAll(projectID, "-", "_"))
	if !validPartitionKind(id) {
		return "", fmt.Errorf("project id %q is not partition safe", projectID)
	}
	return fmt.Sprintf("p_%s_%s", kind, id), nil
}

// isUniqueViolation detects SQLite unique/primary key constraint failures.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
