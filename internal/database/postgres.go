package database

import (
	"fmt"
	"strings"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// This is used throughout the database package for parameterized queries.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// initSchema creates the Registry's tables if they do not already exist.
func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS owners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		permissions TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS memberships (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		owner_id TEXT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'member',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, owner_id)
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		env JSONB NOT NULL DEFAULT '{}',
		db_required BOOLEAN,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (owner_id, name)
	);

	CREATE TABLE IF NOT EXISTS api_tokens (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		revoked_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'PENDING',
		log TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS domains (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		port INTEGER NOT NULL,
		container_ip TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_owner_id ON memberships(owner_id);
	CREATE INDEX IF NOT EXISTS idx_projects_owner_id ON projects(owner_id);
	CREATE INDEX IF NOT EXISTS idx_api_tokens_project_id ON api_tokens(project_id);
	CREATE INDEX IF NOT EXISTS idx_builds_project_id_created_at ON builds(project_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status);
	CREATE INDEX IF NOT EXISTS idx_domains_name ON domains(name);
	`

	_, err := d.db.Exec(schema)
	return err
}
