package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/portway/internal/apierr"
	"github.com/lib/pq"
)

// CreateUser inserts a new User row. passwordHash is produced by the
// auth package's bcrypt wrapper; the Registry never hashes passwords
// itself.
func (d *Database) CreateUser(username, passwordHash, name string, permissions []string) (*User, error) {
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Name:         name,
		Permissions:  permissions,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := d.db.Exec(rebind(`INSERT INTO users (id, username, password_hash, name, permissions, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Username, u.PasswordHash, u.Name, pq.Array(u.Permissions), u.CreatedAt)
	if isUniqueViolation(err) {
		return nil, apierr.New(apierr.Conflict, "username already taken")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to create user", err)
	}
	return u, nil
}

// FindUserByUsername looks up a user by its unique username.
func (d *Database) FindUserByUsername(username string) (*User, error) {
	row := d.db.QueryRow(rebind(`SELECT id, username, password_hash, name, permissions, created_at FROM users WHERE username = ?`), username)
	u := &User{}
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, pq.Array(&u.Permissions), &u.CreatedAt); err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "user not found")
	} else if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to look up user", err)
	}
	return u, nil
}
