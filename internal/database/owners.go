package database

import (
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/portway/internal/apierr"
)

// ownerNamePattern is invariant I1: an owner name is [A-Za-z0-9.]+.
var ownerNamePattern = regexp.MustCompile(`^[A-Za-z0-9.]+$`)

// projectNamePattern is invariant I1: a project name is [A-Za-z0-9]+.
var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// CreateOwner inserts a new Owner row. Mirrors the owner created at user
// registration (the owner whose name equals the registering username).
func (d *Database) CreateOwner(name string) (*Owner, error) {
	if !ownerNamePattern.MatchString(name) {
		return nil, apierr.New(apierr.Validation, "owner name must match [A-Za-z0-9.]+")
	}

	owner := &Owner{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := d.db.Exec(rebind(`INSERT INTO owners (id, name, created_at) VALUES (?, ?, ?)`),
		owner.ID, owner.Name, owner.CreatedAt)
	if isUniqueViolation(err) {
		return nil, apierr.New(apierr.Conflict, "owner already exists")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to create owner", err)
	}
	return owner, nil
}

// FindOwnerByName looks up a non-deleted owner by its unique name.
func (d *Database) FindOwnerByName(name string) (*Owner, error) {
	return findOwnerByNameTx(d.db, name)
}

func findOwnerByNameTx(ex execer, name string) (*Owner, error) {
	row := ex.QueryRow(rebind(`SELECT id, name, created_at, deleted_at FROM owners WHERE name = ? AND deleted_at IS NULL`), name)
	o := &Owner{}
	if err := row.Scan(&o.ID, &o.Name, &o.CreatedAt, &o.DeletedAt); err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "owner not found")
	} else if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to look up owner", err)
	}
	return o, nil
}

// DeleteOwner soft-deletes an owner by setting deleted_at. Cascading
// deletion of the owner's projects is the caller's responsibility (see
// the ControlAPI's cascade-delete aggregate status map).
func (d *Database) DeleteOwner(id string) error {
	res, err := d.db.Exec(rebind(`UPDATE owners SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`), time.Now().UTC(), id)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to delete owner", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "owner not found")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
