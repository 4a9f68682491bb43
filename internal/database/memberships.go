package database

import (
	"time"

	"github.com/jordanhubbard/portway/internal/apierr"
)

// AddMembership joins a user to an owner with the given role. The caller
// enforces that only an existing owner-role member may invite others.
func (d *Database) AddMembership(userID, ownerID string, role MembershipRole) error {
	_, err := d.db.Exec(rebind(`
		INSERT INTO memberships (user_id, owner_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, owner_id) DO UPDATE SET role = excluded.role
	`), userID, ownerID, role, time.Now().UTC())
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to add membership", err)
	}
	return nil
}

// RemoveMembership removes a user from an owner.
func (d *Database) RemoveMembership(userID, ownerID string) error {
	res, err := d.db.Exec(rebind(`DELETE FROM memberships WHERE user_id = ? AND owner_id = ?`), userID, ownerID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to remove membership", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "membership not found")
	}
	return nil
}

// IsMember reports whether userID belongs to ownerID, and with which role.
func (d *Database) IsMember(userID, ownerID string) (MembershipRole, bool, error) {
	row := d.db.QueryRow(rebind(`SELECT role FROM memberships WHERE user_id = ? AND owner_id = ?`), userID, ownerID)
	var role MembershipRole
	if err := row.Scan(&role); err != nil {
		return "", false, nil
	}
	return role, true, nil
}

// ListMemberOwnerIDs returns every owner ID a user belongs to.
func (d *Database) ListMemberOwnerIDs(userID string) ([]string, error) {
	rows, err := d.db.Query(rebind(`SELECT owner_id FROM memberships WHERE user_id = ?`), userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to list memberships", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "failed to scan membership", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
