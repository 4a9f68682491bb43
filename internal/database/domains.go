package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/portway/internal/apierr"
)

// UpsertDomain writes the single routing-table row for a project. At
// most one Domain exists per project in this core (I4), so this is an
// insert-or-update keyed on project_id.
func (d *Database) UpsertDomain(projectID, name string, port int, containerIP string) error {
	_, err := d.db.Exec(rebind(`
		INSERT INTO domains (id, project_id, name, port, container_ip, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			name = excluded.name, port = excluded.port,
			container_ip = excluded.container_ip, updated_at = excluded.updated_at
	`), uuid.NewString(), projectID, name, port, containerIP, time.Now().UTC())
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to upsert domain", err)
	}
	return nil
}

// FindDomain returns the routing-table row for a project, if any.
func (d *Database) FindDomain(projectID string) (*Domain, error) {
	row := d.db.QueryRow(rebind(`SELECT id, project_id, name, port, container_ip, updated_at FROM domains WHERE project_id = ?`), projectID)
	dom := &Domain{}
	if err := row.Scan(&dom.ID, &dom.ProjectID, &dom.Name, &dom.Port, &dom.ContainerIP, &dom.UpdatedAt); err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "domain not found")
	} else if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to look up domain", err)
	}
	return dom, nil
}

// DeleteDomain removes a project's routing-table row. Idempotent:
// deleting an already-absent domain is not an error (§7 cascade-delete
// policy).
func (d *Database) DeleteDomain(projectID string) error {
	_, err := d.db.Exec(rebind(`DELETE FROM domains WHERE project_id = ?`), projectID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to delete domain", err)
	}
	return nil
}

// ListDomains returns every domain row, for the external reverse proxy
// to rebuild its routing table at startup.
func (d *Database) ListDomains() ([]*Domain, error) {
	rows, err := d.db.Query(`SELECT id, project_id, name, port, container_ip, updated_at FROM domains`)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to list domains", err)
	}
	defer rows.Close()

	var out []*Domain
	for rows.Next() {
		dom := &Domain{}
		if err := rows.Scan(&dom.ID, &dom.ProjectID, &dom.Name, &dom.Port, &dom.ContainerIP, &dom.UpdatedAt); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "failed to scan domain", err)
		}
		out = append(out, dom)
	}
	return out, rows.Err()
}
