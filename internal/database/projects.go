package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/portway/internal/apierr"
)

// CreateProject inserts a new Project row under the named owner.
// Matches the Registry operation `create_project` in §4.2: returns
// OwnerMissing as a NotFound apierr, Conflict on a duplicate
// (owner_id, name) pair.
func (d *Database) CreateProject(ownerName, projectName string, initialEnv map[string]any) (*Project, error) {
	owner, err := findOwnerByNameTx(d.db, ownerName)
	if err != nil {
		return nil, err // already a NotFound apierr
	}
	return createProjectTx(d.db, owner, projectName, initialEnv)
}

// CreateProjectWithToken creates the Project row and its initial API
// token as one atomic unit (spec.md §4.2: "project+token" is one of the
// multi-row changes that must roll back together on any failure). A
// Project left behind with no usable token would be unreachable over
// git and unrecoverable without direct database access.
func (d *Database) CreateProjectWithToken(ownerName, projectName string, initialEnv map[string]any) (*Project, string, error) {
	var proj *Project
	var plaintext string
	err := d.WithTx(func(tx *sql.Tx) error {
		owner, err := findOwnerByNameTx(tx, ownerName)
		if err != nil {
			return err
		}
		proj, err = createProjectTx(tx, owner, projectName, initialEnv)
		if err != nil {
			return err
		}
		plaintext = uuid.NewString()
		_, err = insertTokenTx(tx, proj.ID, plaintext)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return proj, plaintext, nil
}

func createProjectTx(ex execer, owner *Owner, projectName string, initialEnv map[string]any) (*Project, error) {
	if !projectNamePattern.MatchString(projectName) {
		return nil, apierr.New(apierr.Validation, "project name must match [A-Za-z0-9]+")
	}

	if initialEnv == nil {
		initialEnv = map[string]any{}
	}
	envJSON, err := json.Marshal(initialEnv)
	if err != nil {
		return nil, apierr.Wrap(apierr.Validation, "invalid env map", err)
	}

	p := &Project{
		ID:        uuid.NewString(),
		OwnerID:   owner.ID,
		Name:      projectName,
		Env:       initialEnv,
		CreatedAt: time.Now().UTC(),
	}
	_, err = ex.Exec(rebind(`INSERT INTO projects (id, owner_id, name, env, created_at) VALUES (?, ?, ?, ?, ?)`),
		p.ID, p.OwnerID, p.Name, envJSON, p.CreatedAt)
	if isUniqueViolation(err) {
		return nil, apierr.New(apierr.Conflict, "project already exists")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to create project", err)
	}
	return p, nil
}

// DeleteProject deletes the project row, which cascades to its tokens,
// builds and domain row via foreign keys. The caller (ControlAPI) is
// responsible for the filesystem and container-side cleanup that the
// Registry knows nothing about.
func (d *Database) DeleteProject(ownerName, projectName string) error {
	p, err := d.FindProject(ownerName, projectName)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(rebind(`DELETE FROM projects WHERE id = ?`), p.ID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to delete project", err)
	}
	return nil
}

// FindProject looks up a project by its owner and project names.
func (d *Database) FindProject(ownerName, projectName string) (*Project, error) {
	row := d.db.QueryRow(rebind(`
		SELECT p.id, p.owner_id, p.name, p.env, p.db_required, p.created_at
		FROM projects p
		JOIN owners o ON o.id = p.owner_id
		WHERE o.name = ? AND p.name = ? AND o.deleted_at IS NULL
	`), ownerName, projectName)
	return scanProject(row)
}

// GetProject looks up a project by its opaque ID.
func (d *Database) GetProject(id string) (*Project, error) {
	row := d.db.QueryRow(rebind(`SELECT id, owner_id, name, env, db_required, created_at FROM projects WHERE id = ?`), id)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*Project, error) {
	p := &Project{}
	var envJSON []byte
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &envJSON, &p.DBRequired, &p.CreatedAt); err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "project not found")
	} else if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to look up project", err)
	}

	p.Env = map[string]any{}
	if len(envJSON) > 0 {
		if err := json.Unmarshal(envJSON, &p.Env); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "corrupt env column", err)
		}
	}
	return p, nil
}

// ReplaceEnv overwrites a project's entire env map.
func (d *Database) ReplaceEnv(projectID string, env map[string]any) error {
	if env == nil {
		env = map[string]any{}
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return apierr.Wrap(apierr.Validation, "invalid env map", err)
	}
	res, err := d.db.Exec(rebind(`UPDATE projects SET env = ? WHERE id = ?`), envJSON, projectID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to update env", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.NotFound, "project not found")
	}
	return nil
}

// DeleteEnvKey removes a single key from a project's env map.
func (d *Database) DeleteEnvKey(projectID, key string) error {
	p, err := d.GetProject(projectID)
	if err != nil {
		return err
	}
	delete(p.Env, key)
	return d.ReplaceEnv(projectID, p.Env)
}

// SetDBRequired records the explicit db_required override (§3
// supplement) independent of the buildpack's own inference.
func (d *Database) SetDBRequired(projectID string, required *bool) error {
	res, err := d.db.Exec(rebind(`UPDATE projects SET db_required = ? WHERE id = ?`), required, projectID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to update db_required", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.NotFound, "project not found")
	}
	return nil
}

// ListProjectsByOwner lists every project under the named owner.
func (d *Database) ListProjectsByOwner(ownerName string) ([]*Project, error) {
	rows, err := d.db.Query(rebind(`
		SELECT p.id, p.owner_id, p.name, p.env, p.db_required, p.created_at
		FROM projects p
		JOIN owners o ON o.id = p.owner_id
		WHERE o.name = ? AND o.deleted_at IS NULL
		ORDER BY p.created_at DESC
	`), ownerName)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to list projects", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p := &Project{}
		var envJSON []byte
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &envJSON, &p.DBRequired, &p.CreatedAt); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "failed to scan project", err)
		}
		p.Env = map[string]any{}
		if len(envJSON) > 0 {
			_ = json.Unmarshal(envJSON, &p.Env)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
