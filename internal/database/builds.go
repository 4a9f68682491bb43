package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/portway/internal/apierr"
)

// RecordBuildStart inserts a new Build row in PENDING status. Called
// exactly once per in-flight episode (testable property P2).
func (d *Database) RecordBuildStart(projectID string) (*Build, error) {
	b := &Build{ID: uuid.NewString(), ProjectID: projectID, Status: BuildPending, CreatedAt: time.Now().UTC()}
	_, err := d.db.Exec(rebind(`INSERT INTO builds (id, project_id, status, created_at) VALUES (?, ?, ?, ?)`),
		b.ID, b.ProjectID, b.Status, b.CreatedAt)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to record build start", err)
	}
	return b, nil
}

// RecordBuildTransition moves a build to a new status and appends to its
// log. Builds are append-only: a transition into BUILDING updates only
// status and log; a transition into a terminal status also sets
// finished_at.
func (d *Database) RecordBuildTransition(buildID string, status BuildStatus, logAppend string) error {
	var err error
	if status == BuildSuccessful || status == BuildFailed {
		_, err = d.db.Exec(rebind(`UPDATE builds SET status = ?, log = log || ?, finished_at = ? WHERE id = ?`),
			status, logAppend, time.Now().UTC(), buildID)
	} else {
		_, err = d.db.Exec(rebind(`UPDATE builds SET status = ?, log = log || ? WHERE id = ?`),
			status, logAppend, buildID)
	}
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to record build transition", err)
	}
	return nil
}

// LatestBuild returns the most recently created build for a project, or
// a NotFound apierr if the project has never built.
func (d *Database) LatestBuild(projectID string) (*Build, error) {
	row := d.db.QueryRow(rebind(`
		SELECT id, project_id, status, log, created_at, finished_at
		FROM builds WHERE project_id = ? ORDER BY created_at DESC LIMIT 1
	`), projectID)
	return scanBuild(row)
}

// GetBuild looks up a single build by its opaque ID.
func (d *Database) GetBuild(id string) (*Build, error) {
	row := d.db.QueryRow(rebind(`SELECT id, project_id, status, log, created_at, finished_at FROM builds WHERE id = ?`), id)
	return scanBuild(row)
}

// ListBuilds returns a project's builds, newest first.
func (d *Database) ListBuilds(projectID string) ([]*Build, error) {
	rows, err := d.db.Query(rebind(`
		SELECT id, project_id, status, log, created_at, finished_at
		FROM builds WHERE project_id = ? ORDER BY created_at DESC
	`), projectID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to list builds", err)
	}
	defer rows.Close()

	var out []*Build
	for rows.Next() {
		b := &Build{}
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Status, &b.Log, &b.CreatedAt, &b.FinishedAt); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "failed to scan build", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AbandonStaleBuilds fails every BUILDING row older than olderThan to
// FAILED("abandoned"), per the §4.5 reconciler. Returns the number of
// rows updated.
func (d *Database) AbandonStaleBuilds(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := d.db.Exec(rebind(`
		UPDATE builds SET status = ?, log = log || ?, finished_at = ?
		WHERE status = ? AND created_at < ?
	`), BuildFailed, "\nabandoned: build exceeded the reconciler's staleness threshold\n", time.Now().UTC(), BuildBuilding, cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.Internal, "failed to abandon stale builds", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanBuild(row *sql.Row) (*Build, error) {
	b := &Build{}
	if err := row.Scan(&b.ID, &b.ProjectID, &b.Status, &b.Log, &b.CreatedAt, &b.FinishedAt); err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "build not found")
	} else if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to look up build", err)
	}
	return b, nil
}
