package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/portway/internal/apierr"
	"golang.org/x/crypto/bcrypt"
)

// InsertToken hashes plaintext with bcrypt (invariant I5: token
// verification uses a password-hashing KDF, plaintext is never
// persisted) and inserts the resulting row.
func (d *Database) InsertToken(projectID, plaintext string) (*ApiToken, error) {
	return insertTokenTx(d.db, projectID, plaintext)
}

func insertTokenTx(ex execer, projectID, plaintext string) (*ApiToken, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to hash token", err)
	}

	t := &ApiToken{ID: uuid.NewString(), ProjectID: projectID, TokenHash: string(hash), CreatedAt: time.Now().UTC()}
	_, err = ex.Exec(rebind(`INSERT INTO api_tokens (id, project_id, token_hash, created_at) VALUES (?, ?, ?, ?)`),
		t.ID, t.ProjectID, t.TokenHash, t.CreatedAt)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to insert token", err)
	}
	return t, nil
}

// VerifyToken iterates the project's active (non-revoked) token hashes
// and runs bcrypt's constant-time comparison against each, per I5 and
// testable property P5.
func (d *Database) VerifyToken(projectID, plaintext string) (bool, error) {
	rows, err := d.db.Query(rebind(`SELECT token_hash FROM api_tokens WHERE project_id = ? AND revoked_at IS NULL`), projectID)
	if err != nil {
		return false, apierr.Wrap(apierr.Internal, "failed to load tokens", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return false, apierr.Wrap(apierr.Internal, "failed to scan token", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return false, apierr.Wrap(apierr.Internal, "failed to read tokens", err)
	}

	ok := false
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(plaintext)) == nil {
			ok = true
		}
	}
	return ok, nil
}

// RevokeToken marks a token as no longer usable for authentication.
func (d *Database) RevokeToken(tokenID string) error {
	res, err := d.db.Exec(rebind(`UPDATE api_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`), time.Now().UTC(), tokenID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to revoke token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.NotFound, "token not found")
	}
	return nil
}
