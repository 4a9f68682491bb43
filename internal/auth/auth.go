// Package auth implements the minimal session-carried-user pattern
// this core needs at its ControlAPI boundary: Basic auth against the
// Registry's Users table, returning an opaque Principal per request.
// The core never owns long-lived user objects; a richer identity
// provider is out of scope and would sit behind this same interface.
package auth

import (
	"net/http"

	"github.com/jordanhubbard/portway/internal/apierr"
	"github.com/jordanhubbard/portway/internal/database"
	"golang.org/x/crypto/bcrypt"
)

// Principal is the per-request identity the core operates on; the core
// never caches or mutates it beyond the request that produced it.
type Principal struct {
	UserID      string
	Username    string
	Permissions []string
}

// Authenticator verifies HTTP Basic credentials against the Registry's
// Users table.
type Authenticator struct {
	registry *database.Database
	enabled  bool
}

// New creates an Authenticator. When enabled is false, Authenticate
// always succeeds with a synthetic Principal — used for local
// development per the `auth_enabled` configuration option.
func New(registry *database.Database, enabled bool) *Authenticator {
	return &Authenticator{registry: registry, enabled: enabled}
}

// Authenticate verifies r's Basic auth credentials and returns the
// matching Principal.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if !a.enabled {
		return &Principal{UserID: "local", Username: "local"}, nil
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, apierr.New(apierr.Unauthorized, "missing credentials")
	}

	user, err := a.registry.FindUserByUsername(username)
	if err != nil {
		return nil, apierr.New(apierr.Unauthorized, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apierr.New(apierr.Unauthorized, "invalid credentials")
	}

	return &Principal{UserID: user.ID, Username: user.Username, Permissions: user.Permissions}, nil
}

// Middleware wraps an http.HandlerFunc, rejecting unauthenticated
// requests with a 401 before next runs, and passing the resolved
// Principal to next as its third argument.
func (a *Authenticator) Middleware(next func(http.ResponseWriter, *http.Request, *Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="portway"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, principal)
	}
}

// Register creates a User and an Owner matching the username (the
// lifecycle this core follows: "Owners are created at user
// registration, mirroring the owner of the username"), joined by an
// owner-role Membership.
func Register(registry *database.Database, username, password, name string) (*Principal, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to hash password", err)
	}

	user, err := registry.CreateUser(username, string(hash), name, nil)
	if err != nil {
		return nil, err
	}

	owner, err := registry.CreateOwner(username)
	if err != nil {
		return nil, err
	}
	if err := registry.AddMembership(user.ID, owner.ID, database.RoleOwner); err != nil {
		return nil, err
	}

	return &Principal{UserID: user.ID, Username: user.Username}, nil
}

// RequireMembership reports whether principal belongs to the named
// owner, consulting the Registry's Memberships table.
func RequireMembership(registry *database.Database, principal *Principal, ownerName string) bool {
	owner, err := registry.FindOwnerByName(ownerName)
	if err != nil {
		return false
	}
	_, member, err := registry.IsMember(principal.UserID, owner.ID)
	return err == nil && member
}
