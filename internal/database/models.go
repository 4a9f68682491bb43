package database

import "time"

// BuildStatus is one of the four states a Build may occupy. Transitions
// only ever go PENDING -> BUILDING -> {SUCCESSFUL, FAILED}.
type BuildStatus string

const (
	BuildPending    BuildStatus = "PENDING"
	BuildBuilding   BuildStatus = "BUILDING"
	BuildSuccessful BuildStatus = "SUCCESSFUL"
	BuildFailed     BuildStatus = "FAILED"
)

// MembershipRole distinguishes an owner's founding member from later
// invitees; only owners may invite or remove members.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleMember MembershipRole = "member"
)

// Owner namespaces a set of projects. Its name is globally unique and is
// the left-hand side of every owner-project path.
type Owner struct {
	ID        string
	Name      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// User is an account that can belong to one or more Owners.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Name         string
	Permissions  []string
	CreatedAt    time.Time
}

// Membership joins a User to an Owner.
type Membership struct {
	UserID    string
	OwnerID   string
	Role      MembershipRole
	CreatedAt time.Time
}

// Project is a single deployable application, namespaced under an Owner.
type Project struct {
	ID         string
	OwnerID    string
	Name       string
	Env        map[string]any
	DBRequired *bool
	CreatedAt  time.Time
}

// ApiToken is a project-scoped credential used as the password half of
// Basic auth against the GitGateway. Only its hash is ever persisted.
type ApiToken struct {
	ID        string
	ProjectID string
	TokenHash string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Build is one append-only record of a build attempt.
type Build struct {
	ID         string
	ProjectID  string
	Status     BuildStatus
	Log        string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Domain is the single routing-table row for a project: the subdomain
// name, the port the app listens on inside the container, and the
// container's address on the project network.
type Domain struct {
	ID          string
	ProjectID   string
	Name        string
	Port        int
	ContainerIP string
	UpdatedAt   time.Time
}
