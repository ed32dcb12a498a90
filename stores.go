package permbit

import "context"

// Storage contracts consumed by the engine. Lookup methods return (nil, nil)
// when no matching row exists; the decision formula treats absence as an
// ordinary input, not an error. Errors are reserved for store failures.

// PermissionStore persists grants. Implementations own the serialization of
// concurrent writers: Ensure must apply its mask merge atomically per row
// (upsert, compare-and-swap or equivalent) so two requests extending the
// same grant cannot lose updates.
type PermissionStore interface {
	// FindByUser returns the general user grant for a resource type.
	FindByUser(ctx context.Context, userID uint64, resourceType string) (*Permission, error)
	// FindByUserResource returns the instance-specific user grant.
	FindByUserResource(ctx context.Context, userID uint64, resourceType string, resourceID int64) (*Permission, error)
	// FindByRole returns the general role grant for a resource type.
	FindByRole(ctx context.Context, roleID uint64, resourceType string) (*Permission, error)
	// FindByRoleResource returns the instance-specific role grant.
	FindByRoleResource(ctx context.Context, roleID uint64, resourceType string, resourceID int64) (*Permission, error)
	// ListByRole returns every grant held by a role.
	ListByRole(ctx context.Context, roleID uint64) ([]*Permission, error)
	// Ensure creates each grant if absent, or merges its mask into the
	// existing row (bitwise OR). Never decrements.
	Ensure(ctx context.Context, grants ...Permission) error
	// AnyForResource reports whether any instance-specific grant row exists
	// for the given resource instance, for any role or user.
	AnyForResource(ctx context.Context, resourceType string, resourceID int64) (bool, error)
}

// RoleStore persists roles and the user-to-role assignment relation.
type RoleStore interface {
	GetRole(ctx context.Context, id uint64) (*Role, error)
	FindRole(ctx context.Context, name string) (*Role, error)
	// EnsureRole creates the named role if absent. Idempotent.
	EnsureRole(ctx context.Context, name string) (*Role, error)
	RolesFor(ctx context.Context, userID uint64) ([]*Role, error)
	Assign(ctx context.Context, userID, roleID uint64) error
	Revoke(ctx context.Context, userID, roleID uint64) error
}

// UserStore resolves identities by username when a decision starts from a
// name rather than a live Principal.
type UserStore interface {
	FindUser(ctx context.Context, username string) (*User, error)
	EnsureUser(ctx context.Context, username string, admin bool) (*User, error)
}

// SharingStore is the external sharing relation: the extra user ids a
// resource instance has been extended to beyond its owner.
type SharingStore interface {
	SharedWith(ctx context.Context, resourceType string, resourceID int64) ([]int64, error)
	Share(ctx context.Context, resourceType string, resourceID int64, userID int64) error
	Unshare(ctx context.Context, resourceType string, resourceID int64, userID int64) error
}

// EntityLoader materializes a resource instance from its type and id. The
// enforcement chain uses it for id-argument lookup strategies and the bulk
// permission map uses it to evaluate per-instance decisions.
type EntityLoader interface {
	LoadEntity(ctx context.Context, resourceType string, id int64) (Entity, error)
}

// EntityLoaderFunc adapts a function to the EntityLoader interface.
type EntityLoaderFunc func(ctx context.Context, resourceType string, id int64) (Entity, error)

func (f EntityLoaderFunc) LoadEntity(ctx context.Context, resourceType string, id int64) (Entity, error) {
	return f(ctx, resourceType, id)
}
