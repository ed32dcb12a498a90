package permbit

import "time"

// Permission is a stored grant: a bitmask of allowed actions associated with
// either a role or a user, optionally scoped to one resource instance.
//
// Exactly one of RoleID/UserID is non-zero for a grant in normal use.
// ResourceID == nil marks a general grant that applies to every instance of
// the resource type. At most one row exists per
// (RoleID, UserID, ResourceType, ResourceID) tuple; grants grow by OR-ing
// ActionMask, never by duplicate rows.
type Permission struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ActionMask   uint64    `json:"action_mask"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *int64    `json:"resource_id,omitempty"`
	RoleID       uint64    `json:"role_id"`
	UserID       uint64    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// General reports whether the grant applies to every instance of its type.
func (p *Permission) General() bool { return p.ResourceID == nil }

// Grants reports whether the grant's mask contains the action.
func (p *Permission) Grants(a Action) bool {
	if p == nil {
		return false
	}
	return HasAction(p.ActionMask, a.ID)
}

// Role is a named grouping of users. Membership lives in the RoleStore.
type Role struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is the persisted side of an identity, resolved by username when a
// decision has to start from a name rather than a live Principal.
type User struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// HasAction tests a mask against an action id with strict AND-equality.
// A non-zero test is not enough: id may itself be a union of bits.
func HasAction(mask, id uint64) bool {
	return mask&id == id
}

// AccumulateActions merges a new action mask into an existing one.
// Bitwise OR, so it is associative, commutative and idempotent; bits are
// never cleared by accumulation.
func AccumulateActions(existing, added uint64) uint64 {
	return existing | added
}
