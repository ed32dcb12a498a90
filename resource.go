package permbit

import "context"

// Entity is the minimal shape of a resource instance the engine can reason
// about: a numeric id and the resource type name its ActionList was
// registered under.
type Entity interface {
	EntityID() int64
	ResourceType() string
}

// Owned is an Entity that names the user id owning it. Instances that do not
// implement Owned carry no ownership constraint at all.
type Owned interface {
	Entity
	OwnerUserID() int64
}

// OwnedChild delegates ownership resolution to a parent entity, recursively.
// A nil parent means ownership cannot be resolved and the constraint fails.
type OwnedChild interface {
	Entity
	OwnerParent() Entity
}

// Shared marks an Owned entity whose access may be extended to additional
// users; the user-id list itself lives in the SharingStore.
type Shared interface {
	Owned
	SharedEntity()
}

// maxParentDepth bounds OwnedChild delegation so cyclic parent wiring cannot
// spin the resolver.
const maxParentDepth = 32

// OwnershipResolver answers the two questions the decision formula asks of a
// resource instance: who owns it, and who is it shared with.
type OwnershipResolver struct {
	Sharing SharingStore
}

// Owner resolves the owning user id of an entity, following OwnedChild
// delegation through parents. The second return is false when the entity
// carries no ownership constraint (not Owned, not OwnedChild).
func (r *OwnershipResolver) Owner(e Entity) (int64, bool) {
	depth := 0
	for e != nil && depth < maxParentDepth {
		switch v := e.(type) {
		case OwnedChild:
			e = v.OwnerParent()
			depth++
		case Owned:
			return v.OwnerUserID(), true
		default:
			return 0, false
		}
	}
	// delegation chain ran out (nil parent or depth blown): constrained but unresolvable
	return 0, true
}

// Owns reports whether the principal satisfies the ownership attribute of
// the entity. Entities without an ownership constraint are owned by everyone.
func (r *OwnershipResolver) Owns(p *Principal, e Entity) bool {
	if p == nil || e == nil {
		return false
	}
	owner, constrained := r.Owner(e)
	if !constrained {
		return true
	}
	return owner != 0 && owner == p.EntityID
}

// SharedWith returns the user ids the entity has been shared with. Only
// entities marked Shared are consulted; everything else has an empty list.
func (r *OwnershipResolver) SharedWith(ctx context.Context, e Entity) ([]int64, error) {
	if _, ok := e.(Shared); !ok {
		return nil, nil
	}
	if r.Sharing == nil {
		return nil, nil
	}
	return r.Sharing.SharedWith(ctx, e.ResourceType(), e.EntityID())
}

// Shares reports whether the entity is shared with the principal.
func (r *OwnershipResolver) Shares(ctx context.Context, p *Principal, e Entity) bool {
	if p == nil || e == nil {
		return false
	}
	ids, err := r.SharedWith(ctx, e)
	if err != nil {
		return false
	}
	for _, id := range ids {
		if id == p.EntityID {
			return true
		}
	}
	return false
}
