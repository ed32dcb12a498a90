package permbit

import "context"

// Facade binds the current identity, read from the request context, to calls
// into the decision engine. Call-site enforcement goes through the facade so
// it never threads an identity parameter by hand.
//
// Every method short-circuits in the same order: a resource type with no
// registered ActionList is open to everyone; an admin passes every check on
// a protected type; with no engine bound the answer is deny; otherwise the
// engine decides. The order matters: an unprotected type stays open even
// without an identity, while the admin bypass only applies to protected
// types.
type Facade struct {
	registry *Registry
	manager  *Manager
}

func NewFacade(registry *Registry, manager *Manager) *Facade {
	return &Facade{registry: registry, manager: manager}
}

// CanGeneric reports whether the current identity may perform the action on
// the resource type in general.
func (f *Facade) CanGeneric(ctx context.Context, resourceType, actionName string) bool {
	if _, protected := f.registry.Lookup(resourceType); !protected {
		return true
	}
	p, _ := FromContext(ctx)
	if p != nil && p.Admin {
		return true
	}
	if f.manager == nil || p == nil {
		return false
	}
	return f.manager.CheckGeneric(ctx, p.Username, resourceType, actionName)
}

// CanEntity reports whether the current identity may perform the action on a
// specific resource instance.
func (f *Facade) CanEntity(ctx context.Context, entity Entity, actionName string) bool {
	if entity == nil {
		return false
	}
	if _, protected := f.registry.Lookup(entity.ResourceType()); !protected {
		return true
	}
	p, _ := FromContext(ctx)
	if p != nil && p.Admin {
		return true
	}
	if f.manager == nil || p == nil {
		return false
	}
	return f.manager.CheckEntity(ctx, p, entity, actionName)
}

// CanAll reports whether the current identity holds the generic grant and
// satisfies the ownership clause for every supplied instance.
func (f *Facade) CanAll(ctx context.Context, resourceType, actionName string, entities ...Entity) bool {
	if _, protected := f.registry.Lookup(resourceType); !protected {
		return true
	}
	p, _ := FromContext(ctx)
	if p != nil && p.Admin {
		return true
	}
	if f.manager == nil || p == nil {
		return false
	}
	return f.manager.CheckPermissionAndOwnership(ctx, p, resourceType, actionName, entities...)
}

// PermissionMap evaluates the bulk permission query for the current
// identity.
func (f *Facade) PermissionMap(ctx context.Context, request map[string][]int64) (map[string]map[int64]map[string]bool, error) {
	if f.manager == nil {
		return nil, configErrorf("facade", "no decision engine bound")
	}
	p, _ := FromContext(ctx)
	if p == nil {
		p = &Principal{}
	}
	return f.manager.PermissionMap(ctx, p, request)
}
