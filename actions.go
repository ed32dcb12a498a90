package permbit

import (
	"context"
	"fmt"
	"sync"
)

// Action is a named, bit-identified operation on a resource type. The id is
// always a power of two derived from the action's position in its declared
// list, so position is load-bearing: stored masks are only meaningful while
// the declaration order stays stable (append-only in practice).
type Action struct {
	ResourceType string `json:"resource_type"`
	Name         string `json:"name"`
	ID           uint64 `json:"id"`
}

// ActionList is the ordered set of actions declared for one resource type.
// Lists are built once at startup and read-only afterwards.
type ActionList struct {
	resourceType string
	actions      []Action
	byName       map[string]Action
}

// ResourceType returns the type the list was declared for.
func (l *ActionList) ResourceType() string { return l.resourceType }

// Actions returns the declared actions in declaration order.
func (l *ActionList) Actions() []Action {
	out := make([]Action, len(l.actions))
	copy(out, l.actions)
	return out
}

// Get resolves a declared action by name.
func (l *ActionList) Get(name string) (Action, bool) {
	a, ok := l.byName[name]
	return a, ok
}

// Mask resolves the given action names into a combined bitmask.
// An undeclared name is a configuration error.
func (l *ActionList) Mask(names ...string) (uint64, error) {
	var mask uint64
	for _, n := range names {
		a, ok := l.byName[n]
		if !ok {
			return 0, configErrorf("action list", "action %q is not declared for resource type %q", n, l.resourceType)
		}
		mask = AccumulateActions(mask, a.ID)
	}
	return mask, nil
}

// AllMask returns the union of every declared action id.
func (l *ActionList) AllMask() uint64 {
	var mask uint64
	for _, a := range l.actions {
		mask |= a.ID
	}
	return mask
}

// Registry maps resource type names to their ActionLists. It is populated
// once during process initialization, before the first request is served,
// and is read-only from then on. The internal lock only matters during that
// startup window (and in tests that register concurrently).
type Registry struct {
	mu    sync.RWMutex
	lists map[string]*ActionList
}

func NewRegistry() *Registry {
	return &Registry{lists: make(map[string]*ActionList)}
}

// Register declares the ordered action list for a resource type and assigns
// ids: position i gets id 1<<i. Registering the same type again with an
// identical declaration is a no-op (safe in tests); registering it with a
// different declaration is refused, since renumbering would silently change
// the meaning of stored masks.
func (r *Registry) Register(resourceType string, actionNames ...string) (*ActionList, error) {
	if resourceType == "" {
		return nil, configErrorf("action registry", "empty resource type name")
	}
	if len(actionNames) > 64 {
		return nil, configErrorf("action registry", "resource type %q declares %d actions, limit is 64", resourceType, len(actionNames))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.lists[resourceType]; ok {
		if err := sameDeclaration(existing, actionNames); err != nil {
			return nil, err
		}
		return existing, nil
	}

	list := &ActionList{
		resourceType: resourceType,
		actions:      make([]Action, 0, len(actionNames)),
		byName:       make(map[string]Action, len(actionNames)),
	}
	for i, name := range actionNames {
		if name == "" {
			return nil, configErrorf("action registry", "resource type %q declares an empty action name at position %d", resourceType, i)
		}
		if _, dup := list.byName[name]; dup {
			return nil, configErrorf("action registry", "resource type %q declares action %q twice", resourceType, name)
		}
		a := Action{ResourceType: resourceType, Name: name, ID: 1 << uint(i)}
		list.actions = append(list.actions, a)
		list.byName[name] = a
	}
	r.lists[resourceType] = list
	return list, nil
}

// MustRegister is Register for static startup declarations.
func (r *Registry) MustRegister(resourceType string, actionNames ...string) *ActionList {
	list, err := r.Register(resourceType, actionNames...)
	if err != nil {
		panic(err)
	}
	return list
}

// Lookup returns the ActionList for a resource type, if one was declared.
// Types without a list have not opted into authorization at all.
func (r *Registry) Lookup(resourceType string) (*ActionList, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[resourceType]
	return l, ok
}

// Resolve looks up a single declared action by type and name.
func (r *Registry) Resolve(resourceType, actionName string) (Action, bool) {
	l, ok := r.Lookup(resourceType)
	if !ok {
		return Action{}, false
	}
	return l.Get(actionName)
}

// ResourceTypes returns the names of all registered resource types.
func (r *Registry) ResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.lists))
	for t := range r.lists {
		out = append(out, t)
	}
	return out
}

func sameDeclaration(list *ActionList, names []string) error {
	if len(names) != len(list.actions) {
		return configErrorf("action registry",
			"resource type %q re-registered with %d actions, previously %d",
			list.resourceType, len(names), len(list.actions))
	}
	for i, n := range names {
		if list.actions[i].Name != n {
			return configErrorf("action registry",
				"resource type %q re-registered with action %q at position %d, previously %q",
				list.resourceType, n, i, list.actions[i].Name)
		}
	}
	return nil
}

// DefaultGrant pre-provisions a role with a set of declared actions on a
// resource type, as a general grant (ResourceID nil).
type DefaultGrant struct {
	Role    string   `json:"role" yaml:"role"`
	Actions []string `json:"actions" yaml:"actions"`
}

// ProvisionDefaults ensures roles exist and seeds their general grants for a
// registered resource type. It runs at startup, outside request scope, and
// is idempotent: roles are created only if absent and grants accumulate by
// mask OR, so repeated runs converge. An action name that is not part of the
// type's own declaration fails fast with a ConfigError.
func (r *Registry) ProvisionDefaults(ctx context.Context, resourceType string, roles RoleStore, perms PermissionStore, defaults []DefaultGrant) error {
	list, ok := r.Lookup(resourceType)
	if !ok {
		return configErrorf("action registry", "resource type %q has no registered action list", resourceType)
	}
	for _, d := range defaults {
		mask, err := list.Mask(d.Actions...)
		if err != nil {
			return err
		}
		role, err := roles.EnsureRole(ctx, d.Role)
		if err != nil {
			return fmt.Errorf("ensure role %q: %w", d.Role, err)
		}
		grant := Permission{
			Name:         resourceType + ":" + d.Role,
			ActionMask:   mask,
			ResourceType: resourceType,
			RoleID:       role.ID,
		}
		if err := perms.Ensure(ctx, grant); err != nil {
			return fmt.Errorf("ensure default grant for role %q on %q: %w", d.Role, resourceType, err)
		}
	}
	return nil
}
