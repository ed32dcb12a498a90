package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/permbit/permbit"
)

// In-memory store implementations, used by tests and embedded setups.
// All of them serialize writers internally, so grant accumulation keeps the
// read-modify-write atomic per row.

type grantKey struct {
	RoleID       uint64
	UserID       uint64
	ResourceType string
	ResourceID   int64 // 0 = general
	General      bool
}

func keyFor(p *permbit.Permission) grantKey {
	k := grantKey{
		RoleID:       p.RoleID,
		UserID:       p.UserID,
		ResourceType: p.ResourceType,
		General:      p.ResourceID == nil,
	}
	if p.ResourceID != nil {
		k.ResourceID = *p.ResourceID
	}
	return k
}

type MemoryPermissionStore struct {
	mu     sync.RWMutex
	rows   map[grantKey]*permbit.Permission
	nextID int64
}

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{rows: make(map[grantKey]*permbit.Permission)}
}

func (s *MemoryPermissionStore) find(k grantKey) *permbit.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[k]
	if !ok {
		return nil
	}
	dup := *row
	return &dup
}

func (s *MemoryPermissionStore) FindByUser(ctx context.Context, userID uint64, resourceType string) (*permbit.Permission, error) {
	return s.find(grantKey{UserID: userID, ResourceType: resourceType, General: true}), nil
}

func (s *MemoryPermissionStore) FindByUserResource(ctx context.Context, userID uint64, resourceType string, resourceID int64) (*permbit.Permission, error) {
	return s.find(grantKey{UserID: userID, ResourceType: resourceType, ResourceID: resourceID}), nil
}

func (s *MemoryPermissionStore) FindByRole(ctx context.Context, roleID uint64, resourceType string) (*permbit.Permission, error) {
	return s.find(grantKey{RoleID: roleID, ResourceType: resourceType, General: true}), nil
}

func (s *MemoryPermissionStore) FindByRoleResource(ctx context.Context, roleID uint64, resourceType string, resourceID int64) (*permbit.Permission, error) {
	return s.find(grantKey{RoleID: roleID, ResourceType: resourceType, ResourceID: resourceID}), nil
}

func (s *MemoryPermissionStore) ListByRole(ctx context.Context, roleID uint64) ([]*permbit.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*permbit.Permission, 0)
	for _, row := range s.rows {
		if row.RoleID == roleID && roleID != 0 {
			dup := *row
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (s *MemoryPermissionStore) Ensure(ctx context.Context, grants ...permbit.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range grants {
		if g.RoleID == 0 && g.UserID == 0 {
			return fmt.Errorf("grant is neither role- nor user-scoped")
		}
		k := keyFor(&g)
		if existing, ok := s.rows[k]; ok {
			existing.ActionMask = permbit.AccumulateActions(existing.ActionMask, g.ActionMask)
			continue
		}
		s.nextID++
		row := g
		row.ID = s.nextID
		row.CreatedAt = time.Now()
		s.rows[k] = &row
	}
	return nil
}

func (s *MemoryPermissionStore) AnyForResource(ctx context.Context, resourceType string, resourceID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.rows {
		if !k.General && k.ResourceType == resourceType && k.ResourceID == resourceID {
			return true, nil
		}
	}
	return false, nil
}

type MemoryRoleStore struct {
	mu          sync.RWMutex
	byID        map[uint64]*permbit.Role
	byName      map[string]*permbit.Role
	assignments map[uint64]map[uint64]bool // userID -> roleIDs
	nextID      uint64
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		byID:        make(map[uint64]*permbit.Role),
		byName:      make(map[string]*permbit.Role),
		assignments: make(map[uint64]map[uint64]bool),
	}
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, id uint64) (*permbit.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	dup := *r
	return &dup, nil
}

func (s *MemoryRoleStore) FindRole(ctx context.Context, name string) (*permbit.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	dup := *r
	return &dup, nil
}

func (s *MemoryRoleStore) EnsureRole(ctx context.Context, name string) (*permbit.Role, error) {
	if name == "" {
		return nil, fmt.Errorf("empty role name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byName[name]; ok {
		dup := *r
		return &dup, nil
	}
	s.nextID++
	r := &permbit.Role{ID: s.nextID, Name: name, CreatedAt: time.Now()}
	s.byID[r.ID] = r
	s.byName[name] = r
	dup := *r
	return &dup, nil
}

func (s *MemoryRoleStore) RolesFor(ctx context.Context, userID uint64) ([]*permbit.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*permbit.Role, 0)
	for roleID := range s.assignments[userID] {
		if r, ok := s.byID[roleID]; ok {
			dup := *r
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (s *MemoryRoleStore) Assign(ctx context.Context, userID, roleID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[roleID]; !ok {
		return fmt.Errorf("role %d not found", roleID)
	}
	if s.assignments[userID] == nil {
		s.assignments[userID] = make(map[uint64]bool)
	}
	s.assignments[userID][roleID] = true
	return nil
}

func (s *MemoryRoleStore) Revoke(ctx context.Context, userID, roleID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments[userID], roleID)
	return nil
}

type MemoryUserStore struct {
	mu     sync.RWMutex
	byName map[string]*permbit.User
	nextID uint64
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byName: make(map[string]*permbit.User)}
}

func (s *MemoryUserStore) FindUser(ctx context.Context, username string) (*permbit.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byName[username]
	if !ok {
		return nil, nil
	}
	dup := *u
	return &dup, nil
}

func (s *MemoryUserStore) EnsureUser(ctx context.Context, username string, admin bool) (*permbit.User, error) {
	if username == "" {
		return nil, fmt.Errorf("empty username")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byName[username]; ok {
		dup := *u
		return &dup, nil
	}
	s.nextID++
	u := &permbit.User{ID: s.nextID, Username: username, Admin: admin}
	s.byName[username] = u
	dup := *u
	return &dup, nil
}

type MemorySharingStore struct {
	mu     sync.RWMutex
	shares map[string]map[int64]map[int64]bool // type -> id -> userIDs
}

func NewMemorySharingStore() *MemorySharingStore {
	return &MemorySharingStore{shares: make(map[string]map[int64]map[int64]bool)}
}

func (s *MemorySharingStore) SharedWith(ctx context.Context, resourceType string, resourceID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0)
	for userID := range s.shares[resourceType][resourceID] {
		out = append(out, userID)
	}
	return out, nil
}

func (s *MemorySharingStore) Share(ctx context.Context, resourceType string, resourceID int64, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shares[resourceType] == nil {
		s.shares[resourceType] = make(map[int64]map[int64]bool)
	}
	if s.shares[resourceType][resourceID] == nil {
		s.shares[resourceType][resourceID] = make(map[int64]bool)
	}
	s.shares[resourceType][resourceID][userID] = true
	return nil
}

func (s *MemorySharingStore) Unshare(ctx context.Context, resourceType string, resourceID int64, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shares[resourceType][resourceID], userID)
	return nil
}

// MemoryEntityStore is a toy EntityLoader keyed by type and id, for tests
// and for wiring the bulk permission map without a real repository.
type MemoryEntityStore struct {
	mu       sync.RWMutex
	entities map[string]map[int64]permbit.Entity
}

func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{entities: make(map[string]map[int64]permbit.Entity)}
}

func (s *MemoryEntityStore) Put(e permbit.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities[e.ResourceType()] == nil {
		s.entities[e.ResourceType()] = make(map[int64]permbit.Entity)
	}
	s.entities[e.ResourceType()][e.EntityID()] = e
}

func (s *MemoryEntityStore) LoadEntity(ctx context.Context, resourceType string, id int64) (permbit.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[resourceType][id]
	if !ok {
		return nil, fmt.Errorf("%s/%d not found", resourceType, id)
	}
	return e, nil
}
