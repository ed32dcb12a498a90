package permbit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/permbit/permbit/logger"
)

// ImpersonateAction is the reserved action name whose general grant on the
// principal resource type unlocks the impersonation bypass in CheckEntity.
const ImpersonateAction = "impersonate"

// Decision is the result of one evaluation, with an optional trace for the
// Explain variants.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Trace     []string  `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type decisionKey struct {
	Username     string
	ResourceType string
	ResourceID   int64
	Action       string
}

type decisionCacheEntry struct {
	decision  *Decision
	expiresAt time.Time
}

// Manager is the single authority for allow/deny decisions. It reads
// registered action lists, resolves identities and roles through the stores
// and applies the mask/ownership/sharing decision formula.
//
// Inside the manager, absent identity, absent store rows or an unregistered
// resource type all evaluate to deny, never to an error; callers (the
// enforcement chain) turn deny into ErrUnauthorized.
type Manager struct {
	registry *Registry
	users    UserStore
	roles    RoleStore
	perms    PermissionStore
	resolver *OwnershipResolver
	loader   EntityLoader

	principalResourceType string
	logger                logger.Logger
	traceIDFunc           logger.TraceIDFunc

	roleCache sync.Map // role name -> *Role

	decisionCacheMu  sync.RWMutex
	decisionCache    map[decisionKey]*decisionCacheEntry
	decisionCacheTTL time.Duration
	ristretto        *ristretto.Cache
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager) error

// WithSharing installs the external sharing relation used by the
// ownership/sharing clause.
func WithSharing(s SharingStore) ManagerOption {
	return func(m *Manager) error {
		m.resolver.Sharing = s
		return nil
	}
}

// WithEntityLoader installs the lookup collaborator used by PermissionMap
// and by enforcement checks that receive ids instead of instances.
func WithEntityLoader(l EntityLoader) ManagerOption {
	return func(m *Manager) error {
		m.loader = l
		return nil
	}
}

// WithPrincipalResourceType overrides the resource type name the
// impersonation bypass is evaluated against. Defaults to "user".
func WithPrincipalResourceType(t string) ManagerOption {
	return func(m *Manager) error {
		if t == "" {
			return configErrorf("manager", "empty principal resource type")
		}
		m.principalResourceType = t
		return nil
	}
}

// WithDecisionCacheTTL sets the lifetime of cached decisions. Zero disables
// the cache.
func WithDecisionCacheTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) error {
		m.decisionCacheTTL = ttl
		return nil
	}
}

// WithLogger installs a Logger on the Manager.
func WithLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator for audit log lines.
func WithTraceIDFunc(f logger.TraceIDFunc) ManagerOption {
	return func(m *Manager) error {
		m.traceIDFunc = f
		return nil
	}
}

func NewManager(registry *Registry, users UserStore, roles RoleStore, perms PermissionStore, opts ...ManagerOption) (*Manager, error) {
	if registry == nil {
		return nil, configErrorf("manager", "nil action registry")
	}
	m := &Manager{
		registry:              registry,
		users:                 users,
		roles:                 roles,
		perms:                 perms,
		resolver:              &OwnershipResolver{},
		principalResourceType: "user",
		logger:                logger.NewPhusluLogger(),
		decisionCache:         make(map[decisionKey]*decisionCacheEntry),
		decisionCacheTTL:      time.Second,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the action registry the manager decides against.
func (m *Manager) Registry() *Registry { return m.registry }

// Resolver returns the ownership/sharing resolver.
func (m *Manager) Resolver() *OwnershipResolver { return m.resolver }

// ConfigureRistrettoDecisionCache replaces the built-in map cache with a
// ristretto cache sized by the given parameters.
func (m *Manager) ConfigureRistrettoDecisionCache(numCounters, maxCost, bufferItems int64) error {
	if numCounters <= 0 {
		numCounters = 1 << 16
	}
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	if bufferItems <= 0 {
		bufferItems = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return fmt.Errorf("configure ristretto cache: %w", err)
	}
	m.ristretto = cache
	return nil
}

// InvalidateDecisionCache drops every cached decision. Called after any
// grant mutation.
func (m *Manager) InvalidateDecisionCache() {
	m.decisionCacheMu.Lock()
	m.decisionCache = make(map[decisionKey]*decisionCacheEntry)
	m.decisionCacheMu.Unlock()
	if m.ristretto != nil {
		m.ristretto.Clear()
	}
}

// InvalidateRoleCache drops cached role records.
func (m *Manager) InvalidateRoleCache() {
	m.roleCache.Range(func(k, _ any) bool {
		m.roleCache.Delete(k)
		return true
	})
}

// ============================================================================
// DECISION OPERATIONS
// ============================================================================

// CheckGeneric decides whether the named identity may perform the action on
// the resource type in general, ignoring any particular instance. Unknown
// identity, missing roles, unregistered type or undeclared action all deny.
func (m *Manager) CheckGeneric(ctx context.Context, username, resourceType, actionName string) bool {
	dec := m.evaluateGeneric(ctx, username, resourceType, actionName, false)
	m.audit(username, resourceType, 0, actionName, dec)
	return dec.Allowed
}

// ExplainGeneric is CheckGeneric with a populated trace.
func (m *Manager) ExplainGeneric(ctx context.Context, username, resourceType, actionName string) *Decision {
	return m.evaluateGeneric(ctx, username, resourceType, actionName, true)
}

func (m *Manager) evaluateGeneric(ctx context.Context, username, resourceType, actionName string, trace bool) *Decision {
	dec := &Decision{Timestamp: time.Now()}
	step := func(format string, args ...any) {
		if trace {
			dec.Trace = append(dec.Trace, fmt.Sprintf(format, args...))
		}
	}

	if m.users == nil {
		dec.Reason = "no user store"
		return dec
	}
	user, err := m.users.FindUser(ctx, username)
	if err != nil || user == nil {
		dec.Reason = "unknown identity"
		step("identity %q not found", username)
		return dec
	}
	if user.Admin {
		dec.Allowed = true
		dec.Reason = "admin"
		step("identity %q is admin", username)
		return dec
	}

	action, ok := m.registry.Resolve(resourceType, actionName)
	if !ok {
		dec.Reason = "action not declared"
		step("action %q not declared for %q", actionName, resourceType)
		return dec
	}

	if m.roles == nil || m.perms == nil {
		dec.Reason = "no permission store"
		return dec
	}
	roles, err := m.roles.RolesFor(ctx, user.ID)
	if err != nil || len(roles) == 0 {
		dec.Reason = "no roles"
		step("identity %q holds no roles", username)
		return dec
	}

	for _, role := range roles {
		grant, err := m.perms.FindByRole(ctx, role.ID, resourceType)
		if err != nil {
			step("role %q lookup error: %v", role.Name, err)
			continue
		}
		if grant.Grants(action) {
			dec.Allowed = true
			dec.Reason = "role " + role.Name
			step("role %q general grant mask=%d contains %s", role.Name, grant.ActionMask, actionName)
			return dec
		}
		step("role %q does not grant %s", role.Name, actionName)
	}

	dec.Reason = "no role grants action"
	return dec
}

// CheckEntity decides whether the principal may perform the action on a
// specific resource instance, applying the full permission + ownership +
// sharing formula and the impersonation bypass.
func (m *Manager) CheckEntity(ctx context.Context, p *Principal, entity Entity, actionName string) bool {
	if p == nil || entity == nil {
		return false
	}
	if key, ok := m.cacheKey(p, entity, actionName); ok {
		if dec, hit := m.cachedDecision(key); hit {
			return dec.Allowed
		}
		dec := m.evaluateEntity(ctx, p, entity, actionName, false)
		m.storeDecision(key, dec)
		m.audit(p.Username, entity.ResourceType(), entity.EntityID(), actionName, dec)
		return dec.Allowed
	}
	dec := m.evaluateEntity(ctx, p, entity, actionName, false)
	m.audit(p.Username, entity.ResourceType(), entity.EntityID(), actionName, dec)
	return dec.Allowed
}

// ExplainEntity is CheckEntity with a populated trace; it bypasses the
// decision cache so every step is re-evaluated.
func (m *Manager) ExplainEntity(ctx context.Context, p *Principal, entity Entity, actionName string) *Decision {
	if p == nil || entity == nil {
		return &Decision{Reason: "no identity or instance", Timestamp: time.Now()}
	}
	return m.evaluateEntity(ctx, p, entity, actionName, true)
}

func (m *Manager) evaluateEntity(ctx context.Context, p *Principal, entity Entity, actionName string, trace bool) *Decision {
	dec := &Decision{Timestamp: time.Now()}
	step := func(format string, args ...any) {
		if trace {
			dec.Trace = append(dec.Trace, fmt.Sprintf(format, args...))
		}
	}

	if p.Admin {
		dec.Allowed = true
		dec.Reason = "admin"
		step("principal %q is admin", p.Username)
		return dec
	}

	resourceType := entity.ResourceType()
	action, ok := m.registry.Resolve(resourceType, actionName)
	if !ok {
		dec.Reason = "action not declared"
		step("action %q not declared for %q", actionName, resourceType)
		return dec
	}
	if m.perms == nil || m.roles == nil {
		dec.Reason = "no permission store"
		return dec
	}

	resourceID := entity.EntityID()
	userID := uint64(0)
	if p.EntityID > 0 {
		userID = uint64(p.EntityID)
	}

	userSpecific, err := m.perms.FindByUserResource(ctx, userID, resourceType, resourceID)
	if err != nil {
		step("user-specific grant lookup error: %v", err)
	}
	specificExists, err := m.perms.AnyForResource(ctx, resourceType, resourceID)
	if err != nil {
		step("specific-grant existence lookup error: %v", err)
	}
	// a user-specific grant row for this caller also counts as existing
	if userSpecific != nil {
		specificExists = true
	}

	owns := m.resolver.Owns(p, entity)
	shares := m.resolver.Shares(ctx, p, entity)
	step("owns=%v shares=%v specificGrantExists=%v", owns, shares, specificExists)

	impersonate, impersonateDeclared := m.registry.Resolve(m.principalResourceType, ImpersonateAction)

	for _, roleName := range p.Roles {
		role := m.roleByName(ctx, roleName)
		if role == nil {
			step("role %q not found", roleName)
			continue
		}

		roleSpecific, err := m.perms.FindByRoleResource(ctx, role.ID, resourceType, resourceID)
		if err != nil {
			step("role %q specific grant lookup error: %v", roleName, err)
		}
		roleGeneral, err := m.perms.FindByRole(ctx, role.ID, resourceType)
		if err != nil {
			step("role %q general grant lookup error: %v", roleName, err)
		}

		hasEntityPermission := roleSpecific.Grants(action) || userSpecific.Grants(action)
		hasGeneralPermission := roleGeneral.Grants(action)

		permissionClause := (specificExists && hasEntityPermission) ||
			(!specificExists && hasGeneralPermission)
		ownershipClause := owns ||
			(shares && !specificExists && hasGeneralPermission) ||
			(shares && specificExists && hasEntityPermission)

		step("role %q entity=%v general=%v permission=%v ownership=%v",
			roleName, hasEntityPermission, hasGeneralPermission, permissionClause, ownershipClause)

		if permissionClause && ownershipClause {
			dec.Allowed = true
			dec.Reason = "role " + roleName
			return dec
		}

		// impersonation path: a general grant of the impersonate action on
		// the principal's own resource type overrides the formula outright
		if impersonateDeclared {
			imp, err := m.perms.FindByRole(ctx, role.ID, m.principalResourceType)
			if err == nil && imp.Grants(impersonate) {
				dec.Allowed = true
				dec.Reason = "impersonation via role " + roleName
				step("role %q holds general %s grant on %q", roleName, ImpersonateAction, m.principalResourceType)
				return dec
			}
		}
	}

	dec.Reason = "denied"
	return dec
}

// ownershipSatisfied evaluates only the ownership clause of the formula for
// one instance, against every role the principal holds.
func (m *Manager) ownershipSatisfied(ctx context.Context, p *Principal, entity Entity, action Action) bool {
	owns := m.resolver.Owns(p, entity)
	if owns {
		return true
	}
	shares := m.resolver.Shares(ctx, p, entity)
	if !shares || m.perms == nil {
		return false
	}

	resourceType := entity.ResourceType()
	resourceID := entity.EntityID()
	userID := uint64(0)
	if p.EntityID > 0 {
		userID = uint64(p.EntityID)
	}
	userSpecific, _ := m.perms.FindByUserResource(ctx, userID, resourceType, resourceID)
	specificExists, _ := m.perms.AnyForResource(ctx, resourceType, resourceID)
	if userSpecific != nil {
		specificExists = true
	}

	for _, roleName := range p.Roles {
		role := m.roleByName(ctx, roleName)
		if role == nil {
			continue
		}
		roleSpecific, _ := m.perms.FindByRoleResource(ctx, role.ID, resourceType, resourceID)
		roleGeneral, _ := m.perms.FindByRole(ctx, role.ID, resourceType)
		hasEntityPermission := roleSpecific.Grants(action) || userSpecific.Grants(action)
		hasGeneralPermission := roleGeneral.Grants(action)
		if (!specificExists && hasGeneralPermission) || (specificExists && hasEntityPermission) {
			return true
		}
	}
	return false
}

// CheckPermissionAndOwnership first requires the generic grant, then the
// ownership clause for every supplied instance. One non-owned, non-shared
// instance denies the whole call.
func (m *Manager) CheckPermissionAndOwnership(ctx context.Context, p *Principal, resourceType, actionName string, entities ...Entity) bool {
	if p == nil {
		return false
	}
	if p.Admin {
		return true
	}
	if !m.CheckGeneric(ctx, p.Username, resourceType, actionName) {
		return false
	}
	action, ok := m.registry.Resolve(resourceType, actionName)
	if !ok {
		return false
	}
	for _, e := range entities {
		if e == nil {
			return false
		}
		if !m.ownershipSatisfied(ctx, p, e, action) {
			return false
		}
	}
	return true
}

// PermissionMap reports, per resource instance, whether each declared action
// is currently permitted for the principal. Used by UIs to pre-compute
// permitted operations in one round trip. Requires an EntityLoader.
func (m *Manager) PermissionMap(ctx context.Context, p *Principal, request map[string][]int64) (map[string]map[int64]map[string]bool, error) {
	if m.loader == nil {
		return nil, configErrorf("manager", "PermissionMap requires an entity loader")
	}
	out := make(map[string]map[int64]map[string]bool, len(request))
	for resourceType, ids := range request {
		list, ok := m.registry.Lookup(resourceType)
		if !ok {
			out[resourceType] = map[int64]map[string]bool{}
			continue
		}
		byID := make(map[int64]map[string]bool, len(ids))
		for _, id := range ids {
			entity, err := m.loader.LoadEntity(ctx, resourceType, id)
			if err != nil {
				return nil, fmt.Errorf("load %s/%d: %w", resourceType, id, err)
			}
			byAction := make(map[string]bool, len(list.actions))
			for _, a := range list.Actions() {
				byAction[a.Name] = m.CheckEntity(ctx, p, entity, a.Name)
			}
			byID[id] = byAction
		}
		out[resourceType] = byID
	}
	return out, nil
}

// ============================================================================
// GRANT MANAGEMENT
// ============================================================================

// GrantRoleActions extends a role's general grant on a resource type by the
// named actions. The role is created if absent; masks accumulate.
func (m *Manager) GrantRoleActions(ctx context.Context, roleName, resourceType string, actionNames ...string) error {
	return m.grantRole(ctx, roleName, resourceType, nil, actionNames)
}

// GrantRoleEntityActions extends a role's instance-specific grant.
func (m *Manager) GrantRoleEntityActions(ctx context.Context, roleName, resourceType string, resourceID int64, actionNames ...string) error {
	return m.grantRole(ctx, roleName, resourceType, &resourceID, actionNames)
}

func (m *Manager) grantRole(ctx context.Context, roleName, resourceType string, resourceID *int64, actionNames []string) error {
	list, ok := m.registry.Lookup(resourceType)
	if !ok {
		return configErrorf("manager", "resource type %q has no registered action list", resourceType)
	}
	mask, err := list.Mask(actionNames...)
	if err != nil {
		return err
	}
	role, err := m.roles.EnsureRole(ctx, roleName)
	if err != nil {
		return fmt.Errorf("ensure role %q: %w", roleName, err)
	}
	grant := Permission{
		Name:         resourceType + ":" + roleName,
		ActionMask:   mask,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RoleID:       role.ID,
	}
	if err := m.perms.Ensure(ctx, grant); err != nil {
		return err
	}
	m.InvalidateDecisionCache()
	return nil
}

// GrantUserActions extends a user grant, general (resourceID nil) or
// instance-specific.
func (m *Manager) GrantUserActions(ctx context.Context, username, resourceType string, resourceID *int64, actionNames ...string) error {
	list, ok := m.registry.Lookup(resourceType)
	if !ok {
		return configErrorf("manager", "resource type %q has no registered action list", resourceType)
	}
	mask, err := list.Mask(actionNames...)
	if err != nil {
		return err
	}
	user, err := m.users.FindUser(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("grant to unknown user %q", username)
	}
	grant := Permission{
		Name:         resourceType + ":" + username,
		ActionMask:   mask,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       user.ID,
	}
	if err := m.perms.Ensure(ctx, grant); err != nil {
		return err
	}
	m.InvalidateDecisionCache()
	return nil
}

// ShareWith extends access to an owned, shareable entity to another user.
func (m *Manager) ShareWith(ctx context.Context, entity Entity, userID int64) error {
	if _, ok := entity.(Shared); !ok {
		return configErrorf("manager", "resource type %q is not shareable", entity.ResourceType())
	}
	if m.resolver.Sharing == nil {
		return configErrorf("manager", "no sharing store configured")
	}
	if err := m.resolver.Sharing.Share(ctx, entity.ResourceType(), entity.EntityID(), userID); err != nil {
		return err
	}
	m.InvalidateDecisionCache()
	return nil
}

// ============================================================================
// CACHES AND AUDIT
// ============================================================================

func (m *Manager) roleByName(ctx context.Context, name string) *Role {
	if cached, ok := m.roleCache.Load(name); ok {
		return cached.(*Role)
	}
	if m.roles == nil {
		return nil
	}
	role, err := m.roles.FindRole(ctx, name)
	if err != nil || role == nil {
		return nil
	}
	m.roleCache.Store(name, role)
	return role
}

func (m *Manager) cacheKey(p *Principal, entity Entity, actionName string) (decisionKey, bool) {
	if m.decisionCacheTTL <= 0 && m.ristretto == nil {
		return decisionKey{}, false
	}
	return decisionKey{
		Username:     p.Username,
		ResourceType: entity.ResourceType(),
		ResourceID:   entity.EntityID(),
		Action:       actionName,
	}, true
}

func (m *Manager) cachedDecision(key decisionKey) (*Decision, bool) {
	if m.ristretto != nil {
		if v, ok := m.ristretto.Get(ristrettoKey(key)); ok {
			if dec, ok2 := v.(*Decision); ok2 {
				return dec, true
			}
		}
		return nil, false
	}
	m.decisionCacheMu.RLock()
	entry, ok := m.decisionCache[key]
	m.decisionCacheMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.decision, true
}

func (m *Manager) storeDecision(key decisionKey, dec *Decision) {
	if m.ristretto != nil {
		m.ristretto.SetWithTTL(ristrettoKey(key), dec, 1, m.decisionCacheTTL)
		return
	}
	m.decisionCacheMu.Lock()
	m.decisionCache[key] = &decisionCacheEntry{decision: dec, expiresAt: time.Now().Add(m.decisionCacheTTL)}
	m.decisionCacheMu.Unlock()
}

func ristrettoKey(key decisionKey) string {
	return key.Username + "|" + key.ResourceType + "|" + strconv.FormatInt(key.ResourceID, 10) + "|" + key.Action
}

func (m *Manager) audit(username, resourceType string, resourceID int64, actionName string, dec *Decision) {
	if m.logger == nil {
		return
	}
	keyvals := []any{
		"subject", username,
		"resource_type", resourceType,
		"action", actionName,
		"allowed", dec.Allowed,
		"reason", dec.Reason,
	}
	if resourceID != 0 {
		keyvals = append(keyvals, "resource_id", strconv.FormatInt(resourceID, 10))
	}
	if m.traceIDFunc != nil {
		keyvals = append(keyvals, "trace_id", m.traceIDFunc())
	}
	m.logger.Info("authorization decision", keyvals...)
}
