package permbit

import (
	"context"
	"fmt"
	"sync"

	"github.com/permbit/permbit/logger"
	"github.com/permbit/permbit/utils"
)

// The enforcement chain wraps business-method invocations with an ordered
// set of declarative checks. Each intercepted call walks a small state
// machine: pending -> authorized -> executed -> done, or -> rejected the
// moment any check fails.

type callState int

const (
	statePending callState = iota
	stateAuthorized
	stateExecuted
	stateDone
	stateRejected
)

func (s callState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateAuthorized:
		return "authorized"
	case stateExecuted:
		return "executed"
	case stateDone:
		return "done"
	case stateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Invocation carries one intercepted call through the chain: the method
// name, its live argument list and the facade the checks decide against.
type Invocation struct {
	Method string
	Args   []any
	Facade *Facade

	state callState
}

// State returns the current lifecycle state name, for logging.
func (inv *Invocation) State() string { return inv.state.String() }

// Check is one composable unit of the chain. A concrete check implements
// BeforeCheck, AfterCheck or both.
type Check interface {
	Kind() string
}

// BeforeCheck runs before the business method; a non-nil error rejects the
// call without invoking it.
type BeforeCheck interface {
	Check
	Before(ctx context.Context, inv *Invocation) error
}

// AfterCheck runs after the business method returned; a non-nil error
// rejects the call's result.
type AfterCheck interface {
	Check
	After(ctx context.Context, inv *Invocation, result any) error
}

// validatable checks are verified eagerly when registered, so configuration
// errors surface at setup time instead of inside business logic.
type validatable interface {
	Validate() error
}

// ----------------------------------------------------------------------------
// Check kinds
// ----------------------------------------------------------------------------

// Authenticated fails unless a signed-in principal is bound to the context.
// Per the error taxonomy this is a hard Unauthorized, not a silent deny: the
// caller should be told to sign in.
type Authenticated struct{}

func (Authenticated) Kind() string { return "authenticated" }

func (Authenticated) Before(ctx context.Context, _ *Invocation) error {
	p, ok := FromContext(ctx)
	if !ok || !p.Authenticated() {
		return fmt.Errorf("authentication required: %w", ErrUnauthorized)
	}
	return nil
}

// RequireRoles fails unless the principal holds at least one role matching
// one of the patterns. Patterns may use wildcards ("admin*").
type RequireRoles struct {
	Patterns []string
}

func (RequireRoles) Kind() string { return "require-roles" }

func (c RequireRoles) Validate() error {
	if len(c.Patterns) == 0 {
		return configErrorf("require-roles check", "no role patterns configured")
	}
	return nil
}

func (c RequireRoles) Before(ctx context.Context, _ *Invocation) error {
	p, ok := FromContext(ctx)
	if !ok {
		return fmt.Errorf("role check without identity: %w", ErrUnauthorized)
	}
	for _, pattern := range c.Patterns {
		for _, role := range p.Roles {
			if utils.MatchName(role, pattern) {
				return nil
			}
		}
	}
	return fmt.Errorf("none of the required roles held: %w", ErrUnauthorized)
}

// EntityPermission resolves the target resource instance from an argument
// and requires the action on it. The argument either is the Entity itself or
// is an id; the id form needs ResourceType plus a Loader to materialize the
// instance.
type EntityPermission struct {
	Action       string
	Arg          int
	ResourceType string
	Loader       EntityLoader
}

func (EntityPermission) Kind() string { return "entity-permission" }

func (c EntityPermission) Validate() error {
	if c.Action == "" {
		return configErrorf("entity-permission check", "no action configured")
	}
	if c.Arg < 0 {
		return configErrorf("entity-permission check", "negative argument index %d", c.Arg)
	}
	return nil
}

func (c EntityPermission) Before(ctx context.Context, inv *Invocation) error {
	entity, err := c.resolve(ctx, inv)
	if err != nil {
		return err
	}
	if !inv.Facade.CanEntity(ctx, entity, c.Action) {
		return fmt.Errorf("action %q on %s/%d: %w", c.Action, entity.ResourceType(), entity.EntityID(), ErrUnauthorized)
	}
	return nil
}

func (c EntityPermission) resolve(ctx context.Context, inv *Invocation) (Entity, error) {
	if c.Arg >= len(inv.Args) {
		return nil, configErrorf("entity-permission check", "method %q has no argument %d", inv.Method, c.Arg)
	}
	switch v := inv.Args[c.Arg].(type) {
	case Entity:
		return v, nil
	case int64, int, uint64:
		if c.ResourceType == "" || c.Loader == nil {
			return nil, configErrorf("entity-permission check",
				"method %q argument %d is an id but no resource type/loader is configured", inv.Method, c.Arg)
		}
		entity, err := c.Loader.LoadEntity(ctx, c.ResourceType, asInt64(v))
		if err != nil || entity == nil {
			return nil, configErrorf("entity-permission check",
				"method %q: resource %s/%v not found by lookup: %v", inv.Method, c.ResourceType, v, err)
		}
		return entity, nil
	default:
		return nil, configErrorf("entity-permission check",
			"method %q argument %d is %T, expected a resource instance or id", inv.Method, c.Arg, v)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}

// GenericPermission requires a class-level grant. The resource type is
// either explicit or read from a string argument.
type GenericPermission struct {
	Action       string
	ResourceType string
	// TypeArg names the argument carrying the resource type when
	// ResourceType is empty. Negative means unused.
	TypeArg int
}

func (GenericPermission) Kind() string { return "generic-permission" }

func (c GenericPermission) Validate() error {
	if c.Action == "" {
		return configErrorf("generic-permission check", "no action configured")
	}
	if c.ResourceType == "" && c.TypeArg < 0 {
		return configErrorf("generic-permission check", "neither resource type nor type argument configured")
	}
	return nil
}

func (c GenericPermission) Before(ctx context.Context, inv *Invocation) error {
	resourceType := c.ResourceType
	if resourceType == "" {
		if c.TypeArg >= len(inv.Args) {
			return configErrorf("generic-permission check", "method %q has no argument %d", inv.Method, c.TypeArg)
		}
		s, ok := inv.Args[c.TypeArg].(string)
		if !ok {
			return configErrorf("generic-permission check",
				"method %q argument %d is %T, expected a resource type name", inv.Method, c.TypeArg, inv.Args[c.TypeArg])
		}
		resourceType = s
	}
	if !inv.Facade.CanGeneric(ctx, resourceType, c.Action) {
		return fmt.Errorf("action %q on type %q: %w", c.Action, resourceType, ErrUnauthorized)
	}
	return nil
}

// ResultPermission checks the returned value after the call executed. Nil
// results pass through untouched; a non-resource result is a configuration
// error, since the check was attached to the wrong kind of method.
type ResultPermission struct {
	Action string
}

func (ResultPermission) Kind() string { return "result-permission" }

func (c ResultPermission) Validate() error {
	if c.Action == "" {
		return configErrorf("result-permission check", "no action configured")
	}
	return nil
}

func (c ResultPermission) After(ctx context.Context, inv *Invocation, result any) error {
	if result == nil {
		return nil
	}
	entity, ok := result.(Entity)
	if !ok {
		return configErrorf("result-permission check",
			"method %q returned %T, expected a resource instance or nil", inv.Method, result)
	}
	if !inv.Facade.CanEntity(ctx, entity, c.Action) {
		return fmt.Errorf("action %q on returned %s/%d: %w", c.Action, entity.ResourceType(), entity.EntityID(), ErrUnauthorized)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Guard
// ----------------------------------------------------------------------------

// Guard holds the registered check chains, one ordered slice per method
// name, built at service-registration time.
type Guard struct {
	facade *Facade
	logger logger.Logger

	mu      sync.RWMutex
	methods map[string][]Check
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger installs a Logger on the Guard.
func WithGuardLogger(l logger.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

func NewGuard(facade *Facade, opts ...GuardOption) *Guard {
	g := &Guard{
		facade:  facade,
		logger:  logger.NewNullLogger(),
		methods: make(map[string][]Check),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register attaches a check chain to a method name. Checks that expose
// configuration are validated now; a bad configuration is refused here,
// before any request reaches the method.
func (g *Guard) Register(method string, checks ...Check) error {
	if method == "" {
		return configErrorf("guard", "empty method name")
	}
	if len(checks) == 0 {
		return configErrorf("guard", "method %q registered with no checks", method)
	}
	for _, c := range checks {
		if _, before := c.(BeforeCheck); !before {
			if _, after := c.(AfterCheck); !after {
				return configErrorf("guard", "method %q: check %q implements neither Before nor After", method, c.Kind())
			}
		}
		if v, ok := c.(validatable); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	g.mu.Lock()
	g.methods[method] = append(g.methods[method], checks...)
	g.mu.Unlock()
	return nil
}

// MustRegister is Register for static startup wiring.
func (g *Guard) MustRegister(method string, checks ...Check) {
	if err := g.Register(method, checks...); err != nil {
		panic(err)
	}
}

// Invoke runs the registered chain around fn. Before-checks run in
// registration order and are AND-composed; the first failure rejects the
// call without invoking fn. After-checks see fn's result. A method with no
// registered chain runs unguarded.
func (g *Guard) Invoke(ctx context.Context, method string, args []any, fn func(ctx context.Context) (any, error)) (any, error) {
	g.mu.RLock()
	checks := g.methods[method]
	g.mu.RUnlock()

	inv := &Invocation{Method: method, Args: args, Facade: g.facade, state: statePending}

	for _, c := range checks {
		before, ok := c.(BeforeCheck)
		if !ok {
			continue
		}
		if err := before.Before(ctx, inv); err != nil {
			inv.state = stateRejected
			g.logger.Debug("call rejected", "method", method, "check", c.Kind(), "state", inv.State())
			return nil, err
		}
	}
	inv.state = stateAuthorized

	result, err := fn(ctx)
	if err != nil {
		// business error, not an authorization outcome
		return result, err
	}
	inv.state = stateExecuted

	for _, c := range checks {
		after, ok := c.(AfterCheck)
		if !ok {
			continue
		}
		if err := after.After(ctx, inv, result); err != nil {
			inv.state = stateRejected
			g.logger.Debug("result rejected", "method", method, "check", c.Kind(), "state", inv.State())
			return nil, err
		}
	}
	inv.state = stateDone
	return result, nil
}
