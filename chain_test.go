package permbit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/permbit/permbit"
	"github.com/permbit/permbit/stores"
)

func newGuardFixture(t *testing.T) (*fixture, *permbit.Facade, *permbit.Guard) {
	t.Helper()
	f := newFixture(t)
	facade := permbit.NewFacade(f.manager.Registry(), f.manager)
	return f, facade, permbit.NewGuard(facade)
}

func TestGuardAuthenticatedCheck(t *testing.T) {
	_, _, guard := newGuardFixture(t)
	guard.MustRegister("widgets.list", permbit.Authenticated{})

	fn := func(ctx context.Context) (any, error) { return "ok", nil }

	if _, err := guard.Invoke(context.Background(), "widgets.list", nil, fn); err == nil {
		t.Fatalf("anonymous call must be rejected")
	} else if !permbit.IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ctx := permbit.WithPrincipal(context.Background(), &permbit.Principal{Username: "alice", EntityID: 1})
	result, err := guard.Invoke(ctx, "widgets.list", nil, fn)
	if err != nil {
		t.Fatalf("authenticated call: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result must pass through, got %v", result)
	}
}

func TestGuardRequireRolesWildcard(t *testing.T) {
	_, _, guard := newGuardFixture(t)
	guard.MustRegister("widgets.audit", permbit.RequireRoles{Patterns: []string{"admin*"}})

	fn := func(ctx context.Context) (any, error) { return nil, nil }

	ctx := permbit.WithPrincipal(context.Background(),
		&permbit.Principal{Username: "alice", EntityID: 1, Roles: []string{"admin-eu"}})
	if _, err := guard.Invoke(ctx, "widgets.audit", nil, fn); err != nil {
		t.Fatalf("wildcard role match: %v", err)
	}

	ctx = permbit.WithPrincipal(context.Background(),
		&permbit.Principal{Username: "bob", EntityID: 2, Roles: []string{"viewer"}})
	if _, err := guard.Invoke(ctx, "widgets.audit", nil, fn); !permbit.IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGuardEntityPermissionWithInstanceArg(t *testing.T) {
	f, _, guard := newGuardFixture(t)
	guard.MustRegister("widgets.update",
		permbit.Authenticated{},
		permbit.EntityPermission{Action: "update", Arg: 0})

	alice := f.grantRole(t, context.Background(), "alice", "editor", "widget", "update")
	ctx := permbit.WithPrincipal(context.Background(), alice)

	own := &widget{id: 7, owner: alice.EntityID}
	foreign := &widget{id: 8, owner: alice.EntityID + 1}
	fn := func(ctx context.Context) (any, error) { return nil, nil }

	if _, err := guard.Invoke(ctx, "widgets.update", []any{own}, fn); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if _, err := guard.Invoke(ctx, "widgets.update", []any{foreign}, fn); !permbit.IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGuardEntityPermissionWithIDArg(t *testing.T) {
	f, _, guard := newGuardFixture(t)
	entities := stores.NewMemoryEntityStore()

	guard.MustRegister("widgets.remove",
		permbit.EntityPermission{Action: "remove", Arg: 0, ResourceType: "widget", Loader: entities})

	alice := f.grantRole(t, context.Background(), "alice", "editor", "widget", "remove")
	ctx := permbit.WithPrincipal(context.Background(), alice)
	entities.Put(&widget{id: 7, owner: alice.EntityID})

	fn := func(ctx context.Context) (any, error) { return nil, nil }

	if _, err := guard.Invoke(ctx, "widgets.remove", []any{int64(7)}, fn); err != nil {
		t.Fatalf("remove by id: %v", err)
	}
	// unknown id cannot be resolved into an instance
	if _, err := guard.Invoke(ctx, "widgets.remove", []any{int64(404)}, fn); !permbit.IsConfigError(err) {
		t.Fatalf("expected ConfigError for missing instance, got %v", err)
	}
	// wrong argument shape
	if _, err := guard.Invoke(ctx, "widgets.remove", []any{"seven"}, fn); !permbit.IsConfigError(err) {
		t.Fatalf("expected ConfigError for wrong argument type, got %v", err)
	}
}

func TestGuardGenericPermission(t *testing.T) {
	f, _, guard := newGuardFixture(t)
	guard.MustRegister("widgets.create",
		permbit.GenericPermission{Action: "save", ResourceType: "widget"})
	guard.MustRegister("any.list",
		permbit.GenericPermission{Action: "findAll", TypeArg: 0})

	alice := f.grantRole(t, context.Background(), "alice", "editor", "widget", "save", "findAll")
	ctx := permbit.WithPrincipal(context.Background(), alice)
	fn := func(ctx context.Context) (any, error) { return nil, nil }

	if _, err := guard.Invoke(ctx, "widgets.create", nil, fn); err != nil {
		t.Fatalf("explicit type: %v", err)
	}
	if _, err := guard.Invoke(ctx, "any.list", []any{"widget"}, fn); err != nil {
		t.Fatalf("type from argument: %v", err)
	}

	bob := permbit.WithPrincipal(context.Background(), &permbit.Principal{Username: "bob", EntityID: 99})
	if _, err := guard.Invoke(bob, "widgets.create", nil, fn); !permbit.IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGuardResultPermission(t *testing.T) {
	f, _, guard := newGuardFixture(t)
	guard.MustRegister("widgets.get", permbit.ResultPermission{Action: "find"})

	alice := f.grantRole(t, context.Background(), "alice", "editor", "widget", "find")
	ctx := permbit.WithPrincipal(context.Background(), alice)

	own := &widget{id: 7, owner: alice.EntityID}
	foreign := &widget{id: 8, owner: alice.EntityID + 1}

	if result, err := guard.Invoke(ctx, "widgets.get", nil, func(ctx context.Context) (any, error) {
		return own, nil
	}); err != nil || result != own {
		t.Fatalf("owned result must pass through: %v", err)
	}
	if _, err := guard.Invoke(ctx, "widgets.get", nil, func(ctx context.Context) (any, error) {
		return foreign, nil
	}); !permbit.IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized for a foreign result, got %v", err)
	}
	// nil results pass untouched
	if _, err := guard.Invoke(ctx, "widgets.get", nil, func(ctx context.Context) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("nil result: %v", err)
	}
	// a non-resource result means the check is on the wrong method
	if _, err := guard.Invoke(ctx, "widgets.get", nil, func(ctx context.Context) (any, error) {
		return 42, nil
	}); !permbit.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestGuardRejectsBadRegistration(t *testing.T) {
	_, _, guard := newGuardFixture(t)

	if err := guard.Register("", permbit.Authenticated{}); !permbit.IsConfigError(err) {
		t.Fatalf("empty method name: %v", err)
	}
	if err := guard.Register("m"); !permbit.IsConfigError(err) {
		t.Fatalf("no checks: %v", err)
	}
	if err := guard.Register("m", permbit.RequireRoles{}); !permbit.IsConfigError(err) {
		t.Fatalf("empty role patterns must fail eagerly: %v", err)
	}
	if err := guard.Register("m", permbit.EntityPermission{Arg: 0}); !permbit.IsConfigError(err) {
		t.Fatalf("entity check without action must fail eagerly: %v", err)
	}
	if err := guard.Register("m", permbit.GenericPermission{Action: "find", TypeArg: -1}); !permbit.IsConfigError(err) {
		t.Fatalf("generic check without a type source must fail eagerly: %v", err)
	}
	if err := guard.Register("m", permbit.ResultPermission{}); !permbit.IsConfigError(err) {
		t.Fatalf("result check without action must fail eagerly: %v", err)
	}
}

func TestGuardBusinessErrorsPassThrough(t *testing.T) {
	f, _, guard := newGuardFixture(t)
	guard.MustRegister("widgets.get",
		permbit.Authenticated{},
		permbit.ResultPermission{Action: "find"})

	alice := f.grantRole(t, context.Background(), "alice", "editor", "widget", "find")
	ctx := permbit.WithPrincipal(context.Background(), alice)

	sentinel := errors.New("db down")
	_, err := guard.Invoke(ctx, "widgets.get", nil, func(ctx context.Context) (any, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("business error must pass through untouched, got %v", err)
	}
	if permbit.IsUnauthorized(err) {
		t.Fatalf("business error must not be converted to an authorization failure")
	}
}

func TestGuardUnregisteredMethodRunsUnguarded(t *testing.T) {
	_, _, guard := newGuardFixture(t)

	result, err := guard.Invoke(context.Background(), "widgets.unknown", nil,
		func(ctx context.Context) (any, error) { return "ran", nil })
	if err != nil || result != "ran" {
		t.Fatalf("method without a chain must run unguarded: %v %v", result, err)
	}
}

func TestGuardChainIsANDComposed(t *testing.T) {
	f, _, guard := newGuardFixture(t)
	guard.MustRegister("widgets.update",
		permbit.Authenticated{},
		permbit.RequireRoles{Patterns: []string{"editor"}},
		permbit.EntityPermission{Action: "update", Arg: 0})

	// alice holds the role but no update grant: last check fails
	alice := f.grantRole(t, context.Background(), "alice", "editor", "widget", "find")
	ctx := permbit.WithPrincipal(context.Background(), alice)
	own := &widget{id: 7, owner: alice.EntityID}

	invoked := false
	_, err := guard.Invoke(ctx, "widgets.update", []any{own}, func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	if !permbit.IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if invoked {
		t.Fatalf("business method must not run after a rejected before-check")
	}
}
