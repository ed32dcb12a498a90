package permbit_test

import (
	"context"
	"testing"

	"github.com/permbit/permbit"
)

const sampleYAML = `
version: 1
resources:
  - type: widget
    actions: [save, update, find, findAll, remove]
    defaults:
      - role: editor
        actions: [save, update, find, findAll]
      - role: viewer
        actions: [find, findAll]
  - type: user
    actions: [impersonate]
users:
  - username: root
    admin: true
memberships:
  - username: alice
    role: editor
  - username: bob
    role: viewer
engine:
  decision_cache_ttl_ms: 250
`

func TestConfigLoadYAML(t *testing.T) {
	cfg, err := permbit.NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Resources) != 2 || cfg.Resources[0].Type != "widget" {
		t.Fatalf("unexpected resources: %+v", cfg.Resources)
	}
	if len(cfg.Resources[0].Defaults) != 2 {
		t.Fatalf("expected 2 default grants, got %d", len(cfg.Resources[0].Defaults))
	}
	if cfg.Engine.DecisionCacheTTL != 250 {
		t.Fatalf("expected ttl 250, got %d", cfg.Engine.DecisionCacheTTL)
	}
}

func TestConfigYAMLJSONRoundtrip(t *testing.T) {
	loader := permbit.NewConfigLoader()
	cfg, err := loader.LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	back, err := loader.LoadJSON(data)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(back.Resources) != len(cfg.Resources) || len(back.Memberships) != len(cfg.Memberships) {
		t.Fatalf("roundtrip lost declarations")
	}
}

func TestConfigValidateFailures(t *testing.T) {
	cases := []struct {
		name string
		cfg  *permbit.Config
	}{
		{"missing type", permbit.NewConfigBuilder().Resource("", "find").Build()},
		{"duplicate type", permbit.NewConfigBuilder().Resource("widget", "find").Resource("widget", "find").Build()},
		{"no actions", permbit.NewConfigBuilder().Resource("widget").Build()},
		{"duplicate action", permbit.NewConfigBuilder().Resource("widget", "find", "find").Build()},
		{"default without role", permbit.NewConfigBuilder().Resource("widget", "find").DefaultGrant("", "find").Build()},
		{"default names undeclared action", permbit.NewConfigBuilder().Resource("widget", "find").DefaultGrant("editor", "remove").Build()},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation failure", tc.name)
		}
		if !permbit.IsConfigError(err) {
			t.Fatalf("%s: expected ConfigError, got %v", tc.name, err)
		}
	}
}

func TestApplyConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg, err := permbit.NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if err := f.manager.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	// memberships and default grants are live
	if !f.manager.CheckGeneric(ctx, "alice", "widget", "update") {
		t.Fatalf("alice should hold editor's default grant")
	}
	if f.manager.CheckGeneric(ctx, "bob", "widget", "update") {
		t.Fatalf("bob only holds viewer's default grant")
	}
	if !f.manager.CheckGeneric(ctx, "bob", "widget", "findAll") {
		t.Fatalf("bob should hold viewer's default grant")
	}
	if !f.manager.CheckGeneric(ctx, "root", "widget", "remove") {
		t.Fatalf("root is admin")
	}

	// applying the same declaration again converges instead of failing
	if err := f.manager.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("re-apply config: %v", err)
	}
	if !f.manager.CheckGeneric(ctx, "alice", "widget", "update") {
		t.Fatalf("re-apply must not change the outcome")
	}
}

func TestApplyConfigRefusesChangedActionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := permbit.NewConfigBuilder().Resource("report", "find", "remove").Build()
	if err := f.manager.ApplyConfig(ctx, first); err != nil {
		t.Fatalf("apply: %v", err)
	}
	second := permbit.NewConfigBuilder().Resource("report", "remove", "find").Build()
	if err := f.manager.ApplyConfig(ctx, second); err == nil {
		t.Fatalf("reordered action list must be refused")
	}
}

func TestConfigBuilder(t *testing.T) {
	cfg := permbit.NewConfigBuilder().
		Version(2).
		Resource("widget", "save", "find").
		DefaultGrant("editor", "save", "find").
		User("root", true).
		Membership("alice", "editor").
		EngineSettings(func(e *permbit.EngineConfig) { e.DecisionCacheTTL = 500 }).
		Build()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Version != 2 || cfg.Engine.DecisionCacheTTL != 500 {
		t.Fatalf("builder lost settings: %+v", cfg)
	}
	if len(cfg.Resources) != 1 || len(cfg.Resources[0].Defaults) != 1 {
		t.Fatalf("builder lost declarations: %+v", cfg.Resources)
	}
	if _, err := cfg.ToYAML(); err != nil {
		t.Fatalf("to yaml: %v", err)
	}
}
