package permbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config declares the startup state of the authorization engine: resource
// types with their ordered action lists, default role grants, users and role
// memberships, plus engine tuning. Declarations are applied idempotently, so
// the same file can be applied on every boot.
type Config struct {
	Version     uint16           `json:"version" yaml:"version"`
	Resources   []ResourceConfig `json:"resources" yaml:"resources"`
	Users       []UserConfig     `json:"users" yaml:"users"`
	Memberships []RoleMembership `json:"memberships" yaml:"memberships"`
	Engine      EngineConfig     `json:"engine" yaml:"engine"`
}

// ResourceConfig declares one resource type. Action order is load-bearing:
// it fixes the bit identifiers, so existing entries must never be reordered
// or removed once grants are stored (append only).
type ResourceConfig struct {
	Type     string         `json:"type" yaml:"type"`
	Actions  []string       `json:"actions" yaml:"actions"`
	Defaults []DefaultGrant `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

type UserConfig struct {
	Username string `json:"username" yaml:"username"`
	Admin    bool   `json:"admin,omitempty" yaml:"admin,omitempty"`
}

type RoleMembership struct {
	Username string `json:"username" yaml:"username"`
	Role     string `json:"role" yaml:"role"`
}

type EngineConfig struct {
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks the declaration for structural errors without touching any
// store: duplicate types, empty action lists, default grants naming
// undeclared actions.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if r.Type == "" {
			return configErrorf("config", "resource declaration without a type name")
		}
		if seen[r.Type] {
			return configErrorf("config", "resource type %q declared twice", r.Type)
		}
		seen[r.Type] = true
		if len(r.Actions) == 0 {
			return configErrorf("config", "resource type %q declares no actions", r.Type)
		}
		declared := make(map[string]bool, len(r.Actions))
		for _, a := range r.Actions {
			if declared[a] {
				return configErrorf("config", "resource type %q declares action %q twice", r.Type, a)
			}
			declared[a] = true
		}
		for _, d := range r.Defaults {
			if d.Role == "" {
				return configErrorf("config", "resource type %q has a default grant without a role", r.Type)
			}
			for _, a := range d.Actions {
				if !declared[a] {
					return configErrorf("config", "default grant for role %q names undeclared action %q on %q", d.Role, a, r.Type)
				}
			}
		}
	}
	return nil
}

// ApplyConfig registers the declared action lists, provisions default role
// grants, ensures users and memberships and applies engine tuning. It runs
// at startup, before the first request, and is safe to run repeatedly.
func (m *Manager) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Engine.DecisionCacheTTL > 0 {
		m.decisionCacheTTL = time.Duration(cfg.Engine.DecisionCacheTTL) * time.Millisecond
	}
	if cfg.Engine.RistrettoNumCounter > 0 {
		if err := m.ConfigureRistrettoDecisionCache(cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer); err != nil {
			return err
		}
	}

	for _, r := range cfg.Resources {
		if _, err := m.registry.Register(r.Type, r.Actions...); err != nil {
			return err
		}
		if len(r.Defaults) > 0 {
			if err := m.registry.ProvisionDefaults(ctx, r.Type, m.roles, m.perms, r.Defaults); err != nil {
				return err
			}
		}
	}

	for _, u := range cfg.Users {
		if _, err := m.users.EnsureUser(ctx, u.Username, u.Admin); err != nil {
			return fmt.Errorf("ensure user %q: %w", u.Username, err)
		}
	}

	for _, mem := range cfg.Memberships {
		user, err := m.users.EnsureUser(ctx, mem.Username, false)
		if err != nil {
			return fmt.Errorf("ensure user %q: %w", mem.Username, err)
		}
		role, err := m.roles.EnsureRole(ctx, mem.Role)
		if err != nil {
			return fmt.Errorf("ensure role %q: %w", mem.Role, err)
		}
		if err := m.roles.Assign(ctx, user.ID, role.ID); err != nil {
			return fmt.Errorf("assign role %q to %q: %w", mem.Role, mem.Username, err)
		}
	}

	m.InvalidateRoleCache()
	m.InvalidateDecisionCache()
	return nil
}
