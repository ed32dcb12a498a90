package permbit

// ConfigBuilder provides a fluent API for building declarations in code,
// mostly for tests and embedded setups that have no config file.
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:     1,
			Resources:   []ResourceConfig{},
			Users:       []UserConfig{},
			Memberships: []RoleMembership{},
			Engine: EngineConfig{
				DecisionCacheTTL: 1000,
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

// Resource declares a resource type with its ordered action list.
func (b *ConfigBuilder) Resource(resourceType string, actions ...string) *ConfigBuilder {
	b.cfg.Resources = append(b.cfg.Resources, ResourceConfig{Type: resourceType, Actions: actions})
	return b
}

// DefaultGrant attaches a default role grant to the most recently declared
// resource. Calling it before any Resource declaration is a no-op.
func (b *ConfigBuilder) DefaultGrant(role string, actions ...string) *ConfigBuilder {
	if n := len(b.cfg.Resources); n > 0 {
		r := &b.cfg.Resources[n-1]
		r.Defaults = append(r.Defaults, DefaultGrant{Role: role, Actions: actions})
	}
	return b
}

func (b *ConfigBuilder) User(username string, admin bool) *ConfigBuilder {
	b.cfg.Users = append(b.cfg.Users, UserConfig{Username: username, Admin: admin})
	return b
}

func (b *ConfigBuilder) Membership(username, role string) *ConfigBuilder {
	b.cfg.Memberships = append(b.cfg.Memberships, RoleMembership{Username: username, Role: role})
	return b
}

func (b *ConfigBuilder) EngineSettings(fn func(*EngineConfig)) *ConfigBuilder {
	fn(&b.cfg.Engine)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}
