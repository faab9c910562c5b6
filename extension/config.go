package extension

// Config holds the Tether extension configuration.
// Fields are set programmatically via Option functions; the extension does
// not load them from configuration files.
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DefaultNamespace is used when a request carries no namespace and the
	// context binds no tenant.
	DefaultNamespace string `json:"default_namespace" mapstructure:"default_namespace" yaml:"default_namespace"`

	// MaxGraphDepth bounds group membership and resource ancestor expansion.
	MaxGraphDepth int `json:"max_graph_depth" mapstructure:"max_graph_depth" yaml:"max_graph_depth"`

	// GroveDatabase is the name of a grove.DB registered in the DI container.
	// The extension does not read this field: the store comes from a
	// store.Store in the DI container or from a WithStore engine option.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig is carried on the struct but not read by Register; a
	// missing configuration never produces an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxGraphDepth: 50,
	}
}
