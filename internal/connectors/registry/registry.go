package registry

import (
	"fmt"
	"strings"

	"github.com/darrentmorgan/singura/internal/discovery"
)

// Definition describes one supported platform and builds connectors for it.
type Definition interface {
	Kind() string
	DisplayName() string
	NewConnector(creds discovery.OAuthCredentials) (Connector, error)
}

// Registry is the central registry for all platform definitions.
// Registration order is the order discovery runs and results are reported in.
type Registry struct {
	definitions map[string]Definition
	order       []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]Definition),
		order:       make([]string, 0),
	}
}

// Register adds a platform definition to the registry.
func (r *Registry) Register(def Definition) error {
	kind := strings.ToLower(strings.TrimSpace(def.Kind()))
	if kind == "" {
		return fmt.Errorf("platform kind cannot be empty")
	}
	if _, exists := r.definitions[kind]; exists {
		return fmt.Errorf("platform kind %q already registered", kind)
	}
	r.definitions[kind] = def
	r.order = append(r.order, kind)
	return nil
}

// Get retrieves a platform definition by kind.
func (r *Registry) Get(kind string) (Definition, bool) {
	def, ok := r.definitions[strings.ToLower(strings.TrimSpace(kind))]
	return def, ok
}

// All returns every registered definition in registration order.
func (r *Registry) All() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, kind := range r.order {
		defs = append(defs, r.definitions[kind])
	}
	return defs
}

// Kinds returns the registered platform kinds in registration order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, len(r.order))
	copy(kinds, r.order)
	return kinds
}

// NewConnector builds a connector for the given platform kind.
func (r *Registry) NewConnector(kind string, creds discovery.OAuthCredentials) (Connector, error) {
	def, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("unknown platform kind %q", kind)
	}
	return def.NewConnector(creds)
}
