package steerable

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a backend from its opaque construction parameters, as they
// appear under steerable_system_config in the run configuration.
type Factory func(config map[string]any) (Steerable, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Factory)
)

// Register makes a backend constructible by type name. Backends register
// from an init function in their own package.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("steerable: duplicate backend registration %q", name))
	}
	registry[name] = factory
}

// New builds the named backend.
func New(name string, config map[string]any) (Steerable, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown steerable backend %q (available: %v)", name, Names())
	}
	return factory(config)
}

// Names lists registered backend type names, sorted.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
