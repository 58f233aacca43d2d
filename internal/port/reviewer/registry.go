package reviewer

import (
	"fmt"
	"sync"
)

// Factory is a constructor function that creates a new Agent instance.
type Factory func(config map[string]string) (Agent, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a reviewer factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("reviewer: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a new Agent by name using the registered factory.
func New(name string, config map[string]string) (Agent, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("reviewer: unknown backend %q", name)
	}
	return factory(config)
}

// Available returns the names of all registered reviewer backends.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
