package adapter

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Factory builds an unconnected adapter. A nil logger discards.
type Factory func(*slog.Logger) Adapter

var registry = struct {
	sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
}{
	factories: make(map[string]Factory),
	aliases:   make(map[string]string),
}

// Register makes an adapter available under name and any aliases. Names are
// case-insensitive. Adapter packages call it from init().
func Register(name string, factory Factory, aliases ...string) {
	registry.Lock()
	defer registry.Unlock()
	name = strings.ToLower(name)
	registry.factories[name] = factory
	for _, alias := range aliases {
		registry.aliases[strings.ToLower(alias)] = name
	}
}

// Lookup resolves name or an alias to the canonical adapter name and its factory.
func Lookup(name string) (string, Factory, error) {
	registry.RLock()
	defer registry.RUnlock()
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := registry.aliases[key]; ok {
		key = canonical
	}
	factory, ok := registry.factories[key]
	if !ok {
		return "", nil, &UnknownAdapterError{Type: name, Available: slices.Sorted(maps.Keys(registry.factories))}
	}
	return key, factory, nil
}

// NewAdapter creates an unconnected adapter for cfg.Type.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	_, factory, err := Lookup(cfg.Type)
	if err != nil {
		return nil, err
	}
	return factory(logger), nil
}

// Names returns the canonical names of all registered adapters, sorted.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	return slices.Sorted(maps.Keys(registry.factories))
}

// UnknownAdapterError is returned when a target names an adapter that is not registered.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q (available: %s); check target.type in leapgrid.yaml",
		e.Type, strings.Join(e.Available, ", "))
}
