package mapper

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
)

// Factory builds a Mapper from its parsed options. Each sink package
// registers one under a short name at init(), the same
// self-registering-via-init() shape used for command registration
// elsewhere in this codebase. Config resolves a mapper by that name
// instead of reflectively instantiating a class.
type Factory func(opts Options) (Mapper, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds factory under name. Sink packages call this from an
// init() function. Panics on duplicate registration.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("mapper: factory already registered for %q", name))
	}
	registry[name] = factory
}

// Resolve looks up a mapper factory by name and constructs it. Every
// sink lives in one flat namespace, so names are looked up directly
// with no package-qualified search.
func Resolve(name string, opts Options) (Mapper, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, &cdcerrors.ConfigError{
			Option: "sink",
			Reason: fmt.Sprintf("no mapper registered for %q (known: %s)", name, strings.Join(knownNames(), ", ")),
		}
	}
	return factory(opts)
}

func knownNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
