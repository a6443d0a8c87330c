package action

import (
	"fmt"
	"sync"
)

// Definition describes one registered action type.
type Definition struct {
	// Name is the schedule descriptor's "type" value.
	Name string
	// Validate returns human-readable problems with the parameters.
	Validate func(params map[string]any) []string
	// New constructs the action; params were already validated.
	New func(params map[string]any) (Action, error)
}

// Module is a named set of action definitions, selected by the site's
// actions_module config key.
type Module struct {
	Name string
	defs map[string]Definition
}

// NewModule builds a module from definitions.
func NewModule(name string, defs ...Definition) *Module {
	m := &Module{Name: name, defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		m.defs[d.Name] = d
	}
	return m
}

// Lookup resolves an action type within the module.
func (m *Module) Lookup(name string) (Definition, bool) {
	d, ok := m.defs[name]
	return d, ok
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Module)
)

// RegisterModule adds a module to the global registry. Duplicate names
// panic: modules register from init and a clash is a programming error.
func RegisterModule(m *Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[m.Name]; dup {
		panic(fmt.Sprintf("action module %q registered twice", m.Name))
	}
	registry[m.Name] = m
}

// LookupModule resolves a registered module by name.
func LookupModule(name string) (*Module, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[name]
	return m, ok
}

// ModuleRegistered reports whether name resolves; used by config validation.
func ModuleRegistered(name string) bool {
	_, ok := LookupModule(name)
	return ok
}
