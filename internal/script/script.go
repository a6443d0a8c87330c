// Package script maps a site's scripts_module name to named schedule
// generators. A script expands to an ordinary schedule, which the daemon
// commits through the same atomic path as schedule_observations.
package script

import (
	"fmt"
	"sync"
	"time"

	"github.com/rockit-astro/opsd/internal/models"
)

// Context is what a script sees of the site when it runs.
type Context struct {
	Now              time.Time
	SiteLatitude     float64
	SiteLongitude    float64
	SunAltitudeLimit float64
	Args             []string
}

// Script is one named schedule generator.
type Script struct {
	Name string
	Run  func(ctx Context) (models.Schedule, error)
}

// Module is a named set of scripts, selected by the scripts_module key.
type Module struct {
	Name    string
	scripts map[string]Script
}

// NewModule builds a module from scripts.
func NewModule(name string, scripts ...Script) *Module {
	m := &Module{Name: name, scripts: make(map[string]Script, len(scripts))}
	for _, s := range scripts {
		m.scripts[s.Name] = s
	}
	return m
}

// Lookup resolves a script within the module.
func (m *Module) Lookup(name string) (Script, bool) {
	s, ok := m.scripts[name]
	return s, ok
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Module)
)

// RegisterModule adds a module to the global registry.
func RegisterModule(m *Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[m.Name]; dup {
		panic(fmt.Sprintf("script module %q registered twice", m.Name))
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
