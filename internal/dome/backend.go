// Package dome governs the dome: an abstract backend interface, the module
// registry resolved from config, and the controller state machine that
// enforces the open window, heartbeat and safety rules.
package dome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rockit-astro/opsd/internal/models"
)

// ErrTimeout marks a backend command that ran out of time; it elevates the
// controller to Error immediately, without the communication retry budget.
var ErrTimeout = errors.New("dome command timed out")

// Backend abstracts one dome type. Commands block until the backend
// accepts them; movement completion is observed through Status.
type Backend interface {
	// Status reports the current dome state.
	Status(ctx context.Context) (models.DomeStatus, error)
	// Open and Close command movement with a backend-enforced timeout.
	Open(ctx context.Context, timeout time.Duration) error
	Close(ctx context.Context, timeout time.Duration) error
	// Heartbeat renews the backend's keep-alive with an intent-derived
	// timeout; backends without autonomous closure treat it as a ping.
	Heartbeat(ctx context.Context, timeout time.Duration) error
}

// Factory constructs a backend from its config subkeys.
type Factory func(params map[string]any) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend module under name. Duplicates panic: modules
// register from init and a clash is a programming error.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("dome module %q registered twice", name))
	}
	registry[name] = f
}

// New resolves name and constructs the backend.
func New(name string, params map[string]any) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown dome module %q", name)
	}
	return f(params)
}

// Registered reports whether name resolves; used by config validation.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
