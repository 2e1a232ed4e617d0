package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
)

// ErrUnknownApp is returned when an entry reference resolves to nothing.
var ErrUnknownApp = errors.New("unknown application entry")

// Builder mounts an application's routes onto a Fiber app.
type Builder func(app *fiber.App)

// Registry maps application entry references ("membrane:app" style) to
// builders. The launcher resolves the configured reference exactly once at
// startup; an unknown reference is fatal before the listener binds.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under the given entry reference.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Resolve returns the builder for the entry reference. The error names the
// registered entries so a typo in APP_MODULE is diagnosable from the log.
func (r *Registry) Resolve(name string) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.builders[name]; ok {
		return b, nil
	}

	known := make([]string, 0, len(r.builders))
	for k := range r.builders {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownApp, name, strings.Join(known, ", "))
}
