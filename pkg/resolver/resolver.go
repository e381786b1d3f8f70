// Package resolver turns registry declarations into engine handles once the
// engine reports that its data exchange is ready.
package resolver

import (
	"fmt"
	"log/slog"

	"github.com/boristopalov/bca/pkg/core"
	"github.com/boristopalov/bca/pkg/registry"
)

// Resolver owns the handle cache for one run.
type Resolver struct {
	engine   core.Engine
	registry *registry.Registry
	log      *slog.Logger

	handles  map[string]core.Handle
	resolved bool
}

// New creates a resolver over the declarations in reg.
func New(engine core.Engine, reg *registry.Registry, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		engine:   engine,
		registry: reg,
		log:      log,
		handles:  make(map[string]core.Handle),
	}
}

// ResolveAll polls the engine and, once it is ready, resolves every declared
// metric. It reports whether all handles are available. Until the engine is
// ready it returns (false, nil) and should be called again on the next
// callback. After a successful resolution it is a no-op.
func (r *Resolver) ResolveAll(state core.State) (bool, error) {
	if r.resolved {
		return true, nil
	}
	if !r.engine.ReadyForHandles(state) {
		return false, nil
	}

	handles := make(map[string]core.Handle, r.registry.Len())
	for _, d := range r.registry.Declarations() {
		if d.Category == core.Weather {
			// forecast queries go through WeatherForecast, no handle needed
			continue
		}
		if len(d.Key) != d.Category.KeyArity() {
			return false, fmt.Errorf("%w: %s %q needs %d key fields to resolve a handle, got %s",
				core.ErrMalformedDeclaration, d.Category, d.Name, d.Category.KeyArity(), d.Key)
		}
		h := r.engine.ResolveHandle(state, d.Category, d.Key)
		if h == core.InvalidHandle {
			return false, &core.HandleNotFoundError{Name: d.Name, Category: d.Category, Key: d.Key}
		}
		handles[d.Name] = h
	}

	r.handles = handles
	r.resolved = true
	r.log.Info("engine handles resolved", "count", len(handles))
	return true, nil
}

// Resolved reports whether ResolveAll has completed successfully.
func (r *Resolver) Resolved() bool {
	return r.resolved
}

// Handle returns the cached handle for a declared, non-weather metric.
func (r *Resolver) Handle(name string) (core.Handle, error) {
	if !r.resolved {
		return core.InvalidHandle, fmt.Errorf("handle for %q requested before resolution", name)
	}
	h, ok := r.handles[name]
	if !ok {
		return core.InvalidHandle, fmt.Errorf("%w: no handle for %q", core.ErrUnknownMetric, name)
	}
	return h, nil
}

// Reset drops every cached handle so a fresh run resolves again.
func (r *Resolver) Reset() {
	r.handles = make(map[string]core.Handle)
	r.resolved = false
}
