// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"sort"
	"sync"
)

// Router maps endpoint names to routes. Routes are added at startup;
// once frozen (when a server starts serving) the table never changes,
// and lookups are exact string matches.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*Route
	frozen bool
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]*Route)}
}

// Add registers a route. Returns ErrDuplicateRoute if the name is
// taken and ErrRouterFrozen after Freeze.
func (r *Router) Add(route *Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("adding %s: %w", route.name, ErrRouterFrozen)
	}
	if _, exists := r.routes[route.name]; exists {
		return fmt.Errorf("adding %s: %w", route.name, ErrDuplicateRoute)
	}
	r.routes[route.name] = route
	return nil
}

// Handle creates and registers a route. Panics on an invalid name, a
// duplicate, or a frozen router: these are programming errors in
// startup code.
func (r *Router) Handle(name string, handler HandlerFunc) {
	route, err := NewRoute(name, handler)
	if err != nil {
		panic(fmt.Sprintf("ipc.Router: %v", err))
	}
	if err := r.Add(route); err != nil {
		panic(fmt.Sprintf("ipc.Router: %v", err))
	}
}

// Lookup returns the route registered under exactly name.
func (r *Router) Lookup(name string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[name]
	return route, ok
}

// Routes returns the registered routes sorted by name.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]*Route, 0, len(r.routes))
	for _, route := range r.routes {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].name < routes[j].name
	})
	return routes
}

// Names returns the registered route names sorted.
func (r *Router) Names() []string {
	routes := r.Routes()
	names := make([]string, len(routes))
	for i, route := range routes {
		names[i] = route.name
	}
	return names
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Freeze makes the table immutable. Idempotent.
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Router) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
