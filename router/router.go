// Package router resolves tool ids to handlers through a byte trie.
//
// Lookups walk one node per byte of the tool id, so resolution cost does
// not depend on how many tools are registered. Namespaces bound with
// BindNamespace attach capability requirements to every tool under a
// byte prefix.
package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/message"
)

var (
	// ErrToolNotFound is returned when no route matches a tool id exactly.
	ErrToolNotFound = errors.New("tool not found")

	// ErrFrozen is returned by mutations after Freeze.
	ErrFrozen = errors.New("router is frozen")

	// ErrEmptyToolID rejects registration of the empty id.
	ErrEmptyToolID = errors.New("empty tool id")
)

// Route is one registered tool. Routes are immutable once published;
// BindNamespace republishes affected routes with updated requirements.
type Route struct {
	ToolID  string
	Handler Handler
	Schema  *message.Schema

	// Requires is the route's own capabilities plus those of every
	// namespace bound along its path.
	Requires capability.Manifest

	own capability.Manifest
}

// Option configures a route at registration.
type Option func(*Route)

// WithSchema validates arguments before the handler runs.
func WithSchema(s *message.Schema) Option {
	return func(r *Route) { r.Schema = s }
}

// WithCapability requires ids in the negotiated manifest.
func WithCapability(ids ...capability.ID) Option {
	return func(r *Route) {
		for _, id := range ids {
			r.own = r.own.Set(id)
		}
	}
}

type node struct {
	children  map[byte]*node
	route     *Route
	namespace capability.Manifest
}

func (n *node) child(b byte) *node {
	if n.children == nil {
		return nil
	}
	return n.children[b]
}

// Router owns the tool trie. Register during startup, Freeze, then share
// across connections; a frozen router resolves without locking.
type Router struct {
	mu     sync.RWMutex
	root   *node
	count  int
	frozen atomic.Bool
	logger zerolog.Logger
}

// New creates an empty router.
func New(logger zerolog.Logger) *Router {
	return &Router{root: &node{}, logger: logger.With().Str("component", "router").Logger()}
}

// Register binds handler to toolID. Registering an existing id replaces
// its handler; replaced reports that and a warning is logged.
func (r *Router) Register(toolID string, handler Handler, opts ...Option) (replaced bool, err error) {
	if toolID == "" {
		return false, ErrEmptyToolID
	}
	if handler == nil {
		return false, fmt.Errorf("nil handler for tool '%s'", toolID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return false, fmt.Errorf("%w: cannot register '%s'", ErrFrozen, toolID)
	}

	route := &Route{ToolID: toolID, Handler: handler}
	for _, opt := range opts {
		opt(route)
	}

	n := r.root
	inherited := n.namespace
	for i := 0; i < len(toolID); i++ {
		b := toolID[i]
		next := n.child(b)
		if next == nil {
			if n.children == nil {
				n.children = make(map[byte]*node)
			}
			next = &node{}
			n.children[b] = next
		}
		n = next
		inherited = inherited.Union(n.namespace)
	}
	route.Requires = route.own.Union(inherited)

	replaced = n.route != nil
	n.route = route
	if replaced {
		r.logger.Warn().Str("tool", toolID).Msg("tool handler replaced")
	} else {
		r.count++
	}
	return replaced, nil
}

// MustRegister is Register for static tool tables; it panics on error.
func (r *Router) MustRegister(toolID string, handler Handler, opts ...Option) {
	if _, err := r.Register(toolID, handler, opts...); err != nil {
		panic(err)
	}
}

// BindNamespace makes every tool whose id starts with prefix, registered
// now or later, require id.
func (r *Router) BindNamespace(prefix string, id capability.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot bind namespace '%s'", ErrFrozen, prefix)
	}

	n := r.root
	for i := 0; i < len(prefix); i++ {
		b := prefix[i]
		next := n.child(b)
		if next == nil {
			if n.children == nil {
				n.children = make(map[byte]*node)
			}
			next = &node{}
			n.children[b] = next
		}
		n = next
	}
	n.namespace = n.namespace.Set(id)

	republish(n, id)
	return nil
}

// republish replaces every route under n with a copy that requires id.
func republish(n *node, id capability.ID) {
	if n.route != nil {
		cp := *n.route
		cp.Requires = cp.Requires.Set(id)
		n.route = &cp
	}
	for _, c := range n.children {
		republish(c, id)
	}
}

// Freeze ends registration. Later Register and BindNamespace calls fail
// with ErrFrozen.
func (r *Router) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Router) Frozen() bool {
	return r.frozen.Load()
}

// Resolve returns the route registered for exactly toolID.
func (r *Router) Resolve(toolID string) (*Route, bool) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	n := r.root
	for i := 0; i < len(toolID); i++ {
		if n = n.child(toolID[i]); n == nil {
			return nil, false
		}
	}
	if n.route == nil {
		return nil, false
	}
	return n.route, true
}

// Len returns the number of registered tools.
func (r *Router) Len() int {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return r.count
}

// Tools returns the registered tool ids in byte order.
func (r *Router) Tools() []string {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	out := make([]string, 0, r.count)
	r.walk(func(route *Route) { out = append(out, route.ToolID) })
	sort.Strings(out)
	return out
}

// Manifest returns the union of every route's requirements. Servers add
// it to their protocol manifest so peers learn which categories are served.
func (r *Router) Manifest() capability.Manifest {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	var m capability.Manifest
	r.walk(func(route *Route) { m = m.Union(route.Requires) })
	return m
}

func (r *Router) walk(fn func(*Route)) {
	var visit func(*node)
	visit = func(n *node) {
		if n.route != nil {
			fn(n.route)
		}
		for _, c := range n.children {
			visit(c)
		}
	}
	visit(r.root)
}
