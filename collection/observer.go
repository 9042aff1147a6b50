package collection

import (
	"sync"

	"github.com/pfrederiksen/ddp-go/ejson"
	"github.com/pfrederiksen/ddp-go/tracker"
)

// Registry is the ObserverRegistry from spec.md §4.7: cursor observers
// registered via Cursor.Observe, and computation observers registered
// implicitly whenever Collection.Find runs inside an active tracker
// computation.
type Registry struct {
	graph   *tracker.Graph
	matcher Matcher

	mu             sync.Mutex
	cursorObs      map[string][]*cursorObserverEntry // collectionName -> entries
	compObs        map[compKey]*compObserverState
}

type compKey struct {
	collection string
	comp       *tracker.Computation
}

type cursorObserverEntry struct {
	id       uint64
	selector map[string]interface{}
	cb       CursorCallbacks
}

type compObserverState struct {
	dep      *tracker.Dependency
	selector map[string]interface{}
}

var nextObserverID uint64

// NewRegistry creates an empty Registry using matcher (nil defaults to
// Subset) and wiring implicit computation observers into graph.
func NewRegistry(graph *tracker.Graph, matcher Matcher) *Registry {
	if matcher == nil {
		matcher = Subset{}
	}
	return &Registry{
		graph:     graph,
		matcher:   matcher,
		cursorObs: make(map[string][]*cursorObserverEntry),
		compObs:   make(map[compKey]*compObserverState),
	}
}

// ObserverHandle lets a caller detach a cursor observer registered via
// Cursor.Observe.
type ObserverHandle struct {
	registry *Registry
	collection string
	id       uint64
}

// Stop detaches the observer; it will no longer be notified.
func (h *ObserverHandle) Stop() {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	entries := h.registry.cursorObs[h.collection]
	for i, e := range entries {
		if e.id == h.id {
			h.registry.cursorObs[h.collection] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func (r *Registry) addCursorObserver(c *Collection, selector map[string]interface{}, cb CursorCallbacks) *ObserverHandle {
	nextObserverID++
	entry := &cursorObserverEntry{id: nextObserverID, selector: selector, cb: cb}

	r.mu.Lock()
	r.cursorObs[c.name] = append(r.cursorObs[c.name], entry)
	r.mu.Unlock()

	return &ObserverHandle{registry: r, collection: c.name, id: entry.id}
}

// observeComputation wires the currently-running tracker computation (if
// any) as a dependent of (collection, selector); called from Collection.Find.
func (r *Registry) observeComputation(c *Collection, selector map[string]interface{}) {
	comp := r.graph.Current()
	if comp == nil {
		return
	}

	key := compKey{collection: c.name, comp: comp}

	r.mu.Lock()
	state, exists := r.compObs[key]
	if !exists {
		state = &compObserverState{dep: r.graph.NewDependency(), selector: selector}
		r.compObs[key] = state
	} else {
		state.selector = selector
	}
	r.mu.Unlock()

	if !exists {
		comp.OnStop(func() {
			r.mu.Lock()
			delete(r.compObs, key)
			r.mu.Unlock()
		})
	}

	state.dep.Depend()
}

func (r *Registry) notifyAdded(c *Collection, doc Document) {
	r.fireCursorObservers(c.name, nil, doc, func(cb CursorCallbacks) bool { return cb.Added != nil }, func(cb CursorCallbacks, d Document) {
		cb.Added(d)
	})
	r.invalidateComputations(c.name, nil, doc)
}

func (r *Registry) notifyChanged(c *Collection, newDoc, oldDoc Document, _ map[string]interface{}) {
	r.fireCursorObservers(c.name, oldDoc, newDoc, func(cb CursorCallbacks) bool { return cb.Changed != nil }, func(cb CursorCallbacks, d Document) {
		cb.Changed(newDoc, oldDoc)
	})
	r.invalidateComputations(c.name, oldDoc, newDoc)
}

func (r *Registry) notifyRemoved(c *Collection, id string, oldDoc Document) {
	r.mu.Lock()
	entries := append([]*cursorObserverEntry{}, r.cursorObs[c.name]...)
	r.mu.Unlock()

	for _, e := range entries {
		if e.cb.Removed != nil {
			e.cb.Removed(id, oldDoc)
		}
	}

	r.invalidateComputations(c.name, oldDoc, nil)
}

// fireCursorObservers notifies every observer on collectionName whose
// selector matches newDoc (or whose selector is nil), per spec.md §4.7 rule
// 1 (post-image match only).
func (r *Registry) fireCursorObservers(collectionName string, _, newDoc Document, has func(CursorCallbacks) bool, fire func(CursorCallbacks, Document)) {
	r.mu.Lock()
	entries := append([]*cursorObserverEntry{}, r.cursorObs[collectionName]...)
	r.mu.Unlock()

	for _, e := range entries {
		if !has(e.cb) {
			continue
		}
		if e.selector == nil || r.matcher.Match(e.selector, newDoc) {
			fire(e.cb, newDoc)
		}
	}
}

// invalidateComputations implements spec.md §4.7 rule 2: invalidate a
// computation observer when the pre- or post-image's selector match differs,
// short-circuiting on an EJSON-equal no-op rewrite.
func (r *Registry) invalidateComputations(collectionName string, oldDoc, newDoc Document) {
	r.mu.Lock()
	states := make([]*compObserverState, 0)
	for key, state := range r.compObs {
		if key.collection == collectionName {
			states = append(states, state)
		}
	}
	r.mu.Unlock()

	for _, state := range states {
		if r.changeAffects(state.selector, oldDoc, newDoc) {
			state.dep.Changed()
		}
	}
}

func (r *Registry) changeAffects(selector map[string]interface{}, oldDoc, newDoc Document) bool {
	matches := func(d Document) bool {
		if d == nil {
			return false
		}
		return selector == nil || r.matcher.Match(selector, d)
	}

	oldMatch := matches(oldDoc)
	newMatch := matches(newDoc)
	if oldMatch != newMatch {
		return true
	}
	if !oldMatch && !newMatch {
		return false
	}
	if oldDoc != nil && newDoc != nil && ejson.Equals(map[string]interface{}(oldDoc), map[string]interface{}(newDoc)) {
		return false
	}
	return true
}
