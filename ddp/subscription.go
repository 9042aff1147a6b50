package ddp

import (
	"sync"

	"github.com/pfrederiksen/ddp-go/ejson"
	"github.com/pfrederiksen/ddp-go/tracker"
)

// cloneParams deep-copies params through an EJSON round trip, per spec.md
// §3's Subscription record ("params (EJSON-cloned)"). A nil/empty params
// round-trips to nil rather than panicking on the type assertion.
func cloneParams(params []interface{}) []interface{} {
	if len(params) == 0 {
		return nil
	}
	cloned, err := ejson.Clone(params)
	if err != nil {
		return params
	}
	out, ok := cloned.([]interface{})
	if !ok {
		return params
	}
	return out
}

// SubscriptionCallbacks are the optional callbacks passed to Subscribe
// (spec.md §4.5). Any of them may be nil.
type SubscriptionCallbacks struct {
	OnReady func()
	OnError func(err *Error)
	OnStop  func(err *Error)
}

// subscription is the client-side record for one named DDP subscription.
type subscription struct {
	localID  string
	remoteID string
	name     string
	params   []interface{}

	mu       sync.Mutex
	inactive bool
	ready    bool
	readyDep *tracker.Dependency

	callbacks []SubscriptionCallbacks
}

// SubscriptionHandle is returned by Subscribe. Ready wires the current
// reactive computation, if any, to the subscription's readiness state.
type SubscriptionHandle struct {
	sub *subscription
	mgr *SubscriptionManager
}

// SubscriptionID returns the wire-level id of the underlying subscription.
func (h *SubscriptionHandle) SubscriptionID() string {
	return h.sub.remoteID
}

// Ready reports whether the server has sent the matching `ready` message,
// depending the current computation (if any) on future readiness changes.
func (h *SubscriptionHandle) Ready() bool {
	h.sub.mu.Lock()
	dep := h.sub.readyDep
	ready := h.sub.ready
	h.sub.mu.Unlock()
	dep.Depend()
	return ready
}

// Stop tears down the subscription: sends unsub, swallows the resulting
// nosub, and fires the user's OnStop callback(s) with a nil error.
func (h *SubscriptionHandle) Stop() {
	h.mgr.stop(h.sub, nil)
}

// SubscriptionManager implements spec.md §4.5: subscription lifecycle,
// inactive-reuse across reactive reruns, and ready/error/stop dispatch.
type SubscriptionManager struct {
	graph *tracker.Graph

	mu    sync.Mutex
	byID  map[string]*subscription
	order []string
	idGen IDGenerator
	send  func(name, localID, remoteID string, params []interface{}) error
	unsub func(remoteID string) error
	selfUnsub map[string]bool
}

// removeLocked deletes remoteID from byID and its insertion-order slot.
// Callers must hold m.mu.
func (m *SubscriptionManager) removeLocked(remoteID string) {
	delete(m.byID, remoteID)
	for i, id := range m.order {
		if id == remoteID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// NewSubscriptionManager builds a manager that uses idGen to allocate local
// ids, wires readiness dependencies into graph, and delegates wire I/O to
// send/unsub (normally Conn.sendSub / Conn.sendUnsub).
func NewSubscriptionManager(graph *tracker.Graph, idGen IDGenerator, send func(name, localID, remoteID string, params []interface{}) error, unsub func(remoteID string) error) *SubscriptionManager {
	return &SubscriptionManager{
		graph:     graph,
		byID:      make(map[string]*subscription),
		idGen:     idGen,
		send:      send,
		unsub:     unsub,
		selfUnsub: make(map[string]bool),
	}
}

// Subscribe implements spec.md §4.5's subscribe(name, params, callbacks?).
// It reuses an inactive subscription with identical name/params if one
// exists, otherwise allocates a fresh one and sends `sub` on the wire.
func (m *SubscriptionManager) Subscribe(name string, params []interface{}, cb *SubscriptionCallbacks) *SubscriptionHandle {
	params = cloneParams(params)

	m.mu.Lock()
	for _, s := range m.byID {
		s.mu.Lock()
		match := s.name == name && s.inactive && ejson.Equals(s.params, params)
		if match {
			s.inactive = false
			if cb != nil {
				s.callbacks = append(s.callbacks, *cb)
				if s.ready && cb.OnReady != nil {
					cb.OnReady()
				}
			}
		}
		ready := s.ready
		_ = ready
		s.mu.Unlock()
		if match {
			m.mu.Unlock()
			return &SubscriptionHandle{sub: s, mgr: m}
		}
	}

	localID := m.idGen.NewID()
	sub := &subscription{
		localID:  localID,
		remoteID: localID,
		name:     name,
		params:   params,
		readyDep: m.graph.NewDependency(),
	}
	if cb != nil {
		sub.callbacks = append(sub.callbacks, *cb)
	}
	m.byID[sub.remoteID] = sub
	m.order = append(m.order, sub.remoteID)
	m.mu.Unlock()

	// Reactive-reuse rule: a subscribe() inside an active computation marks
	// itself inactive on invalidation and only actually stops if still
	// inactive once the flush settles.
	if comp := m.graph.Current(); comp != nil {
		comp.OnInvalidate(func() {
			sub.mu.Lock()
			sub.inactive = true
			sub.mu.Unlock()
			comp.AfterFlush(func() {
				sub.mu.Lock()
				stillInactive := sub.inactive
				sub.mu.Unlock()
				if stillInactive {
					m.stop(sub, nil)
				}
			})
		})
	}

	if err := m.send(name, localID, sub.remoteID, params); err != nil {
		_ = err // wire failure surfaces via the connection's own error event
	}

	return &SubscriptionHandle{sub: sub, mgr: m}
}

// OnReady implements the `ready{subs:[...]}` transition of spec.md §4.3:
// mark each named subscription ready, invalidate its dependency, fire
// OnReady exactly once.
func (m *SubscriptionManager) OnReady(remoteIDs []string) {
	for _, id := range remoteIDs {
		m.mu.Lock()
		sub, ok := m.byID[id]
		m.mu.Unlock()
		if !ok {
			continue
		}
		sub.mu.Lock()
		if sub.ready {
			sub.mu.Unlock()
			continue
		}
		sub.ready = true
		dep := sub.readyDep
		cbs := append([]SubscriptionCallbacks(nil), sub.callbacks...)
		sub.mu.Unlock()

		dep.Changed()
		for _, cb := range cbs {
			if cb.OnReady != nil {
				cb.OnReady()
			}
		}
	}
}

// OnNoSub implements the `nosub{id,error?}` transition of spec.md §4.3. If
// id was recorded by a local Stop(), the message is swallowed.
func (m *SubscriptionManager) OnNoSub(remoteID string, rawErr map[string]interface{}) {
	m.mu.Lock()
	if m.selfUnsub[remoteID] {
		delete(m.selfUnsub, remoteID)
		m.mu.Unlock()
		return
	}
	sub, ok := m.byID[remoteID]
	if ok {
		m.removeLocked(remoteID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	var normalized *Error
	if rawErr != nil {
		normalized = normalizeError(rawErr)
	}

	sub.mu.Lock()
	wasReady := sub.ready
	dep := sub.readyDep
	cbs := append([]SubscriptionCallbacks(nil), sub.callbacks...)
	sub.mu.Unlock()

	for _, cb := range cbs {
		if cb.OnError != nil {
			cb.OnError(normalized)
		}
	}
	if wasReady {
		dep.Changed()
	}
	for _, cb := range cbs {
		if cb.OnStop != nil {
			cb.OnStop(normalized)
		}
	}
}

// stop implements the Stop() half of the Handle described in spec.md §4.5:
// it sends unsub, records the remote id as self-initiated so the resulting
// nosub is swallowed by OnNoSub, removes the record, and fires OnStop.
func (m *SubscriptionManager) stop(sub *subscription, err *Error) {
	m.mu.Lock()
	_, exists := m.byID[sub.remoteID]
	if exists {
		m.removeLocked(sub.remoteID)
		m.selfUnsub[sub.remoteID] = true
	}
	m.mu.Unlock()
	if !exists {
		return
	}

	if m.unsub != nil {
		_ = m.unsub(sub.remoteID)
	}

	sub.mu.Lock()
	wasReady := sub.ready
	dep := sub.readyDep
	cbs := append([]SubscriptionCallbacks(nil), sub.callbacks...)
	sub.mu.Unlock()

	if wasReady {
		dep.Changed()
	}
	for _, cb := range cbs {
		if cb.OnStop != nil {
			cb.OnStop(err)
		}
	}
}

// ActiveRemoteIDs returns the remote ids of every subscription currently
// registered, used to rebuild the in-flight replay set on reconnect
// (spec.md §4.3).
func (m *SubscriptionManager) ActiveRemoteIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids
}

// Lookup finds a subscription by its wire id, used by name-and-params
// lookups such as VentDispatcher's listen() wiring.
func (m *SubscriptionManager) Lookup(remoteID string) (name string, params []interface{}, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.byID[remoteID]
	if !found {
		return "", nil, false
	}
	return s.name, s.params, true
}
