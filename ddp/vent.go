package ddp

import "sync"

// ventSentinelKey is the field VentDispatcher looks for on every `changed`
// message to recognize a side-channel event (spec.md §4.10).
const ventSentinelKey = "__vent"

// VentHandle augments a SubscriptionHandle with Listen, the side-channel
// event hook spec.md §4.10 describes as "a listen(handler) method on the
// handle."
type VentHandle struct {
	*SubscriptionHandle
	dispatcher *VentDispatcher
}

// Listen registers fn to receive every vent event delivered for this
// subscription's wire id.
func (h *VentHandle) Listen(fn func(event interface{})) {
	h.dispatcher.register(h.SubscriptionID(), fn)
}

// VentDispatcher implements spec.md §4.10: it inspects every `changed`
// message for the `__vent` sentinel and routes matching payloads to the
// listener registered for that subscription id, bypassing CollectionStore
// entirely.
type VentDispatcher struct {
	mu        sync.Mutex
	listeners map[string]func(event interface{})
}

// NewVentDispatcher builds an empty VentDispatcher.
func NewVentDispatcher() *VentDispatcher {
	return &VentDispatcher{listeners: make(map[string]func(event interface{}))}
}

// Subscribe establishes a vent subscription through the normal subscribe
// path and returns a VentHandle with the additional Listen hook.
func (d *VentDispatcher) Subscribe(subs *SubscriptionManager, name string, params []interface{}, cb *SubscriptionCallbacks) *VentHandle {
	h := subs.Subscribe(name, params, cb)
	return &VentHandle{SubscriptionHandle: h, dispatcher: d}
}

func (d *VentDispatcher) register(subscriptionID string, fn func(event interface{})) {
	d.mu.Lock()
	d.listeners[subscriptionID] = fn
	d.mu.Unlock()
}

// Inspect examines an inbound `changed` frame's fields for the vent
// sentinel; if present, it dispatches the event and reports true so the
// caller can skip normal CollectionStore handling for this message.
func (d *VentDispatcher) Inspect(fields map[string]interface{}, subscriptionID string) bool {
	if fields == nil {
		return false
	}
	sentinel, ok := fields[ventSentinelKey]
	if !ok {
		return false
	}
	if s, ok := sentinel.(string); !ok || s != "1" {
		return false
	}

	d.mu.Lock()
	fn := d.listeners[subscriptionID]
	d.mu.Unlock()
	if fn != nil {
		fn(fields["e"])
	}
	return true
}

// Reset drops every registered listener, used when tearing down a
// connection's vent state entirely (spec.md §6 "vent subscribe/reset").
func (d *VentDispatcher) Reset() {
	d.mu.Lock()
	d.listeners = make(map[string]func(event interface{}))
	d.mu.Unlock()
}
