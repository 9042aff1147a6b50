package ddp

import "sync"

// ResultCallback is invoked at most once when a method's `result` message
// arrives (spec.md §4.6). err is nil on success.
type ResultCallback func(err *Error, result interface{})

// pendingMethod is the bookkeeping record for one in-flight method call.
type pendingMethod struct {
	id       string
	method   string
	params   []interface{}
	callback ResultCallback
}

// CallManager implements spec.md §4.6: method-call result correlation.
// `call` sends the method frame and records the callback; the matching
// `result` message dispatches it exactly once.
type CallManager struct {
	mu      sync.Mutex
	pending map[string]*pendingMethod
	order   []string
	idGen   IDGenerator
	send    func(id, method string, params []interface{}) error
}

// NewCallManager builds a CallManager that allocates ids via idGen and
// writes method frames through send (normally Conn.sendMethod).
func NewCallManager(idGen IDGenerator, send func(id, method string, params []interface{}) error) *CallManager {
	return &CallManager{
		pending: make(map[string]*pendingMethod),
		idGen:   idGen,
		send:    send,
	}
}

// Call sends a method invocation and registers cb to receive its result.
// cb may be nil for fire-and-forget calls. The method id is returned so
// callers (e.g. the login path) can track it across reconnects.
func (c *CallManager) Call(method string, params []interface{}, cb ResultCallback) (string, error) {
	id := c.idGen.NewID()
	pm := &pendingMethod{id: id, method: method, params: params, callback: cb}

	c.mu.Lock()
	c.pending[id] = pm
	c.order = append(c.order, id)
	c.mu.Unlock()

	if err := c.send(id, method, params); err != nil {
		c.mu.Lock()
		c.removeLocked(id)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

// OnResult implements the `result{id,result?,error?}` transition of
// spec.md §4.3: dispatch the stored callback at most once and remove the
// record.
func (c *CallManager) OnResult(id string, rawErr map[string]interface{}, result interface{}) {
	c.mu.Lock()
	pm, ok := c.pending[id]
	if ok {
		c.removeLocked(id)
	}
	c.mu.Unlock()
	if !ok || pm.callback == nil {
		return
	}

	var normalized *Error
	if rawErr != nil {
		normalized = normalizeError(rawErr)
	}
	pm.callback(normalized, result)
}

// removeLocked deletes id from pending and its insertion-order slot. Callers
// must hold c.mu.
func (c *CallManager) removeLocked(id string) {
	delete(c.pending, id)
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Pending returns the method name and params for every call still awaiting
// a result, ordered by the sequence Replay should resend them in on
// reconnect (spec.md §4.3). loginID, if non-empty, is moved to the front.
func (c *CallManager) Pending(loginID string) []struct {
	ID     string
	Method string
	Params []interface{}
} {
	c.mu.Lock()
	defer c.mu.Unlock()

	var login *pendingMethod
	others := make([]*pendingMethod, 0, len(c.pending))
	for _, id := range c.order {
		pm := c.pending[id]
		if id == loginID {
			login = pm
			continue
		}
		others = append(others, pm)
	}

	out := make([]struct {
		ID     string
		Method string
		Params []interface{}
	}, 0, len(c.pending))
	if login != nil {
		out = append(out, struct {
			ID     string
			Method string
			Params []interface{}
		}{login.id, login.method, login.params})
	}
	for _, pm := range others {
		out = append(out, struct {
			ID     string
			Method string
			Params []interface{}
		}{pm.id, pm.method, pm.params})
	}
	return out
}
