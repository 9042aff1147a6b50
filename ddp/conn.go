package ddp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pfrederiksen/ddp-go/collection"
	"github.com/pfrederiksen/ddp-go/tracker"
)

// Status is the DDPClient connection state (spec.md §3 "Session").
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ConnectedEvent is delivered on the `connected` transition.
type ConnectedEvent struct {
	SessionReused bool
}

// ConnOptions configures a Conn.
type ConnOptions struct {
	URL               string
	Dialer            Dialer
	IDGen             IDGenerator
	Store             *collection.Store
	Graph             *tracker.Graph
	Logger            FieldLogger
	AutoReconnect     bool
	ReconnectInterval time.Duration
	IsPrivate         bool
	Vent              *VentDispatcher
}

// Conn is the DDPClient protocol state machine of spec.md §4.3. It owns a
// Socket and Queue, drives the SubscriptionManager and CallManager from
// inbound frames, and replays in-flight state across reconnects.
type Conn struct {
	socket *Socket
	queue  *Queue
	subs   *SubscriptionManager
	calls  *CallManager
	store  *collection.Store
	idGen  IDGenerator
	log    FieldLogger
	async  asyncDispatcher
	vent   *VentDispatcher

	autoReconnect     bool
	reconnectInterval time.Duration
	isPrivate         bool

	mu            sync.Mutex
	status        Status
	sessionID     string
	loginMethodID string

	onConnected    func(ConnectedEvent)
	onDisconnected func()
	onAdded        func(collectionName, id string, fields map[string]interface{})
	onChanged      func(collectionName, id string, fields map[string]interface{}, cleared []string)
	onRemoved      func(collectionName, id string)
	onError        func(*Error)
}

// NewConn builds a Conn from opts. If opts.Logger is nil, a stderr logrus
// logger is used (ddp.defaultLogger).
func NewConn(opts ConnOptions) *Conn {
	log := opts.Logger
	if log == nil {
		log = defaultLogger()
	}
	graph := opts.Graph
	if graph == nil {
		graph = tracker.NewGraph()
	}
	c := &Conn{
		store:             opts.Store,
		idGen:             opts.IDGen,
		log:               log,
		autoReconnect:     opts.AutoReconnect,
		reconnectInterval: opts.ReconnectInterval,
		isPrivate:         opts.IsPrivate,
		status:            StatusDisconnected,
		vent:              opts.Vent,
	}

	c.socket = NewSocket(opts.URL, opts.Dialer, log)
	c.queue = NewQueue(func(f frame) bool {
		c.mu.Lock()
		connected := c.status == StatusConnected
		c.mu.Unlock()
		if !connected {
			return false
		}
		return c.socket.Send(f) == nil
	})
	c.subs = NewSubscriptionManager(graph, opts.IDGen, c.sendSub, c.sendUnsub)
	c.calls = NewCallManager(opts.IDGen, c.sendMethod)

	c.socket.OnOpen(c.handleOpen)
	c.socket.OnClose(c.handleClose)
	c.socket.OnMessage(c.handleMessage)
	c.socket.OnError(c.handleSocketError)
	c.socket.OnRawOut(func(f frame) {
		log.Debugf("out %v", redact(c.isPrivate, f))
	})

	return c
}

// Subscriptions returns the manager backing Subscribe/Stop, for the public
// façade to delegate to.
func (c *Conn) Subscriptions() *SubscriptionManager { return c.subs }

// Calls returns the manager backing method invocation, for the public
// façade to delegate to.
func (c *Conn) Calls() *CallManager { return c.calls }

// Status reports the current connection state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials the socket, a no-op if already connecting/connected
// (Socket.Open is itself idempotent, spec.md §4.1).
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.status = StatusConnecting
	}
	c.mu.Unlock()
	return c.socket.Open(ctx)
}

// Disconnect closes the socket. If autoReconnect was enabled it is
// suppressed for this explicit call; the caller must Connect again.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.autoReconnect = false
	c.mu.Unlock()
	return c.socket.Close()
}

// SetAutoReconnect toggles whether a dropped socket is redialed
// automatically. Reconnect uses this to re-arm the flag Disconnect clears.
func (c *Conn) SetAutoReconnect(enabled bool) {
	c.mu.Lock()
	c.autoReconnect = enabled
	c.mu.Unlock()
}

// OnConnected registers the handler for the `connected` transition.
func (c *Conn) OnConnected(fn func(ConnectedEvent)) { c.onConnected = fn }

// OnDisconnected registers the handler for socket close.
func (c *Conn) OnDisconnected(fn func()) { c.onDisconnected = fn }

// OnAdded registers the handler fired after CollectionStore applies an
// `added` message (spec.md §4.3).
func (c *Conn) OnAdded(fn func(collectionName, id string, fields map[string]interface{})) {
	c.onAdded = fn
}

// OnChanged registers the handler fired after CollectionStore applies a
// `changed` message.
func (c *Conn) OnChanged(fn func(collectionName, id string, fields map[string]interface{}, cleared []string)) {
	c.onChanged = fn
}

// OnRemoved registers the handler fired after CollectionStore applies a
// `removed` message.
func (c *Conn) OnRemoved(fn func(collectionName, id string)) { c.onRemoved = fn }

// OnError registers the handler for unrecognized `msg` values and
// transport errors surfaced as protocol-level errors.
func (c *Conn) OnError(fn func(*Error)) { c.onError = fn }

// Call sends a method invocation; see CallManager.Call.
func (c *Conn) Call(method string, params []interface{}, cb ResultCallback) (string, error) {
	return c.calls.Call(method, params, cb)
}

// MarkLoginMethod records id as the current login call so that, on
// reconnect, it is replayed ahead of other pending methods (spec.md §4.3).
func (c *Conn) MarkLoginMethod(id string) {
	c.mu.Lock()
	c.loginMethodID = id
	c.mu.Unlock()
}

func (c *Conn) handleOpen() {
	c.mu.Lock()
	session := c.sessionID
	c.mu.Unlock()
	_ = c.socket.Send(newConnectFrame(session))
}

func (c *Conn) handleClose() {
	c.mu.Lock()
	c.status = StatusDisconnected
	autoReconnect := c.autoReconnect
	interval := c.reconnectInterval
	c.mu.Unlock()

	c.async.emit(func() {
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
	})

	if autoReconnect {
		go func() {
			time.Sleep(interval)
			_ = c.Connect(context.Background())
		}()
	}
}

func (c *Conn) handleSocketError(se SocketError) {
	c.async.emit(func() {
		if c.onError != nil {
			c.onError(&Error{Err: se.Type, Message: se.Message})
		}
	})
}

func (c *Conn) handleMessage(f frame) {
	switch frameString(f, "msg") {
	case msgConnected:
		c.handleConnected(f)
	case msgPing:
		_ = c.socket.Send(newPongFrame(frameString(f, "id")))
	case msgFailed:
		c.async.emit(func() {
			if c.onError != nil {
				c.onError(&Error{Err: "failed", Message: "server rejected requested DDP version"})
			}
		})
	case msgAdded:
		c.handleAdded(f)
	case msgChanged:
		c.handleChanged(f)
	case msgRemoved:
		c.handleRemoved(f)
	case msgReady:
		c.handleReady(f)
	case msgNosub:
		c.handleNoSub(f)
	case msgResult:
		c.handleResult(f)
	case msgUpdated:
		// Write-barrier clearing is a no-op for this client: callers that
		// need "method fully reflected" semantics observe it through the
		// result callback plus their own subscription's ready/changed state.
	case msgError:
		c.async.emit(func() {
			if c.onError != nil {
				c.onError(normalizeError(f))
			}
		})
	default:
		c.async.emit(func() {
			if c.onError != nil {
				c.onError(&Error{Err: "unknown_message", Message: fmt.Sprintf("unrecognized msg %q", f["msg"])})
			}
		})
	}
}

func (c *Conn) handleConnected(f frame) {
	newSession := frameString(f, "session")

	c.mu.Lock()
	previous := c.sessionID
	c.sessionID = newSession
	c.status = StatusConnected
	loginID := c.loginMethodID
	c.mu.Unlock()

	sessionReused := previous != "" && previous == newSession
	if c.store != nil && !sessionReused {
		c.store.ResetNonLocal()
	}

	c.replayInFlight(loginID)
	c.queue.Process()

	c.async.emit(func() {
		if c.onConnected != nil {
			c.onConnected(ConnectedEvent{SessionReused: sessionReused})
		}
	})
}

// replayInFlight implements spec.md §4.3's "In-flight replay policy":
// prepend, in order, the pending login call, other pending calls, then one
// `sub` per active subscription, ahead of whatever is already queued.
func (c *Conn) replayInFlight(loginID string) {
	var frames []frame

	for _, pm := range c.calls.Pending(loginID) {
		frames = append(frames, newMethodFrame(pm.ID, pm.Method, pm.Params))
	}
	for _, remoteID := range c.subs.ActiveRemoteIDs() {
		name, params, ok := c.subs.Lookup(remoteID)
		if !ok {
			continue
		}
		frames = append(frames, newSubFrame(remoteID, name, params))
	}

	c.queue.Prepend(frames)
}

func (c *Conn) handleAdded(f frame) {
	collectionName := frameString(f, "collection")
	id := frameString(f, "id")
	fields, _ := f["fields"].(map[string]interface{})

	if c.store != nil {
		c.store.Added(collectionName, id, fields)
	}
	c.logVerbose("added", collectionName, id, frame{"fields": fields})
	c.async.emit(func() {
		if c.onAdded != nil {
			c.onAdded(collectionName, id, fields)
		}
	})
}

func (c *Conn) handleChanged(f frame) {
	collectionName := frameString(f, "collection")
	id := frameString(f, "id")
	fields, _ := f["fields"].(map[string]interface{})
	cleared := stringSlice(f["cleared"])

	if c.vent != nil && c.vent.Inspect(fields, id) {
		// A vent side-channel event: routed to its listener, never mirrored
		// into CollectionStore (spec.md §4.10).
		return
	}

	if c.store != nil {
		c.store.Changed(collectionName, id, fields, cleared)
	}
	c.logVerbose("changed", collectionName, id, frame{"fields": fields})
	c.async.emit(func() {
		if c.onChanged != nil {
			c.onChanged(collectionName, id, fields, cleared)
		}
	})
}

func (c *Conn) handleRemoved(f frame) {
	collectionName := frameString(f, "collection")
	id := frameString(f, "id")

	if c.store != nil {
		c.store.Removed(collectionName, id)
	}
	c.async.emit(func() {
		if c.onRemoved != nil {
			c.onRemoved(collectionName, id)
		}
	})
}

func (c *Conn) handleReady(f frame) {
	subs := stringSlice(f["subs"])
	c.subs.OnReady(subs)
}

func (c *Conn) handleNoSub(f frame) {
	id := frameString(f, "id")
	rawErr, _ := f["error"].(map[string]interface{})
	c.subs.OnNoSub(id, rawErr)
}

func (c *Conn) handleResult(f frame) {
	id := frameString(f, "id")
	rawErr, _ := f["error"].(map[string]interface{})
	c.calls.OnResult(id, rawErr, f["result"])
}

// sendSub, sendUnsub and sendMethod only enqueue a frame when the
// connection is already up. When disconnected they are no-ops: the
// `connected` handler's replayInFlight is the single place that (re)sends
// pending methods and active subscriptions, whether this is the very first
// connection or a reconnect. Without this gate, a subscribe/call made while
// offline would be sent twice — once from here once the socket eventually
// opens, and once from the replay that already covers it.
func (c *Conn) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected
}

func (c *Conn) sendSub(name, localID, remoteID string, params []interface{}) error {
	if c.isConnected() {
		c.queue.Push(newSubFrame(remoteID, name, params))
	}
	return nil
}

func (c *Conn) sendUnsub(remoteID string) error {
	if c.isConnected() {
		c.queue.Push(newUnsubFrame(remoteID))
	}
	return nil
}

func (c *Conn) sendMethod(id, method string, params []interface{}) error {
	if c.isConnected() {
		c.queue.Push(newMethodFrame(id, method, params))
	}
	return nil
}

func stringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// logVerbose writes a Debugf line for an inbound data message, applying the
// isPrivate log-redaction rule of spec.md §4.3 (the delivered fields
// themselves are never redacted, only what reaches the logger).
func (c *Conn) logVerbose(kind, collectionName, id string, payload frame) {
	if c.log == nil {
		return
	}
	c.log.Debugf("%s %s/%s %v", kind, collectionName, id, redact(c.isPrivate, payload))
}
