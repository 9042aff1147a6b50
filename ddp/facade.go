package ddp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/ddp-go/collection"
	"github.com/pfrederiksen/ddp-go/internal/idgen"
	"github.com/pfrederiksen/ddp-go/tracker"
)

// Client is the public façade of spec.md §6: it aggregates Conn,
// SubscriptionManager, CallManager, AuthController and VentDispatcher
// behind a single object with connect/disconnect/reconnect/call/subscribe/
// user APIs.
type Client struct {
	conn  *Conn
	auth  *AuthController
	vent  *VentDispatcher
	store *collection.Store
	graph *tracker.Graph

	onConnectedUser func(ConnectedEvent)
}

// Option configures a Client, following the teacher's functional-options
// pattern (internal/rivian/http_client.go's Option func(*HTTPClient)).
type Option func(*clientConfig)

type clientConfig struct {
	dialer            Dialer
	idGen             IDGenerator
	logger            FieldLogger
	autoReconnect     bool
	reconnectInterval time.Duration
	isPrivate         bool
	matcher           collection.Matcher
	netInfo           NetInfo
}

// WithDialer overrides the WebSocket dialer (default: GorillaDialer).
func WithDialer(d Dialer) Option { return func(c *clientConfig) { c.dialer = d } }

// WithIDGenerator overrides the random-id collaborator (default:
// internal/idgen's google/uuid-backed generator).
func WithIDGenerator(g IDGenerator) Option { return func(c *clientConfig) { c.idGen = g } }

// WithLogger overrides the structured logger (default: stderr logrus).
func WithLogger(l FieldLogger) Option { return func(c *clientConfig) { c.logger = l } }

// WithAutoReconnect controls whether a dropped socket is redialed
// automatically (default true, per spec.md §6).
func WithAutoReconnect(enabled bool) Option { return func(c *clientConfig) { c.autoReconnect = enabled } }

// WithReconnectInterval sets the delay before a reconnect attempt (default
// 5000ms, per spec.md §6).
func WithReconnectInterval(d time.Duration) Option {
	return func(c *clientConfig) { c.reconnectInterval = d }
}

// WithIsPrivate controls whether verbose logging redacts frame payloads
// (default true, per spec.md §6).
func WithIsPrivate(private bool) Option { return func(c *clientConfig) { c.isPrivate = private } }

// WithMatcher overrides the CollectionStore's selector Matcher (default:
// collection.Subset).
func WithMatcher(m collection.Matcher) Option { return func(c *clientConfig) { c.matcher = m } }

// WithNetInfo supplies a reachability collaborator (spec.md §6): when it
// reports IsConnected transitioning to true while auto-reconnect is
// enabled and the connection is down, the Client requests an
// immediate reconnect rather than waiting out the current backoff/reconnect
// interval.
func WithNetInfo(n NetInfo) Option { return func(c *clientConfig) { c.netInfo = n } }

// validateEndpoint enforces spec.md §6's URL shape: must start with ws/wss
// and end with /websocket, unless suppressed.
func validateEndpoint(endpoint string, suppressErrors bool) error {
	if suppressErrors {
		return nil
	}
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		return fmt.Errorf("ddp: endpoint %q must start with ws:// or wss://", endpoint)
	}
	if !strings.HasSuffix(endpoint, "/websocket") {
		return fmt.Errorf("ddp: endpoint %q must end with /websocket", endpoint)
	}
	return nil
}

// NewClient builds a Client targeting endpoint, with storage as the
// required KeyStorage collaborator for auth token persistence (spec.md §6).
func NewClient(endpoint string, storage KeyStorage, suppressURLErrors bool, opts ...Option) (*Client, error) {
	if err := validateEndpoint(endpoint, suppressURLErrors); err != nil {
		return nil, err
	}

	cfg := &clientConfig{
		dialer:            GorillaDialer{},
		idGen:             idgen.UUID{},
		autoReconnect:     true,
		reconnectInterval: 5000 * time.Millisecond,
		isPrivate:         true,
		matcher:           collection.Subset{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	graph := tracker.NewGraph()
	registry := collection.NewRegistry(graph, cfg.matcher)
	store := collection.NewStore(graph, cfg.matcher, registry)
	vent := NewVentDispatcher()

	conn := NewConn(ConnOptions{
		URL:               endpoint,
		Dialer:            cfg.dialer,
		IDGen:             cfg.idGen,
		Store:             store,
		Graph:             graph,
		Logger:            cfg.logger,
		AutoReconnect:     cfg.autoReconnect,
		ReconnectInterval: cfg.reconnectInterval,
		IsPrivate:         cfg.isPrivate,
		Vent:              vent,
	})

	auth := NewAuthController(graph, conn, storage, cfg.logger)
	client := &Client{conn: conn, auth: auth, vent: vent, store: store, graph: graph}

	// Conn only holds one onConnected slot; this is the single registration,
	// doing the internal token-resume before forwarding to whatever the
	// caller later registers via Client.OnConnected.
	conn.OnConnected(func(e ConnectedEvent) {
		if auth.GetAuthToken() != "" {
			auth.LoginWithToken(auth.GetAuthToken())
		}
		if client.onConnectedUser != nil {
			client.onConnectedUser(e)
		}
	})

	if cfg.netInfo != nil {
		cfg.netInfo.Configure(NetInfoConfig{})
		cfg.netInfo.AddEventListener(func(ev NetInfoEvent) {
			conn.mu.Lock()
			autoReconnect := conn.autoReconnect
			conn.mu.Unlock()
			if ev.IsConnected && autoReconnect && conn.Status() == StatusDisconnected {
				_ = conn.Connect(context.Background())
			}
		})
	}

	return client, nil
}

// Connect dials the WebSocket. A no-op if already connecting/connected.
func (c *Client) Connect(ctx context.Context) error { return c.conn.Connect(ctx) }

// Disconnect closes the connection and disables auto-reconnect until the
// caller calls Reconnect (spec.md §5). Connect dials again without
// re-enabling auto-reconnect.
func (c *Client) Disconnect() error { return c.conn.Disconnect() }

// Reconnect re-enables auto-reconnect (if it was disabled by Disconnect)
// and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.conn.SetAutoReconnect(true)
	return c.conn.Connect(ctx)
}

// Status reports {connected, status} per spec.md §6.
func (c *Client) Status() (connected bool, status Status) {
	s := c.conn.Status()
	return s == StatusConnected, s
}

// Call invokes a method; cb receives the normalized error (if any) and the
// raw result.
func (c *Client) Call(method string, params []interface{}, cb ResultCallback) (string, error) {
	return c.conn.Call(method, params, cb)
}

// Subscribe establishes a subscription; see SubscriptionManager.Subscribe.
func (c *Client) Subscribe(name string, params []interface{}, cb *SubscriptionCallbacks) *SubscriptionHandle {
	return c.conn.Subscriptions().Subscribe(name, params, cb)
}

// SubscribeVent establishes a vent-augmented subscription whose handle
// additionally exposes Listen (spec.md §4.10).
func (c *Client) SubscribeVent(name string, params []interface{}, cb *SubscriptionCallbacks) *VentHandle {
	return c.vent.Subscribe(c.conn.Subscriptions(), name, params, cb)
}

// Collection returns (creating if absent) the named server-mirrored
// collection.
func (c *Client) Collection(name string) (*collection.Collection, error) {
	return c.store.Collection(name)
}

// LocalCollection returns (creating if absent) a collection never cleared
// on reconnect and never populated by server frames.
func (c *Client) LocalCollection(name string) (*collection.Collection, error) {
	return c.store.LocalCollection(name)
}

// Graph returns this Client's reactive dependency graph (spec.md §4.8,
// §9). Reactive bindings built outside the ddp package — such as
// reactive.Use — must run their computations on this Graph so they
// observe the same Dependency/Computation state as the Client's own
// collections, subscriptions, and auth fields. Each Client owns an
// independent Graph, so multiple concurrently-running Clients never share
// reactive state.
func (c *Client) Graph() *tracker.Graph { return c.graph }

// UserID reactively reads the logged-in user id, or "" if none.
func (c *Client) UserID() string { return c.auth.UserID() }

// LoggingIn reports whether a login or token-resume call is outstanding.
func (c *Client) LoggingIn() bool { return c.auth.LoggingIn() }

// LoggingOut reports whether a logout call is outstanding.
func (c *Client) LoggingOut() bool { return c.auth.LoggingOut() }

// LoginWithPassword authenticates with a username/email + password.
func (c *Client) LoginWithPassword(selector LoginSelector, password string, cb func(err *Error)) {
	c.auth.LoginWithPassword(selector, password, cb)
}

// LoginWithPasswordAnd2faCode authenticates with a username/email +
// password + two-factor code.
func (c *Client) LoginWithPasswordAnd2faCode(selector LoginSelector, password, code string, cb func(err *Error)) {
	c.auth.LoginWithPasswordAnd2faCode(selector, password, code, cb)
}

// Logout ends the current session.
func (c *Client) Logout(cb func(err *Error)) { c.auth.Logout(cb) }

// GetAuthToken returns the current resume token, or "" if none.
func (c *Client) GetAuthToken() string { return c.auth.GetAuthToken() }

// LoadInitialUser seeds auth state from persisted storage and, unless
// skipLogin, resumes the session (spec.md §4.9).
func (c *Client) LoadInitialUser(skipLogin bool) { c.auth.LoadInitialUser(skipLogin) }

// OnConnected registers the handler for the `connected` transition. It runs
// after the façade's internal token-resume-on-reconnect logic.
func (c *Client) OnConnected(fn func(ConnectedEvent)) { c.onConnectedUser = fn }

// OnDisconnected registers the handler for socket close.
func (c *Client) OnDisconnected(fn func()) { c.conn.OnDisconnected(fn) }

// OnError registers the handler for protocol/transport errors.
func (c *Client) OnError(fn func(err *Error)) { c.conn.OnError(fn) }

// OnLogin registers the handler fired after a successful login or resume.
func (c *Client) OnLogin(fn func(userID string)) { c.auth.OnLogin(fn) }

// OnLoginFailure registers the handler fired on any login/resume failure.
func (c *Client) OnLoginFailure(fn func(err *Error)) { c.auth.OnLoginFailure(fn) }

// OnLogout registers the handler fired after logout completes.
func (c *Client) OnLogout(fn func()) { c.auth.OnLogout(fn) }
