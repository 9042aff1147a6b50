package ddp

// KeyStorage is the persistent key/value collaborator named in spec.md §6.
// Implementations must tolerate concurrent Get/Set/Remove calls; this
// package never assumes serialized access. Concrete implementations live in
// package keystore.
type KeyStorage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Auth key names persisted through KeyStorage (spec.md §4.9, §6).
const (
	KeyLoginToken        = "Meteor.loginToken"
	KeyLoginTokenExpires = "Meteor.loginTokenExpires"
	KeyUserID            = "Meteor.userId"
)

// NetInfoEvent reports a reachability transition.
type NetInfoEvent struct {
	IsConnected bool
}

// NetInfoConfig configures a NetInfo collaborator.
type NetInfoConfig struct {
	ReachabilityURL       string
	UseNativeReachability bool
}

// NetInfo is the optional reachability collaborator named in spec.md §6.
// When IsConnected transitions to true and autoReconnect is enabled, the
// facade requests an immediate reconnect rather than waiting out the
// current backoff interval.
type NetInfo interface {
	Configure(cfg NetInfoConfig)
	AddEventListener(fn func(NetInfoEvent))
}

// IDGenerator produces the random identifiers DDP needs for session,
// subscription and method IDs (spec.md §1 names this an external
// collaborator kept behind a narrow interface). The default implementation,
// package internal/idgen, wraps google/uuid.
type IDGenerator interface {
	NewID() string
}
