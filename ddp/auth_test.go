package ddp

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pfrederiksen/ddp-go/keystore"
	"github.com/pfrederiksen/ddp-go/tracker"
	"github.com/stretchr/testify/require"
)

func NewMemoryKeyStoreForTest() *keystore.MemoryStore { return keystore.NewMemoryStore() }

type fakeAuthCaller struct {
	mu       sync.Mutex
	handlers map[string]ResultCallback
	last     string
	nextID   int
}

func newFakeAuthCaller() *fakeAuthCaller {
	return &fakeAuthCaller{handlers: make(map[string]ResultCallback)}
}

func (f *fakeAuthCaller) Call(method string, params []interface{}, cb ResultCallback) (string, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("%s-%d", method, f.nextID)
	f.last = id
	if cb != nil {
		f.handlers[id] = cb
	}
	f.mu.Unlock()
	return id, nil
}

func (f *fakeAuthCaller) MarkLoginMethod(id string) {}

func (f *fakeAuthCaller) resolve(id string, rawErr *Error, result interface{}) {
	f.mu.Lock()
	cb := f.handlers[id]
	delete(f.handlers, id)
	f.mu.Unlock()
	if cb != nil {
		cb(rawErr, result)
	}
}

func (f *fakeAuthCaller) lastID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func TestLoginWithPasswordPersistsTokenOnSuccess(t *testing.T) {
	caller := newFakeAuthCaller()
	storage := NewMemoryKeyStoreForTest()
	auth := NewAuthController(tracker.NewGraph(), caller, storage, nil)

	loggedIn := make(chan string, 1)
	auth.OnLogin(func(userID string) { loggedIn <- userID })

	var cbErr *Error
	called := false
	auth.LoginWithPassword(LoginSelector{Username: "alice"}, "hunter2", func(err *Error) {
		called = true
		cbErr = err
	})

	id := caller.lastID()
	caller.resolve(id, nil, map[string]interface{}{"id": "u1", "token": "tok1", "tokenExpires": float64(time.Now().Add(time.Hour).UnixMilli())})

	require.True(t, called)
	require.Nil(t, cbErr)
	require.Equal(t, "u1", <-loggedIn)
	require.Equal(t, "u1", auth.UserID())
	require.Equal(t, "tok1", auth.GetAuthToken())

	tok, ok, _ := storage.GetItem(KeyLoginToken)
	require.True(t, ok)
	require.Equal(t, "tok1", tok)
}

func TestLoginWithTokenResumeRejectionClearsAuth(t *testing.T) {
	caller := newFakeAuthCaller()
	storage := NewMemoryKeyStoreForTest()
	_ = storage.SetItem(KeyLoginToken, "stale-token")
	_ = storage.SetItem(KeyUserID, "u1")

	auth := NewAuthController(tracker.NewGraph(), caller, storage, nil)
	var failure *Error
	auth.OnLoginFailure(func(err *Error) { failure = err })

	auth.LoginWithToken("stale-token")
	id := caller.lastID()
	caller.resolve(id, &Error{Err: "token-expired", Reason: "expired"}, nil)

	require.NotNil(t, failure)
	require.True(t, failure.IsLogoutTriggered)
	require.False(t, auth.IsLoggedIn())

	_, ok, _ := storage.GetItem(KeyLoginToken)
	require.False(t, ok)
}

func TestLoginWithTokenRateLimitReschedules(t *testing.T) {
	caller := newFakeAuthCaller()
	storage := NewMemoryKeyStoreForTest()
	auth := NewAuthController(tracker.NewGraph(), caller, storage, nil)

	var failure *Error
	auth.OnLoginFailure(func(err *Error) { failure = err })

	auth.LoginWithToken("tok")
	id := caller.lastID()
	caller.resolve(id, &Error{Err: "too-many-requests", Details: map[string]interface{}{"timeToReset": float64(10)}}, nil)

	require.NotNil(t, failure)
	require.False(t, failure.IsLogoutTriggered)
}

func TestLoggingInReflectsOutstandingPasswordLogin(t *testing.T) {
	caller := newFakeAuthCaller()
	storage := NewMemoryKeyStoreForTest()
	auth := NewAuthController(tracker.NewGraph(), caller, storage, nil)

	require.False(t, auth.LoggingIn())
	auth.LoginWithPassword(LoginSelector{Username: "alice"}, "hunter2", nil)
	require.True(t, auth.LoggingIn())

	caller.resolve(caller.lastID(), nil, map[string]interface{}{"id": "u1", "token": "tok1"})
	require.False(t, auth.LoggingIn())
}

func TestLoggingOutReflectsOutstandingLogout(t *testing.T) {
	caller := newFakeAuthCaller()
	storage := NewMemoryKeyStoreForTest()
	auth := NewAuthController(tracker.NewGraph(), caller, storage, nil)

	auth.LoginWithPassword(LoginSelector{Username: "alice"}, "hunter2", nil)
	caller.resolve(caller.lastID(), nil, map[string]interface{}{"id": "u1", "token": "tok1"})
	require.True(t, auth.IsLoggedIn())

	require.False(t, auth.LoggingOut())
	auth.Logout(nil)
	require.True(t, auth.LoggingOut())

	caller.resolve(caller.lastID(), nil, nil)
	require.False(t, auth.LoggingOut())
}

func TestLogoutClearsPersistedAuth(t *testing.T) {
	caller := newFakeAuthCaller()
	storage := NewMemoryKeyStoreForTest()
	auth := NewAuthController(tracker.NewGraph(), caller, storage, nil)

	auth.LoginWithPassword(LoginSelector{Email: "a@b.com"}, "pw", nil)
	caller.resolve(caller.lastID(), nil, map[string]interface{}{"id": "u1", "token": "tok1"})
	require.True(t, auth.IsLoggedIn())

	loggedOut := make(chan struct{}, 1)
	auth.OnLogout(func() { loggedOut <- struct{}{} })

	auth.Logout(nil)
	caller.resolve(caller.lastID(), nil, nil)

	<-loggedOut
	require.False(t, auth.IsLoggedIn())
	for _, key := range []string{KeyLoginToken, KeyLoginTokenExpires, KeyUserID} {
		_, ok, _ := storage.GetItem(key)
		require.False(t, ok, key)
	}
}
