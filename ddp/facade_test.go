package ddp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateEndpointRequiresWsScheme(t *testing.T) {
	require.Error(t, validateEndpoint("http://host/websocket", false))
	require.Error(t, validateEndpoint("ws://host/other", false))
	require.NoError(t, validateEndpoint("ws://host/websocket", false))
	require.NoError(t, validateEndpoint("http://anything", true))
}

func TestNewClientWiresDefaultsAndRejectsBadEndpoint(t *testing.T) {
	storage := NewMemoryKeyStoreForTest()

	_, err := NewClient("not-a-websocket-url", storage, false)
	require.Error(t, err)

	client, err := NewClient("ws://example.test/websocket", storage, false, WithDialer(&fakeDialer{conns: make(chan *fakeConn, 1)}))
	require.NoError(t, err)
	require.NotNil(t, client)

	connected, status := client.Status()
	require.False(t, connected)
	require.Equal(t, StatusDisconnected, status)
	require.Empty(t, client.UserID())
}

type fakeNetInfo struct {
	listener func(NetInfoEvent)
}

func (f *fakeNetInfo) Configure(NetInfoConfig) {}
func (f *fakeNetInfo) AddEventListener(fn func(NetInfoEvent)) { f.listener = fn }

func TestWithNetInfoTriggersReconnectOnReachability(t *testing.T) {
	storage := NewMemoryKeyStoreForTest()
	net := &fakeNetInfo{}
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}

	client, err := NewClient("ws://example.test/websocket", storage, false,
		WithDialer(dialer), WithNetInfo(net))
	require.NoError(t, err)
	require.NotNil(t, net.listener)

	dialer.conns <- newFakeConn()

	net.listener(NetInfoEvent{IsConnected: true})

	_, status := client.Status()
	require.Equal(t, StatusConnecting, status)
}
