package ddp

import (
	"testing"

	"github.com/pfrederiksen/ddp-go/tracker"
	"github.com/stretchr/testify/require"
)

func TestSubscribeSendsSubFrame(t *testing.T) {
	var gotName, gotLocal string
	var gotParams []interface{}
	mgr := NewSubscriptionManager(tracker.NewGraph(), &seqIDGen{}, func(name, localID, remoteID string, params []interface{}) error {
		gotName, gotLocal, gotParams = name, localID, params
		return nil
	}, func(remoteID string) error { return nil })

	readyCalls := 0
	h := mgr.Subscribe("feed", []interface{}{1}, &SubscriptionCallbacks{OnReady: func() { readyCalls++ }})
	require.Equal(t, "feed", gotName)
	require.Equal(t, gotLocal, h.SubscriptionID())
	require.Equal(t, []interface{}{1}, gotParams)
	require.False(t, h.Ready())

	mgr.OnReady([]string{h.SubscriptionID()})
	require.Equal(t, 1, readyCalls)
	require.True(t, h.Ready())
}

func TestSubscribeReusesInactiveMatchingSubscription(t *testing.T) {
	sendCalls := 0
	mgr := NewSubscriptionManager(tracker.NewGraph(), &seqIDGen{}, func(name, localID, remoteID string, params []interface{}) error {
		sendCalls++
		return nil
	}, func(remoteID string) error { return nil })

	h1 := mgr.Subscribe("feed", []interface{}{"x"}, nil)
	require.Equal(t, 1, sendCalls)

	// Simulate the reactive-reuse rule marking it inactive directly, as
	// would happen via a computation's OnInvalidate callback.
	mgr.mu.Lock()
	sub := mgr.byID[h1.SubscriptionID()]
	mgr.mu.Unlock()
	sub.mu.Lock()
	sub.inactive = true
	sub.mu.Unlock()

	readyCalls := 0
	h2 := mgr.Subscribe("feed", []interface{}{"x"}, &SubscriptionCallbacks{OnReady: func() { readyCalls++ }})
	require.Equal(t, 1, sendCalls, "matching inactive subscription must be reused, not re-sent")
	require.Equal(t, h1.SubscriptionID(), h2.SubscriptionID())

	mgr.OnReady([]string{h1.SubscriptionID()})
	require.Equal(t, 1, readyCalls)
}

func TestStopSwallowsSelfInitiatedNoSub(t *testing.T) {
	var unsubbedID string
	mgr := NewSubscriptionManager(tracker.NewGraph(), &seqIDGen{}, func(name, localID, remoteID string, params []interface{}) error { return nil },
		func(remoteID string) error { unsubbedID = remoteID; return nil })

	stopCalls := 0
	h := mgr.Subscribe("feed", nil, &SubscriptionCallbacks{OnStop: func(err *Error) { stopCalls++ }})
	h.Stop()
	require.Equal(t, h.SubscriptionID(), unsubbedID)
	require.Equal(t, 1, stopCalls)

	// The server's ack for our own unsub must be swallowed, not redelivered.
	mgr.OnNoSub(unsubbedID, nil)
	require.Equal(t, 1, stopCalls)
}

func TestOnNoSubDeliversErrorForServerInitiatedStop(t *testing.T) {
	mgr := NewSubscriptionManager(tracker.NewGraph(), &seqIDGen{}, func(name, localID, remoteID string, params []interface{}) error { return nil },
		func(remoteID string) error { return nil })

	var gotErr *Error
	stopCalls := 0
	h := mgr.Subscribe("feed", nil, &SubscriptionCallbacks{
		OnError: func(err *Error) { gotErr = err },
		OnStop:  func(err *Error) { stopCalls++ },
	})

	mgr.OnNoSub(h.SubscriptionID(), map[string]interface{}{"error": float64(404), "reason": "gone"})
	require.NotNil(t, gotErr)
	require.Equal(t, "gone", gotErr.Reason)
	require.Equal(t, 1, stopCalls)
}

func TestSubscribeReactiveReuseTearsDownWhenParamsChange(t *testing.T) {
	// A deferred scheduler: Invalidate() queues the flush but does not run
	// it until the test calls the stashed function, mirroring a real
	// microtask scheduler's separation between "invalidated" and "reran".
	graph := tracker.NewGraph()
	var pending func()
	graph.SetScheduler(func(fn func()) { pending = fn })
	defer graph.SetScheduler(func(fn func()) { fn() })

	var sendCalls, unsubCalls int
	mgr := NewSubscriptionManager(graph, &seqIDGen{}, func(name, localID, remoteID string, params []interface{}) error {
		sendCalls++
		return nil
	}, func(remoteID string) error {
		unsubCalls++
		return nil
	})

	dep := graph.NewDependency()
	runCount := 0
	graph.Autorun(func(c *tracker.Computation) {
		runCount++
		dep.Depend()
		if runCount == 1 {
			mgr.Subscribe("feed", []interface{}{"x"}, nil)
		} else {
			mgr.Subscribe("feed", []interface{}{"y"}, nil)
		}
	})
	require.Equal(t, 1, sendCalls)

	dep.Changed()
	require.Equal(t, 0, unsubCalls, "teardown must wait for the rerun and after-flush check")
	require.NotNil(t, pending)

	pending()
	require.Equal(t, 2, runCount)
	require.Equal(t, 2, sendCalls, "the rerun subscribes to the new params")
	require.Equal(t, 1, unsubCalls, "the old, now-orphaned subscription is torn down")
}
