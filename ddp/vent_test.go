package ddp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVentInspectRoutesMatchingEvent(t *testing.T) {
	d := NewVentDispatcher()

	var got interface{}
	d.register("sub1", func(event interface{}) { got = event })

	handled := d.Inspect(map[string]interface{}{"__vent": "1", "e": map[string]interface{}{"kind": "ping"}}, "sub1")
	require.True(t, handled)
	require.Equal(t, map[string]interface{}{"kind": "ping"}, got)
}

func TestVentInspectIgnoresOrdinaryChanges(t *testing.T) {
	d := NewVentDispatcher()
	d.register("sub1", func(event interface{}) { t.Fatal("should not be invoked") })

	handled := d.Inspect(map[string]interface{}{"color": "red"}, "sub1")
	require.False(t, handled)
}

func TestVentResetDropsListeners(t *testing.T) {
	d := NewVentDispatcher()
	calls := 0
	d.register("sub1", func(event interface{}) { calls++ })
	d.Reset()

	d.Inspect(map[string]interface{}{"__vent": "1", "e": "x"}, "sub1")
	require.Equal(t, 0, calls)
}
