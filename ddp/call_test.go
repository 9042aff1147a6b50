package ddp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() string {
	g.n++
	return string(rune('a' + g.n - 1))
}

func TestCallDispatchesResultOnce(t *testing.T) {
	var sentID, sentMethod string
	var sentParams []interface{}
	mgr := NewCallManager(&seqIDGen{}, func(id, method string, params []interface{}) error {
		sentID, sentMethod, sentParams = id, method, params
		return nil
	})

	calls := 0
	var gotErr *Error
	var gotResult interface{}
	id, err := mgr.Call("doThing", []interface{}{1, "x"}, func(err *Error, result interface{}) {
		calls++
		gotErr, gotResult = err, result
	})
	require.NoError(t, err)
	require.Equal(t, sentID, id)
	require.Equal(t, "doThing", sentMethod)
	require.Equal(t, []interface{}{1, "x"}, sentParams)

	mgr.OnResult(id, nil, "ok")
	require.Equal(t, 1, calls)
	require.Nil(t, gotErr)
	require.Equal(t, "ok", gotResult)

	// A second result for the same (now-removed) id is a no-op.
	mgr.OnResult(id, nil, "ignored")
	require.Equal(t, 1, calls)
}

func TestCallDispatchesErrorResult(t *testing.T) {
	mgr := NewCallManager(&seqIDGen{}, func(id, method string, params []interface{}) error { return nil })

	var gotErr *Error
	id, err := mgr.Call("fails", nil, func(err *Error, result interface{}) { gotErr = err })
	require.NoError(t, err)

	mgr.OnResult(id, map[string]interface{}{"error": float64(403), "reason": "nope"}, nil)
	require.NotNil(t, gotErr)
	require.Equal(t, "nope", gotErr.Reason)
}

func TestPendingOrdersLoginFirst(t *testing.T) {
	mgr := NewCallManager(&seqIDGen{}, func(id, method string, params []interface{}) error { return nil })

	_, _ = mgr.Call("write1", nil, nil)
	loginID, _ := mgr.Call("login", nil, nil)
	_, _ = mgr.Call("write2", nil, nil)

	pending := mgr.Pending(loginID)
	require.Len(t, pending, 3)
	require.Equal(t, "login", pending[0].Method)
}
