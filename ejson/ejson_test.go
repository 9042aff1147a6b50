package ejson

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000123).UTC()
	doc := map[string]interface{}{
		"_id":      "abc123",
		"name":     "red widget",
		"count":    float64(3),
		"created":  now,
		"payload":  Binary([]byte{0x01, 0x02, 0xff}),
		"children": []interface{}{"a", "b"},
	}

	data, err := Marshal(doc)
	require.NoError(t, err)

	out, err := Unmarshal(data)
	require.NoError(t, err)

	decoded, ok := out.(map[string]interface{})
	require.True(t, ok)

	require.Equal(t, "abc123", decoded["_id"])
	require.True(t, now.Equal(decoded["created"].(time.Time)))
	require.Equal(t, Binary([]byte{0x01, 0x02, 0xff}), decoded["payload"])
}

func TestEqualsIgnoresKeyOrder(t *testing.T) {
	a := map[string]interface{}{"x": float64(1), "y": float64(2)}
	b := map[string]interface{}{"y": float64(2), "x": float64(1)}
	require.True(t, Equals(a, b))

	c := map[string]interface{}{"y": float64(3), "x": float64(1)}
	require.False(t, Equals(a, c))
}

func TestCloneIsIndependent(t *testing.T) {
	original := map[string]interface{}{
		"nested": map[string]interface{}{"v": float64(1)},
	}

	cloned, err := Clone(original)
	require.NoError(t, err)

	clonedMap := cloned.(map[string]interface{})
	nested := clonedMap["nested"].(map[string]interface{})
	nested["v"] = float64(99)

	require.Equal(t, float64(1), original["nested"].(map[string]interface{})["v"])
}

func TestUnmarshalDropsGarbageGracefully(t *testing.T) {
	_, err := Unmarshal([]byte(`{not valid json`))
	require.Error(t, err)
}
