package ddp

import "github.com/pfrederiksen/ddp-go/ejson"

// marshalFrame encodes a frame as an EJSON text frame.
func marshalFrame(f frame) ([]byte, error) {
	return ejson.Marshal(map[string]interface{}(f))
}

// unmarshalFrame decodes an EJSON text frame. Malformed/partial frames, or
// frames that don't decode to a JSON object, are reported via the second
// return value so the caller can silently drop them (spec.md §4.1).
func unmarshalFrame(data []byte) (frame, bool) {
	v, err := ejson.Unmarshal(data)
	if err != nil {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return frame(m), true
}
