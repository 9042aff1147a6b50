package ddp

import "fmt"

// Error is the normalized shape every method result error, subscription
// nosub error, and login failure is reshaped into before it reaches
// application code (spec.md §4.9 "Normalize-login-failure", §7).
type Error struct {
	Err               string                 `json:"error"`
	Reason            string                 `json:"reason,omitempty"`
	Message           string                 `json:"message,omitempty"`
	Details           map[string]interface{} `json:"details,omitempty"`
	UserID            string                 `json:"userId,omitempty"`
	Token             string                 `json:"token,omitempty"`
	IsLogoutTriggered bool                   `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil ddp error>"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Reason)
	}
	return e.Err
}

// normalizeError builds an *Error from a raw server payload such as the
// `error` field of a `result` or `nosub` message.
func normalizeError(raw map[string]interface{}) *Error {
	if raw == nil {
		return nil
	}
	e := &Error{}
	if v, ok := raw["error"]; ok {
		e.Err = fmt.Sprintf("%v", v)
	}
	if v, ok := raw["reason"].(string); ok {
		e.Reason = v
	}
	if v, ok := raw["message"].(string); ok {
		e.Message = v
	}
	if v, ok := raw["details"].(map[string]interface{}); ok {
		e.Details = v
	}
	if e.Message == "" {
		e.Message = e.Reason
	}
	if e.Message == "" {
		e.Message = e.Err
	}
	return e
}
