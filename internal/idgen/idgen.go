// Package idgen provides the default random-ID generator collaborator named
// in spec.md §1 as an external, interface-only dependency (ddp.IDGenerator).
// DDPClient, Subscription, and method call bookkeeping depend on that
// interface; this package only supplies the out-of-the-box implementation.
package idgen

import "github.com/google/uuid"

// UUID generates identifiers from google/uuid's random (v4) implementation.
// It satisfies ddp.IDGenerator.
type UUID struct{}

// NewID returns a new random UUID string.
func (UUID) NewID() string {
	return uuid.NewString()
}
