package collection

import "github.com/google/uuid"

// IDSource supplies identifiers for runs created by create, split, and
// group. Passed explicitly so commands stay deterministic and replayable in
// tests.
type IDSource interface {
	NewID() string
}

// UUIDSource issues random UUID identifiers.
type UUIDSource struct{}

func (UUIDSource) NewID() string { return uuid.NewString() }
