package repo

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned when a conditional Put observes a version
// other than the one the caller read. The caller re-reads and retries.
var ErrVersionConflict = errors.New("record version conflict")

// CollectionRecord is the persisted run collection for one order: a single
// structured document, read-modify-written atomically under a version guard.
type CollectionRecord struct {
	OrderID   string
	Phase     string
	Doc       []byte
	Version   int64
	UpdatedAt time.Time
}

// CollectionRepository stores one collection document per order with
// get/put-with-version semantics.
type CollectionRepository interface {
	// Create inserts a new collection document at version 1.
	Create(ctx context.Context, orderID, phase string, doc []byte) (int64, error)
	Get(ctx context.Context, orderID string) (CollectionRecord, error)
	// Put replaces the document only if the stored version still equals
	// expectedVersion, returning the new version.
	Put(ctx context.Context, orderID string, doc []byte, expectedVersion int64) (int64, error)
}
