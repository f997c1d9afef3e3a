package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/packline-labs/packline-go/internal/repo"
)

// CollectionStore persists one collection document per order in the
// inspection_collections table, guarded by a monotonically increasing
// version column.
const (
	insertCollectionQuery = `INSERT INTO inspection_collections (order_id, phase, doc, version, updated_at)
	VALUES ($1, $2, $3, 1, $4)`

	selectCollectionQuery = `SELECT order_id, phase, doc, version, updated_at
	FROM inspection_collections
	WHERE order_id = $1`

	updateCollectionQuery = `UPDATE inspection_collections
	SET doc = $1, version = version + 1, updated_at = $2
	WHERE order_id = $3 AND version = $4`

	selectCollectionVersionQuery = `SELECT version FROM inspection_collections WHERE order_id = $1`
)

type CollectionStore struct {
	db DB
}

func NewCollectionStore(db DB) *CollectionStore {
	if db == nil {
		return nil
	}
	return &CollectionStore{db: db}
}

func (s *CollectionStore) Create(ctx context.Context, orderID, phase string, doc []byte) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("collection store not initialized")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, fmt.Errorf("order id is required")
	}
	if len(doc) == 0 {
		return 0, fmt.Errorf("document is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		insertCollectionQuery,
		orderID,
		strings.TrimSpace(phase),
		doc,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert collection: %w", err)
	}
	return 1, nil
}

func (s *CollectionStore) Get(ctx context.Context, orderID string) (repo.CollectionRecord, error) {
	if s == nil || s.db == nil {
		return repo.CollectionRecord{}, fmt.Errorf("collection store not initialized")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return repo.CollectionRecord{}, fmt.Errorf("order id is required")
	}
	var record repo.CollectionRecord
	row := s.db.QueryRowContext(
		ctx,
		selectCollectionQuery,
		orderID,
	)
	if err := row.Scan(&record.OrderID, &record.Phase, &record.Doc, &record.Version, &record.UpdatedAt); err != nil {
		return repo.CollectionRecord{}, handleNotFound(err)
	}
	return record, nil
}

func (s *CollectionStore) Put(ctx context.Context, orderID string, doc []byte, expectedVersion int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("collection store not initialized")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, fmt.Errorf("order id is required")
	}
	if len(doc) == 0 {
		return 0, fmt.Errorf("document is required")
	}
	if expectedVersion < 1 {
		return 0, fmt.Errorf("expected version must be >= 1")
	}
	result, err := s.db.ExecContext(
		ctx,
		updateCollectionQuery,
		doc,
		time.Now().UTC(),
		orderID,
		expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update collection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Either the order is unknown or someone wrote in between. Tell
		// them apart so callers retry only the race.
		var version int64
		row := s.db.QueryRowContext(
			ctx,
			selectCollectionVersionQuery,
			orderID,
		)
		if scanErr := row.Scan(&version); scanErr != nil {
			return 0, handleNotFound(scanErr)
		}
		return 0, repo.ErrVersionConflict
	}
	return expectedVersion + 1, nil
}
