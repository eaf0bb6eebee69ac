package task

import (
	"context"
	"errors"
	"fmt"

	"bqflow/internal/domain"
)

// DatasetTarget exists when the dataset exists.
type DatasetTarget struct {
	wh        domain.Warehouse
	DatasetID string
}

// NewDatasetTarget creates a DatasetTarget.
func NewDatasetTarget(wh domain.Warehouse, datasetID string) *DatasetTarget {
	return &DatasetTarget{wh: wh, DatasetID: datasetID}
}

// Exists asks the warehouse.
func (t *DatasetTarget) Exists(ctx context.Context) (bool, error) {
	ok, err := t.wh.DatasetExists(ctx, t.DatasetID)
	if err != nil {
		return false, fmt.Errorf("check dataset %s: %w", t.DatasetID, err)
	}
	return ok, nil
}

// TableTarget exists when the table exists. With Empty set, the table must
// also hold no rows.
type TableTarget struct {
	wh        domain.Warehouse
	DatasetID string
	TableID   string
	Empty     bool
}

// NewTableTarget creates a TableTarget.
func NewTableTarget(wh domain.Warehouse, datasetID, tableID string, empty bool) *TableTarget {
	return &TableTarget{wh: wh, DatasetID: datasetID, TableID: tableID, Empty: empty}
}

// Exists asks the warehouse.
func (t *TableTarget) Exists(ctx context.Context) (bool, error) {
	info, err := t.wh.TableInfo(ctx, t.DatasetID, t.TableID)
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", t.DatasetID, t.TableID, err)
	}
	if !info.Exists {
		return false, nil
	}
	if t.Empty {
		return info.NumRows == 0, nil
	}
	return true, nil
}

// ResultTarget persists the reference to a query result under Key.
type ResultTarget struct {
	Key   string
	Store domain.StateStore
}

// NewResultTarget creates a ResultTarget.
func NewResultTarget(store domain.StateStore, key string) *ResultTarget {
	return &ResultTarget{Key: key, Store: store}
}

// Exists reports whether a result state was saved under Key.
func (t *ResultTarget) Exists(ctx context.Context) (bool, error) {
	ok, err := t.Store.Exists(ctx, t.Key)
	if err != nil {
		return false, fmt.Errorf("check result state %s: %w", t.Key, err)
	}
	return ok, nil
}

// Save stores st under Key.
func (t *ResultTarget) Save(ctx context.Context, st *domain.ResultState) error {
	if err := t.Store.Put(ctx, t.Key, st); err != nil {
		return fmt.Errorf("save result state %s: %w", t.Key, err)
	}
	return nil
}

// Load returns the state saved under Key, or nil when none was saved.
func (t *ResultTarget) Load(ctx context.Context) (*domain.ResultState, error) {
	st, err := t.Store.Get(ctx, t.Key)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load result state %s: %w", t.Key, err)
	}
	return st, nil
}
