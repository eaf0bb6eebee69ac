package task

import (
	"context"
	"fmt"
	"slices"

	"bqflow/internal/domain"
)

// TableTask creates a table with a fixed schema inside its dataset.
type TableTask struct {
	env       *Env
	DatasetID string
	TableID   string
	Schema    []domain.Field
	// Empty makes the task done only while the table holds no rows. Running
	// it against a populated table drops and recreates the table.
	Empty bool
}

// NewTableTask creates a TableTask. schema is copied.
func NewTableTask(env *Env, datasetID, tableID string, schema []domain.Field, empty bool) *TableTask {
	return &TableTask{
		env:       env,
		DatasetID: datasetID,
		TableID:   tableID,
		Schema:    slices.Clone(schema),
		Empty:     empty,
	}
}

// ID implements Task. Schema and Empty do not distinguish tasks.
func (t *TableTask) ID() string {
	return fmt.Sprintf("TableTask(dataset_id=%s, table_id=%s)", t.DatasetID, t.TableID)
}

// Requires implements Task.
func (t *TableTask) Requires() []Task { return []Task{NewDatasetTask(t.env, t.DatasetID)} }

// Output implements Task.
func (t *TableTask) Output() Target {
	return NewTableTarget(t.env.Warehouse(), t.DatasetID, t.TableID, t.Empty)
}

// Run creates the table.
func (t *TableTask) Run(ctx context.Context) error {
	wh := t.env.Warehouse()
	logger := t.env.Logger.With("task", t.ID(), "table", t.DatasetID+"."+t.TableID)

	info, err := wh.TableInfo(ctx, t.DatasetID, t.TableID)
	if err != nil {
		return fmt.Errorf("check table %s.%s: %w", t.DatasetID, t.TableID, err)
	}
	if info.Exists {
		if !t.Empty || info.NumRows == 0 {
			return nil
		}
		logger.Info("dropping populated table", "rows", info.NumRows)
		if err := wh.DeleteTable(ctx, t.DatasetID, t.TableID); err != nil {
			return err
		}
	}

	logger.Info("creating table", "fields", len(t.Schema))
	return wh.CreateTable(ctx, t.DatasetID, t.TableID, t.Schema)
}
