package task

import (
	"context"
	"fmt"
)

// DatasetTask creates a dataset.
type DatasetTask struct {
	env       *Env
	DatasetID string
}

// NewDatasetTask creates a DatasetTask.
func NewDatasetTask(env *Env, datasetID string) *DatasetTask {
	return &DatasetTask{env: env, DatasetID: datasetID}
}

// ID implements Task.
func (t *DatasetTask) ID() string { return fmt.Sprintf("DatasetTask(dataset_id=%s)", t.DatasetID) }

// Requires implements Task.
func (t *DatasetTask) Requires() []Task { return nil }

// Output implements Task.
func (t *DatasetTask) Output() Target { return NewDatasetTarget(t.env.Warehouse(), t.DatasetID) }

// Run creates the dataset.
func (t *DatasetTask) Run(ctx context.Context) error {
	t.env.Logger.Info("creating dataset", "task", t.ID(), "dataset", t.DatasetID)
	return t.env.Warehouse().CreateDataset(ctx, t.DatasetID)
}
