package domain

import "context"

// Warehouse is the capability set the task layer needs from the remote query
// engine. Implemented by bigquery.Client.
type Warehouse interface {
	CreateDataset(ctx context.Context, datasetID string) error
	DatasetExists(ctx context.Context, datasetID string) (bool, error)
	CreateTable(ctx context.Context, datasetID, tableID string, schema []Field) error
	DeleteTable(ctx context.Context, datasetID, tableID string) error
	TableInfo(ctx context.Context, datasetID, tableID string) (TableInfo, error)

	// Query submits a query job and returns its id without waiting.
	Query(ctx context.Context, query string) (string, error)
	// WriteToTable submits a query job whose result is written into a table.
	WriteToTable(ctx context.Context, req WriteRequest) (string, error)
	// CheckJob reads the current status of a job. It never mutates the job.
	CheckJob(ctx context.Context, jobID string) (JobStatus, error)
	CancelJob(ctx context.Context, jobID string) error
	// ReadRows fetches up to limit rows of a finished job's result.
	ReadRows(ctx context.Context, jobID string, limit int) (*RowSet, error)
}

// StateStore persists small result-state documents by key.
// Implemented by state.FileStore and state.GCSStore.
type StateStore interface {
	Get(ctx context.Context, key string) (*ResultState, error)
	Put(ctx context.Context, key string, st *ResultState) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RunRepository records pipeline and task run history.
// Implemented by repository.RunRepo.
type RunRepository interface {
	CreateRun(ctx context.Context, run *PipelineRun) (*PipelineRun, error)
	FinishRun(ctx context.Context, id, status string, errorMsg *string) error
	GetRun(ctx context.Context, id string) (*PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]PipelineRun, error)

	RecordTaskRun(ctx context.Context, tr *TaskRun) error
	ListTaskRuns(ctx context.Context, runID string) ([]TaskRun, error)
}
