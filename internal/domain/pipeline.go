package domain

import "time"

// Run status constants.
const (
	PipelineRunStatusRunning = "RUNNING"
	PipelineRunStatusSuccess = "SUCCESS"
	PipelineRunStatusFailed  = "FAILED"

	TaskRunStatusRunning = "RUNNING"
	TaskRunStatusSuccess = "SUCCESS"
	TaskRunStatusFailed  = "FAILED"
	TaskRunStatusSkipped = "SKIPPED"
	TaskRunStatusDone    = "DONE" // output already existed, nothing to run

	TriggerTypeManual    = "MANUAL"
	TriggerTypeScheduled = "SCHEDULED"
)

// PipelineRun represents one execution of a pipeline definition.
type PipelineRun struct {
	ID           string
	Pipeline     string
	Status       string
	TriggerType  string
	StartedAt    time.Time
	FinishedAt   *time.Time
	ErrorMessage *string
}

// TaskRun represents the execution of a single task within a pipeline run.
type TaskRun struct {
	ID           string
	RunID        string
	TaskID       string
	Status       string
	JobID        *string
	ResultSize   *int64
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// RunFilter holds filter parameters for listing pipeline runs.
type RunFilter struct {
	Pipeline string
	Status   string
	Limit    int
}

// DefaultRunLimit is used when a RunFilter has no positive limit.
const DefaultRunLimit = 50

// EffectiveLimit returns the limit clamped to [1, 1000].
func (f RunFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultRunLimit
	case f.Limit > 1000:
		return 1000
	}
	return f.Limit
}
