package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"bqflow/internal/domain"
)

// Compile-time check.
var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo implements domain.RunRepository using SQLite. Writes go to the
// single-connection write pool and reads to the read pool.
type RunRepo struct {
	write *sqlx.DB
	read  *sqlx.DB
	now   func() time.Time
}

// NewRunRepo creates a RunRepo over pools opened by db.OpenPair. readDB may
// be nil, in which case writeDB serves reads too.
func NewRunRepo(writeDB, readDB *sql.DB) *RunRepo {
	if readDB == nil {
		readDB = writeDB
	}
	return &RunRepo{
		write: sqlx.NewDb(writeDB, "sqlite3"),
		read:  sqlx.NewDb(readDB, "sqlite3"),
		now:   time.Now,
	}
}

type runRow struct {
	ID           string  `db:"id"`
	Pipeline     string  `db:"pipeline"`
	Status       string  `db:"status"`
	TriggerType  string  `db:"trigger_type"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
	ErrorMessage *string `db:"error_message"`
}

func (r runRow) toDomain() (domain.PipelineRun, error) {
	started, err := parseTime(r.StartedAt)
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("run %s started_at: %w", r.ID, err)
	}
	finished, err := parseTimePtr(r.FinishedAt)
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("run %s finished_at: %w", r.ID, err)
	}
	return domain.PipelineRun{
		ID:           r.ID,
		Pipeline:     r.Pipeline,
		Status:       r.Status,
		TriggerType:  r.TriggerType,
		StartedAt:    started,
		FinishedAt:   finished,
		ErrorMessage: r.ErrorMessage,
	}, nil
}

type taskRunRow struct {
	ID           string  `db:"id"`
	RunID        string  `db:"run_id"`
	TaskID       string  `db:"task_id"`
	Status       string  `db:"status"`
	JobID        *string `db:"job_id"`
	ResultSize   *int64  `db:"result_size"`
	ErrorMessage *string `db:"error_message"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (r taskRunRow) toDomain() (domain.TaskRun, error) {
	started, err := parseTime(r.StartedAt)
	if err != nil {
		return domain.TaskRun{}, fmt.Errorf("task run %s started_at: %w", r.ID, err)
	}
	finished, err := parseTimePtr(r.FinishedAt)
	if err != nil {
		return domain.TaskRun{}, fmt.Errorf("task run %s finished_at: %w", r.ID, err)
	}
	return domain.TaskRun{
		ID:           r.ID,
		RunID:        r.RunID,
		TaskID:       r.TaskID,
		Status:       r.Status,
		JobID:        r.JobID,
		ResultSize:   r.ResultSize,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    started,
		FinishedAt:   finished,
	}, nil
}

const runColumns = `id, pipeline, status, trigger_type, started_at, finished_at, error_message`

// CreateRun inserts a pipeline run. An empty ID or zero StartedAt is filled in.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	out := *run
	if out.ID == "" {
		out.ID = domain.NewID()
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = r.now()
	}
	if out.Status == "" {
		out.Status = domain.PipelineRunStatusRunning
	}
	out.StartedAt = out.StartedAt.UTC()

	_, err := r.write.NamedExecContext(ctx,
		`INSERT INTO pipeline_runs (`+runColumns+`)
		 VALUES (:id, :pipeline, :status, :trigger_type, :started_at, :finished_at, :error_message)`,
		runRow{
			ID:           out.ID,
			Pipeline:     out.Pipeline,
			Status:       out.Status,
			TriggerType:  out.TriggerType,
			StartedAt:    formatTime(out.StartedAt),
			FinishedAt:   formatTimePtr(out.FinishedAt),
			ErrorMessage: out.ErrorMessage,
		})
	if err != nil {
		return nil, mapDBError(err)
	}
	return &out, nil
}

// FinishRun sets the terminal status of a run and stamps its finish time.
func (r *RunRepo) FinishRun(ctx context.Context, id, status string, errorMsg *string) error {
	res, err := r.write.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status, errorMsg, formatTime(r.now()), id,
	)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("run %q not found", id)
	}
	return nil
}

// GetRun returns a run by ID.
func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	var row runRow
	err := r.read.GetContext(ctx, &row, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first, filtered by pipeline and status.
func (r *RunRepo) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error) {
	var (
		where []string
		args  []any
	)
	if filter.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, strings.ToUpper(filter.Status))
	}

	q := `SELECT ` + runColumns + ` FROM pipeline_runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, filter.EffectiveLimit())

	var rows []runRow
	if err := r.read.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, mapDBError(err)
	}
	var out []domain.PipelineRun
	for _, row := range rows {
		run, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

const taskRunColumns = `id, run_id, task_id, status, job_id, result_size, error_message, started_at, finished_at`

// RecordTaskRun inserts one task outcome for a run.
func (r *RunRepo) RecordTaskRun(ctx context.Context, tr *domain.TaskRun) error {
	if tr.ID == "" {
		tr.ID = domain.NewID()
	}
	if tr.StartedAt.IsZero() {
		tr.StartedAt = r.now()
	}
	_, err := r.write.NamedExecContext(ctx,
		`INSERT INTO task_runs (`+taskRunColumns+`)
		 VALUES (:id, :run_id, :task_id, :status, :job_id, :result_size, :error_message, :started_at, :finished_at)`,
		taskRunRow{
			ID:           tr.ID,
			RunID:        tr.RunID,
			TaskID:       tr.TaskID,
			Status:       tr.Status,
			JobID:        tr.JobID,
			ResultSize:   tr.ResultSize,
			ErrorMessage: tr.ErrorMessage,
			StartedAt:    formatTime(tr.StartedAt),
			FinishedAt:   formatTimePtr(tr.FinishedAt),
		})
	return mapDBError(err)
}

// ListTaskRuns returns the task outcomes of a run in the order they started.
func (r *RunRepo) ListTaskRuns(ctx context.Context, runID string) ([]domain.TaskRun, error) {
	var rows []taskRunRow
	err := r.read.SelectContext(ctx, &rows,
		`SELECT `+taskRunColumns+` FROM task_runs WHERE run_id = ? ORDER BY started_at, task_id`, runID)
	if err != nil {
		return nil, mapDBError(err)
	}
	var out []domain.TaskRun
	for _, row := range rows {
		tr, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}
