// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"bqflow/internal/domain"
)

// === Warehouse Mock ===

// WriteCall records one WriteToTable invocation.
type WriteCall struct {
	Request domain.WriteRequest
}

// MockWarehouse implements domain.Warehouse for testing. Unset function fields
// panic, except the submission and check counters which are always recorded.
type MockWarehouse struct {
	CreateDatasetFn func(ctx context.Context, datasetID string) error
	DatasetExistsFn func(ctx context.Context, datasetID string) (bool, error)
	CreateTableFn   func(ctx context.Context, datasetID, tableID string, schema []domain.Field) error
	DeleteTableFn   func(ctx context.Context, datasetID, tableID string) error
	TableInfoFn     func(ctx context.Context, datasetID, tableID string) (domain.TableInfo, error)
	QueryFn         func(ctx context.Context, query string) (string, error)
	WriteToTableFn  func(ctx context.Context, req domain.WriteRequest) (string, error)
	CheckJobFn      func(ctx context.Context, jobID string) (domain.JobStatus, error)
	CancelJobFn     func(ctx context.Context, jobID string) error
	ReadRowsFn      func(ctx context.Context, jobID string, limit int) (*domain.RowSet, error)

	mu         sync.Mutex
	Queries    []string
	Writes     []WriteCall
	Checks     []string
	Cancelled  []string
	CreatedDS  []string
	CreatedTbl []string
}

// CreateDataset implements the interface method for testing.
func (m *MockWarehouse) CreateDataset(ctx context.Context, datasetID string) error {
	m.mu.Lock()
	m.CreatedDS = append(m.CreatedDS, datasetID)
	m.mu.Unlock()
	if m.CreateDatasetFn != nil {
		return m.CreateDatasetFn(ctx, datasetID)
	}
	return nil
}

// DatasetExists implements the interface method for testing.
func (m *MockWarehouse) DatasetExists(ctx context.Context, datasetID string) (bool, error) {
	if m.DatasetExistsFn != nil {
		return m.DatasetExistsFn(ctx, datasetID)
	}
	panic("unexpected call to MockWarehouse.DatasetExists")
}

// CreateTable implements the interface method for testing.
func (m *MockWarehouse) CreateTable(ctx context.Context, datasetID, tableID string, schema []domain.Field) error {
	m.mu.Lock()
	m.CreatedTbl = append(m.CreatedTbl, datasetID+"."+tableID)
	m.mu.Unlock()
	if m.CreateTableFn != nil {
		return m.CreateTableFn(ctx, datasetID, tableID, schema)
	}
	return nil
}

// DeleteTable implements the interface method for testing.
func (m *MockWarehouse) DeleteTable(ctx context.Context, datasetID, tableID string) error {
	if m.DeleteTableFn != nil {
		return m.DeleteTableFn(ctx, datasetID, tableID)
	}
	panic("unexpected call to MockWarehouse.DeleteTable")
}

// TableInfo implements the interface method for testing.
func (m *MockWarehouse) TableInfo(ctx context.Context, datasetID, tableID string) (domain.TableInfo, error) {
	if m.TableInfoFn != nil {
		return m.TableInfoFn(ctx, datasetID, tableID)
	}
	panic("unexpected call to MockWarehouse.TableInfo")
}

// Query implements the interface method for testing.
func (m *MockWarehouse) Query(ctx context.Context, query string) (string, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()
	if m.QueryFn != nil {
		return m.QueryFn(ctx, query)
	}
	panic("unexpected call to MockWarehouse.Query")
}

// WriteToTable implements the interface method for testing.
func (m *MockWarehouse) WriteToTable(ctx context.Context, req domain.WriteRequest) (string, error) {
	m.mu.Lock()
	m.Writes = append(m.Writes, WriteCall{Request: req})
	m.mu.Unlock()
	if m.WriteToTableFn != nil {
		return m.WriteToTableFn(ctx, req)
	}
	panic("unexpected call to MockWarehouse.WriteToTable")
}

// CheckJob implements the interface method for testing.
func (m *MockWarehouse) CheckJob(ctx context.Context, jobID string) (domain.JobStatus, error) {
	m.mu.Lock()
	m.Checks = append(m.Checks, jobID)
	m.mu.Unlock()
	if m.CheckJobFn != nil {
		return m.CheckJobFn(ctx, jobID)
	}
	panic("unexpected call to MockWarehouse.CheckJob")
}

// CancelJob implements the interface method for testing.
func (m *MockWarehouse) CancelJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, jobID)
	m.mu.Unlock()
	if m.CancelJobFn != nil {
		return m.CancelJobFn(ctx, jobID)
	}
	return nil
}

// ReadRows implements the interface method for testing.
func (m *MockWarehouse) ReadRows(ctx context.Context, jobID string, limit int) (*domain.RowSet, error) {
	if m.ReadRowsFn != nil {
		return m.ReadRowsFn(ctx, jobID, limit)
	}
	panic("unexpected call to MockWarehouse.ReadRows")
}

// SubmissionCount returns the number of Query and WriteToTable calls.
func (m *MockWarehouse) SubmissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries) + len(m.Writes)
}

// CheckCount returns the number of CheckJob calls.
func (m *MockWarehouse) CheckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Checks)
}

var _ domain.Warehouse = (*MockWarehouse)(nil)

// === Fake Clock ===

// FakeClock is a manually advanced clock. After advances the clock by the
// requested duration and fires immediately, so poll loops run without sleeping.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock creates a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns a channel that is already ready.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Sleeps returns the durations passed to After, in order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// === State Store Mock ===

// MemStateStore is an in-memory domain.StateStore.
type MemStateStore struct {
	mu     sync.Mutex
	States map[string]domain.ResultState
	PutErr error
}

// NewMemStateStore creates an empty MemStateStore.
func NewMemStateStore() *MemStateStore {
	return &MemStateStore{States: map[string]domain.ResultState{}}
}

// Get implements the interface method for testing.
func (s *MemStateStore) Get(_ context.Context, key string) (*domain.ResultState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.States[key]
	if !ok {
		return nil, domain.ErrNotFound("result state %q not found", key)
	}
	return &st, nil
}

// Put implements the interface method for testing.
func (s *MemStateStore) Put(_ context.Context, key string, st *domain.ResultState) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.States[key] = *st
	return nil
}

// Exists implements the interface method for testing.
func (s *MemStateStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.States[key]
	return ok, nil
}

var _ domain.StateStore = (*MemStateStore)(nil)

// === Run Repository Mock ===

// MemRunRepo is an in-memory domain.RunRepository that keeps every record
// for assertions.
type MemRunRepo struct {
	mu       sync.Mutex
	Runs     map[string]*domain.PipelineRun
	TaskRuns []domain.TaskRun
}

// NewMemRunRepo creates an empty MemRunRepo.
func NewMemRunRepo() *MemRunRepo {
	return &MemRunRepo{Runs: map[string]*domain.PipelineRun{}}
}

// CreateRun implements the interface method for testing.
func (r *MemRunRepo) CreateRun(_ context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	if cp.ID == "" {
		cp.ID = domain.NewID()
	}
	r.Runs[cp.ID] = &cp
	out := cp
	return &out, nil
}

// FinishRun implements the interface method for testing.
func (r *MemRunRepo) FinishRun(_ context.Context, id, status string, errorMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.Runs[id]
	if !ok {
		return domain.ErrNotFound("run %q not found", id)
	}
	now := time.Now()
	run.Status = status
	run.ErrorMessage = errorMsg
	run.FinishedAt = &now
	return nil
}

// GetRun implements the interface method for testing.
func (r *MemRunRepo) GetRun(_ context.Context, id string) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.Runs[id]
	if !ok {
		return nil, domain.ErrNotFound("run %q not found", id)
	}
	out := *run
	return &out, nil
}

// ListRuns implements the interface method for testing.
func (r *MemRunRepo) ListRuns(_ context.Context, filter domain.RunFilter) ([]domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PipelineRun
	for _, run := range r.Runs {
		if filter.Pipeline != "" && run.Pipeline != filter.Pipeline {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > filter.EffectiveLimit() {
		out = out[:filter.EffectiveLimit()]
	}
	return out, nil
}

// RecordTaskRun implements the interface method for testing.
func (r *MemRunRepo) RecordTaskRun(_ context.Context, tr *domain.TaskRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TaskRuns = append(r.TaskRuns, *tr)
	return nil
}

// ListTaskRuns implements the interface method for testing.
func (r *MemRunRepo) ListTaskRuns(_ context.Context, runID string) ([]domain.TaskRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TaskRun
	for _, tr := range r.TaskRuns {
		if tr.RunID == runID {
			out = append(out, tr)
		}
	}
	return out, nil
}

// TaskStatus returns the last recorded status for taskID, or "".
func (r *MemRunRepo) TaskStatus(taskID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := ""
	for _, tr := range r.TaskRuns {
		if tr.TaskID == taskID {
			status = tr.Status
		}
	}
	return status
}

var _ domain.RunRepository = (*MemRunRepo)(nil)
