package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"bqflow/internal/domain"
	"bqflow/internal/task"
)

// Scheduler triggers pipeline runs from the cron expressions in their
// definitions. A run still in progress when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	exec    *Executor
	env     *task.Env
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID // pipeline name → cron entry
	ctx     context.Context
}

// NewScheduler creates a new pipeline scheduler.
func NewScheduler(exec *Executor, env *task.Env, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		exec:    exec,
		env:     env,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

// Start registers defs and starts the cron scheduler. Runs triggered later
// use ctx, so cancelling it stops in-flight polling.
func (s *Scheduler) Start(ctx context.Context, defs []*Definition) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.Reload(defs)
	s.cron.Start()
	s.logger.Info("pipeline scheduler started", "pipelines", s.Len())
}

// Stop stops the scheduler and waits for running pipelines to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("pipeline scheduler stopped")
}

// Reload replaces all cron entries with the schedules of defs. Definitions
// without a schedule are ignored; invalid expressions are logged and skipped.
func (s *Scheduler) Reload(defs []*Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	for _, def := range defs {
		if def.Schedule == "" {
			continue
		}
		entryID, err := s.cron.AddFunc(def.Schedule, func() { s.trigger(def) })
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				"pipeline", def.Name,
				"schedule", def.Schedule,
				"error", err,
			)
			continue
		}
		s.entries[def.Name] = entryID
		s.logger.Info("scheduled pipeline", "pipeline", def.Name, "schedule", def.Schedule)
	}
}

// Len returns the number of scheduled pipelines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) trigger(def *Definition) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	tasks, err := def.Build(s.env)
	if err != nil {
		s.logger.Warn("scheduled build failed", "pipeline", def.Name, "error", err)
		return
	}
	if _, err := s.exec.Run(ctx, def.Name, domain.TriggerTypeScheduled, tasks...); err != nil {
		s.logger.Warn("scheduled run failed", "pipeline", def.Name, "error", err)
	}
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
