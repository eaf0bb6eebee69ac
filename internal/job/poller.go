// Package job submits BigQuery jobs and waits for them to reach a terminal state.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"bqflow/internal/domain"
)

// DefaultPollInterval is the wait between two status checks of the same job.
// Jobs run for minutes, so a fixed interval is enough.
const DefaultPollInterval = 5 * time.Second

// StatusChecker reads the status of a submitted job.
type StatusChecker interface {
	CheckJob(ctx context.Context, jobID string) (domain.JobStatus, error)
}

// Poller blocks until a job completes, its deadline passes or ctx is done.
// A Poller is safe for concurrent use; each Await call polls one job.
type Poller struct {
	checker  StatusChecker
	interval time.Duration
	clock    Clock
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the wait between status checks. Non-positive values are ignored.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithLimiter throttles status checks. Share one limiter between pollers to
// bound the process-wide request rate against the jobs API.
func WithLimiter(l *rate.Limiter) PollerOption {
	return func(p *Poller) { p.limiter = l }
}

// WithMetrics records checks and wait durations.
func WithMetrics(m *Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// NewPoller creates a Poller reading job status from checker.
func NewPoller(checker StatusChecker, logger *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		checker:  checker,
		interval: DefaultPollInterval,
		clock:    RealClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the configured wait between status checks.
func (p *Poller) Interval() time.Duration { return p.interval }

// Await polls jobID until it completes. The deadline is now+timeout; a zero
// timeout polls until completion. When the deadline passes first, Await
// returns a *domain.QueryTimeoutError naming task and jobID.
func (p *Poller) Await(ctx context.Context, task, jobID string, timeout time.Duration) (domain.JobStatus, error) {
	start := p.clock.Now()
	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}

	status, err := p.check(ctx, jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}

	for !status.Complete {
		now := p.clock.Now()
		if !deadline.IsZero() && !now.Before(deadline) {
			p.metrics.observeWait("timeout", now.Sub(start).Seconds())
			return status, &domain.QueryTimeoutError{Task: task, JobID: jobID, Timeout: timeout}
		}

		p.logger.Debug("job still running", "task", task, "job_id", jobID, "elapsed", now.Sub(start))
		select {
		case <-ctx.Done():
			p.metrics.observeWait("canceled", p.clock.Now().Sub(start).Seconds())
			return status, fmt.Errorf("await job %s: %w", jobID, ctx.Err())
		case <-p.clock.After(p.interval):
		}

		status, err = p.check(ctx, jobID)
		if err != nil {
			return domain.JobStatus{}, err
		}
	}

	p.metrics.observeWait("complete", p.clock.Now().Sub(start).Seconds())
	return status, nil
}

func (p *Poller) check(ctx context.Context, jobID string) (domain.JobStatus, error) {
	if p.limiter != nil {
		if err := p.waitLimiter(ctx); err != nil {
			return domain.JobStatus{}, fmt.Errorf("await job %s: %w", jobID, err)
		}
	}
	p.metrics.observeCheck()
	status, err := p.checker.CheckJob(ctx, jobID)
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("check job %s: %w", jobID, err)
	}
	return status, nil
}

// waitLimiter waits for a status-check token. rate.Limiter.Wait refuses up
// front when the token would arrive after the context deadline; that refusal
// is reported as context.DeadlineExceeded.
func (p *Poller) waitLimiter(ctx context.Context) error {
	err := p.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok && p.limiter.Burst() > 0 {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
