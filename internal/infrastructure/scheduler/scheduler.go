package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobKind selects what a job recomputes
type JobKind string

const (
	// JobKindIncremental recomputes the months of one class changed since its last success
	JobKindIncremental JobKind = "INCREMENTAL"
	// JobKindRange recomputes every class for every month of a period
	JobKindRange JobKind = "RANGE"
)

// Job represents a scheduled recompute job
type Job struct {
	ID          uuid.UUID
	Kind        JobKind
	ExpenseType allocation.ExpenseType // set for incremental jobs
	PeriodStart time.Time              // set for range jobs
	PeriodEnd   time.Time
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
}

// NewIncrementalJob creates an incremental job for one expense class
func NewIncrementalJob(expenseType allocation.ExpenseType, maxRetries int) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        JobKindIncremental,
		ExpenseType: expenseType,
		Status:      JobStatusPending,
		MaxRetries:  maxRetries,
	}
}

// NewRangeJob creates a range job over [start, end]
func NewRangeJob(start, end time.Time, maxRetries int) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        JobKindRange,
		PeriodStart: start,
		PeriodEnd:   end,
		Status:      JobStatusPending,
		MaxRetries:  maxRetries,
	}
}

// Key identifies equivalent jobs; at most one per key is queued at a time
func (j *Job) Key() string {
	if j.Kind == JobKindRange {
		return fmt.Sprintf("range:%s:%s", j.PeriodStart.Format("2006-01-02"), j.PeriodEnd.Format("2006-01-02"))
	}
	return "incremental:" + j.ExpenseType.Code()
}

// Validate checks the job carries what its kind needs
func (j *Job) Validate() error {
	switch j.Kind {
	case JobKindIncremental:
		if !j.ExpenseType.IsValid() {
			return fmt.Errorf("%w: unknown expense type %q", ErrInvalidJob, j.ExpenseType)
		}
	case JobKindRange:
		if j.PeriodStart.IsZero() || j.PeriodEnd.Before(j.PeriodStart) {
			return fmt.Errorf("%w: bad period", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	return nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// JobExecutor is the interface for executing recompute jobs
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	QueueSize         int
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:           true,
		MaxConcurrentJobs: 3,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Minute,
		QueueSize:         100,
	}
}

// Validate checks the configuration
func (c SchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("%w: max concurrent jobs must be at least 1", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry settings must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Scheduler runs recompute jobs on a fixed pool of workers
type Scheduler struct {
	config   SchedulerConfig
	executor JobExecutor
	logger   *zap.Logger

	jobs      chan *Job
	queued    map[string]bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config SchedulerConfig, executor JobExecutor, logger *zap.Logger) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	return &Scheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *Job, config.QueueSize),
		queued:   make(map[string]bool),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Recompute scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)

	return nil
}

// Stop cancels running jobs and waits for the workers to exit
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Recompute scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Recompute scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether workers are accepting jobs
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitJob queues a job. A job equivalent to one already pending or
// running is refused with ErrJobAlreadyQueued.
func (s *Scheduler) SubmitJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	key := job.Key()
	if s.queued[key] {
		return ErrJobAlreadyQueued
	}

	select {
	case s.jobs <- job:
		s.queued[key] = true
		s.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("job_key", key),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// SubmitIncremental queues an incremental job for every expense class.
// Classes whose job is still queued are skipped.
func (s *Scheduler) SubmitIncremental() error {
	for _, t := range allocation.AllExpenseTypes() {
		err := s.SubmitJob(NewIncrementalJob(t, s.config.RetryAttempts))
		if errors.Is(err, ErrJobAlreadyQueued) {
			s.logger.Debug("Incremental job still queued", zap.String("expense_type", t.Code()))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SubmitRange queues a range job over [start, end]
func (s *Scheduler) SubmitRange(start, end time.Time) (*Job, error) {
	job := NewRangeJob(start, end, s.config.RetryAttempts)
	if err := s.SubmitJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Scheduler) release(job *Job) {
	s.mu.Lock()
	delete(s.queued, job.Key())
	s.mu.Unlock()
}

// worker processes jobs from the queue
func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker stopping", zap.Int("worker_id", workerID))
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a job, retrying in place after RetryDelay
func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	defer s.release(job)

	for {
		job.Start()
		s.logger.Info("Processing job",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("job_key", job.Key()),
		)

		jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
		err := s.executor.Execute(jobCtx, job)
		cancel()

		if err == nil {
			job.Complete()
			s.logger.Info("Job completed successfully",
				zap.Int("worker_id", workerID),
				zap.String("job_id", job.ID.String()),
				zap.String("job_key", job.Key()),
			)
			return
		}

		job.Fail(err.Error())
		s.logger.Error("Job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("job_key", job.Key()),
			zap.Error(err),
		)
		if !job.ShouldRetry() || ctx.Err() != nil {
			return
		}

		job.RetryCount++
		s.logger.Info("Job scheduled for retry",
			zap.String("job_id", job.ID.String()),
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.RetryDelay):
		}
	}
}
