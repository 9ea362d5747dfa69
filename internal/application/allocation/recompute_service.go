package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/erp/costalloc/internal/infrastructure/scheduler"
	"github.com/erp/costalloc/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed worker can hold a slice lock
const DefaultLockTTL = 10 * time.Minute

// Unit and month outcomes
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// UnitStatus is the outcome of one (month, class) unit
type UnitStatus struct {
	ExpenseType string `json:"expense_type"`
	Status      string `json:"status"`
	Rows        int    `json:"rows"`
	Keys        int    `json:"keys"`
	Degenerate  int    `json:"degenerate,omitempty"`
	Error       string `json:"error,omitempty"`
}

// MonthStatus aggregates the units of one month.
// Status is ok only when every unit of the month succeeded.
type MonthStatus struct {
	Month  string       `json:"month"`
	Status string       `json:"status"`
	Rows   int          `json:"rows"`
	Units  []UnitStatus `json:"units"`
}

func (m *MonthStatus) add(u UnitStatus) {
	m.Units = append(m.Units, u)
	m.Rows += u.Rows
	if u.Status != StatusOK {
		m.Status = StatusFailed
	}
}

// RecomputeService recomputes and republishes allocation slices
type RecomputeService struct {
	engine    *allocation.Engine
	scope     TransactionScope
	jobStatus allocation.JobStatusRepository
	locker    allocation.Locker
	metrics   *telemetry.AllocationMetrics
	logger    *zap.Logger
	lockTTL   time.Duration
	now       func() time.Time
}

// NewRecomputeService creates a new RecomputeService
func NewRecomputeService(
	engine *allocation.Engine,
	scope TransactionScope,
	jobStatus allocation.JobStatusRepository,
	locker allocation.Locker,
	logger *zap.Logger,
) *RecomputeService {
	return &RecomputeService{
		engine:    engine,
		scope:     scope,
		jobStatus: jobStatus,
		locker:    locker,
		logger:    logger,
		lockTTL:   DefaultLockTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics sets the instruments units are recorded on
func (s *RecomputeService) SetMetrics(metrics *telemetry.AllocationMetrics) {
	s.metrics = metrics
}

// SetLockTTL sets the expiry of slice locks
func (s *RecomputeService) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// RecomputeRange recomputes every expense class for every calendar month
// touching [start, end]. Months are processed in order and a failed unit
// does not stop the others. When any unit fails the per-month statuses are
// returned together with an error carrying them as details: LOCK_NOT_OBTAINED
// when every failed unit was held by another run, RECOMPUTE_FAILED otherwise.
func (s *RecomputeService) RecomputeRange(ctx context.Context, start, end time.Time) ([]MonthStatus, error) {
	if end.Before(start) {
		return nil, shared.ErrInvalidPeriod
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "recompute_range",
		"period.start", start.Format("2006-01-02"),
		"period.end", end.Format("2006-01-02"),
	)
	defer span.End()

	windows := allocation.Months(start, end)
	months := make([]MonthStatus, 0, len(windows))
	failedTypes := make(map[allocation.ExpenseType]bool)
	var tally failureTally
	total := 0

	for _, w := range windows {
		month := MonthStatus{Month: w.Label(), Status: StatusOK}
		for _, t := range allocation.AllExpenseTypes() {
			unit, err := s.recomputeUnit(ctx, t, w)
			total++
			if err != nil {
				tally.add(err)
				failedTypes[t] = true
			}
			month.add(unit)
		}
		months = append(months, month)
	}

	for _, t := range allocation.AllExpenseTypes() {
		if !failedTypes[t] {
			s.markSuccess(ctx, t.RangeJobName(), s.now())
		}
	}

	if tally.failed > 0 {
		err := tally.err(fmt.Sprintf("%d of %d allocation units", tally.failed, total)).WithDetails(months)
		telemetry.RecordError(span, err)
		return months, err
	}
	return months, nil
}

// RunIncremental recomputes the months of one class whose source rows changed
// since the class job last succeeded. Success is recorded with the time the
// run started, so rows ingested while it ran are picked up next time.
func (s *RecomputeService) RunIncremental(ctx context.Context, expenseType allocation.ExpenseType) ([]MonthStatus, error) {
	startedAt := s.now()
	jobName := expenseType.JobName()

	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "run_incremental",
		telemetry.SpanAttrJobName, jobName)
	defer span.End()

	since, err := s.jobStatus.LastSuccess(ctx, jobName)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to read last success of %s: %w", jobName, err)
	}

	var windows []allocation.Window
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		windows, err = repos.SourceReader().ChangedMonths(ctx, expenseType, since)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to find changed months of %s: %w", expenseType.Code(), err)
	}

	log := s.logger.With(zap.String("job_name", jobName))
	if len(windows) == 0 {
		log.Debug("No changed months")
		s.markSuccess(ctx, jobName, startedAt)
		return nil, nil
	}
	log.Info("Recomputing changed months", zap.Int("months", len(windows)))

	months := make([]MonthStatus, 0, len(windows))
	var tally failureTally
	for _, w := range windows {
		month := MonthStatus{Month: w.Label(), Status: StatusOK}
		unit, err := s.recomputeUnit(ctx, expenseType, w)
		if err != nil {
			tally.add(err)
		}
		month.add(unit)
		months = append(months, month)
	}

	if tally.failed > 0 {
		err := tally.err(fmt.Sprintf("%d of %d months of %s", tally.failed, len(windows), expenseType.Code())).WithDetails(months)
		telemetry.RecordError(span, err)
		return months, err
	}
	s.markSuccess(ctx, jobName, startedAt)
	return months, nil
}

// failureTally counts failed units and those that failed on a held lock
type failureTally struct {
	failed int
	locked int
}

func (t *failureTally) add(err error) {
	t.failed++
	if shared.HasCode(err, shared.CodeLockNotObtained) {
		t.locked++
	}
}

// err reports a run whose failed units are described by what
func (t *failureTally) err(what string) *shared.DomainError {
	if t.locked == t.failed {
		return shared.NewDomainError(shared.CodeLockNotObtained, what+" are locked by another run")
	}
	return shared.NewDomainError(shared.CodeRecomputeFailed, what+" failed")
}

// Execute implements scheduler.JobExecutor
func (s *RecomputeService) Execute(ctx context.Context, job *scheduler.Job) error {
	switch job.Kind {
	case scheduler.JobKindIncremental:
		_, err := s.RunIncremental(ctx, job.ExpenseType)
		return err
	case scheduler.JobKindRange:
		_, err := s.RecomputeRange(ctx, job.PeriodStart, job.PeriodEnd)
		return err
	}
	return fmt.Errorf("%w: unknown kind %q", scheduler.ErrInvalidJob, job.Kind)
}

// recomputeUnit runs one unit and reports its status. The error is also
// returned so callers can count failures.
func (s *RecomputeService) recomputeUnit(ctx context.Context, expenseType allocation.ExpenseType, window allocation.Window) (UnitStatus, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "recompute_unit",
		telemetry.SpanAttrExpenseType, expenseType.Code(),
		telemetry.SpanAttrMonth, window.Label(),
	)
	defer span.End()

	log := s.logger.With(
		zap.String("expense_type", expenseType.Code()),
		zap.String("month", window.Label()),
	)
	status := UnitStatus{ExpenseType: expenseType.Code(), Status: StatusOK}

	result, err := s.runUnit(ctx, expenseType, window)
	if err != nil {
		status.Status = StatusFailed
		status.Error = err.Error()
		telemetry.RecordError(span, err)
		s.metrics.RecordRecompute(ctx, expenseType.Code(), telemetry.StatusFailed, 0, 0, time.Since(start))
		log.Error("Allocation unit failed", zap.Error(err))
		return status, err
	}

	status.Rows = len(result.Rows)
	status.Keys = result.Keys
	status.Degenerate = len(result.Degenerate)
	for _, w := range result.Degenerate {
		log.Warn("Expense key left unallocated",
			zap.String("key", w.Key.String()),
			zap.String("total", w.Total.String()),
			zap.String("reason", w.Reason),
		)
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrKeys, result.Keys,
		telemetry.SpanAttrPublished, len(result.Rows),
	)
	s.metrics.RecordRecompute(ctx, expenseType.Code(), telemetry.StatusSuccess,
		status.Rows, status.Degenerate, time.Since(start))
	log.Info("Allocation unit published",
		zap.Int("keys", result.Keys),
		zap.Int("rows", status.Rows),
		zap.Int("degenerate", status.Degenerate),
		zap.String("total", result.Total().String()),
		zap.Duration("duration", time.Since(start)),
	)
	return status, nil
}

// runUnit loads, computes and publishes one slice under its lock
func (s *RecomputeService) runUnit(ctx context.Context, expenseType allocation.ExpenseType, window allocation.Window) (*allocation.Result, error) {
	key := allocation.LockKey(expenseType, window)
	handle, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release slice lock", zap.String("key", key), zap.Error(err))
		}
	}()

	var result *allocation.Result
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		publisher := repos.Publisher()
		if err := publisher.Lock(ctx, expenseType, window); err != nil {
			return err
		}
		snapshot, err := repos.SourceReader().LoadSnapshot(ctx, expenseType, window)
		if err != nil {
			return err
		}
		res, err := s.engine.Compute(*snapshot)
		if err != nil {
			return err
		}
		if _, err := publisher.Replace(ctx, expenseType, window, res.Rows); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		var de *shared.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, shared.NewTransactionFailure(fmt.Sprintf("%s allocation of %s", expenseType.Code(), window.Label()), err)
	}
	return result, nil
}

// markSuccess records a job success. A failure is logged and never fails the run.
func (s *RecomputeService) markSuccess(ctx context.Context, jobName string, at time.Time) {
	if err := s.jobStatus.MarkSuccess(ctx, jobName, at); err != nil {
		s.logger.Warn("Failed to record job success",
			zap.String("job_name", jobName),
			zap.Error(err),
		)
	}
}

var _ scheduler.JobExecutor = (*RecomputeService)(nil)
