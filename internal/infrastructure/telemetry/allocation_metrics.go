package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Status values of ingestion and recompute metrics
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// AllocationMetrics holds the instruments of batch ingestion and allocation
// recomputes. A nil *AllocationMetrics records nothing.
type AllocationMetrics struct {
	batches           *Counter
	groupRows         *Counter
	batchDuration     *Histogram
	recomputes        *Counter
	publishedRows     *Counter
	degenerateKeys    *Counter
	recomputeDuration *Histogram
}

// NewAllocationMetrics creates the instruments on meter
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	m := &AllocationMetrics{}
	var err error

	if m.batches, err = NewCounter(meter, "ingest_batches_total",
		"Ingestion batches by outcome", "{batch}"); err != nil {
		return nil, err
	}
	if m.groupRows, err = NewCounter(meter, "ingest_rows_total",
		"Rows applied by external type", "{row}"); err != nil {
		return nil, err
	}
	if m.batchDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "ingest_batch_duration_seconds",
		Description: "Time to validate and apply one batch",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.recomputes, err = NewCounter(meter, "allocation_recompute_total",
		"Recomputed (month, class) units by outcome", "{unit}"); err != nil {
		return nil, err
	}
	if m.publishedRows, err = NewCounter(meter, "allocation_rows_published_total",
		"Allocation rows written", "{row}"); err != nil {
		return nil, err
	}
	if m.degenerateKeys, err = NewCounter(meter, "allocation_degenerate_keys_total",
		"Expense keys left unallocated for lack of weighted candidates", "{key}"); err != nil {
		return nil, err
	}
	if m.recomputeDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "allocation_recompute_duration_seconds",
		Description: "Time to load, compute and publish one unit",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordBatch records one batch. errorCode is empty for applied batches.
func (m *AllocationMetrics) RecordBatch(ctx context.Context, source string, d time.Duration, errorCode string) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if errorCode != "" {
		status = StatusFailed
	}
	m.batches.Inc(ctx, AttrSource.String(source), AttrStatus.String(status), AttrErrorCode.String(errorCode))
	m.batchDuration.RecordDuration(ctx, d, AttrSource.String(source), AttrStatus.String(status))
}

// RecordGroup records the rows applied for one external type
func (m *AllocationMetrics) RecordGroup(ctx context.Context, typeName string, rows int) {
	if m == nil {
		return
	}
	m.groupRows.Add(ctx, int64(rows), AttrTypeName.String(typeName))
}

// RecordRecompute records one (month, class) unit
func (m *AllocationMetrics) RecordRecompute(ctx context.Context, expenseType, status string, rows, degenerate int, d time.Duration) {
	if m == nil {
		return
	}
	typeAttr := AttrExpenseType.String(expenseType)
	m.recomputes.Inc(ctx, typeAttr, AttrStatus.String(status))
	m.recomputeDuration.RecordDuration(ctx, d, typeAttr, AttrStatus.String(status))
	if rows > 0 {
		m.publishedRows.Add(ctx, int64(rows), typeAttr)
	}
	if degenerate > 0 {
		m.degenerateKeys.Add(ctx, int64(degenerate), typeAttr)
	}
}
