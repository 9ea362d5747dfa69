package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/erp/costalloc/internal/domain/shared"
	jsonimport "github.com/erp/costalloc/internal/infrastructure/import"
	"github.com/erp/costalloc/internal/infrastructure/logger"
	"github.com/erp/costalloc/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Batch sources, used as a metric attribute and in logs
const (
	SourceHTTP   = "http"
	SourcePubSub = "pubsub"
	SourceFile   = "file"
)

// BatchDecoder turns a raw payload into a generic JSON document
type BatchDecoder interface {
	Decode(r io.Reader) (any, error)
}

// preparedGroup is a group whose rows already passed normalization
type preparedGroup struct {
	schema  *ingest.EntitySchema
	records []ingest.Record
}

// IngestionService applies batches of source records to the warehouse
type IngestionService struct {
	registry *ingest.Registry
	decoder  BatchDecoder
	scope    TransactionScope
	metrics  *telemetry.AllocationMetrics
	logger   *zap.Logger
}

// NewIngestionService creates a new IngestionService
func NewIngestionService(
	registry *ingest.Registry,
	scope TransactionScope,
	logger *zap.Logger,
) *IngestionService {
	return &IngestionService{
		registry: registry,
		decoder:  jsonimport.NewDecoder(),
		scope:    scope,
		logger:   logger,
	}
}

// SetDecoder replaces the payload decoder
func (s *IngestionService) SetDecoder(decoder BatchDecoder) {
	s.decoder = decoder
}

// SetMetrics sets the instruments batches are recorded on
func (s *IngestionService) SetMetrics(metrics *telemetry.AllocationMetrics) {
	s.metrics = metrics
}

// HandleBatch decodes a raw payload and applies it
func (s *IngestionService) HandleBatch(ctx context.Context, r io.Reader, source string) (*ingest.BatchSummary, error) {
	start := time.Now()
	doc, err := s.decoder.Decode(r)
	if err != nil {
		s.metrics.RecordBatch(ctx, source, time.Since(start), errorCode(err))
		s.logger.Warn("Rejected undecodable batch", zap.String("source", source), zap.Error(err))
		return nil, err
	}
	return s.apply(ctx, doc, source, start)
}

// Apply applies an already decoded batch document.
// Every group is applied in input order inside one transaction; the first
// failing group rolls back the groups applied before it.
func (s *IngestionService) Apply(ctx context.Context, doc any, source string) (*ingest.BatchSummary, error) {
	return s.apply(ctx, doc, source, time.Now())
}

func (s *IngestionService) apply(ctx context.Context, doc any, source string, start time.Time) (summary *ingest.BatchSummary, err error) {
	batchID := uuid.New().String()
	ctx, span := telemetry.StartServiceSpan(ctx, "ingest", "apply_batch",
		telemetry.SpanAttrBatchID, batchID)
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		}
		s.metrics.RecordBatch(ctx, source, time.Since(start), errorCode(err))
		span.End()
	}()

	ctx = logger.WithBatchID(ctx, batchID)
	log := logger.For(ctx, s.logger).With(zap.String("source", source))

	groups, err := s.prepare(doc)
	if err != nil {
		log.Warn("Rejected batch", zap.Error(err))
		return nil, err
	}

	summary = &ingest.BatchSummary{Groups: make([]ingest.GroupSummary, 0, len(groups))}
	if len(groups) == 0 {
		log.Info("Received empty batch")
		return summary, nil
	}

	err = s.scope.Execute(ctx, func(replacer ingest.ScopeReplacer) error {
		for _, g := range groups {
			replaced, err := replacer.ReplaceScope(ctx, g.schema, g.records)
			if err != nil {
				return fmt.Errorf("failed to apply %s: %w", g.schema.TypeName, err)
			}
			summary.Groups = append(summary.Groups, ingest.GroupSummary{
				TypeName: g.schema.TypeName,
				Table:    g.schema.Table,
				Rows:     len(g.records),
				Replaced: replaced,
			})
			summary.Rows += len(g.records)
			log.Debug("Applied group",
				zap.String("type_name", g.schema.TypeName),
				zap.Int("rows", len(g.records)),
				zap.Int64("replaced", replaced),
			)
		}
		return nil
	})
	if err != nil {
		var de *shared.DomainError
		if !errors.As(err, &de) {
			err = shared.NewTransactionFailure("batch "+batchID, err)
		}
		log.Error("Batch rolled back", zap.Error(err))
		return nil, err
	}

	for _, g := range summary.Groups {
		s.metrics.RecordGroup(ctx, g.TypeName, g.Rows)
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrGroups, len(summary.Groups),
		telemetry.SpanAttrRows, summary.Rows,
	)
	log.Info("Batch applied",
		zap.Int("groups", len(summary.Groups)),
		zap.Int("rows", summary.Rows),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

// prepare resolves and normalizes every group before anything is written
func (s *IngestionService) prepare(doc any) ([]preparedGroup, error) {
	groups, err := ingest.ParseGroups(doc)
	if err != nil {
		return nil, err
	}

	prepared := make([]preparedGroup, 0, len(groups))
	for _, g := range groups {
		schema, err := s.registry.Lookup(g.TypeName)
		if err != nil {
			return nil, err
		}
		rows, err := g.RowList()
		if err != nil {
			return nil, err
		}
		records, err := schema.Normalize(rows)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, preparedGroup{schema: schema, records: records})
	}
	return prepared, nil
}

// errorCode returns the domain code of err, or empty for success
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return shared.CodeTransactionFailure
}
