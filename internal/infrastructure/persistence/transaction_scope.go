package persistence

import (
	"context"

	appalloc "github.com/erp/costalloc/internal/application/allocation"
	appingest "github.com/erp/costalloc/internal/application/ingest"
	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/domain/ingest"
	"gorm.io/gorm"
)

// GormIngestTransactionScope runs a whole ingestion batch in one transaction
type GormIngestTransactionScope struct {
	db        *gorm.DB
	batchSize int
}

// NewGormIngestTransactionScope creates a new GormIngestTransactionScope
func NewGormIngestTransactionScope(db *gorm.DB, batchSize int) *GormIngestTransactionScope {
	return &GormIngestTransactionScope{db: db, batchSize: batchSize}
}

// Execute runs fn within a database transaction.
// If fn returns an error, every group applied so far is rolled back.
func (s *GormIngestTransactionScope) Execute(ctx context.Context, fn func(replacer ingest.ScopeReplacer) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormScopeReplacer(tx, s.batchSize))
	})
}

// GormAllocationTransactionScope runs the load, compute and publish steps of
// one (month, class) unit in one transaction
type GormAllocationTransactionScope struct {
	db        *gorm.DB
	filter    SourceFilter
	batchSize int
}

// NewGormAllocationTransactionScope creates a new GormAllocationTransactionScope
func NewGormAllocationTransactionScope(db *gorm.DB, filter SourceFilter, batchSize int) *GormAllocationTransactionScope {
	return &GormAllocationTransactionScope{db: db, filter: filter, batchSize: batchSize}
}

// Execute runs fn within a database transaction
func (s *GormAllocationTransactionScope) Execute(ctx context.Context, fn func(repos appalloc.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormAllocationRepositories{tx: tx, filter: s.filter, batchSize: s.batchSize})
	})
}

// gormAllocationRepositories provides the repositories bound to the current transaction
type gormAllocationRepositories struct {
	tx        *gorm.DB
	filter    SourceFilter
	batchSize int
}

func (r *gormAllocationRepositories) SourceReader() allocation.SourceReader {
	return NewGormAllocationSourceReader(r.tx, r.filter)
}

func (r *gormAllocationRepositories) Publisher() allocation.Publisher {
	return NewGormAllocationPublisher(r.tx, r.batchSize)
}

var (
	_ appingest.TransactionScope         = (*GormIngestTransactionScope)(nil)
	_ appalloc.TransactionScope          = (*GormAllocationTransactionScope)(nil)
	_ appalloc.TransactionalRepositories = (*gormAllocationRepositories)(nil)
)
