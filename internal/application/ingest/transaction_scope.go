package ingest

import (
	"context"

	"github.com/erp/costalloc/internal/domain/ingest"
)

// TransactionScope provides transactional access to the scope replacer.
// Every group of a batch is applied through the replacer handed to fn, so
// the whole batch commits or rolls back atomically.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(replacer ingest.ScopeReplacer) error) error
}

// NoOpTransactionScope hands the same replacer to fn without a transaction.
// This is useful for testing.
type NoOpTransactionScope struct {
	replacer ingest.ScopeReplacer
}

// NewNoOpTransactionScope creates a NoOpTransactionScope over replacer
func NewNoOpTransactionScope(replacer ingest.ScopeReplacer) *NoOpTransactionScope {
	return &NoOpTransactionScope{replacer: replacer}
}

// Execute runs the function without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(replacer ingest.ScopeReplacer) error) error {
	return fn(s.replacer)
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
