package allocation

import (
	"context"

	"github.com/erp/costalloc/internal/domain/allocation"
)

// TransactionScope provides transactional access to the allocation repositories.
// The load, compute and publish steps of one (month, class) unit share one
// transaction, so a failed unit leaves its published slice untouched.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides the repositories bound to one transaction
type TransactionalRepositories interface {
	// SourceReader returns the warehouse reader scoped to the current transaction
	SourceReader() allocation.SourceReader
	// Publisher returns the allocation publisher scoped to the current transaction
	Publisher() allocation.Publisher
}

// NoOpTransactionScope is a transaction scope that doesn't actually use transactions.
// This is useful for testing.
type NoOpTransactionScope struct {
	reader    allocation.SourceReader
	publisher allocation.Publisher
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories
func NewNoOpTransactionScope(reader allocation.SourceReader, publisher allocation.Publisher) *NoOpTransactionScope {
	return &NoOpTransactionScope{reader: reader, publisher: publisher}
}

// Execute runs the function without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// SourceReader returns the source reader
func (s *NoOpTransactionScope) SourceReader() allocation.SourceReader {
	return s.reader
}

// Publisher returns the publisher
func (s *NoOpTransactionScope) Publisher() allocation.Publisher {
	return s.publisher
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
