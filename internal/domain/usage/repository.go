package usage

import (
	"context"

	"github.com/subflow/subflow/internal/types"
)

// Repository is the persistence collaborator for usage records. Upsert must be
// atomic per metering key so two concurrent writes for the same key cannot both
// insert.
type Repository interface {
	// Upsert inserts the record, or overwrites quantity, unit price, total
	// amount, metadata and recorded-at in place when a record with the same
	// metering key already exists. Last write wins, never additive.
	Upsert(ctx context.Context, record *Record) error
	GetByKey(ctx context.Context, key Key) (*Record, error)
	List(ctx context.Context, filter *types.UsageFilter) ([]*Record, error)
}
