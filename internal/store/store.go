// Package store persists engine snapshots and the append-only deal/order
// audit history.
package store

import (
	"context"

	"github.com/rxtech-lab/argo-spot/internal/types"
)

// Store is the persistence contract consumed by the engine. Snapshots are
// replaced wholesale on each save; deal and order history is append-only.
type Store interface {
	// SaveSnapshot atomically replaces the current engine snapshot.
	SaveSnapshot(ctx context.Context, blob []byte, checksum string) error

	// LoadSnapshot returns the stored snapshot, or (nil, "", nil) when no
	// snapshot has been saved yet.
	LoadSnapshot(ctx context.Context) (blob []byte, checksum string, err error)

	// AppendDeal records a deal state for audit/history.
	AppendDeal(ctx context.Context, deal types.Deal) error

	// AppendOrder records an order state for audit/history.
	AppendOrder(ctx context.Context, order types.Order) error

	// Close releases the underlying resources.
	Close() error
}
