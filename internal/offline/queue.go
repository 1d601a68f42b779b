package offline

import (
	"context"
	"errors"

	"kasirku/backend/internal/domain"
)

var (
	ErrSyncInFlight = errors.New("sync already in flight")
	ErrQueueClosed  = errors.New("queue is closed")
)

// QueueStore is the durable local queue an offline terminal writes sales
// into. Records survive process restarts and are removed only after the
// server confirms they were applied (or skipped as already known).
type QueueStore interface {
	Enqueue(ctx context.Context, record domain.ClientRecord) error
	List(ctx context.Context, limit int) ([]domain.ClientRecord, error)
	Delete(ctx context.Context, clientIDs []string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
