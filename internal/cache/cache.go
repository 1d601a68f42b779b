package cache

import (
	"context"
	"time"

	"kasirku/backend/internal/domain"
)

// SyncStatusCache holds per-user sync status snapshots. Entries are short
// lived and invalidated whenever a batch or ledger mutation lands, so a
// cached read never outlives the state it describes for long.
type SyncStatusCache interface {
	Get(ctx context.Context, key string) (*domain.SyncStatus, bool, error)
	Set(ctx context.Context, key string, value *domain.SyncStatus, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSyncStatusCache struct{}

func (NoopSyncStatusCache) Get(_ context.Context, _ string) (*domain.SyncStatus, bool, error) {
	return nil, false, nil
}

func (NoopSyncStatusCache) Set(_ context.Context, _ string, _ *domain.SyncStatus, _ time.Duration) error {
	return nil
}

func (NoopSyncStatusCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
