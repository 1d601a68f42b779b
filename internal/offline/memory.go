package offline

import (
	"context"
	"sort"
	"sync"

	"kasirku/backend/internal/domain"
	"kasirku/backend/internal/store"
)

// MemoryQueue is an in-memory QueueStore for tests and throwaway terminals.
type MemoryQueue struct {
	mu      sync.Mutex
	records map[string]domain.ClientRecord
	closed  bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{records: make(map[string]domain.ClientRecord)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, record domain.ClientRecord) error {
	if record.ClientID == "" {
		return store.ErrInvalidTransaction
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, exists := q.records[record.ClientID]; exists {
		return nil
	}
	q.records[record.ClientID] = record
	return nil
}

func (q *MemoryQueue) List(_ context.Context, limit int) ([]domain.ClientRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	records := make([]domain.ClientRecord, 0, len(q.records))
	for _, record := range q.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ClientID < records[j].ClientID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (q *MemoryQueue) Delete(_ context.Context, clientIDs []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	for _, id := range clientIDs {
		delete(q.records, id)
	}
	return nil
}

func (q *MemoryQueue) Count(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.records), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
