package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ticket-service/internal/models"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{counts: make(map[string]int)}
}

func (f *fakeCache) SetAvailable(ctx context.Context, eventID string, available int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.counts[eventID] = available
	return nil
}

func (f *fakeCache) LowerAvailable(ctx context.Context, eventID string, available int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	current, ok := f.counts[eventID]
	if !ok || current > available {
		f.counts[eventID] = available
		return available, nil
	}
	return current, nil
}

func (f *fakeCache) GetAvailable(ctx context.Context, eventID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	count, ok := f.counts[eventID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", redisclient.ErrNotCached, eventID)
	}
	return count, nil
}

func ledgerStore(t *testing.T, tickets int) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.PutEvent(models.Event{ID: testEventID, Title: "NYE Gala", Price: decimal.NewFromInt(5000), AvailableTickets: tickets})
	return ms
}

func TestLedgerDecrementLowersCache(t *testing.T) {
	ms := ledgerStore(t, 10)
	cache := newFakeCache()
	cache.counts[testEventID] = 10
	ledger := NewInventoryLedger(ms, cache)

	remaining, err := ledger.TryDecrement(context.Background(), testEventID, 3)
	require.NoError(t, err)

	assert.Equal(t, 7, remaining)
	assert.Equal(t, 7, cache.counts[testEventID])
}

func TestLedgerDecrementInsufficientLeavesCountsAlone(t *testing.T) {
	ms := ledgerStore(t, 2)
	cache := newFakeCache()
	cache.counts[testEventID] = 2
	ledger := NewInventoryLedger(ms, cache)

	_, err := ledger.TryDecrement(context.Background(), testEventID, 3)

	assert.ErrorIs(t, err, models.ErrInsufficientInventory)
	available, err := ms.GetAvailableTickets(context.Background(), testEventID)
	require.NoError(t, err)
	assert.Equal(t, 2, available)
	assert.Equal(t, 2, cache.counts[testEventID])
}

func TestLedgerDecrementSucceedsWhenCacheFails(t *testing.T) {
	ms := ledgerStore(t, 5)
	cache := newFakeCache()
	cache.err = errors.New("connection refused")
	ledger := NewInventoryLedger(ms, cache)

	remaining, err := ledger.TryDecrement(context.Background(), testEventID, 1)

	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestLedgerAvailable(t *testing.T) {
	t.Run("cache hit", func(t *testing.T) {
		cache := newFakeCache()
		cache.counts[testEventID] = 3
		ledger := NewInventoryLedger(ledgerStore(t, 10), cache)

		available, err := ledger.Available(context.Background(), testEventID)
		require.NoError(t, err)
		assert.Equal(t, 3, available)
	})

	t.Run("cache miss populates", func(t *testing.T) {
		cache := newFakeCache()
		ledger := NewInventoryLedger(ledgerStore(t, 10), cache)

		available, err := ledger.Available(context.Background(), testEventID)
		require.NoError(t, err)
		assert.Equal(t, 10, available)
		assert.Equal(t, 10, cache.counts[testEventID])
	})

	t.Run("cache down", func(t *testing.T) {
		cache := newFakeCache()
		cache.err = errors.New("connection refused")
		ledger := NewInventoryLedger(ledgerStore(t, 10), cache)

		available, err := ledger.Available(context.Background(), testEventID)
		require.NoError(t, err)
		assert.Equal(t, 10, available)
	})

	t.Run("no cache", func(t *testing.T) {
		ledger := NewInventoryLedger(ledgerStore(t, 4), nil)

		available, err := ledger.Available(context.Background(), testEventID)
		require.NoError(t, err)
		assert.Equal(t, 4, available)
	})

	t.Run("unknown event", func(t *testing.T) {
		ledger := NewInventoryLedger(ledgerStore(t, 4), newFakeCache())

		_, err := ledger.Available(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrEventNotFound)
	})
}

func TestLedgerDrain(t *testing.T) {
	ms := ledgerStore(t, 6)
	cache := newFakeCache()
	cache.counts[testEventID] = 6
	ledger := NewInventoryLedger(ms, cache)

	drained, err := ledger.Drain(context.Background(), testEventID)
	require.NoError(t, err)

	assert.Equal(t, 6, drained)
	assert.Equal(t, 0, cache.counts[testEventID])
}

func TestSyncInventoryToRedis(t *testing.T) {
	ms := ledgerStore(t, 6)
	ms.PutEvent(models.Event{ID: "retired-show", AvailableTickets: 2, Status: models.EventStatusRetired})
	cache := newFakeCache()
	cache.counts[testEventID] = 1
	ledger := NewInventoryLedger(ms, cache)

	require.NoError(t, ledger.SyncInventoryToRedis(context.Background()))

	assert.Equal(t, map[string]int{testEventID: 6, "retired-show": 2}, cache.counts)
	assert.NoError(t, NewInventoryLedger(ms, nil).SyncInventoryToRedis(context.Background()))
}
