package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/redisclient"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// LedgerStore holds the authoritative unsold ticket counts
type LedgerStore interface {
	TryDecrementTickets(ctx context.Context, eventID string, quantity int) (int, error)
	DrainTickets(ctx context.Context, eventID string) (int, error)
	GetAvailableTickets(ctx context.Context, eventID string) (int, error)
	ListEventIDs(ctx context.Context) ([]string, error)
}

// StockCache mirrors availability for the advisory check at initiation
type StockCache interface {
	SetAvailable(ctx context.Context, eventID string, available int) error
	LowerAvailable(ctx context.Context, eventID string, available int) (int, error)
	GetAvailable(ctx context.Context, eventID string) (int, error)
}

// InventoryLedger decrements tickets against the store and keeps the cache
// mirror in step. The store is always the source of truth.
type InventoryLedger struct {
	store  LedgerStore
	cache  StockCache
	logger *zap.Logger
}

// NewInventoryLedger creates a ledger. cache may be nil.
func NewInventoryLedger(store LedgerStore, cache StockCache) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// TryDecrement removes quantity tickets or fails with InsufficientInventoryError
// leaving the count untouched
func (l *InventoryLedger) TryDecrement(ctx context.Context, eventID string, quantity int) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.TryDecrement")
	defer span.End()

	start := time.Now()
	remaining, err := l.store.TryDecrementTickets(ctx, eventID, quantity)
	util.InventoryDecrementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}

	l.mirror(ctx, eventID, remaining)
	return remaining, nil
}

// Drain zeroes the count for an event and returns how many tickets were removed
func (l *InventoryLedger) Drain(ctx context.Context, eventID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Drain")
	defer span.End()

	drained, err := l.store.DrainTickets(ctx, eventID)
	if err != nil {
		return 0, err
	}

	l.mirror(ctx, eventID, 0)
	return drained, nil
}

// Available returns the unsold count, from the cache when it has one
func (l *InventoryLedger) Available(ctx context.Context, eventID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Available")
	defer span.End()

	if l.cache != nil {
		available, err := l.cache.GetAvailable(ctx, eventID)
		if err == nil {
			return available, nil
		}
		if !errors.Is(err, redisclient.ErrNotCached) {
			l.logger.Warn("Cache read failed, falling back to store",
				zap.String("event_id", eventID),
				zap.Error(err))
		}
	}

	available, err := l.store.GetAvailableTickets(ctx, eventID)
	if err != nil {
		return 0, err
	}

	l.mirror(ctx, eventID, available)
	return available, nil
}

// SyncInventoryToRedis overwrites the cache with the store's counts
func (l *InventoryLedger) SyncInventoryToRedis(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	l.logger.Info("Starting inventory sync to Redis")

	ids, err := l.store.ListEventIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	synced := 0
	for _, id := range ids {
		available, err := l.store.GetAvailableTickets(ctx, id)
		if err != nil {
			l.logger.Error("Failed to get inventory",
				zap.String("event_id", id),
				zap.Error(err))
			continue
		}

		if err := l.cache.SetAvailable(ctx, id, available); err != nil {
			l.logger.Error("Failed to init Redis inventory",
				zap.String("event_id", id),
				zap.Error(err))
			continue
		}
		synced++
	}

	l.logger.Info("Inventory sync completed", zap.Int("count", synced), zap.Int("events", len(ids)))
	return nil
}

// mirror lowers the cached count. It never raises it.
func (l *InventoryLedger) mirror(ctx context.Context, eventID string, available int) {
	if l.cache == nil {
		return
	}
	if _, err := l.cache.LowerAvailable(ctx, eventID, available); err != nil {
		l.logger.Warn("Failed to update cached inventory",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}
