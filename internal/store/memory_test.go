package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticket-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededMemoryStore(t *testing.T, tickets int) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	m.PutEvent(models.Event{
		ID:               "nye-gala",
		Title:            "NYE Gala",
		Price:            decimal.NewFromInt(5000),
		Currency:         "NGN",
		AvailableTickets: tickets,
	})
	return m
}

func pendingOrder(ref string) *models.Order {
	return &models.Order{
		EventID:      "nye-gala",
		EventTitle:   "NYE Gala",
		CustomerName: "Ada",
		Email:        "ada@example.com",
		Phone:        "0800",
		Quantity:     1,
		TotalPrice:   decimal.NewFromInt(5000),
		Currency:     "NGN",
		Status:       models.OrderStatusPending,
		Reference:    ref,
	}
}

func TestMemoryCreateOrderDuplicateReference(t *testing.T) {
	m := seededMemoryStore(t, 10)
	ctx := context.Background()

	require.NoError(t, m.CreateOrder(ctx, pendingOrder("R1")))
	err := m.CreateOrder(ctx, pendingOrder("R1"))

	assert.ErrorIs(t, err, models.ErrDuplicateReference)
}

func TestMemorySettleIdempotent(t *testing.T) {
	m := seededMemoryStore(t, 10)
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, pendingOrder("R1")))
	paidAt := time.Date(2025, 12, 31, 22, 0, 0, 0, time.UTC)

	first, err := m.Settle(ctx, "R1", models.OrderStatusPaid, paidAt)
	require.NoError(t, err)
	assert.Equal(t, models.TransitionApplied, first.Result)
	require.NotNil(t, first.Order.PaidAt)
	assert.Equal(t, paidAt, *first.Order.PaidAt)

	second, err := m.Settle(ctx, "R1", models.OrderStatusPaid, paidAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionAlreadyAppliedSame, second.Result)
	assert.Equal(t, paidAt, *second.Order.PaidAt)
}

func TestMemorySettleNeverOverwritesTerminal(t *testing.T) {
	m := seededMemoryStore(t, 10)
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, pendingOrder("R1")))

	_, err := m.Settle(ctx, "R1", models.OrderStatusFailed, time.Now())
	require.NoError(t, err)

	res, err := m.Settle(ctx, "R1", models.OrderStatusPaid, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.TransitionAlreadyAppliedDifferent, res.Result)

	stored, err := m.GetOrderByReference(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.Nil(t, stored.PaidAt)
}

func TestMemorySettleUnknownReference(t *testing.T) {
	m := seededMemoryStore(t, 10)

	_, err := m.Settle(context.Background(), "missing", models.OrderStatusPaid, time.Now())

	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestMemorySettleRejectsPendingTarget(t *testing.T) {
	m := seededMemoryStore(t, 10)
	require.NoError(t, m.CreateOrder(context.Background(), pendingOrder("R1")))

	_, err := m.Settle(context.Background(), "R1", models.OrderStatusPending, time.Now())

	assert.Error(t, err)
}

func TestMemorySettleConcurrentSingleWinner(t *testing.T) {
	m := seededMemoryStore(t, 10)
	ctx := context.Background()
	require.NoError(t, m.CreateOrder(ctx, pendingOrder("R1")))

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Settle(ctx, "R1", models.OrderStatusPaid, time.Now())
			if assert.NoError(t, err) && res.Result == models.TransitionApplied {
				atomic.AddInt32(&applied, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied)
}

func TestMemoryTryDecrementInsufficientLeavesCountUntouched(t *testing.T) {
	m := seededMemoryStore(t, 2)
	ctx := context.Background()

	_, err := m.TryDecrementTickets(ctx, "nye-gala", 3)

	var insufficient *models.InsufficientInventoryError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 2, insufficient.Available)
	assert.ErrorIs(t, err, models.ErrInsufficientInventory)

	available, err := m.GetAvailableTickets(ctx, "nye-gala")
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestMemoryTryDecrementConcurrentNeverOversells(t *testing.T) {
	m := seededMemoryStore(t, 5)
	ctx := context.Background()

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.TryDecrementTickets(ctx, "nye-gala", 2); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()

	available, err := m.GetAvailableTickets(ctx, "nye-gala")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ok)
	assert.Equal(t, 1, available)
}

func TestMemoryDrainTickets(t *testing.T) {
	m := seededMemoryStore(t, 3)

	drained, err := m.DrainTickets(context.Background(), "nye-gala")
	require.NoError(t, err)
	assert.Equal(t, 3, drained)

	available, _ := m.GetAvailableTickets(context.Background(), "nye-gala")
	assert.Zero(t, available)
}

func TestMemoryListActiveEventsSkipsRetired(t *testing.T) {
	m := seededMemoryStore(t, 3)
	m.PutEvent(models.Event{ID: "old", Title: "Old", Status: models.EventStatusRetired})

	events, err := m.ListActiveEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "nye-gala", events[0].ID)

	_, err = m.GetEventByID(context.Background(), "old")
	assert.NoError(t, err)
}

func TestMemoryListPendingOrders(t *testing.T) {
	m := seededMemoryStore(t, 10)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, ref := range []string{"A", "B", "C"} {
		created := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return created }
		require.NoError(t, m.CreateOrder(ctx, pendingOrder(ref)))
	}
	m.now = time.Now
	_, err := m.Settle(ctx, "B", models.OrderStatusFailed, time.Now())
	require.NoError(t, err)

	orders, err := m.ListPendingOrders(ctx, base.Add(10*time.Minute), models.PendingCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "A", orders[0].Reference)
	assert.Equal(t, "C", orders[1].Reference)
}

func TestMemoryListPendingOrdersAfterCursor(t *testing.T) {
	m := seededMemoryStore(t, 10)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	for _, ref := range []string{"B", "A"} {
		require.NoError(t, m.CreateOrder(ctx, pendingOrder(ref)))
	}
	m.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, m.CreateOrder(ctx, pendingOrder("C")))

	cutoff := base.Add(10 * time.Minute)

	first, err := m.ListPendingOrders(ctx, cutoff, models.PendingCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "A", first[0].Reference)
	assert.Equal(t, "B", first[1].Reference)

	rest, err := m.ListPendingOrders(ctx, cutoff, models.CursorAt(&first[1]), 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "C", rest[0].Reference)

	none, err := m.ListPendingOrders(ctx, cutoff, models.CursorAt(&rest[0]), 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}
