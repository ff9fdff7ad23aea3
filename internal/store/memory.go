package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticket-service/internal/models"
)

// keyedMutex hands out one mutex per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// MemoryStore keeps events and orders in process memory. Status transitions are
// guarded by a per-reference mutex and ticket counts by a per-event mutex, each
// held only across its read-check-write section.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*models.Event
	orders map[string]*models.Order
	nextID int64

	orderLocks keyedMutex
	eventLocks keyedMutex

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*models.Event),
		orders: make(map[string]*models.Order),
		now:    time.Now,
	}
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

// PutEvent inserts or replaces an event
func (m *MemoryStore) PutEvent(event models.Event) {
	if event.Status == "" {
		event.Status = models.EventStatusActive
	}
	now := m.now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = &event
}

// SetEventStatus changes an event's sale status
func (m *MemoryStore) SetEventStatus(eventID string, status models.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}
	event.Status = status
	event.UpdatedAt = m.now()
	return nil
}

// GetEventByID retrieves an event regardless of its status
func (m *MemoryStore) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrEventNotFound, id)
	}
	cp := *event
	return &cp, nil
}

// ListActiveEvents retrieves events that are still on sale, newest first
func (m *MemoryStore) ListActiveEvents(ctx context.Context) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]models.Event, 0, len(m.events))
	for _, e := range m.events {
		if e.IsActive() {
			events = append(events, *e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	return events, nil
}

// ListEventIDs retrieves every event id
func (m *MemoryStore) ListEventIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.events))
	for id := range m.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetAvailableTickets reads the unsold count
func (m *MemoryStore) GetAvailableTickets(ctx context.Context, eventID string) (int, error) {
	event, err := m.GetEventByID(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return event.AvailableTickets, nil
}

// TryDecrementTickets removes quantity tickets or fails without mutation
func (m *MemoryStore) TryDecrementTickets(ctx context.Context, eventID string, quantity int) (int, error) {
	unlock := m.eventLocks.lock(eventID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}
	if event.AvailableTickets < quantity {
		return 0, &models.InsufficientInventoryError{EventID: eventID, Available: event.AvailableTickets, Requested: quantity}
	}
	event.AvailableTickets -= quantity
	event.UpdatedAt = m.now()
	return event.AvailableTickets, nil
}

// DrainTickets sets the unsold count to zero and returns how many were removed
func (m *MemoryStore) DrainTickets(ctx context.Context, eventID string) (int, error) {
	unlock := m.eventLocks.lock(eventID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}
	drained := event.AvailableTickets
	event.AvailableTickets = 0
	event.UpdatedAt = m.now()
	return drained, nil
}

// CreateOrder inserts a new order. A reused reference yields ErrDuplicateReference.
func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.Reference]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicateReference, order.Reference)
	}
	m.nextID++
	now := m.now()
	order.ID = m.nextID
	order.CreatedAt = now
	order.UpdatedAt = now

	cp := *order
	m.orders[order.Reference] = &cp
	return nil
}

// GetOrderByReference retrieves an order by its gateway reference
func (m *MemoryStore) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[reference]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, reference)
	}
	cp := *order
	return &cp, nil
}

// SetCheckoutURL stores the gateway checkout URL on an order
func (m *MemoryStore) SetCheckoutURL(ctx context.Context, reference, checkoutURL string) error {
	unlock := m.orderLocks.lock(reference)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[reference]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, reference)
	}
	order.CheckoutURL = checkoutURL
	order.UpdatedAt = m.now()
	return nil
}

// Settle moves a pending order to a terminal status under the reference's lock
func (m *MemoryStore) Settle(ctx context.Context, reference string, status models.OrderStatus, at time.Time) (*models.SettleResult, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("cannot settle order to non-terminal status %q", status)
	}

	unlock := m.orderLocks.lock(reference)
	defer unlock()

	current, err := m.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if current.Status != models.OrderStatusPending {
		return &models.SettleResult{Result: compareTerminal(current.Status, status), Order: current}, nil
	}

	m.mu.Lock()
	order := m.orders[reference]
	order.Status = status
	if status == models.OrderStatusPaid {
		paidAt := at
		order.PaidAt = &paidAt
	}
	order.UpdatedAt = m.now()
	cp := *order
	m.mu.Unlock()

	return &models.SettleResult{Result: models.TransitionApplied, Order: &cp}, nil
}

// ListPendingOrders returns pending orders created before the cutoff that sort
// after the cursor, oldest first with the reference as tiebreak
func (m *MemoryStore) ListPendingOrders(ctx context.Context, createdBefore time.Time, after models.PendingCursor, limit int) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := make([]models.Order, 0)
	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(createdBefore) && after.After(o) {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].Reference < orders[j].Reference
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
