package broker

import (
	"context"
	"time"

	"ticket-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher publishes order domain events keyed by order reference,
// so every event for one order lands on the same partition.
type EventPublisher struct {
	producer *Producer
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
	}
}

// PublishOrderSettled publishes ORDER_PAID, ORDER_FAILED or ORDER_CANCELLED for an order
// that has just reached a terminal status
func (ep *EventPublisher) PublishOrderSettled(ctx context.Context, order *models.Order, source string) error {
	eventType := models.EventTypeOrderFailed
	switch order.Status {
	case models.OrderStatusPaid:
		eventType = models.EventTypeOrderPaid
	case models.OrderStatusCancelled:
		eventType = models.EventTypeOrderCancelled
	}

	event := &models.OrderSettledEvent{
		BaseEvent:   ep.base(eventType),
		Reference:   order.Reference,
		TicketEvent: order.EventID,
		Status:      order.Status,
		Quantity:    order.Quantity,
		TotalPrice:  order.TotalPrice,
		Currency:    order.Currency,
		Source:      source,
		PaidAt:      order.PaidAt,
	}
	return ep.producer.PublishEvent(ctx, order.Reference, event)
}

// PublishSettlementAnomaly publishes SETTLEMENT_ANOMALY
func (ep *EventPublisher) PublishSettlementAnomaly(ctx context.Context, reference, eventID, kind, detail string) error {
	event := &models.SettlementAnomalyEvent{
		BaseEvent:   ep.base(models.EventTypeSettlementAnomaly),
		Reference:   reference,
		TicketEvent: eventID,
		Kind:        kind,
		Detail:      detail,
	}
	return ep.producer.PublishEvent(ctx, reference, event)
}
