package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus controls whether an event accepts new purchases
type EventStatus string

const (
	EventStatusActive  EventStatus = "active"
	EventStatusRetired EventStatus = "retired"
)

// Event represents a ticketed event in the catalog
type Event struct {
	ID               string          `db:"id" json:"id"`
	Title            string          `db:"title" json:"title"`
	Date             string          `db:"event_date" json:"date"`
	Time             string          `db:"event_time" json:"time"`
	Venue            string          `db:"venue" json:"venue"`
	Location         string          `db:"location" json:"location"`
	Price            decimal.Decimal `db:"price" json:"price"`
	Currency         string          `db:"currency" json:"currency"`
	AvailableTickets int             `db:"available_tickets" json:"available_tickets"`
	Status           EventStatus     `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the event accepts new purchases
func (e *Event) IsActive() bool {
	return e.Status == EventStatusActive
}

// OrderStatus is the payment state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further engine-driven transition is permitted
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed || s == OrderStatusCancelled
}

// Order represents a ticket purchase. TotalPrice is frozen at creation.
type Order struct {
	ID           int64           `db:"id" json:"id"`
	EventID      string          `db:"event_id" json:"event_id"`
	EventTitle   string          `db:"event_title" json:"event_title"`
	CustomerName string          `db:"customer_name" json:"customer_name"`
	Email        string          `db:"email" json:"email"`
	Phone        string          `db:"phone" json:"phone"`
	Quantity     int             `db:"quantity" json:"quantity"`
	TotalPrice   decimal.Decimal `db:"total_price" json:"total_price"`
	Currency     string          `db:"currency" json:"currency"`
	Status       OrderStatus     `db:"status" json:"status"`
	Reference    string          `db:"reference" json:"reference"`
	CheckoutURL  string          `db:"checkout_url" json:"checkout_url,omitempty"`
	PaidAt       *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// TransitionResult is the outcome of a compare-and-set on order status
type TransitionResult string

const (
	TransitionApplied                 TransitionResult = "applied"
	TransitionAlreadyAppliedSame      TransitionResult = "already_applied_same"
	TransitionAlreadyAppliedDifferent TransitionResult = "already_applied_different"
)

// SettleResult carries the transition result and the order as stored after it
type SettleResult struct {
	Result TransitionResult
	Order  *Order
}

// PendingCursor marks a position in the pending order listing, ordered by
// creation time then reference. The zero value starts from the oldest order.
type PendingCursor struct {
	CreatedAt time.Time
	Reference string
}

// IsZero reports whether the cursor is at the start of the listing
func (c PendingCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.Reference == ""
}

// After reports whether order sorts strictly after the cursor
func (c PendingCursor) After(order *Order) bool {
	if order.CreatedAt.Equal(c.CreatedAt) {
		return order.Reference > c.Reference
	}
	return order.CreatedAt.After(c.CreatedAt)
}

// CursorAt returns the cursor positioned on order
func CursorAt(order *Order) PendingCursor {
	return PendingCursor{CreatedAt: order.CreatedAt, Reference: order.Reference}
}

// Outcome is what a confirmation path reports to its caller
type Outcome string

const (
	OutcomeAlreadySettled       Outcome = "already_settled"
	OutcomeTransitionedToPaid   Outcome = "transitioned_to_paid"
	OutcomeTransitionedToFailed Outcome = "transitioned_to_failed"
	OutcomeStillPending         Outcome = "still_pending"
	OutcomeNotFound             Outcome = "not_found"
)

// Contact is the buyer's contact information
type Contact struct {
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

// OrderSnapshot is the denormalized order+event view handed to notification channels
type OrderSnapshot struct {
	Reference    string          `json:"reference"`
	CustomerName string          `json:"customer_name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	EventID      string          `json:"event_id"`
	EventTitle   string          `json:"event_title"`
	EventDate    string          `json:"event_date"`
	EventTime    string          `json:"event_time"`
	EventVenue   string          `json:"event_venue"`
	Quantity     int             `json:"quantity"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Currency     string          `json:"currency"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
}

// NewOrderSnapshot builds a snapshot. The event may be nil if the catalog no longer has it.
func NewOrderSnapshot(order *Order, event *Event) OrderSnapshot {
	snap := OrderSnapshot{
		Reference:    order.Reference,
		CustomerName: order.CustomerName,
		Email:        order.Email,
		Phone:        order.Phone,
		EventID:      order.EventID,
		EventTitle:   order.EventTitle,
		Quantity:     order.Quantity,
		TotalPrice:   order.TotalPrice,
		Currency:     order.Currency,
		PaidAt:       order.PaidAt,
	}
	if event != nil {
		snap.EventTitle = event.Title
		snap.EventDate = event.Date
		snap.EventTime = event.Time
		snap.EventVenue = event.Venue
	}
	return snap
}
