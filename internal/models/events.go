package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPaid         = "ORDER_PAID"
	EventTypeOrderFailed       = "ORDER_FAILED"
	EventTypeOrderCancelled    = "ORDER_CANCELLED"
	EventTypeSettlementAnomaly = "SETTLEMENT_ANOMALY"
)

// Anomaly kinds raised during settlement
const (
	AnomalyInsufficientInventory = "INSUFFICIENT_INVENTORY"
	AnomalyEventMissing          = "EVENT_MISSING"
	AnomalyLedgerError           = "LEDGER_ERROR"
	AnomalyConflictingOutcome    = "CONFLICTING_OUTCOME"
	AnomalyAmountMismatch        = "AMOUNT_MISMATCH"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderSettledEvent published when an order reaches a terminal status
type OrderSettledEvent struct {
	BaseEvent
	Reference   string          `json:"reference"`
	TicketEvent string          `json:"ticket_event_id"`
	Status      OrderStatus     `json:"status"`
	Quantity    int             `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Currency    string          `json:"currency"`
	Source      string          `json:"source"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

// SettlementAnomalyEvent published when settlement needs operator attention
type SettlementAnomalyEvent struct {
	BaseEvent
	Reference   string `json:"reference"`
	TicketEvent string `json:"ticket_event_id"`
	Kind        string `json:"kind"`
	Detail      string `json:"detail"`
}
