package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_initiated_total",
		Help: "Total number of pending orders created",
	})

	InitiationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_initiations_rejected_total",
		Help: "Total number of purchase initiations rejected",
	}, []string{"reason"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_settlements_total",
		Help: "Settlement attempts by confirmation path, requested status and transition result",
	}, []string{"path", "status", "result"})

	SettlementConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_settlement_conflicts_total",
		Help: "Settlements that found a different terminal status already stored",
	})

	PaymentAmountMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_mismatches_total",
		Help: "Paid orders whose gateway-reported amount or currency differs from the order total",
	}, []string{"path"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders cancelled by an admin",
	})

	InventoryAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_anomalies_total",
		Help: "Inventory bookkeeping problems found after a payment settled",
	}, []string{"kind"})

	InventoryDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_decrement_latency_seconds",
		Help:    "Latency of authoritative inventory decrements",
		Buckets: prometheus.DefBuckets,
	})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook deliveries rejected before any state change",
	}, []string{"reason"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification deliveries by channel and result",
	}, []string{"channel", "result"})

	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Notification tasks dropped because the queue was full",
	})

	SweeperReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeper_reconciled_total",
		Help: "Pending orders re-verified by the sweeper, by outcome",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
