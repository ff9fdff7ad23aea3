package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Confirmation sources, used as the path label on settlement metrics
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceAdmin   = "admin"
)

// OrderStore persists orders and owns the status compare-and-set
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByReference(ctx context.Context, reference string) (*models.Order, error)
	SetCheckoutURL(ctx context.Context, reference, checkoutURL string) error
	Settle(ctx context.Context, reference string, status models.OrderStatus, at time.Time) (*models.SettleResult, error)
}

// EventCatalog is the read side of the event catalog
type EventCatalog interface {
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	ListActiveEvents(ctx context.Context) ([]models.Event, error)
}

// Ledger is the inventory the reconciler decrements on settlement
type Ledger interface {
	Available(ctx context.Context, eventID string) (int, error)
	TryDecrement(ctx context.Context, eventID string, quantity int) (int, error)
	Drain(ctx context.Context, eventID string) (int, error)
}

// PaymentGateway opens and verifies transactions
type PaymentGateway interface {
	Initialize(ctx context.Context, req gateway.InitializeRequest) (string, error)
	Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error)
}

// Notifier queues post-settlement notifications without blocking
type Notifier interface {
	Dispatch(snapshot models.OrderSnapshot) error
}

// EventSink publishes order domain events
type EventSink interface {
	PublishOrderSettled(ctx context.Context, order *models.Order, source string) error
	PublishSettlementAnomaly(ctx context.Context, reference, eventID, kind, detail string) error
}

// ReferenceSource hands out order references
type ReferenceSource interface {
	Next() string
}

// ReconcilerDeps are the collaborators of a Reconciler. Events may be nil.
type ReconcilerDeps struct {
	Orders     OrderStore
	Catalog    EventCatalog
	Ledger     Ledger
	Gateway    PaymentGateway
	Notifier   Notifier
	Events     EventSink
	References ReferenceSource
}

// ReconcilerConfig holds the reconciler's tunables. WebhookSecret is the shared
// HMAC key the gateway signs webhooks with; DefaultCurrency applies to events
// that carry none. MinorUnitExponent converts order totals to the unit the
// gateway reports charged amounts in.
type ReconcilerConfig struct {
	DefaultCurrency      string
	WebhookSecret        string
	VerifyTimeout        time.Duration
	PublishTimeout       time.Duration
	MaxReferenceAttempts int
	MinorUnitExponent    int32
}

// InitiateResult is what a buyer needs to continue to checkout
type InitiateResult struct {
	Reference   string
	CheckoutURL string
	Order       *models.Order
}

// charged is what the gateway says it collected, in minor units
type charged struct {
	amountMinor int64
	currency    string
}

// Resolution is the result of a confirmation path: the outcome and the order as stored
type Resolution struct {
	Outcome models.Outcome
	Order   *models.Order
}

// Reconciler creates pending orders and drives them to exactly one terminal
// status from either confirmation path. Only the caller whose settle is
// applied runs the inventory decrement and notifications.
type Reconciler struct {
	orders   OrderStore
	catalog  EventCatalog
	ledger   Ledger
	gateway  PaymentGateway
	notifier Notifier
	events   EventSink
	refs     ReferenceSource
	cfg      ReconcilerConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(deps ReconcilerDeps, cfg ReconcilerConfig) *Reconciler {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "NGN"
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.MaxReferenceAttempts <= 0 {
		cfg.MaxReferenceAttempts = 3
	}

	return &Reconciler{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		ledger:   deps.Ledger,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		events:   deps.Events,
		refs:     deps.References,
		cfg:      cfg,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// Initiate creates a pending order at the event's current price and opens a
// checkout for it. The availability check here is advisory. The order is
// persisted before the gateway is called, so a gateway failure leaves a
// pending order that a later poll or webhook can still settle.
func (r *Reconciler) Initiate(ctx context.Context, eventID string, quantity int, contact models.Contact) (*InitiateResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Initiate")
	defer span.End()

	contact, err := validatePurchase(eventID, quantity, contact)
	if err != nil {
		util.InitiationsRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	event, err := r.catalog.GetEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			util.InitiationsRejectedTotal.WithLabelValues("event_not_found").Inc()
			return nil, err
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if !event.IsActive() {
		util.InitiationsRejectedTotal.WithLabelValues("event_retired").Inc()
		return nil, fmt.Errorf("%w: %s", models.ErrEventRetired, eventID)
	}

	available, err := r.ledger.Available(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	if available < quantity {
		util.InitiationsRejectedTotal.WithLabelValues("insufficient_inventory").Inc()
		r.logger.Warn("Initiation rejected, not enough tickets",
			zap.String("event_id", eventID),
			zap.Int("available", available),
			zap.Int("requested", quantity))
		return nil, &models.InsufficientInventoryError{EventID: eventID, Available: available, Requested: quantity}
	}

	currency := event.Currency
	if currency == "" {
		currency = r.cfg.DefaultCurrency
	}

	order := &models.Order{
		EventID:      event.ID,
		EventTitle:   event.Title,
		CustomerName: contact.CustomerName,
		Email:        contact.Email,
		Phone:        contact.Phone,
		Quantity:     quantity,
		TotalPrice:   event.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Currency:     currency,
		Status:       models.OrderStatusPending,
	}

	if err := r.createWithReference(ctx, order); err != nil {
		return nil, err
	}

	util.OrdersInitiatedTotal.Inc()
	r.logger.Info("Order created",
		zap.String("reference", order.Reference),
		zap.String("event_id", order.EventID),
		zap.Int("quantity", order.Quantity),
		zap.String("total", order.TotalPrice.String()))

	checkoutURL, err := r.gateway.Initialize(ctx, gateway.InitializeRequest{
		Reference: order.Reference,
		Amount:    order.TotalPrice,
		Currency:  order.Currency,
		Email:     order.Email,
		Metadata: map[string]interface{}{
			"customerName": order.CustomerName,
			"phone":        order.Phone,
			"eventId":      order.EventID,
			"eventTitle":   order.EventTitle,
			"quantity":     order.Quantity,
		},
	})
	if err != nil {
		util.InitiationsRejectedTotal.WithLabelValues("gateway_error").Inc()
		r.logger.Warn("Payment initialization failed, order left pending",
			zap.String("reference", order.Reference),
			zap.Error(err))
		return nil, fmt.Errorf("failed to initialize payment for %s: %w", order.Reference, err)
	}

	if err := r.orders.SetCheckoutURL(ctx, order.Reference, checkoutURL); err != nil {
		r.logger.Error("Failed to store checkout URL",
			zap.String("reference", order.Reference),
			zap.Error(err))
	}
	order.CheckoutURL = checkoutURL

	return &InitiateResult{
		Reference:   order.Reference,
		CheckoutURL: checkoutURL,
		Order:       order,
	}, nil
}

// createWithReference assigns a fresh reference and inserts the order,
// regenerating on a duplicate
func (r *Reconciler) createWithReference(ctx context.Context, order *models.Order) error {
	for attempt := 1; ; attempt++ {
		order.Reference = r.refs.Next()

		err := r.orders.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrDuplicateReference) || attempt >= r.cfg.MaxReferenceAttempts {
			return fmt.Errorf("failed to create order: %w", err)
		}

		r.logger.Warn("Reference collision, regenerating",
			zap.String("reference", order.Reference),
			zap.Int("attempt", attempt))
	}
}

// ReconcileByPoll returns the order's current outcome, asking the gateway only
// while the order is still pending. A verify error or timeout is reported as
// still pending, never as failed.
func (r *Reconciler) ReconcileByPoll(ctx context.Context, reference string) (*Resolution, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ReconcileByPoll")
	defer span.End()

	if strings.TrimSpace(reference) == "" {
		return nil, &models.ValidationError{Field: "reference", Message: "is required"}
	}

	order, err := r.orders.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return &Resolution{Outcome: models.OutcomeAlreadySettled, Order: order}, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, r.cfg.VerifyTimeout)
	result, err := r.gateway.Verify(verifyCtx, reference)
	cancel()
	if err != nil {
		var gwErr *models.GatewayError
		timeout := errors.As(err, &gwErr) && gwErr.Timeout
		r.logger.Warn("Could not confirm payment, order stays pending",
			zap.String("reference", reference),
			zap.Bool("timeout", timeout),
			zap.Error(err))
		return &Resolution{Outcome: models.OutcomeStillPending, Order: order}, nil
	}

	switch result.Status {
	case gateway.VerifySuccess:
		return r.settle(ctx, reference, models.OrderStatusPaid, SourcePoll,
			&charged{amountMinor: result.AmountMinor, currency: result.Currency})
	case gateway.VerifyFailed:
		return r.settle(ctx, reference, models.OrderStatusFailed, SourcePoll, nil)
	default:
		r.logger.Debug("Payment still pending on gateway",
			zap.String("reference", reference),
			zap.String("gateway_status", result.GatewayStatus))
		return &Resolution{Outcome: models.OutcomeStillPending, Order: order}, nil
	}
}

// ReconcileByWebhook authenticates a gateway delivery against its raw bytes
// and settles the order on a successful charge. A nil Resolution with a nil
// error means the delivery was acknowledged and ignored.
func (r *Reconciler) ReconcileByWebhook(ctx context.Context, payload []byte, signature string) (*Resolution, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ReconcileByWebhook")
	defer span.End()

	if !gateway.VerifySignature(r.cfg.WebhookSecret, payload, signature) {
		util.WebhookRejectedTotal.WithLabelValues("signature").Inc()
		r.logger.Warn("Rejected webhook with invalid signature, possible tampering",
			zap.Int("payload_bytes", len(payload)),
			zap.Bool("signature_present", signature != ""))
		return nil, models.ErrSignatureMismatch
	}

	event, err := gateway.ParseWebhook(payload)
	if err != nil {
		util.WebhookRejectedTotal.WithLabelValues("malformed").Inc()
		return nil, &models.ValidationError{Field: "payload", Message: err.Error()}
	}

	if !event.IsChargeSuccess() {
		r.logger.Debug("Ignoring webhook event", zap.String("event", event.Event))
		return nil, nil
	}
	if event.Data.Status != "" && !strings.EqualFold(event.Data.Status, string(gateway.VerifySuccess)) {
		r.logger.Warn("Ignoring successful charge event with non-success status",
			zap.String("reference", event.Data.Reference),
			zap.String("status", event.Data.Status))
		return nil, nil
	}
	if event.Data.Reference == "" {
		util.WebhookRejectedTotal.WithLabelValues("missing_reference").Inc()
		return nil, &models.ValidationError{Field: "reference", Message: "is required"}
	}

	return r.settle(ctx, event.Data.Reference, models.OrderStatusPaid, SourceWebhook,
		&charged{amountMinor: event.Data.Amount, currency: event.Data.Currency})
}

// settle is the single backend both confirmation paths share. paid is the
// gateway's report of the charge, if any.
func (r *Reconciler) settle(ctx context.Context, reference string, status models.OrderStatus, source string, paid *charged) (*Resolution, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.settle")
	defer span.End()

	res, err := r.orders.Settle(ctx, reference, status, r.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to settle order %s: %w", reference, err)
	}

	util.SettlementsTotal.WithLabelValues(source, string(status), string(res.Result)).Inc()
	log := util.WithOrder(r.logger, reference, source)

	switch res.Result {
	case models.TransitionApplied:
		log.Info("Order settled", zap.String("status", string(status)))
		effectCtx := context.WithoutCancel(ctx)
		if status == models.OrderStatusPaid {
			r.checkCharged(effectCtx, log, res.Order, source, paid)
		}
		r.afterSettle(effectCtx, res.Order, source)
		return &Resolution{Outcome: transitionOutcome(status), Order: res.Order}, nil

	case models.TransitionAlreadyAppliedDifferent:
		util.SettlementConflictsTotal.Inc()
		log.Error("Conflicting settlement outcome, needs manual reconciliation",
			zap.String("stored_status", string(res.Order.Status)),
			zap.String("requested_status", string(status)))
		r.reportAnomaly(context.WithoutCancel(ctx), res.Order, models.AnomalyConflictingOutcome,
			fmt.Sprintf("stored=%s requested=%s source=%s", res.Order.Status, status, source))
		return &Resolution{Outcome: models.OutcomeAlreadySettled, Order: res.Order}, nil

	default:
		log.Debug("Order already settled", zap.String("status", string(status)))
		return &Resolution{Outcome: models.OutcomeAlreadySettled, Order: res.Order}, nil
	}
}

// afterSettle runs once per order, for the caller whose transition was applied.
// Status is already committed; nothing here can revert it.
func (r *Reconciler) afterSettle(ctx context.Context, order *models.Order, source string) {
	if order.Status == models.OrderStatusPaid {
		r.commitInventory(ctx, order)
		r.notify(ctx, order)
	}
	r.publishSettled(ctx, order, source)
}

// checkCharged compares the gateway's charged amount with the frozen order
// total. A mismatch never reverts the settlement; it is reported for an
// operator. Reports without an amount are not checked.
func (r *Reconciler) checkCharged(ctx context.Context, log *zap.Logger, order *models.Order, source string, paid *charged) {
	if paid == nil || paid.amountMinor == 0 {
		return
	}

	expected := order.TotalPrice.Shift(r.cfg.MinorUnitExponent).Round(0).IntPart()
	currencyOK := paid.currency == "" || strings.EqualFold(paid.currency, order.Currency)
	if paid.amountMinor == expected && currencyOK {
		return
	}

	util.PaymentAmountMismatchesTotal.WithLabelValues(source).Inc()
	log.Error("Charged amount differs from order total",
		zap.Int64("expected_minor", expected),
		zap.String("expected_currency", order.Currency),
		zap.Int64("charged_minor", paid.amountMinor),
		zap.String("charged_currency", paid.currency))
	r.reportAnomaly(ctx, order, models.AnomalyAmountMismatch,
		fmt.Sprintf("expected=%d %s charged=%d %s", expected, order.Currency, paid.amountMinor, paid.currency))
}

func (r *Reconciler) commitInventory(ctx context.Context, order *models.Order) {
	remaining, err := r.ledger.TryDecrement(ctx, order.EventID, order.Quantity)
	if err == nil {
		r.logger.Info("Tickets decremented",
			zap.String("reference", order.Reference),
			zap.String("event_id", order.EventID),
			zap.Int("remaining", remaining))
		return
	}

	var short *models.InsufficientInventoryError
	switch {
	case errors.As(err, &short):
		drained, drainErr := r.ledger.Drain(ctx, order.EventID)
		if drainErr != nil {
			r.logger.Error("Failed to clamp inventory",
				zap.String("event_id", order.EventID),
				zap.Error(drainErr))
		}
		r.inventoryAnomaly(ctx, order, models.AnomalyInsufficientInventory, err,
			fmt.Sprintf("requested=%d available=%d drained=%d", short.Requested, short.Available, drained))

	case errors.Is(err, models.ErrEventNotFound):
		r.inventoryAnomaly(ctx, order, models.AnomalyEventMissing, err, err.Error())

	default:
		r.inventoryAnomaly(ctx, order, models.AnomalyLedgerError, err, err.Error())
	}
}

func (r *Reconciler) inventoryAnomaly(ctx context.Context, order *models.Order, kind string, err error, detail string) {
	util.InventoryAnomaliesTotal.WithLabelValues(kind).Inc()
	r.logger.Error("Inventory anomaly on paid order",
		zap.String("reference", order.Reference),
		zap.String("event_id", order.EventID),
		zap.String("kind", kind),
		zap.Int("quantity", order.Quantity),
		zap.Error(err))
	r.reportAnomaly(ctx, order, kind, detail)
}

func (r *Reconciler) notify(ctx context.Context, order *models.Order) {
	if r.notifier == nil {
		return
	}

	event, err := r.catalog.GetEventByID(ctx, order.EventID)
	if err != nil {
		r.logger.Warn("Event lookup failed, notifying without event details",
			zap.String("reference", order.Reference),
			zap.Error(err))
	}

	if err := r.notifier.Dispatch(models.NewOrderSnapshot(order, event)); err != nil {
		r.logger.Error("Failed to queue notifications",
			zap.String("reference", order.Reference),
			zap.Error(err))
	}
}

func (r *Reconciler) publishSettled(ctx context.Context, order *models.Order, source string) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	if err := r.events.PublishOrderSettled(ctx, order, source); err != nil {
		r.logger.Error("Failed to publish settlement event",
			zap.String("reference", order.Reference),
			zap.Error(err))
	}
}

func (r *Reconciler) reportAnomaly(ctx context.Context, order *models.Order, kind, detail string) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	if err := r.events.PublishSettlementAnomaly(ctx, order.Reference, order.EventID, kind, detail); err != nil {
		r.logger.Error("Failed to publish anomaly event",
			zap.String("reference", order.Reference),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// Cancel is the admin action that moves a pending order to cancelled through
// the same compare-and-set as settlement
func (r *Reconciler) Cancel(ctx context.Context, reference string) (*models.SettleResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Cancel")
	defer span.End()

	if strings.TrimSpace(reference) == "" {
		return nil, &models.ValidationError{Field: "reference", Message: "is required"}
	}

	res, err := r.orders.Settle(ctx, reference, models.OrderStatusCancelled, r.now().UTC())
	if err != nil {
		return nil, err
	}
	util.SettlementsTotal.WithLabelValues(SourceAdmin, string(models.OrderStatusCancelled), string(res.Result)).Inc()

	if res.Result == models.TransitionApplied {
		util.OrdersCancelledTotal.Inc()
		util.WithOrder(r.logger, reference, SourceAdmin).Info("Order cancelled")
		r.publishSettled(context.WithoutCancel(ctx), res.Order, SourceAdmin)
	}
	return res, nil
}

// Receipt returns the order+event view of a paid order
func (r *Reconciler) Receipt(ctx context.Context, reference string) (*models.OrderSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Receipt")
	defer span.End()

	order, err := r.orders.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPaid {
		return nil, fmt.Errorf("%w: %s is %s", models.ErrOrderNotPaid, reference, order.Status)
	}

	event, err := r.catalog.GetEventByID(ctx, order.EventID)
	if err != nil && !errors.Is(err, models.ErrEventNotFound) {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	snapshot := models.NewOrderSnapshot(order, event)
	return &snapshot, nil
}

// ListEvents returns the events still on sale
func (r *Reconciler) ListEvents(ctx context.Context) ([]models.Event, error) {
	return r.catalog.ListActiveEvents(ctx)
}

// GetEvent returns an event that is still on sale
func (r *Reconciler) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event, err := r.catalog.GetEventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !event.IsActive() {
		return nil, fmt.Errorf("%w: %s", models.ErrEventRetired, id)
	}
	return event, nil
}

func transitionOutcome(status models.OrderStatus) models.Outcome {
	if status == models.OrderStatusPaid {
		return models.OutcomeTransitionedToPaid
	}
	return models.OutcomeTransitionedToFailed
}

func validatePurchase(eventID string, quantity int, contact models.Contact) (models.Contact, error) {
	contact.CustomerName = strings.TrimSpace(contact.CustomerName)
	contact.Email = strings.ToLower(strings.TrimSpace(contact.Email))
	contact.Phone = strings.TrimSpace(contact.Phone)

	switch {
	case strings.TrimSpace(eventID) == "":
		return contact, &models.ValidationError{Field: "event_id", Message: "is required"}
	case quantity < 1:
		return contact, &models.ValidationError{Field: "quantity", Message: "must be at least 1"}
	case contact.CustomerName == "":
		return contact, &models.ValidationError{Field: "customer_name", Message: "is required"}
	case contact.Email == "" || !strings.Contains(contact.Email, "@"):
		return contact, &models.ValidationError{Field: "email", Message: "must be a valid address"}
	case contact.Phone == "":
		return contact, &models.ValidationError{Field: "phone", Message: "is required"}
	}
	return contact, nil
}
