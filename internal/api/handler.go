package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 20

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	reconciler *service.Reconciler
	adminToken string
	checks     map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(reconciler *service.Reconciler, adminToken string, checks map[string]Pinger) *Handler {
	return &Handler{
		reconciler: reconciler,
		adminToken: adminToken,
		checks:     checks,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/events", h.listEvents)
		v1.GET("/events/:id", h.getEvent)

		v1.POST("/payments/initialize", h.initializePayment)
		v1.GET("/payments/verify", h.verifyPayment)
		v1.POST("/payments/webhook", h.paymentWebhook)

		v1.GET("/orders/:reference/receipt", h.getReceipt)
	}

	admin := v1.Group("/admin", h.adminAuth())
	{
		admin.POST("/orders/:reference/cancel", h.cancelOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listEvents(c *gin.Context) {
	events, err := h.reconciler.ListEvents(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) getEvent(c *gin.Context) {
	event, err := h.reconciler.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event})
}

// InitializePaymentRequest starts a ticket purchase
type InitializePaymentRequest struct {
	EventID      string `json:"event_id"`
	Quantity     int    `json:"quantity"`
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

// initializePayment creates a pending order and returns the checkout URL
func (h *Handler) initializePayment(c *gin.Context) {
	var req InitializePaymentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.reconciler.Initiate(c.Request.Context(), req.EventID, req.Quantity, models.Contact{
		CustomerName: req.CustomerName,
		Email:        req.Email,
		Phone:        req.Phone,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"reference":    res.Reference,
		"checkout_url": res.CheckoutURL,
		"order_id":     res.Order.ID,
	})
}

// verifyPayment is polled by the callback page until the order settles
func (h *Handler) verifyPayment(c *gin.Context) {
	ctx := c.Request.Context()
	reference := c.Query("reference")

	res, err := h.reconciler.ReconcileByPoll(ctx, reference)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"status":  models.OutcomeNotFound,
				"error":   "Order not found",
			})
			return
		}
		h.writeError(c, err)
		return
	}

	switch res.Order.Status {
	case models.OrderStatusPaid:
		body := gin.H{
			"success": true,
			"status":  res.Order.Status,
			"outcome": res.Outcome,
		}
		snapshot, err := h.reconciler.Receipt(ctx, reference)
		if err != nil {
			h.logger.Warn("Failed to load order details", zap.String("reference", reference), zap.Error(err))
			body["order"] = models.NewOrderSnapshot(res.Order, nil)
		} else {
			body["order"] = snapshot
		}
		c.JSON(http.StatusOK, body)

	case models.OrderStatusFailed:
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"status":  res.Order.Status,
			"outcome": res.Outcome,
			"error":   "Payment failed",
		})

	case models.OrderStatusCancelled:
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"status":  res.Order.Status,
			"outcome": res.Outcome,
			"error":   "Order was cancelled",
		})

	default:
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"status":  res.Order.Status,
			"outcome": res.Outcome,
			"error":   "Payment is still pending",
		})
	}
}

// paymentWebhook receives gateway pushes. The raw body is handed over
// unparsed; signature verification needs the exact bytes.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	res, err := h.reconciler.ReconcileByWebhook(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if res != nil && res.Outcome == models.OutcomeAlreadySettled {
		c.JSON(http.StatusOK, gin.H{"received": true, "message": "Already processed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) getReceipt(c *gin.Context) {
	snapshot, err := h.reconciler.Receipt(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"receipt": snapshot,
	})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	res, err := h.reconciler.Cancel(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Result == models.TransitionAlreadyAppliedDifferent {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"success": res.Result != models.TransitionAlreadyAppliedDifferent,
		"result":  res.Result,
		"status":  res.Order.Status,
	})
}

// adminAuth requires "Authorization: Bearer <admin token>". With no token
// configured every admin request is refused.
func (h *Handler) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validation *models.ValidationError
		short      *models.InsufficientInventoryError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": validation.Error()})
	case errors.Is(err, models.ErrSignatureMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	case errors.Is(err, models.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Event not found"})
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Order not found"})
	case errors.As(err, &short):
		c.JSON(http.StatusConflict, gin.H{
			"success":   false,
			"error":     "Only " + strconv.Itoa(short.Available) + " tickets available",
			"available": short.Available,
		})
	case errors.Is(err, models.ErrOrderNotPaid):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Order has not been paid"})
	case errors.Is(err, models.ErrEventRetired):
		c.JSON(http.StatusGone, gin.H{"success": false, "error": "Event is no longer on sale"})
	case errors.Is(err, models.ErrGateway):
		h.logger.Warn("Gateway error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Payment gateway error",
			"details": err.Error(),
		})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
