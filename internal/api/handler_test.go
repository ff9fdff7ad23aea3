package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/reference"
	"ticket-service/internal/service"
	"ticket-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "sk_test_secret"
	testAdminToken = "admin-token"
)

type stubGateway struct {
	checkoutURL string
	initErr     error
	status      gateway.VerifyStatus
}

func (g *stubGateway) Initialize(ctx context.Context, req gateway.InitializeRequest) (string, error) {
	return g.checkoutURL, g.initErr
}

func (g *stubGateway) Verify(ctx context.Context, ref string) (*gateway.VerifyResult, error) {
	return &gateway.VerifyResult{Status: g.status}, nil
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(models.OrderSnapshot) error { return nil }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router  *gin.Engine
	store   *store.MemoryStore
	gateway *stubGateway
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ms := store.NewMemoryStore()
	ms.PutEvent(models.Event{
		ID:               "nye-2025",
		Title:            "NYE Gala",
		Venue:            "Eko Hotel",
		Price:            decimal.NewFromInt(5000),
		Currency:         "NGN",
		AvailableTickets: 3,
	})
	ms.PutEvent(models.Event{ID: "old-show", Title: "Old Show", Status: models.EventStatusRetired, AvailableTickets: 5})

	gw := &stubGateway{checkoutURL: "https://checkout.example.com/abc", status: gateway.VerifyPending}
	rec := service.NewReconciler(service.ReconcilerDeps{
		Orders:     ms,
		Catalog:    ms,
		Ledger:     service.NewInventoryLedger(ms, nil),
		Gateway:    gw,
		Notifier:   noopNotifier{},
		References: reference.NewGenerator("TKT"),
	}, service.ReconcilerConfig{WebhookSecret: testSecret})

	router := gin.New()
	NewHandler(rec, testAdminToken, checks).SetupRoutes(router)
	return &testServer{router: router, store: ms, gateway: gw}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var got map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got), w.Body.String())
	}
	return w, got
}

func (s *testServer) pending(t *testing.T, ref string) {
	t.Helper()
	require.NoError(t, s.store.CreateOrder(context.Background(), &models.Order{
		EventID:    "nye-2025",
		EventTitle: "NYE Gala",
		Email:      "ada@example.com",
		Quantity:   1,
		TotalPrice: decimal.NewFromInt(5000),
		Status:     models.OrderStatusPending,
		Reference:  ref,
	}))
}

func (s *testServer) webhook(t *testing.T, body []byte, signature string) (*httptest.ResponseRecorder, map[string]interface{}) {
	return s.do(t, http.MethodPost, "/api/v1/payments/webhook", body, map[string]string{gateway.SignatureHeader: signature})
}

func chargeSuccess(ref string) []byte {
	return []byte(`{"event":"charge.success","data":{"reference":"` + ref + `","status":"success"}}`)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{
		"database": pingFunc(func(ctx context.Context) error { return nil }),
	})

	w, _ := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, got := s.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", got["status"])
}

func TestReadyReportsFailingDependency(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{
		"redis": pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})

	w, got := s.do(t, http.MethodGet, "/ready", nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, got["failed"], "redis")
}

func TestInitializePayment(t *testing.T) {
	s := newTestServer(t, nil)
	body := []byte(`{"event_id":"nye-2025","quantity":2,"customer_name":"Ada","email":"ada@example.com","phone":"0801"}`)

	w, got := s.do(t, http.MethodPost, "/api/v1/payments/initialize", body, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "https://checkout.example.com/abc", got["checkout_url"])
	ref, _ := got["reference"].(string)
	order, err := s.store.GetOrderByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestInitializePaymentErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		initErr error
		want    int
	}{
		{"malformed json", `{"event_id":`, nil, http.StatusBadRequest},
		{"zero quantity", `{"event_id":"nye-2025","quantity":0,"customer_name":"Ada","email":"a@b.c","phone":"1"}`, nil, http.StatusBadRequest},
		{"unknown event", `{"event_id":"nope","quantity":1,"customer_name":"Ada","email":"a@b.c","phone":"1"}`, nil, http.StatusNotFound},
		{"retired event", `{"event_id":"old-show","quantity":1,"customer_name":"Ada","email":"a@b.c","phone":"1"}`, nil, http.StatusGone},
		{"not enough tickets", `{"event_id":"nye-2025","quantity":4,"customer_name":"Ada","email":"a@b.c","phone":"1"}`, nil, http.StatusConflict},
		{"gateway down", `{"event_id":"nye-2025","quantity":1,"customer_name":"Ada","email":"a@b.c","phone":"1"}`,
			&models.GatewayError{Op: "initialize", Err: errors.New("status 503")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.gateway.initErr = tt.initErr

			w, got := s.do(t, http.MethodPost, "/api/v1/payments/initialize", []byte(tt.body), nil)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, false, got["success"])
		})
	}
}

func TestVerifyPayment(t *testing.T) {
	s := newTestServer(t, nil)
	s.pending(t, "R1")

	w, got := s.do(t, http.MethodGet, "/api/v1/payments/verify?reference=R1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, "Payment is still pending", got["error"])

	s.gateway.status = gateway.VerifySuccess
	w, got = s.do(t, http.MethodGet, "/api/v1/payments/verify?reference=R1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "paid", got["status"])
	assert.Equal(t, string(models.OutcomeTransitionedToPaid), got["outcome"])
	order, ok := got["order"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Eko Hotel", order["event_venue"])
}

func TestVerifyPaymentErrors(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(t, http.MethodGet, "/api/v1/payments/verify", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, got := s.do(t, http.MethodGet, "/api/v1/payments/verify?reference=missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(models.OutcomeNotFound), got["status"])
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t, nil)
	s.pending(t, "R1")
	body := chargeSuccess("R1")

	w, _ := s.webhook(t, body, gateway.Sign("wrong", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, got := s.webhook(t, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, got["received"])

	w, got = s.webhook(t, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Already processed", got["message"])

	other := []byte(`{"event":"refund.processed","data":{"reference":"R1"}}`)
	w, got = s.webhook(t, other, gateway.Sign(testSecret, other))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, got["received"])

	w, got = s.do(t, http.MethodGet, "/api/v1/orders/R1/receipt", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	receipt, ok := got["receipt"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "R1", receipt["reference"])
}

func TestReceiptForUnpaidOrder(t *testing.T) {
	s := newTestServer(t, nil)
	s.pending(t, "R1")

	w, _ := s.do(t, http.MethodGet, "/api/v1/orders/R1/receipt", nil, nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEvents(t *testing.T) {
	s := newTestServer(t, nil)

	w, got := s.do(t, http.MethodGet, "/api/v1/events", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events, ok := got["events"].([]interface{})
	require.True(t, ok)
	assert.Len(t, events, 1)

	w, _ = s.do(t, http.MethodGet, "/api/v1/events/old-show", nil, nil)
	assert.Equal(t, http.StatusGone, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/events/nye-2025", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminCancel(t *testing.T) {
	s := newTestServer(t, nil)
	s.pending(t, "R1")

	w, _ := s.do(t, http.MethodPost, "/api/v1/admin/orders/R1/cancel", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/orders/R1/cancel", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/orders/R1/cancel", nil, map[string]string{"Authorization": testAdminToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "token without the Bearer scheme")

	auth := map[string]string{"Authorization": "Bearer " + testAdminToken}
	w, got := s.do(t, http.MethodPost, "/api/v1/admin/orders/R1/cancel", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.TransitionApplied), got["result"])
	assert.Equal(t, "cancelled", got["status"])

	s.pending(t, "R2")
	body := chargeSuccess("R2")
	w, _ = s.webhook(t, body, gateway.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, w.Code)

	w, got = s.do(t, http.MethodPost, "/api/v1/admin/orders/R2/cancel", nil, auth)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "paid", got["status"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/orders/missing/cancel", nil, auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
