// Package gateway talks to the external payment gateway: transaction
// initialize/verify calls and webhook authentication.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VerifyStatus is the gateway's view of a transaction, narrowed to what settlement needs
type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyFailed  VerifyStatus = "failed"
	VerifyPending VerifyStatus = "pending"
)

type Config struct {
	BaseURL         string
	SecretKey       string
	CallbackBaseURL string
	Channels        []string
	Timeout         time.Duration

	// MinorUnitExponent converts major units to the gateway's smallest unit (2: kobo, cents)
	MinorUnitExponent int32
}

// InitializeRequest describes a checkout to open on the gateway
type InitializeRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Email     string
	Metadata  map[string]interface{}
}

// VerifyResult is the outcome of a verify call
type VerifyResult struct {
	Status        VerifyStatus
	GatewayStatus string
	AmountMinor   int64
	Currency      string
}

// Client is a thin wrapper over the gateway's transaction API
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	channels    []string
	exponent    int32
	hc          *http.Client
	logger      *zap.Logger
}

// NewClient creates a gateway client. Every call is bounded by cfg.Timeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	exponent := cfg.MinorUnitExponent
	if exponent < 0 {
		exponent = 0
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		channels:    cfg.Channels,
		exponent:    exponent,
		hc:          &http.Client{Timeout: timeout},
		logger:      util.GetLogger(),
	}
}

// ToMinorUnits converts a major-unit amount to the gateway's smallest unit
func (c *Client) ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(c.exponent).Round(0).IntPart()
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Reference   string                 `json:"reference"`
	Amount      int64                  `json:"amount"`
	Email       string                 `json:"email"`
	Currency    string                 `json:"currency"`
	Channels    []string               `json:"channels,omitempty"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// Initialize opens a checkout on the gateway and returns its URL
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	ctx, span := util.StartSpan(ctx, "GatewayClient.Initialize")
	defer span.End()

	body := initializeBody{
		Reference: req.Reference,
		Amount:    c.ToMinorUnits(req.Amount),
		Email:     req.Email,
		Currency:  req.Currency,
		Channels:  c.channels,
		Metadata:  req.Metadata,
	}
	if c.callbackURL != "" {
		body.CallbackURL = fmt.Sprintf("%s/payment/callback?reference=%s", c.callbackURL, url.QueryEscape(req.Reference))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	var data initializeData
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return "", err
	}
	if data.AuthorizationURL == "" {
		return "", &models.GatewayError{Op: "initialize", Err: errors.New("response has no authorization_url")}
	}

	return data.AuthorizationURL, nil
}

// Verify asks the gateway for the current status of a transaction.
// Only "success" and "failed" are terminal; everything else is pending.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "GatewayClient.Verify")
	defer span.End()

	var data verifyData
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	return &VerifyResult{
		Status:        mapVerifyStatus(data.Status),
		GatewayStatus: data.Status,
		AmountMinor:   data.Amount,
		Currency:      data.Currency,
	}, nil
}

func mapVerifyStatus(status string) VerifyStatus {
	switch strings.ToLower(status) {
	case "success":
		return VerifySuccess
	case "failed":
		return VerifyFailed
	default:
		return VerifyPending
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, out interface{}) error {
	start := time.Now()
	outcome := "ok"
	defer func() {
		util.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		outcome = "error"
		return &models.GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			outcome = "timeout"
			return &models.GatewayError{Op: op, Timeout: true, Err: err}
		}
		outcome = "error"
		return &models.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if isTimeout(err) {
			outcome = "timeout"
			return &models.GatewayError{Op: op, Timeout: true, Err: err}
		}
		outcome = "error"
		return &models.GatewayError{Op: op, Err: fmt.Errorf("status %d: invalid response body: %w", resp.StatusCode, err)}
	}

	if resp.StatusCode >= 300 || !env.Status {
		outcome = "rejected"
		c.logger.Warn("Gateway call rejected",
			zap.String("op", op),
			zap.Int("http_status", resp.StatusCode),
			zap.String("message", env.Message))
		return &models.GatewayError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, env.Message)}
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		outcome = "error"
		return &models.GatewayError{Op: op, Err: fmt.Errorf("invalid response data: %w", err)}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
