package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Recipient is a mail address with an optional display name
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is a transactional mail
type Message struct {
	To      Recipient
	Subject string
	Text    string
	HTML    string
}

// Mailer sends transactional mail
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type BrevoConfig struct {
	APIURL      string
	APIKey      string
	SenderName  string
	SenderEmail string
	Timeout     time.Duration
}

// BrevoMailer sends mail through Brevo's transactional email API
type BrevoMailer struct {
	apiURL string
	apiKey string
	sender Recipient
	hc     *http.Client
}

// NewBrevoMailer creates a Brevo mail client
func NewBrevoMailer(cfg BrevoConfig) *BrevoMailer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.brevo.com/v3/smtp/email"
	}
	return &BrevoMailer{
		apiURL: apiURL,
		apiKey: cfg.APIKey,
		sender: Recipient{Email: cfg.SenderEmail, Name: cfg.SenderName},
		hc:     &http.Client{Timeout: timeout},
	}
}

type brevoRequest struct {
	Sender      Recipient   `json:"sender"`
	To          []Recipient `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent,omitempty"`
	TextContent string      `json:"textContent,omitempty"`
}

// Send delivers msg, failing on any non-2xx response
func (b *BrevoMailer) Send(ctx context.Context, msg Message) error {
	if b.apiKey == "" || b.sender.Email == "" {
		return fmt.Errorf("brevo mailer is not configured")
	}
	if msg.To.Email == "" {
		return fmt.Errorf("message has no recipient")
	}

	payload, err := json.Marshal(brevoRequest{
		Sender:      b.sender,
		To:          []Recipient{msg.To},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("brevo returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
