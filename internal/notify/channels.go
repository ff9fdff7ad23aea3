package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"ticket-service/internal/models"
)

const (
	ChannelCustomerReceipt = "customer_receipt"
	ChannelAdminAlert      = "admin_alert"
)

var receiptText = template.Must(template.New("receipt.txt").Parse(`Ticket Confirmed!

Dear {{.CustomerName}},

Thank you for purchasing tickets for {{.EventTitle}}.

Event Details:
- Event: {{.EventTitle}}
- Date: {{.EventDate}}
- Time: {{.EventTime}}
- Venue: {{.EventVenue}}
- Tickets: {{.Quantity}}
- Total Paid: {{.Amount}}

Reference Number: {{.Reference}}
Phone: {{.Phone}}
{{- if .PaidAt}}
Paid At: {{.PaidAt}}
{{- end}}

Please save this reference number and bring it to the event for check-in.
{{- if .ReceiptURL}}

View your receipt: {{.ReceiptURL}}
{{- end}}
`))

var receiptHTML = htmltemplate.Must(htmltemplate.New("receipt.html").Parse(`<h2>Payment Receipt</h2>
<p>Dear {{.CustomerName}}, thank you for your purchase. Your payment has been successfully processed.</p>
<ul>
<li><strong>Event:</strong> {{.EventTitle}}</li>
<li><strong>Date:</strong> {{.EventDate}}</li>
<li><strong>Time:</strong> {{.EventTime}}</li>
<li><strong>Venue:</strong> {{.EventVenue}}</li>
<li><strong>Tickets:</strong> {{.Quantity}}</li>
<li><strong>Reference:</strong> {{.Reference}}</li>
<li><strong>Amount Paid:</strong> {{.Amount}}</li>
</ul>
{{if .ReceiptURL}}<p><a href="{{.ReceiptURL}}">View Full Receipt</a></p>{{end}}`))

var adminText = template.Must(template.New("admin.txt").Parse(`New ticket purchase

Event: {{.EventTitle}}
Customer: {{.CustomerName}}
Email: {{.Email}}
Phone: {{.Phone}}
Tickets: {{.Quantity}}
Total: {{.Amount}}
Reference: {{.Reference}}
`))

type mailView struct {
	models.OrderSnapshot
	Amount     string
	PaidAt     string
	ReceiptURL string
}

func newMailView(s models.OrderSnapshot, receiptBaseURL string) mailView {
	v := mailView{
		OrderSnapshot: s,
		Amount:        strings.TrimSpace(s.Currency + " " + s.TotalPrice.StringFixed(2)),
	}
	if s.PaidAt != nil {
		v.PaidAt = s.PaidAt.UTC().Format(time.RFC1123)
	}
	if receiptBaseURL != "" {
		v.ReceiptURL = strings.TrimRight(receiptBaseURL, "/") + "/receipt/" + s.Reference
	}
	return v
}

// ReceiptChannel mails the buyer their ticket receipt
type ReceiptChannel struct {
	mailer         Mailer
	receiptBaseURL string
}

// NewReceiptChannel creates the customer receipt channel
func NewReceiptChannel(mailer Mailer, receiptBaseURL string) *ReceiptChannel {
	return &ReceiptChannel{mailer: mailer, receiptBaseURL: receiptBaseURL}
}

func (c *ReceiptChannel) Name() string { return ChannelCustomerReceipt }

func (c *ReceiptChannel) Send(ctx context.Context, s models.OrderSnapshot) error {
	view := newMailView(s, c.receiptBaseURL)

	var text, html bytes.Buffer
	if err := receiptText.Execute(&text, view); err != nil {
		return fmt.Errorf("failed to render receipt text: %w", err)
	}
	if err := receiptHTML.Execute(&html, view); err != nil {
		return fmt.Errorf("failed to render receipt html: %w", err)
	}

	return c.mailer.Send(ctx, Message{
		To:      Recipient{Email: s.Email, Name: s.CustomerName},
		Subject: fmt.Sprintf("Your Tickets for %s - %s", s.EventTitle, s.Reference),
		Text:    text.String(),
		HTML:    html.String(),
	})
}

// AdminAlertChannel tells the organiser about a new sale
type AdminAlertChannel struct {
	mailer Mailer
	admin  Recipient
}

// NewAdminAlertChannel creates the admin alert channel
func NewAdminAlertChannel(mailer Mailer, adminEmail string) *AdminAlertChannel {
	return &AdminAlertChannel{mailer: mailer, admin: Recipient{Email: adminEmail, Name: "Admin"}}
}

func (c *AdminAlertChannel) Name() string { return ChannelAdminAlert }

func (c *AdminAlertChannel) Send(ctx context.Context, s models.OrderSnapshot) error {
	var text bytes.Buffer
	if err := adminText.Execute(&text, newMailView(s, "")); err != nil {
		return fmt.Errorf("failed to render admin alert: %w", err)
	}

	return c.mailer.Send(ctx, Message{
		To:      c.admin,
		Subject: fmt.Sprintf("New Ticket Purchase: %s - %d ticket(s)", s.EventTitle, s.Quantity),
		Text:    text.String(),
	})
}
