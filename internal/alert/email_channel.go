package alert

import (
	"context"
	"fmt"

	"github.com/sitewarden/sitewarden/internal/email"
)

// EmailChannel delivers alerts to the configured security mailbox.
type EmailChannel struct {
	sender    email.Sender
	recipient string
	appName   string
}

// NewEmailChannel creates an EmailChannel.
func NewEmailChannel(sender email.Sender, recipient, appName string) *EmailChannel {
	return &EmailChannel{sender: sender, recipient: recipient, appName: appName}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return "email" }

// Deliver implements Channel.
func (c *EmailChannel) Deliver(ctx context.Context, a Alert) error {
	subject := fmt.Sprintf("[%s] %s severity alert: %s",
		c.appName, email.SeverityLabel(a.Severity), a.EventType)

	return c.sender.Send(ctx, email.Message{
		To:       c.recipient,
		Subject:  subject,
		HTMLBody: email.AlertEmailHTML(c.appName, a.EventType, a.Severity, a.OriginIP, a.OccurredAt, a.Details),
		TextBody: email.AlertEmailText(c.appName, a.EventType, a.Severity, a.OriginIP, a.OccurredAt, a.Details),
	})
}
