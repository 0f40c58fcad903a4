package notify

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	cfg "github.com/sand/storefront-payments/backend/config"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailChannel mails the customer about verification outcomes and the admin
// mailbox about new and stale submissions.
type EmailChannel struct {
	sender mailSender
	from   string
	admin  string
}

func NewEmailChannel(config *cfg.Config) *EmailChannel {
	d := gomail.NewDialer(config.Mail.Host, config.Mail.Port, config.Mail.Username, config.Mail.Password)
	return &EmailChannel{
		sender: d,
		from:   config.Mail.From,
		admin:  config.Mail.AdminAddress,
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, n entities.Notification) error {
	to, subject, body := c.compose(n)
	if to == "" {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	// gomail has no context support; give up early if the deadline already passed.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send %s email for order %s: %w", n.Event.Kind, n.OrderNumber, err)
	}
	return nil
}

// compose returns an empty recipient when n is not mailed to anyone.
func (c *EmailChannel) compose(n entities.Notification) (to, subject, body string) {
	e := n.Event

	switch e.Kind {
	case entities.PaymentEventConfirmed:
		if n.CustomerEmail == nil {
			return "", "", ""
		}
		return *n.CustomerEmail,
			fmt.Sprintf("Payment confirmed - Order %s", n.OrderNumber),
			fmt.Sprintf("Your payment of %s with reference %s has been confirmed. Your order %s is now paid.",
				e.Amount.StringFixed(2), e.ReferenceCode, n.OrderNumber)

	case entities.PaymentEventRejected:
		if n.CustomerEmail == nil {
			return "", "", ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "We could not confirm the payment reference %s for order %s.", e.ReferenceCode, n.OrderNumber)
		if e.Note != nil && *e.Note != "" {
			fmt.Fprintf(&b, "\nReason: %s", *e.Note)
		}
		b.WriteString("\nPlease check the transaction code and submit it again.")
		return *n.CustomerEmail, fmt.Sprintf("Payment not confirmed - Order %s", n.OrderNumber), b.String()

	case entities.PaymentEventSubmitted:
		if c.admin == "" {
			return "", "", ""
		}
		return c.admin,
			fmt.Sprintf("New payment to verify - Order %s", n.OrderNumber),
			fmt.Sprintf("Reference %s for %s was submitted on order %s and is awaiting verification.",
				e.ReferenceCode, e.Amount.StringFixed(2), n.OrderNumber)

	case entities.PaymentEventStale:
		if c.admin == "" {
			return "", "", ""
		}
		return c.admin,
			fmt.Sprintf("Payment still awaiting verification - Order %s", n.OrderNumber),
			fmt.Sprintf("Reference %s on order %s has been awaiting verification since %s.",
				e.ReferenceCode, n.OrderNumber, e.CreatedAt.Format("2006-01-02 15:04 MST"))
	}

	return "", "", ""
}
