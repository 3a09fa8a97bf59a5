package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
)

// Notifier renders domain notifications and hands them to a Channel.
// Every method is best-effort: failures are logged and returned for callers
// that want to retry, never panicked on.
type Notifier struct {
	channel Channel
}

// New returns a notifier over channel. A nil channel logs instead.
func New(channel Channel) *Notifier {
	if channel == nil {
		channel = LogChannel{}
	}
	return &Notifier{channel: channel}
}

// Channel returns the underlying delivery channel.
func (n *Notifier) Channel() Channel { return n.channel }

func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}

// ChargebackOpened tells the merchant and, when known, the purchaser that a
// dispute cancelled a card.
func (n *Notifier) ChargebackOpened(ctx context.Context, merchant *models.Merchant, payment *models.Payment, cb *models.Chargeback) {
	amount := formatAmount(cb.Amount, payment.Currency)
	if merchant != nil && strings.TrimSpace(merchant.Email) != "" {
		subject := fmt.Sprintf("Chargeback received for payment %s", payment.ProviderRef)
		body := fmt.Sprintf("A chargeback of %s (fee %s) was opened for payment %s. Reason: %s. The linked gift card has been cancelled.",
			amount, formatAmount(cb.Fee, payment.Currency), payment.ProviderRef, cb.Reason)
		if errSend := n.channel.SendEmail(ctx, merchant.Email, subject, body); errSend != nil {
			log.WithError(errSend).WithField("chargeback_id", cb.ID).Warn("notify: merchant chargeback email failed")
		}
	}
	if strings.TrimSpace(payment.Email) != "" {
		body := fmt.Sprintf("We received a dispute for your gift card purchase of %s. The gift card is suspended while the dispute is reviewed.", amount)
		if errSend := n.channel.SendEmail(ctx, payment.Email, "Your gift card purchase is under dispute", body); errSend != nil {
			log.WithError(errSend).WithField("chargeback_id", cb.ID).Warn("notify: customer chargeback email failed")
		}
	}
}

// ChargebackResolved tells the merchant how a dispute ended.
func (n *Notifier) ChargebackResolved(ctx context.Context, merchant *models.Merchant, cb *models.Chargeback) {
	if merchant == nil || strings.TrimSpace(merchant.Email) == "" {
		return
	}
	subject := fmt.Sprintf("Chargeback %s resolved: %s", cb.ExternalID, cb.Status)
	body := fmt.Sprintf("Chargeback %s has been resolved with status %s.", cb.ExternalID, cb.Status)
	if errSend := n.channel.SendEmail(ctx, merchant.Email, subject, body); errSend != nil {
		log.WithError(errSend).WithField("chargeback_id", cb.ID).Warn("notify: merchant resolution email failed")
	}
}

// ExpiryReminder sends the reminder for a card expiring in days, preferring
// email over SMS. It returns an error when no contact could be reached.
func (n *Notifier) ExpiryReminder(ctx context.Context, card *models.GiftCard, days int) error {
	when := "tomorrow"
	if days > 1 {
		when = fmt.Sprintf("in %d days", days)
	}
	balance := formatAmount(card.Balance, card.Currency)
	masked := maskCode(card.Code)

	if card.RecipientEmail != nil && strings.TrimSpace(*card.RecipientEmail) != "" {
		subject := fmt.Sprintf("Your gift card expires %s", when)
		body := fmt.Sprintf("Your gift card %s has %s remaining and expires %s.", masked, balance, when)
		return n.channel.SendEmail(ctx, *card.RecipientEmail, subject, body)
	}
	if card.RecipientPhone != nil && strings.TrimSpace(*card.RecipientPhone) != "" {
		body := fmt.Sprintf("Gift card %s: %s left, expires %s.", masked, balance, when)
		return n.channel.SendSMS(ctx, *card.RecipientPhone, body)
	}
	return fmt.Errorf("notify: card %d has no recipient contact", card.ID)
}

func maskCode(code string) string {
	if len(code) <= 4 {
		return code
	}
	return "****" + code[len(code)-4:]
}
