package billing

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Email template ids. They match the template file names in pkg/email.
const (
	TemplateSubscriptionStarted   = "subscription_started"
	TemplatePaymentReceipt        = "payment_receipt"
	TemplatePaymentFailed         = "payment_failed"
	TemplateSubscriptionCanceling = "subscription_canceling"
	TemplateSubscriptionResumed   = "subscription_resumed"
	TemplatePlanChanged           = "plan_changed"
	TemplateSubscriptionCanceled  = "subscription_canceled"
	TemplateSubscriptionEnding    = "subscription_ending"
)

// Decide picks the transactional email for a transition, or nil when the
// transition is silent.
func Decide(prev Snapshot, next State, ev Event, acct Account) *Notification {
	if acct.Email == "" {
		return nil
	}

	data := map[string]any{
		"Name":     acct.Name,
		"PlanName": planName(next),
		"Status":   string(next.Status),
	}
	n := &Notification{AccountID: acct.ID, Recipient: acct.Email, Data: data}

	switch e := ev.(type) {
	case CheckoutCompleted:
		if prev.StartedNotified && prev.Plan == next.Plan {
			return nil
		}
		n.TemplateID = TemplateSubscriptionStarted
		data["Amount"] = formatAmount(e.AmountTotal, e.Currency)
		setTime(data, "RenewsAt", next.CurrentPeriodEnd)
	case InvoicePaid:
		n.TemplateID = TemplatePaymentReceipt
		data["Amount"] = formatAmount(e.Amount, e.Currency)
		data["InvoiceID"] = e.InvoiceID
		data["Recovered"] = prev.Status == StatusPastDue
		setTime(data, "PeriodEnd", next.CurrentPeriodEnd)
	case InvoicePaymentFailed:
		n.TemplateID = TemplatePaymentFailed
		data["Amount"] = formatAmount(e.Amount, e.Currency)
		data["InvoiceID"] = e.InvoiceID
		data["Attempt"] = e.AttemptCount
		setTime(data, "NextAttempt", e.NextAttempt)
	case SubscriptionCreated, SubscriptionUpdated:
		_, created := e.(SubscriptionCreated)
		switch {
		case !prev.StartedNotified && (created || !prev.Exists) && next.Status == StatusActive:
			n.TemplateID = TemplateSubscriptionStarted
			setTime(data, "RenewsAt", next.CurrentPeriodEnd)
		case next.Status == StatusCanceling && prev.Status != StatusCanceling:
			n.TemplateID = TemplateSubscriptionCanceling
			setTime(data, "EffectiveAt", next.CancelEffectiveAt)
		case prev.Status == StatusCanceling && next.Status == StatusActive:
			n.TemplateID = TemplateSubscriptionResumed
		case prev.Exists && prev.Plan != "" && prev.Plan != next.Plan:
			n.TemplateID = TemplatePlanChanged
			data["PreviousPlan"] = title(string(prev.Plan))
			data["MaxEvents"] = next.Limits().MaxEvents
		default:
			return nil
		}
	case SubscriptionDeleted:
		if prev.Status == StatusCanceled {
			return nil
		}
		n.TemplateID = TemplateSubscriptionCanceled
		data["PreviousPlan"] = title(string(prev.Plan))
		setTime(data, "EffectiveAt", next.CancelEffectiveAt)
	default:
		return nil
	}
	return n
}

// DecidePurchase covers one-off checkout payments (tickets, packages,
// donations) that never touch a subscription.
func DecidePurchase(e CheckoutCompleted, acct Account) *Notification {
	if acct.Email == "" || e.AmountTotal <= 0 {
		return nil
	}
	return &Notification{
		AccountID:  acct.ID,
		Recipient:  acct.Email,
		TemplateID: TemplatePaymentReceipt,
		Data: map[string]any{
			"Name":      acct.Name,
			"Amount":    formatAmount(e.AmountTotal, e.Currency),
			"InvoiceID": e.SessionID,
			"Purchase":  true,
		},
	}
}

func planName(s State) string {
	if s.Plan == "" {
		return ""
	}
	return title(string(s.Plan))
}

// title builds a fresh Caser per call; Casers are not safe for concurrent use.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

func setTime(data map[string]any, key string, t *time.Time) {
	if t != nil {
		data[key] = t.UTC().Format("January 2, 2006")
	}
}

// formatAmount renders minor units for two-decimal currencies, which is all
// the plans are sold in.
func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}
