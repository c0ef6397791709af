package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
)

// Metadata keys written on checkout sessions and subscriptions.
const (
	MetadataAccountID = "account_id"
	MetadataPlan      = "plan"
)

// expandableID decodes a Stripe reference that is either a bare id or an
// expanded object carrying one.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type stripePrice struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type subscriptionPayload struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	EndedAt           int64             `json:"ended_at"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			Price stripePrice `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoicePayload struct {
	ID                  string       `json:"id"`
	Customer            expandableID `json:"customer"`
	CustomerEmail       string       `json:"customer_email"`
	Subscription        expandableID `json:"subscription"`
	AmountPaid          int64        `json:"amount_paid"`
	AmountDue           int64        `json:"amount_due"`
	Currency            string       `json:"currency"`
	AttemptCount        int64        `json:"attempt_count"`
	NextPaymentAttempt  int64        `json:"next_payment_attempt"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Price  stripePrice `json:"price"`
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// Parse validates a verified Stripe event and converts it into one of the
// typed events. Unhandled types come back as UnknownEvent with
// ErrUnknownEventType; structurally invalid payloads return ErrMalformedEvent.
func Parse(event stripe.Event) (Event, error) {
	env := Envelope{
		ID:      strings.TrimSpace(event.ID),
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch env.Type {
	case TypeCheckoutCompleted:
		return parseCheckout(env, raw)
	case TypeSubscriptionCreated:
		change, err := parseSubscriptionChange(env, raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionCreated{change}, nil
	case TypeSubscriptionUpdated:
		change, err := parseSubscriptionChange(env, raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionUpdated{change}, nil
	case TypeSubscriptionDeleted:
		return parseSubscriptionDeleted(env, raw)
	case TypeInvoicePaid:
		inv, err := parseInvoice(env, raw, true)
		if err != nil {
			return nil, err
		}
		return InvoicePaid{inv}, nil
	case TypeInvoicePaymentFailed:
		inv, err := parseInvoice(env, raw, false)
		if err != nil {
			return nil, err
		}
		return InvoicePaymentFailed{inv}, nil
	default:
		return UnknownEvent{Envelope: env}, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
}

func decode(env Envelope, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s has no data object", ErrMalformedEvent, env.Type)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedEvent, env.Type, err)
	}
	return nil
}

func parseCheckout(env Envelope, raw json.RawMessage) (Event, error) {
	var s checkoutSessionPayload
	if err := decode(env, raw, &s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedEvent)
	}
	if s.Mode == "subscription" && s.Subscription == "" {
		return nil, fmt.Errorf("%w: subscription checkout %s without subscription", ErrMalformedEvent, s.ID)
	}

	email := s.CustomerDetails.Email
	if email == "" {
		email = s.CustomerEmail
	}
	ref := AccountRef{
		AccountID:  accountIDFrom(s.Metadata),
		CustomerID: string(s.Customer),
		Email:      strings.ToLower(strings.TrimSpace(email)),
	}
	if ref.AccountID == 0 {
		ref.AccountID = parseAccountID(s.ClientReferenceID)
	}

	return CheckoutCompleted{
		Envelope:       env,
		SessionID:      s.ID,
		Mode:           s.Mode,
		SubscriptionID: string(s.Subscription),
		Account:        ref,
		Plan:           PlanRef{Name: strings.TrimSpace(s.Metadata[MetadataPlan])},
		AmountTotal:    s.AmountTotal,
		Currency:       strings.ToLower(s.Currency),
		PaymentStatus:  s.PaymentStatus,
	}, nil
}

func parseSubscriptionChange(env Envelope, raw json.RawMessage) (SubscriptionChange, error) {
	var s subscriptionPayload
	if err := decode(env, raw, &s); err != nil {
		return SubscriptionChange{}, err
	}
	if strings.TrimSpace(s.ID) == "" {
		return SubscriptionChange{}, fmt.Errorf("%w: %s without subscription id", ErrMalformedEvent, env.Type)
	}
	return SubscriptionChange{
		Envelope:          env,
		SubscriptionID:    s.ID,
		Account:           AccountRef{AccountID: accountIDFrom(s.Metadata), CustomerID: string(s.Customer)},
		ProviderStatus:    s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixPtr(s.CurrentPeriodEnd),
		Plan:              subscriptionPlan(s),
	}, nil
}

func parseSubscriptionDeleted(env Envelope, raw json.RawMessage) (Event, error) {
	var s subscriptionPayload
	if err := decode(env, raw, &s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: %s without subscription id", ErrMalformedEvent, env.Type)
	}
	return SubscriptionDeleted{
		Envelope:       env,
		SubscriptionID: s.ID,
		Account:        AccountRef{AccountID: accountIDFrom(s.Metadata), CustomerID: string(s.Customer)},
		EndedAt:        unixPtr(s.EndedAt),
	}, nil
}

func parseInvoice(env Envelope, raw json.RawMessage, paid bool) (Invoice, error) {
	var in invoicePayload
	if err := decode(env, raw, &in); err != nil {
		return Invoice{}, err
	}
	if strings.TrimSpace(in.ID) == "" {
		return Invoice{}, fmt.Errorf("%w: %s without invoice id", ErrMalformedEvent, env.Type)
	}

	amount := in.AmountDue
	if paid {
		amount = in.AmountPaid
	}
	inv := Invoice{
		Envelope:       env,
		InvoiceID:      in.ID,
		SubscriptionID: string(in.Subscription),
		Account: AccountRef{
			AccountID:  accountIDFrom(in.SubscriptionDetails.Metadata),
			CustomerID: string(in.Customer),
			Email:      strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		},
		Amount:       amount,
		Currency:     strings.ToLower(in.Currency),
		AttemptCount: in.AttemptCount,
		NextAttempt:  unixPtr(in.NextPaymentAttempt),
		Plan:         PlanRef{Name: strings.TrimSpace(in.SubscriptionDetails.Metadata[MetadataPlan])},
	}
	for _, line := range in.Lines.Data {
		if inv.Plan.PriceID == "" && line.Price.ID != "" {
			inv.Plan.PriceID = line.Price.ID
		}
		if end := unixPtr(line.Period.End); end != nil && (inv.PeriodEnd == nil || end.After(*inv.PeriodEnd)) {
			inv.PeriodEnd = end
		}
	}
	return inv, nil
}

func subscriptionPlan(s subscriptionPayload) PlanRef {
	ref := PlanRef{Name: strings.TrimSpace(s.Metadata[MetadataPlan])}
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			ref.PriceID = id
			if ref.Name == "" {
				ref.Name = strings.TrimSpace(item.Price.Metadata[MetadataPlan])
			}
			break
		}
	}
	return ref
}

func accountIDFrom(metadata map[string]string) uint {
	if metadata == nil {
		return 0
	}
	return parseAccountID(metadata[MetadataAccountID])
}

func parseAccountID(s string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
