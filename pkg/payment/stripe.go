package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/pkg/config"
	"easyplanning_backend/pkg/entitlement"
)

var ErrNotConfigured = errors.New("stripe is not configured")

// CheckoutRequest describes a subscription checkout for one account.
type CheckoutRequest struct {
	AccountID  uint
	Email      string
	CustomerID string
	Tier       entitlement.Tier
	PriceID    string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Client wraps the Stripe API for the calls the service makes outside of
// webhooks. It holds its own key instead of the package-level stripe.Key.
type Client struct {
	api        *client.API
	successURL string
	cancelURL  string
}

var _ billing.BillingClient = (*Client)(nil)

func NewClient(cfg config.StripeConfig) *Client {
	if cfg.SecretKey == "" {
		return &Client{}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Client{
		api:        api,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.api != nil
}

// GetSubscription fetches the provider's view of a subscription.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (billing.ProviderSubscription, error) {
	if !c.Configured() {
		return billing.ProviderSubscription{}, ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return billing.ProviderSubscription{}, fmt.Errorf("get stripe subscription %s: %w", subscriptionID, err)
	}
	return toProviderSubscription(sub), nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if !c.Configured() {
		return CheckoutSession{}, ErrNotConfigured
	}
	sess, err := c.api.CheckoutSessions.New(checkoutParams(ctx, req, c.successURL, c.cancelURL))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// SetCancelAtPeriodEnd schedules or withdraws cancellation. Local state only
// changes when the resulting webhook arrives.
func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	if _, err := c.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("update stripe subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func checkoutParams(ctx context.Context, req CheckoutRequest, successURL, cancelURL string) *stripe.CheckoutSessionParams {
	accountID := strconv.FormatUint(uint64(req.AccountID), 10)
	meta := map[string]string{
		billing.MetadataAccountID: accountID,
		billing.MetadataPlan:      string(req.Tier),
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(accountID),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	return params
}

func toProviderSubscription(sub *stripe.Subscription) billing.ProviderSubscription {
	out := billing.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &end
	}
	if id, err := strconv.ParseUint(sub.Metadata[billing.MetadataAccountID], 10, 64); err == nil {
		out.AccountID = uint(id)
	}
	out.Plan.Name = sub.Metadata[billing.MetadataPlan]
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		out.Plan.PriceID = price.ID
		if out.Plan.Name == "" {
			out.Plan.Name = price.Metadata[billing.MetadataPlan]
		}
	}
	return out
}
