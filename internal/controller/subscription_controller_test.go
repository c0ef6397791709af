package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/controller"
	"easyplanning_backend/internal/middleware"
	"easyplanning_backend/pkg/entitlement"
	"easyplanning_backend/pkg/payment"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error) {
	args := m.Called(req)
	return args.Get(0).(payment.CheckoutSession), args.Error(1)
}

func (m *mockGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	return m.Called(subscriptionID, cancel).Error(0)
}

func subscriptionEnv(t *testing.T, gateway controller.PaymentGateway) *env {
	e := newEnv(t)
	plans := billing.NewPlanCatalog(map[string]entitlement.Tier{
		"price_premium": entitlement.PremiumTier,
		"price_pro":     entitlement.ProTier,
	})
	sc := controller.NewSubscriptionController(e.store, gateway, plans, zerolog.Nop())
	auth := middleware.Auth(tokens)
	e.app.Post("/checkout", auth, sc.CreateCheckoutSession)
	e.app.Post("/cancel", auth, sc.CancelSubscription)
	e.app.Post("/resume", auth, sc.ResumeSubscription)
	e.app.Get("/my", auth, sc.GetMySubscription)
	e.app.Get("/entitlements", auth, sc.GetEntitlements)
	return e
}

func TestCreateCheckoutSession(t *testing.T) {
	gateway := &mockGateway{}
	e := subscriptionEnv(t, gateway)
	acct, auth := e.account(t, "planner@example.com", "planner")

	gateway.On("CreateCheckoutSession", payment.CheckoutRequest{
		AccountID: acct.ID,
		Email:     acct.Email,
		Tier:      entitlement.ProTier,
		PriceID:   "price_pro",
	}).Return(payment.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil).Once()

	code, raw := e.do(t, fiber.MethodPost, "/checkout", auth, fiber.Map{"plan": "Pro"})
	require.Equal(t, fiber.StatusOK, code, string(raw))
	assert.Equal(t, "cs_1", object(t, raw)["session_id"])
	gateway.AssertExpectations(t)
}

func TestCreateCheckoutSession_Rejections(t *testing.T) {
	gateway := &mockGateway{}
	e := subscriptionEnv(t, gateway)
	_, auth := e.account(t, "planner@example.com", "planner")
	subscribed, subscribedAuth := e.account(t, "paying@example.com", "paying")
	e.subscribe(t, subscribed.ID, "premium", billing.StatusPastDue)

	tests := []struct {
		name string
		auth string
		plan string
		code int
	}{
		{"unknown plan", auth, "platinum", fiber.StatusBadRequest},
		{"free plan", auth, "basic", fiber.StatusBadRequest},
		{"plan without price", auth, "business", fiber.StatusNotFound},
		{"already subscribed", subscribedAuth, "pro", fiber.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := e.do(t, fiber.MethodPost, "/checkout", tt.auth, fiber.Map{"plan": tt.plan})
			assert.Equal(t, tt.code, code)
		})
	}
	gateway.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything)
}

func TestCreateCheckoutSession_ProviderFailure(t *testing.T) {
	gateway := &mockGateway{}
	e := subscriptionEnv(t, gateway)
	_, auth := e.account(t, "planner@example.com", "planner")
	gateway.On("CreateCheckoutSession", mock.Anything).Return(payment.CheckoutSession{}, errors.New("stripe unavailable"))

	code, _ := e.do(t, fiber.MethodPost, "/checkout", auth, fiber.Map{"plan": "premium"})
	assert.Equal(t, fiber.StatusBadGateway, code)
}

func TestCancelAndResume(t *testing.T) {
	gateway := &mockGateway{}
	e := subscriptionEnv(t, gateway)
	acct, auth := e.account(t, "planner@example.com", "planner")

	code, _ := e.do(t, fiber.MethodPost, "/cancel", auth, nil)
	assert.Equal(t, fiber.StatusNotFound, code)

	sub := e.subscribe(t, acct.ID, "pro", billing.StatusActive)
	gateway.On("SetCancelAtPeriodEnd", sub.StripeSubscriptionID, true).Return(nil).Once()

	code, _ = e.do(t, fiber.MethodPost, "/resume", auth, nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, _ = e.do(t, fiber.MethodPost, "/cancel", auth, nil)
	assert.Equal(t, fiber.StatusAccepted, code)
	gateway.AssertExpectations(t)

	// Local state only changes once the webhook arrives.
	code, raw := e.do(t, fiber.MethodGet, "/my", auth, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(billing.StatusActive), object(t, raw)["status"])
}

func TestGetEntitlements(t *testing.T) {
	e := subscriptionEnv(t, &mockGateway{})
	acct, auth := e.account(t, "planner@example.com", "planner")

	code, raw := e.do(t, fiber.MethodGet, "/entitlements", auth, nil)
	require.Equal(t, fiber.StatusOK, code)
	body := object(t, raw)
	assert.Equal(t, "basic", body["plan"])
	assert.Equal(t, "none", body["status"])
	assert.Equal(t, float64(3), body["max_events"])

	e.subscribe(t, acct.ID, "business", billing.StatusCanceling)
	_, raw = e.do(t, fiber.MethodGet, "/entitlements", auth, nil)

	var ent struct {
		Plan      string   `json:"plan"`
		Status    string   `json:"status"`
		MaxEvents int      `json:"max_events"`
		Features  []string `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &ent))
	assert.Equal(t, "business", ent.Plan)
	assert.Equal(t, "canceling", ent.Status)
	assert.Equal(t, entitlement.Unlimited, ent.MaxEvents)
	assert.Contains(t, ent.Features, string(entitlement.WhiteLabel))
}
