package controller_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/repository"
	"easyplanning_backend/internal/testdb"
	"easyplanning_backend/pkg/utils/jwt"
)

var tokens = jwt.NewManager("controller-test-secret", time.Hour)

type env struct {
	db    *gorm.DB
	store *repository.Store
	app   *fiber.App
}

func newEnv(t *testing.T) *env {
	db := testdb.New(t)
	return &env{db: db, store: repository.New(db), app: fiber.New()}
}

// account creates an account with a URL friendly slug and returns a bearer
// header for it.
func (e *env) account(t *testing.T, email, slug string) (model.Account, string) {
	t.Helper()
	acct := testdb.Account(t, e.db, email)
	require.NoError(t, e.db.Model(&acct).Update("slug", slug).Error)
	acct.Slug = slug

	token, err := tokens.GenerateToken(acct.ID, acct.Email, acct.Name, acct.IsAdmin)
	require.NoError(t, err)
	return acct, "Bearer " + token
}

func (e *env) subscribe(t *testing.T, accountID uint, plan string, status billing.Status) model.Subscription {
	t.Helper()
	sub := model.Subscription{
		AccountID:            accountID,
		StripeSubscriptionID: "sub_" + plan + "_" + string(status),
		Plan:                 plan,
		Status:               string(status),
		CancelAtPeriodEnd:    status == billing.StatusCanceling,
	}
	require.NoError(t, e.db.Create(&sub).Error)
	return sub
}

func (e *env) do(t *testing.T, method, path, auth string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(fiber.HeaderAuthorization, auth)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func object(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}
