package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"easyplanning_backend/pkg/config"
)

var ErrUnknownTemplate = errors.New("unknown email template")

// Sender delivers one templated email.
type Sender interface {
	Send(ctx context.Context, to, templateID string, data map[string]any) error
}

type EmailData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

// subjects lists every template the service can send.
var subjects = map[string]string{
	"welcome":                "Welcome to EasyPlanningPro! 🎉",
	"subscription_started":   "Your EasyPlanningPro subscription is active 🎉",
	"payment_receipt":        "Payment received, thank you",
	"payment_failed":         "We couldn't process your payment ⚠️",
	"subscription_canceling": "Your subscription will end soon",
	"subscription_resumed":   "Your subscription has been resumed 🔄",
	"plan_changed":           "Your plan has changed",
	"subscription_canceled":  "Your subscription has ended",
	"subscription_ending":    "Your subscription ends in a few days ⏳",
}

// Subject returns the subject line for templateID.
func Subject(templateID string) (string, bool) {
	s, ok := subjects[templateID]
	return s, ok
}

// Renderer turns a template id and its data into a subject and HTML body.
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %w", err)
	}
	for id := range subjects {
		if templates.Lookup(id+".html") == nil {
			return nil, fmt.Errorf("template %s.html is missing", id)
		}
	}
	return &Renderer{templates: templates}, nil
}

func (r *Renderer) Render(templateID string, data map[string]any) (string, string, error) {
	subject, ok := subjects[templateID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	var body bytes.Buffer
	if err := r.templates.ExecuteTemplate(&body, templateID+".html", data); err != nil {
		return "", "", fmt.Errorf("template execution error: %w", err)
	}
	return subject, body.String(), nil
}

// ResendSender posts rendered emails to the Resend HTTP API.
type ResendSender struct {
	apiKey   string
	from     string
	baseURL  string
	client   *http.Client
	renderer *Renderer
	log      zerolog.Logger
}

func NewResendSender(cfg config.EmailConfig, renderer *Renderer, log zerolog.Logger) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	return &ResendSender{
		apiKey:   cfg.APIKey,
		from:     fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
		baseURL:  cfg.BaseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		renderer: renderer,
		log:      log.With().Str("component", "email").Logger(),
	}, nil
}

func (s *ResendSender) Send(ctx context.Context, to, templateID string, data map[string]any) error {
	subject, html, err := s.renderer.Render(templateID, data)
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(EmailData{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("error marshaling email data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	s.log.Debug().
		Str("template", templateID).
		Int("status", resp.StatusCode).
		Msg("Resend API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("resend API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// LogSender renders emails and logs them instead of sending. Used when no
// Resend key is configured.
type LogSender struct {
	renderer *Renderer
	log      zerolog.Logger
}

func NewLogSender(renderer *Renderer, log zerolog.Logger) *LogSender {
	return &LogSender{renderer: renderer, log: log.With().Str("component", "email").Logger()}
}

func (s *LogSender) Send(_ context.Context, to, templateID string, data map[string]any) error {
	subject, _, err := s.renderer.Render(templateID, data)
	if err != nil {
		return err
	}
	s.log.Info().Str("to", to).Str("template", templateID).Str("subject", subject).Msg("Email not sent, no provider configured")
	return nil
}
