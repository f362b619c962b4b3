package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// BrevoProvider sends emails via Brevo (formerly Sendinblue) API.
type BrevoProvider struct {
	apiKey     string
	fromAddr   string
	fromName   string
	endpoint   string
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewBrevoProvider creates a new Brevo email provider.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		apiKey:     apiKey,
		fromAddr:   fromAddr,
		fromName:   fromName,
		endpoint:   brevoEndpoint,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		retryDelay: time.Second,
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send sends an email via Brevo API. Client errors other than 429 are not
// retried.
func (b *BrevoProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	jsonData, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: sanitizeEmailHeader(to)}},
		Subject: sanitizeEmailHeader(subject),
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("api-key", b.apiKey)

			resp, err := b.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				b.logger.Warn("Brevo API request failed",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					b.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
			case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
				return retry.Unrecoverable(fmt.Errorf("brevo rejected message: HTTP %d", resp.StatusCode))
			default:
				b.logger.Warn("Brevo API returned non-2xx status",
					"status_code", resp.StatusCode,
					"to", to)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			b.logger.Info("Brevo API request completed",
				"endpoint", "smtp/email",
				"to", to,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(b.retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(b.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Brevo email send after error", "attempt", n, "error", err)
		}),
	)
}
