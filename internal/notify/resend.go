// Package notify delivers post-call email follow-ups through the Resend API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/7777tbone7777/aiagents/internal/reliability"
)

const defaultBaseURL = "https://api.resend.com"

// Client sends transactional email via Resend. A 429 or 5xx response is
// retried with backoff; 4xx responses fail immediately.
type Client struct {
	apiKey  string
	from    string
	baseURL string

	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

func NewClient(apiKey, from string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		from:    strings.TrimSpace(from),
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

// Enabled reports whether the client has credentials to send anything.
func (c *Client) Enabled() bool { return c.apiKey != "" && c.from != "" }

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Send delivers one plain-text email. It is a no-op when the client is not
// configured, so callers never need to guard the hook path.
func (c *Client) Send(ctx context.Context, to, subject, text string) error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	payload, err := json.Marshal(emailRequest{
		From:    c.from,
		To:      []string{to},
		Subject: subject,
		Text:    text,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt-1, c.baseDelay, 8*c.baseDelay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		status, err := c.post(ctx, payload)
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = fmt.Errorf("resend status %d", status)
		if !reliability.IsRetryableHTTPStatus(status) {
			return lastErr
		}
	}
	return fmt.Errorf("send email after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
	return res.StatusCode, nil
}
