package remit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/logger"
)

// HTTPEmailSender posts messages to a transactional email API.
type HTTPEmailSender struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

func NewHTTPEmailSender(url, apiKey, from string) *HTTPEmailSender {
	return &HTTPEmailSender{
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *HTTPEmailSender) Send(ctx context.Context, to, subject, body string) error {
	if s.url == "" {
		return fmt.Errorf("email delivery not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"from":    s.from,
		"to":      to,
		"subject": subject,
		"html":    body,
	})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}
	return nil
}

// SendAsync dispatches an email in the background. Delivery failures
// are logged, never propagated: notification emails must not block or
// fail the operation that triggered them.
func SendAsync(sender EmailSender, to, subject, body string) {
	if sender == nil || to == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sender.Send(ctx, to, subject, body); err != nil {
			logger.WarnCF("email", "Background email delivery failed",
				map[string]interface{}{"to": to, "subject": subject, "error": err.Error()})
		}
	}()
}
