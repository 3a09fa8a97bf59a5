// Package notify sends rendered messages to merchants and customers through a
// delivery channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrChannelDisabled is returned when a channel has no transport configured.
var ErrChannelDisabled = errors.New("notify: channel disabled")

// Channel delivers fully rendered content.
type Channel interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, to, body string) error
}

// LogChannel writes messages to the log instead of delivering them.
type LogChannel struct{}

func (LogChannel) SendEmail(_ context.Context, to, subject, body string) error {
	log.WithFields(log.Fields{"to": to, "subject": subject, "bytes": len(body)}).Info("email queued")
	return nil
}

func (LogChannel) SendSMS(_ context.Context, to, body string) error {
	log.WithFields(log.Fields{"to": to, "bytes": len(body)}).Info("sms queued")
	return nil
}

const relayTimeout = 10 * time.Second

// HTTPRelay posts messages as JSON to a delivery relay.
type HTTPRelay struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRelay returns a relay client for baseURL. token is sent as a bearer
// credential when set.
func NewHTTPRelay(baseURL, token string) *HTTPRelay {
	return &HTTPRelay{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: relayTimeout},
	}
}

type relayMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

func (r *HTTPRelay) SendEmail(ctx context.Context, to, subject, body string) error {
	return r.post(ctx, "/email", relayMessage{Channel: "email", To: to, Subject: subject, Body: body})
}

func (r *HTTPRelay) SendSMS(ctx context.Context, to, body string) error {
	return r.post(ctx, "/sms", relayMessage{Channel: "sms", To: to, Body: body})
}

func (r *HTTPRelay) post(ctx context.Context, path string, msg relayMessage) (err error) {
	if r == nil || r.baseURL == "" {
		return ErrChannelDisabled
	}
	payload, errMarshal := json.Marshal(msg)
	if errMarshal != nil {
		return fmt.Errorf("notify: encode message: %w", errMarshal)
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if errReq != nil {
		return fmt.Errorf("notify: create request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, errDo := r.client.Do(req)
	if errDo != nil {
		return fmt.Errorf("notify: relay %s: %w", msg.Channel, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil && err == nil {
			err = fmt.Errorf("notify: close response body: %w", errClose)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: relay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
