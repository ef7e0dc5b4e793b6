// Package webhook publishes run completion events as signed JSON POSTs.
//
// Requests carry webhook-id, webhook-timestamp and webhook-signature headers.
// The signature is "v1," followed by the base64 HMAC-SHA256 of
// "<id>.<timestamp>.<body>", keyed with the base64 part of a "whsec_" secret.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/notify"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3

	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

var ErrInvalidSecret = errors.New("invalid webhook secret, want whsec_<base64>")

// Config configures the webhook publisher.
type Config struct {
	// URL receives the POST requests.
	URL     string
	Headers map[string]string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries after the first attempt. 4xx responses are never retried.
	Retries int
	// Backoff spaces retries. Defaults to doubling from 500ms.
	Backoff mangaba.Backoff
	// Secret signs requests when set.
	Secret string
}

// Publisher posts events to a webhook.
type Publisher struct {
	config Config
	client *http.Client
	key    []byte
}

// New validates cfg and returns a Publisher.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook publisher requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = &mangaba.ExponentialBackoff{Base: 500 * time.Millisecond, Multiplier: 2, Max: 10 * time.Second}
	}

	p := &Publisher{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}

	if cfg.Secret != "" {
		key, err := decodeSecret(cfg.Secret)
		if err != nil {
			return nil, err
		}
		p.key = key
	}

	return p, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Publish posts event, retrying network errors and 5xx responses. Every
// attempt carries the same webhook-id so receivers can deduplicate.
func (p *Publisher) Publish(ctx context.Context, event *notify.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	id := "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var lastErr error
	attempts := 1 + p.config.Retries
	for i := range attempts {
		if i > 0 {
			timer := time.NewTimer(p.config.Backoff.NextDelay(i - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("webhook: canceled during backoff: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		lastErr = p.post(ctx, id, body)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("webhook: %w", lastErr)
		}
	}

	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

func (p *Publisher) post(ctx context.Context, id string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	if p.key != nil {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(HeaderID, id)
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, "v1,"+base64.StdEncoding.EncodeToString(sign(p.key, id, timestamp, body)))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (p *Publisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ notify.Publisher = (*Publisher)(nil)

func decodeSecret(secret string) ([]byte, error) {
	prefix, encoded, ok := strings.Cut(secret, "_")
	if !ok || prefix != "whsec" {
		return nil, ErrInvalidSecret
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}
	return key, nil
}

func sign(key []byte, id, timestamp string, body []byte) []byte {
	h := hmac.New(sha256.New, key)
	fmt.Fprintf(h, "%s.%s.", id, timestamp)
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the webhook-signature header value for a request.
func Sign(secret, id, timestamp string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return "v1," + base64.StdEncoding.EncodeToString(sign(key, id, timestamp, body)), nil
}

// ValidateRequest checks the signature of an incoming webhook request. The
// body is restored so handlers can still read it.
func ValidateRequest(req *http.Request, secret string) (bool, error) {
	id := req.Header.Get(HeaderID)
	timestamp := req.Header.Get(HeaderTimestamp)
	signature := req.Header.Get(HeaderSignature)
	if id == "" || timestamp == "" || signature == "" {
		return false, fmt.Errorf("missing required webhook headers: id=%q, timestamp=%q, signature=%q", id, timestamp, signature)
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read request body: %w", err)
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))

	expected := sign(key, id, timestamp, body)

	// Several space-separated signatures may be sent during key rotation.
	for _, sig := range strings.Fields(signature) {
		_, encoded, ok := strings.Cut(sig, ",")
		if !ok {
			return false, fmt.Errorf("invalid signature format: %s", sig)
		}

		got, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return false, fmt.Errorf("failed to base64 decode signature: %w", err)
		}

		if hmac.Equal(got, expected) {
			return true, nil
		}
	}

	return false, nil
}
