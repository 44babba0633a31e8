package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"opsagent/internal/retry"

	"github.com/rs/zerolog/log"
)

// Client mirrors alerts to an ntfy topic so the owner also gets a push
// notification on their phone.
type Client struct {
	httpClient *http.Client
	topicURL   string
	priority   string
	enabled    bool
	retry      retry.Config
	breaker    *circuitBreaker

	mutex   sync.Mutex
	sent    int64
	failed  int64
	retries int64
}

// NotificationError classifies a failed ntfy request.
type NotificationError struct {
	Type       string
	StatusCode int
	Underlying error
}

func (e *NotificationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ntfy %s error (HTTP %d): %v", e.Type, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("ntfy %s error: %v", e.Type, e.Underlying)
}

func (e *NotificationError) Unwrap() error {
	return e.Underlying
}

// IsRetryable is false for errors another attempt cannot fix.
func (e *NotificationError) IsRetryable() bool {
	switch e.Type {
	case "auth", "client", "circuit_open":
		return false
	}
	return true
}

func retryableNotification(err error) bool {
	var notifErr *NotificationError
	if errors.As(err, &notifErr) {
		return notifErr.IsRetryable()
	}
	return true
}

func NewClient(baseURL, topic, priority string, enabled bool, rc retry.Config) *Client {
	rc.Retryable = retryableNotification
	if rc.Name == "" {
		rc.Name = "ntfy"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		topicURL:   strings.TrimRight(baseURL, "/") + "/" + topic,
		priority:   priority,
		enabled:    enabled,
		retry:      rc,
		breaker:    newCircuitBreaker("ntfy"),
	}
}

// Enabled reports whether the mirror sends anything.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

func (c *Client) SendNotification(ctx context.Context, title, message string) error {
	if !c.Enabled() {
		return nil
	}
	if c.breaker.isOpen() {
		log.Warn().Str("topic_url", c.topicURL).Msg("ntfy circuit open, dropping mirror")
		return &NotificationError{Type: "circuit_open", Underlying: ErrCircuitOpen}
	}

	attempts := 0
	_, err := retry.WithRetry(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, c.post(ctx, title, message)
	})

	c.mutex.Lock()
	c.retries += int64(attempts - 1)
	if err == nil {
		c.sent++
	} else {
		c.failed++
	}
	c.mutex.Unlock()

	if err != nil {
		c.breaker.recordFailure()
		return fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	c.breaker.recordSuccess()
	return nil
}

func (c *Client) post(ctx context.Context, title, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.topicURL, strings.NewReader(message))
	if err != nil {
		return &NotificationError{Type: "client", Underlying: err}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if c.priority != "" {
		req.Header.Set("Priority", c.priority)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotificationError{Type: "network", Underlying: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &NotificationError{
			Type:       categorizeHTTPError(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Underlying: errors.New(resp.Status),
		}
	}
	log.Debug().Int("status_code", resp.StatusCode).Msg("ntfy mirror delivered")
	return nil
}

func categorizeHTTPError(statusCode int) string {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return "auth"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limit"
	case statusCode >= 500:
		return "server"
	default:
		return "client"
	}
}

// GetMetrics returns delivered, failed and retried mirror counts.
func (c *Client) GetMetrics() (sent, failed, retries int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sent, c.failed, c.retries
}
