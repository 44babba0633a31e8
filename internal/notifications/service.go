package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"opsagent/internal/retry"
)

// ErrCircuitOpen is returned while the WhatsApp channel is cooling down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Sender delivers a WhatsApp message.
type Sender interface {
	Configured() bool
	SendMessage(ctx context.Context, to, body string) (string, error)
}

// Notifier delivers owner alerts.
type Notifier interface {
	Notify(ctx context.Context, to string, alert Alert) error
}

// Metrics counts alert deliveries since start.
type Metrics struct {
	Sent      int64
	Simulated int64
	Failed    int64

	MirrorSent    int64
	MirrorFailed  int64
	MirrorRetries int64
}

// Service sends alerts over WhatsApp and mirrors them to ntfy. Without
// gateway credentials or a recipient it runs in simulation mode: the alert
// is logged and counts as delivered.
type Service struct {
	sender    Sender
	defaultTo string
	mirror    *Client
	retry     retry.Config
	breaker   *circuitBreaker

	mutex   sync.Mutex
	metrics Metrics
}

var _ Notifier = (*Service)(nil)

// NewService creates a Service. sender and mirror may be nil.
func NewService(sender Sender, defaultTo string, mirror *Client, rc retry.Config) *Service {
	return &Service{
		sender:    sender,
		defaultTo: defaultTo,
		mirror:    mirror,
		retry:     rc,
		breaker:   newCircuitBreaker("whatsapp"),
	}
}

// Notify delivers alert to the WhatsApp address to, or the default owner
// number when to is empty.
func (s *Service) Notify(ctx context.Context, to string, alert Alert) error {
	recipient := strings.TrimSpace(to)
	if recipient == "" {
		recipient = s.defaultTo
	}

	s.mirrorAlert(ctx, alert)

	if s.sender == nil || !s.sender.Configured() || recipient == "" {
		log.Warn().
			Str("title", alert.Title).
			Str("body", alert.Body).
			Msg("Simulation alert")
		s.count(func(m *Metrics) { m.Simulated++ })
		return nil
	}

	if s.breaker.isOpen() {
		s.count(func(m *Metrics) { m.Failed++ })
		return ErrCircuitOpen
	}

	sid, err := retry.WithRetry(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.sender.SendMessage(ctx, recipient, alert.Text())
	})
	if err != nil {
		s.breaker.recordFailure()
		s.count(func(m *Metrics) { m.Failed++ })
		return fmt.Errorf("sending alert to %s: %w", recipient, err)
	}

	s.breaker.recordSuccess()
	s.count(func(m *Metrics) { m.Sent++ })
	log.Info().
		Str("to", recipient).
		Str("sid", sid).
		Str("title", alert.Title).
		Msg("Alert sent")
	return nil
}

// Metrics returns a snapshot of delivery counters.
func (s *Service) Metrics() Metrics {
	s.mutex.Lock()
	m := s.metrics
	s.mutex.Unlock()

	if s.mirror.Enabled() {
		m.MirrorSent, m.MirrorFailed, m.MirrorRetries = s.mirror.GetMetrics()
	}
	return m
}

func (s *Service) count(f func(*Metrics)) {
	s.mutex.Lock()
	f(&s.metrics)
	s.mutex.Unlock()
}

// mirrorAlert forwards to ntfy; failures there never block WhatsApp delivery.
func (s *Service) mirrorAlert(ctx context.Context, alert Alert) {
	if !s.mirror.Enabled() {
		return
	}
	if err := s.mirror.SendNotification(ctx, alert.Title, alert.Body); err != nil {
		log.Warn().Err(err).Msg("ntfy mirror failed")
	}
}
