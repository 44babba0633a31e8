package notifications

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// circuitBreaker opens after consecutive failures and lets one attempt
// through again once the cooldown has passed.
type circuitBreaker struct {
	name string
	now  func() time.Time

	mutex       sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
}

func newCircuitBreaker(name string) *circuitBreaker {
	return &circuitBreaker{name: name, now: time.Now}
}

func (b *circuitBreaker) isOpen() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.open {
		return false
	}
	if b.now().Sub(b.lastFailure) > breakerCooldown {
		b.open = false
		b.failures = 0
		log.Info().Str("channel", b.name).Msg("Circuit breaker moving to half-open state")
		return false
	}
	return true
}

func (b *circuitBreaker) recordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.failures = 0
	if b.open {
		b.open = false
		log.Info().Str("channel", b.name).Msg("Circuit breaker closed after successful notification")
	}
}

func (b *circuitBreaker) recordFailure() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.failures++
	b.lastFailure = b.now()

	// Open circuit breaker after 5 consecutive failures
	if b.failures >= breakerThreshold && !b.open {
		b.open = true
		log.Warn().
			Str("channel", b.name).
			Int("failures", b.failures).
			Msg("Circuit breaker opened due to consecutive failures")
	}
}
