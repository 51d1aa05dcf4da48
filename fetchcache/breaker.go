// Package fetchcache provides a TTL-bounded LRU cache combined with a
// three-state circuit breaker and all-settled batch fetching. Data-fetching
// clients layer it in front of the gateway so a dead backend degrades to fast
// failures instead of piling up doomed requests.
package fetchcache

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a three-state circuit breaker. After a total failure it opens
// for a cooldown window; the first caller through after the cooldown is a
// trial probe, and everyone else keeps failing fast until the probe succeeds.
type Breaker struct {
	clock    clockwork.Clock
	cooldown time.Duration

	mu          sync.Mutex
	state       breakerState
	openUntil   time.Time
	probeActive bool
}

// NewBreaker creates a closed breaker with the given cooldown window.
func NewBreaker(cooldown time.Duration, clock clockwork.Clock) *Breaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{clock: clock, cooldown: cooldown}
}

// Acquire asks permission to fetch. It returns probe=true when the caller is
// the trial request after a cooldown; such a caller must call Record with its
// outcome. While the breaker is open, a trace.LimitExceeded error is returned
// and no fetch may run.
func (b *Breaker) Acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return false, nil
	case stateOpen:
		if b.clock.Now().Before(b.openUntil) {
			return false, trace.LimitExceeded("temporarily unavailable: circuit breaker is open")
		}
		b.state = stateHalfOpen
		b.probeActive = true
		return true, nil
	default: // stateHalfOpen
		if b.probeActive {
			return false, trace.LimitExceeded("temporarily unavailable: trial request in flight")
		}
		b.probeActive = true
		return true, nil
	}
}

// Record reports a fetch outcome. Success closes the breaker; a total failure
// opens it for the cooldown window.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeActive = false
	if success {
		b.state = stateClosed
		return
	}
	b.state = stateOpen
	b.openUntil = b.clock.Now().Add(b.cooldown)
}

// Release gives up an acquired slot without recording an outcome, used when
// a fetch was cancelled before the backend's health could be judged.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeActive = false
}

// IsUnavailable reports whether an error came from an open breaker.
func IsUnavailable(err error) bool {
	return trace.IsLimitExceeded(err)
}
