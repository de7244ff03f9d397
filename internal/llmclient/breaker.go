package llmclient

import (
	"sync"
	"time"
)

// BreakerState is the position of a backend's circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// circuitBreaker stops calls to a backend after failureThreshold consecutive
// failures. After timeout it turns half-open and lets one probe call through
// at a time; successThreshold probe successes close it again, a probe failure
// reopens it.
type circuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time
	probing          bool
	now              func() time.Time
}

func newCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: max(failureThreshold, 1),
		successThreshold: max(successThreshold, 1),
		timeout:          timeout,
		now:              time.Now,
	}
}

func (cb *circuitBreaker) allow() bool {
	ok, _ := cb.admit()
	return ok
}

// admit reports whether a call may proceed and whether it is the half-open
// probe. The probe must be ended with release.
func (cb *circuitBreaker) admit() (ok, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true, false
	case BreakerHalfOpen:
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	}
	if cb.now().Sub(cb.openedAt) < cb.timeout {
		return false, false
	}
	cb.state = BreakerHalfOpen
	cb.successes = 0
	cb.probing = true
	return true, true
}

// release frees the probe slot of a call that recorded neither a success nor
// a failure.
func (cb *circuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	if cb.state != BreakerHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.successThreshold {
		cb.state = BreakerClosed
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.probing = false
	if cb.state == BreakerHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
		cb.successes = 0
	}
}

func (cb *circuitBreaker) current() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerState reports the client's circuit breaker state. A client without
// a breaker is always closed.
func (c *Client) BreakerState() BreakerState {
	if c.circuitBreaker == nil {
		return BreakerClosed
	}
	return c.circuitBreaker.current()
}
