// Package breaker implements a three-state circuit breaker used to shield
// market-data providers from repeated failures.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrOpen is returned by Do when the circuit short-circuits the call.
var ErrOpen = errors.New("circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Stats is a point-in-time snapshot of the breaker.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	OpenedAt        time.Time `json:"opened_at"`
	HalfOpenInUse   int       `json:"half_open_in_use"`
	OpenedCount     int       `json:"opened_count"`
	ClosedCount     int       `json:"closed_count"`
	HalfOpenCount   int       `json:"half_open_count"`
	FailureLimit    int       `json:"failure_limit"`
	RecoveryTimeout string    `json:"recovery_timeout"`
}

// Breaker transitions CLOSED -> OPEN after failureThreshold consecutive
// failures, OPEN -> HALF_OPEN once recoveryTime has elapsed, and HALF_OPEN
// -> CLOSED on the first probe success (or back to OPEN on a probe failure).
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTime     time.Duration
	halfOpenMaxCalls int

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenInUse int
	openedCount   int
	closedCount   int
	halfOpenCount int

	now func() time.Time
}

func New(name string, failureThreshold int, recoveryTime time.Duration, halfOpenMaxCalls int) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if halfOpenMaxCalls < 1 {
		halfOpenMaxCalls = 1
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTime:     recoveryTime,
		halfOpenMaxCalls: halfOpenMaxCalls,
		now:              time.Now,
	}
}

// Do runs fn under breaker admission control. When the circuit is open and
// the recovery window has not elapsed, fn is not called and ErrOpen is
// returned.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canPass() {
		return ErrOpen
	}
	if b.state == HalfOpen {
		b.halfOpenInUse++
	}
	return nil
}

// canPass mutates OPEN into HALF_OPEN once the recovery window elapses.
// Caller holds the lock.
func (b *Breaker) canPass() bool {
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) >= b.recoveryTime {
			b.state = HalfOpen
			b.halfOpenInUse = 0
			b.halfOpenCount++
			log.Debug().Str("breaker", b.name).Msg("half-open probe window")
			return true
		}
		return false
	case HalfOpen:
		return b.halfOpenInUse < b.halfOpenMaxCalls
	}
	return true
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	if b.state == Open || b.state == HalfOpen {
		b.state = Closed
		b.failures = 0
		b.halfOpenInUse = 0
		b.closedCount++
		log.Info().Str("breaker", b.name).Msg("circuit closed")
		return
	}
	b.failures = 0
}

func (b *Breaker) onFailure() {
	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = b.now()
		b.halfOpenInUse = 0
		b.openedCount++
		log.Warn().Str("breaker", b.name).Msg("circuit reopened after failed probe")
		return
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = Open
		b.openedAt = b.now()
		b.openedCount++
		log.Warn().Str("breaker", b.name).Int("failures", b.failures).Msg("circuit opened")
	}
}

// State locks and reports the current state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.name,
		State:           b.state.String(),
		Failures:        b.failures,
		OpenedAt:        b.openedAt,
		HalfOpenInUse:   b.halfOpenInUse,
		OpenedCount:     b.openedCount,
		ClosedCount:     b.closedCount,
		HalfOpenCount:   b.halfOpenCount,
		FailureLimit:    b.failureThreshold,
		RecoveryTimeout: b.recoveryTime.String(),
	}
}
