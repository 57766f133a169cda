// Package circuitbreaker keeps one github.com/sony/gobreaker breaker per
// downstream service so that calls to an unhealthy dependency fail fast.
package circuitbreaker

import (
	"errors"
	"time"
)

// State is the breaker state reported for a service.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Level orders states by severity for gauges: closed 0, half-open 1, open 2.
// Unknown reports -1.
func (s State) Level() int64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// ErrServiceUnavailable wraps the error returned while a breaker rejects calls.
var ErrServiceUnavailable = errors.New("service unavailable")

// Config controls when a breaker trips and how it recovers.
type Config struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker on its own.
	ConsecutiveFailures uint32
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig suits service-to-service HTTP calls.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         3,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// Status is the point-in-time view of one breaker.
type Status struct {
	Service             string `json:"service"`
	State               State  `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// TransitionFunc observes a breaker moving between states.
type TransitionFunc func(service string, from, to State)

// Manager owns the breakers of a process, keyed by service name.
type Manager interface {
	// Register creates the breaker for service unless one exists.
	Register(service string, config Config)
	// Execute runs fn through the breaker of service. Rejected calls return
	// an error wrapping ErrServiceUnavailable.
	Execute(service string, fn func() (any, error)) (any, error)
	State(service string) State
	Snapshot() []Status
}
