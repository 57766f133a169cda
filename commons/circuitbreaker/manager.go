package circuitbreaker

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// Option customizes a manager.
type Option func(*manager)

// WithTransitionHook calls fn after every state change. fn runs while the
// breaker is locked and must not call back into the manager.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(m *manager) {
		m.hooks = append(m.hooks, fn)
	}
}

type manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   log.Logger
	hooks    []TransitionFunc
}

// NewManager creates an empty manager.
func NewManager(logger log.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	m := &manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *manager) Register(service string, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.breakers[service]; ok {
		return
	}

	m.breakers[service] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          service,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   tripPolicy(config),
		OnStateChange: m.transition,
	})

	m.logger.Infof("Circuit breaker registered for %s", service)
}

func tripPolicy(config Config) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if config.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= config.ConsecutiveFailures {
			return true
		}

		if counts.Requests == 0 || counts.Requests < config.MinRequests {
			return false
		}

		return float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
	}
}

func (m *manager) transition(service string, from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		m.logger.Errorf("Circuit breaker for %s opened, calls fail fast for now", service)
	case gobreaker.StateHalfOpen:
		m.logger.Warnf("Circuit breaker for %s half-open, probing recovery", service)
	default:
		m.logger.Infof("Circuit breaker for %s closed after %s", service, from)
	}

	for _, hook := range m.hooks {
		hook(service, convertState(from), convertState(to))
	}
}

func (m *manager) breaker(service string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.breakers[service]
}

func (m *manager) Execute(service string, fn func() (any, error)) (any, error) {
	cb := m.breaker(service)
	if cb == nil {
		return nil, fmt.Errorf("no circuit breaker registered for %s", service)
	}

	result, err := cb.Execute(fn)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, fmt.Errorf("%w: %s circuit open: %w", ErrServiceUnavailable, service, err)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %s still recovering: %w", ErrServiceUnavailable, service, err)
	}

	return result, err
}

func (m *manager) State(service string) State {
	cb := m.breaker(service)
	if cb == nil {
		return StateUnknown
	}

	return convertState(cb.State())
}

// Snapshot lists every breaker sorted by service name.
func (m *manager) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.breakers))

	for service, cb := range m.breakers {
		counts := cb.Counts()
		out = append(out, Status{
			Service:             service,
			State:               convertState(cb.State()),
			Requests:            counts.Requests,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		})
	}

	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.Service, b.Service) })

	return out
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
