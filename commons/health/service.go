// Package health serves the /health endpoint of the demo services: the service
// identity plus the state of every registered dependency.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// defaultCheckTimeout bounds a single dependency check.
const defaultCheckTimeout = 3 * time.Second

// Status represents the health status
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check is the outcome of one dependency check.
type Check struct {
	Status     Status         `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Details    map[string]any `json:"details,omitempty"`
}

// Response represents the health check response
type Response struct {
	Status      Status            `json:"status"`
	Service     string            `json:"service"`
	DisplayName string            `json:"display_name"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Hostname    string            `json:"hostname"`
	Timestamp   string            `json:"timestamp"`
	Checks      map[string]*Check `json:"checks"`
	System      *SystemInfo       `json:"system"`
}

// SystemInfo contains system information
type SystemInfo struct {
	Uptime       float64 `json:"uptime"`
	MemoryUsage  float64 `json:"memory_usage"`
	CPUCount     int     `json:"cpu_count"`
	GoroutineNum int     `json:"goroutine_num"`
}

// Checker reports whether one dependency is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// Reporter is a Checker that also describes the dependency. The details are
// included in the response whatever the outcome.
type Reporter interface {
	Checker
	Details(ctx context.Context) map[string]any
}

// Identity names the service reporting its health.
type Identity struct {
	Name        string
	DisplayName string
	Version     string
	Environment string
	Hostname    string
}

// Service manages health checks
type Service struct {
	identity  Identity
	checkers  map[string]Checker
	timeout   time.Duration
	mu        sync.RWMutex
	startTime time.Time
}

// NewService creates a new health service. DisplayName falls back to Name.
func NewService(identity Identity) *Service {
	if identity.DisplayName == "" {
		identity.DisplayName = identity.Name
	}

	return &Service{
		identity:  identity,
		checkers:  make(map[string]Checker),
		timeout:   defaultCheckTimeout,
		startTime: time.Now(),
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkers[name] = checker
}

// Handler returns a fiber handler for health checks
func (s *Service) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		response := s.Check(c.UserContext())

		statusCode := fiber.StatusOK
		if response.Status == StatusDown {
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(response)
	}
}

// Check runs every registered checker concurrently, each bounded by its own timeout.
func (s *Service) Check(ctx context.Context) *Response {
	s.mu.RLock()
	names := make([]string, 0, len(s.checkers))
	checkers := make(map[string]Checker, len(s.checkers))

	for name, checker := range s.checkers {
		names = append(names, name)
		checkers[name] = checker
	}
	s.mu.RUnlock()

	sort.Strings(names)

	results := make([]*Check, len(names))

	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)

		go func(i int, checker Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			results[i] = runCheck(checkCtx, checker)
		}(i, checkers[name])
	}

	wg.Wait()

	response := &Response{
		Status:      StatusUp,
		Service:     s.identity.Name,
		DisplayName: s.identity.DisplayName,
		Version:     s.identity.Version,
		Environment: s.identity.Environment,
		Hostname:    s.identity.Hostname,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Checks:      make(map[string]*Check, len(names)),
		System:      s.getSystemInfo(),
	}

	for i, name := range names {
		response.Checks[name] = results[i]

		if results[i].Status == StatusDown {
			response.Status = StatusDown
		}
	}

	return response
}

func runCheck(ctx context.Context, checker Checker) (check *Check) {
	start := time.Now()
	check = &Check{Status: StatusUp}

	defer func() {
		if r := recover(); r != nil {
			check.fail(fmt.Errorf("panic: %v", r))
		}

		check.DurationMs = time.Since(start).Milliseconds()
	}()

	if reporter, ok := checker.(Reporter); ok {
		check.Details = reporter.Details(ctx)
	}

	check.fail(checker.Check(ctx))

	return check
}

func (c *Check) fail(err error) {
	if err == nil {
		return
	}

	c.Status = StatusDown

	if c.Details == nil {
		c.Details = make(map[string]any, 1)
	}

	c.Details["error"] = err.Error()
}

func (s *Service) getSystemInfo() *SystemInfo {
	var memStats runtime.MemStats

	runtime.ReadMemStats(&memStats)

	return &SystemInfo{
		Uptime:       time.Since(s.startTime).Seconds(),
		MemoryUsage:  float64(memStats.Alloc) / 1024 / 1024, // MB
		CPUCount:     runtime.NumCPU(),
		GoroutineNum: runtime.NumGoroutine(),
	}
}

