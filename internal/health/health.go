// Package health exposes liveness and readiness probes for the worker's
// dependencies. Checkers are registered as components come online and are
// probed both on demand (HTTP) and on a background interval.
package health

import (
	"context"
	"encoding/json"
	"time"
)

// Status classifies a probe outcome.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form so probe payloads stay
// readable for operators and dashboards.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the string form written by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "healthy":
		*s = StatusHealthy
	case "degraded":
		*s = StatusDegraded
	case "unhealthy":
		*s = StatusUnhealthy
	default:
		*s = StatusUnknown
	}
	return nil
}

// Result is the outcome of a single checker run.
type Result struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Critical  bool           `json:"critical"`
}

// Checker probes one dependency.
type Checker interface {
	// Name returns the unique name of this check.
	Name() string

	// Check performs the probe. The context carries the check timeout.
	Check(ctx context.Context) Result

	// Critical reports whether a failure should mark the service not ready.
	Critical() bool

	// Timeout returns the maximum duration a single probe may take.
	Timeout() time.Duration
}

// Overall is the rolled-up service status.
type Overall struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Ready     bool      `json:"ready"`
	Live      bool      `json:"live"`
	Timestamp time.Time `json:"timestamp"`
}

// Report carries the overall status plus per-component results.
type Report struct {
	Overall    Overall           `json:"overall"`
	Components map[string]Result `json:"components"`
	Summary    Summary           `json:"summary"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Summary counts components by status.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
}

// FuncChecker adapts a plain function into a Checker.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) Result
}

// NewFuncChecker wraps fn as a named checker.
func NewFuncChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) Result) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, timeout: timeout, fn: fn}
}

func (c *FuncChecker) Name() string           { return c.name }
func (c *FuncChecker) Critical() bool         { return c.critical }
func (c *FuncChecker) Timeout() time.Duration { return c.timeout }

func (c *FuncChecker) Check(ctx context.Context) Result {
	return c.fn(ctx)
}
