package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultProbeInterval = 30 * time.Second

// Manager runs registered checkers and caches their latest results so probe
// endpoints can answer without hammering dependencies.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]Result
	interval time.Duration
	started  bool
	stopCh   chan struct{}
	logger   *zap.Logger
}

// NewManager creates a manager with the default probe interval.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]Result),
		interval: defaultProbeInterval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %q already registered", name)
	}
	m.checkers[name] = c

	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.Critical()),
		zap.Duration("timeout", c.Timeout()),
	)
	return nil
}

// Unregister removes a checker and its cached result.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkers[name]; !exists {
		return fmt.Errorf("checker %q not found", name)
	}
	delete(m.checkers, name)
	delete(m.last, name)
	return nil
}

// SetProbeInterval overrides the background probe interval. Takes effect on
// the next Start.
func (m *Manager) SetProbeInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.interval = d
	}
}

// Probe runs every registered checker now, updates the cache, and returns
// the rolled-up report.
func (m *Manager) Probe(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	components := make(map[string]Result, len(checkers))
	for _, c := range checkers {
		components[c.Name()] = m.runCheck(ctx, c)
	}

	m.mu.Lock()
	for name, res := range components {
		m.last[name] = res
	}
	m.mu.Unlock()

	overall, summary := summarize(components)
	return Report{Overall: overall, Components: components, Summary: summary, Timestamp: time.Now()}
}

// Snapshot reports from cached results without running new checks.
func (m *Manager) Snapshot() Report {
	m.mu.RLock()
	components := make(map[string]Result, len(m.last))
	for name, res := range m.last {
		components[name] = res
	}
	m.mu.RUnlock()

	overall, summary := summarize(components)
	return Report{Overall: overall, Components: components, Summary: summary, Timestamp: time.Now()}
}

// Ready reports whether the service should receive work.
func (m *Manager) Ready(ctx context.Context) bool {
	return m.Probe(ctx).Overall.Ready
}

// Live reports whether the process is alive. Stays true even when critical
// dependencies are down, so orchestrators restart only on real hangs.
func (m *Manager) Live(ctx context.Context) bool {
	return m.Probe(ctx).Overall.Live
}

// Start begins background probing. Safe to call once; later calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	interval := m.interval
	registered := len(m.checkers)
	m.mu.Unlock()

	go m.probeLoop(ctx, interval)

	m.logger.Info("Health manager started",
		zap.Duration("interval", interval),
		zap.Int("checkers", registered),
	)
	return nil
}

// Stop ends background probing.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
}

func (m *Manager) probeLoop(ctx context.Context, interval time.Duration) {
	// Prime the cache so Snapshot has data before the first tick.
	m.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

func (m *Manager) runCheck(ctx context.Context, c Checker) Result {
	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := c.Check(cctx)
	res.Component = c.Name()
	res.Critical = c.Critical()
	res.Duration = time.Since(start)
	res.Timestamp = start
	return res
}

// summarize rolls component results up into an overall status. Only critical
// failures take readiness away; liveness stays true as long as the process
// can answer at all.
func summarize(components map[string]Result) (Overall, Summary) {
	summary := Summary{Total: len(components)}
	criticalDown := 0
	for _, res := range components {
		switch res.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
			if res.Critical {
				criticalDown++
			}
		}
	}

	overall := Overall{Live: true, Timestamp: time.Now()}
	switch {
	case summary.Total == 0:
		overall.Status = StatusUnknown
		overall.Message = "no health checks registered"
	case criticalDown > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", criticalDown)
	case summary.Unhealthy > 0 || summary.Degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) impaired", summary.Unhealthy+summary.Degraded)
		overall.Ready = true
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("all %d components healthy", summary.Total)
		overall.Ready = true
	}
	return overall, summary
}
