package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Tunables are the run settings safe to change while the worker is up.
// A swap affects new runs only; in-flight runs keep the values they
// started with, so replays stay deterministic.
type Tunables struct {
	MaxIterations    int
	SupervisorCap    int
	QualityThreshold float64
	SearchDepth      string
	MaxSearchResults int
	MaxSections      int
	MaxConcurrency   int

	// DefaultBackend and Bindings fill run inputs that do not name their
	// own backends. Rebinding moves new runs to another backend without a
	// worker restart.
	DefaultBackend string
	Bindings       map[string]string
}

// TunablesFrom extracts the hot-reloadable subset of a loaded config.
func TunablesFrom(cfg *Config) Tunables {
	return Tunables{
		MaxIterations:    cfg.Runs.MaxIterations,
		SupervisorCap:    cfg.Runs.SupervisorCap,
		QualityThreshold: cfg.Runs.QualityThreshold,
		SearchDepth:      cfg.Tools.SearchDepth,
		MaxSearchResults: cfg.Tools.MaxResults,
		MaxSections:      cfg.Runs.MaxSections,
		MaxConcurrency:   cfg.Runs.MaxConcurrency,
		DefaultBackend:   cfg.Backends.DefaultBackend,
		Bindings:         cfg.Backends.Bindings,
	}
}

// Validate rejects tunable sets no run should start with.
func (t Tunables) Validate() error {
	if t.QualityThreshold < 0 || t.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold must be within [0,1], got %v", t.QualityThreshold)
	}
	if t.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative")
	}
	if t.SupervisorCap < 0 {
		return fmt.Errorf("supervisor cap must not be negative")
	}
	return nil
}

// Manager watches the config file and swaps the current tunables when it
// changes. A reload that fails to parse or validate is dropped; the last
// good set stays in effect. Pricing is deliberately outside its reach.
type Manager struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu      sync.RWMutex
	current Tunables
	started bool
	onSwap  []func(Tunables)
}

// NewManager builds a manager seeded with the tunables from an initial
// load. Start must be called to begin watching.
func NewManager(path string, initial Tunables, logger *zap.Logger) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Manager{
		path:    path,
		logger:  logger,
		watcher: watcher,
		stopCh:  make(chan struct{}),
		current: initial,
	}, nil
}

// Current returns the tunables for the next run.
func (m *Manager) Current() Tunables {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnSwap registers a callback invoked after each successful reload.
func (m *Manager) OnSwap(fn func(Tunables)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwap = append(m.onSwap, fn)
}

// Start begins watching the config file's directory. Watching the
// directory rather than the file survives editors that replace the file
// on save.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config directory %s: %w", dir, err)
	}
	go m.watchLoop()
	m.logger.Info("Config manager watching for tunable changes",
		zap.String("path", m.path))
	return nil
}

// Stop ends watching. The last good tunables remain readable.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	return m.watcher.Close()
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the file and swaps the tunables if the new set is
// valid.
func (m *Manager) reload() {
	cfg, err := LoadFile(m.path)
	if err != nil {
		m.logger.Warn("Config reload rejected, keeping previous tunables",
			zap.String("path", m.path), zap.Error(err))
		return
	}
	next := TunablesFrom(cfg)
	if err := next.Validate(); err != nil {
		m.logger.Warn("Config reload rejected, keeping previous tunables",
			zap.String("path", m.path), zap.Error(err))
		return
	}

	m.mu.Lock()
	prev := m.current
	m.current = next
	handlers := make([]func(Tunables), len(m.onSwap))
	copy(handlers, m.onSwap)
	m.mu.Unlock()

	if reflect.DeepEqual(prev, next) {
		return
	}
	m.logger.Info("Run tunables updated",
		zap.Float64("quality_threshold", next.QualityThreshold),
		zap.Int("max_iterations", next.MaxIterations))
	for _, fn := range handlers {
		fn(next)
	}
}
