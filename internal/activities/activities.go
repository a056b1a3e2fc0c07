// Package activities implements the Temporal activities a run is built
// from: agent unit execution, draft evaluation, outline decomposition,
// and the persistence fan-out. Activities hold all external dependencies;
// workflows stay deterministic and only see inputs and results.
package activities

import (
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/archive"
	"github.com/troupehq/troupe/internal/backends"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/journal"
	"github.com/troupehq/troupe/internal/llm"
	"github.com/troupehq/troupe/internal/pricing"
	"github.com/troupehq/troupe/internal/toolgw"
)

// Activities holds dependencies for activity execution.
type Activities struct {
	generator   llm.Generator
	gateway     toolgw.Gateway
	executor    *backends.Executor
	pricing     *pricing.Table
	archive     *archive.Manager
	journal     *journal.Journal
	events      *events.Publisher
	tunables    func() config.Tunables
	genDefaults llm.Config
	logger      *zap.Logger
}

// NewActivities creates an activities instance with its dependencies.
// Archive, journal, and events may be nil; the persistence activities
// then skip their step instead of failing the run.
func NewActivities(
	generator llm.Generator,
	gateway toolgw.Gateway,
	executor *backends.Executor,
	prices *pricing.Table,
	archiveMgr *archive.Manager,
	journalWriter *journal.Journal,
	eventsPub *events.Publisher,
	logger *zap.Logger,
) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		generator: generator,
		gateway:   gateway,
		executor:  executor,
		pricing:   prices,
		archive:   archiveMgr,
		journal:   journalWriter,
		events:    eventsPub,
		logger:    logger,
	}
}

// SetTunablesProvider installs the live-config source consulted by
// GetRunTunables. Without one, runs use the compiled-in defaults.
func (a *Activities) SetTunablesProvider(fn func() config.Tunables) {
	a.tunables = fn
}

// SetGenerationDefaults sets the generation parameters applied when a run
// input does not specify its own.
func (a *Activities) SetGenerationDefaults(cfg llm.Config) {
	a.genDefaults = cfg
}

// genConfig fills unset generation parameters from the worker defaults.
func (a *Activities) genConfig(cfg llm.Config) llm.Config {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = a.genDefaults.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = a.genDefaults.Temperature
	}
	return cfg
}
