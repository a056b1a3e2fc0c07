// Package journal persists run outcomes and per-agent execution rows to
// Postgres for offline analysis. Writes are idempotent so retried
// activities do not duplicate rows.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/metrics"
)

// Config holds database connection settings.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// Open connects to Postgres and verifies the connection.
func Open(cfg Config) (*sqlx.DB, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the journal tables when they do not exist yet.
// Deployments that manage schema externally can skip this; the statements
// are no-ops once the tables are in place.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    pattern TEXT NOT NULL,
    reason TEXT NOT NULL,
    draft TEXT,
    iterations INTEGER NOT NULL DEFAULT 0,
    total_tokens BIGINT NOT NULL DEFAULT 0,
    total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    warning_count INTEGER NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    completed_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agent_steps (
    id UUID PRIMARY KEY,
    run_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    responsibility TEXT NOT NULL,
    backend TEXT,
    iteration INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_agent_steps_run_id ON agent_steps (run_id);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at);
`)
	if err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// Journal writes run and agent-step rows.
type Journal struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New wraps an open database handle.
func New(db *sqlx.DB, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{db: db, logger: logger}
}

// RunRow is the terminal journal row for one run.
type RunRow struct {
	RunID        string    `db:"run_id"`
	Query        string    `db:"query"`
	Pattern      string    `db:"pattern"`
	Reason       string    `db:"reason"`
	Draft        string    `db:"draft"`
	Iterations   int       `db:"iterations"`
	TotalTokens  int       `db:"total_tokens"`
	TotalCost    float64   `db:"total_cost"`
	WarningCount int       `db:"warning_count"`
	DurationMs   int64     `db:"duration_ms"`
	CompletedAt  time.Time `db:"completed_at"`
	CreatedAt    time.Time `db:"created_at"`
}

// RecordRun upserts the terminal row for a run, keyed by run id.
func (j *Journal) RecordRun(ctx context.Context, row *RunRow) error {
	if row == nil || row.RunID == "" {
		return fmt.Errorf("run row must have a run id")
	}
	if row.CompletedAt.IsZero() {
		row.CompletedAt = time.Now().UTC()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, `
        INSERT INTO runs (
            run_id, query, pattern, reason, draft, iterations,
            total_tokens, total_cost, warning_count, duration_ms,
            completed_at, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (run_id) DO UPDATE SET
            reason = EXCLUDED.reason,
            draft = EXCLUDED.draft,
            iterations = EXCLUDED.iterations,
            total_tokens = EXCLUDED.total_tokens,
            total_cost = EXCLUDED.total_cost,
            warning_count = EXCLUDED.warning_count,
            duration_ms = EXCLUDED.duration_ms,
            completed_at = EXCLUDED.completed_at
    `, row.RunID, row.Query, row.Pattern, row.Reason, row.Draft, row.Iterations,
		row.TotalTokens, row.TotalCost, row.WarningCount, row.DurationMs,
		row.CompletedAt, row.CreatedAt)
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("record run: %w", err)
	}

	metrics.JournalWrites.WithLabelValues("ok").Inc()
	j.logger.Debug("Journaled run",
		zap.String("run_id", row.RunID),
		zap.String("reason", row.Reason))
	return nil
}

// StepRow is one agent unit execution.
type StepRow struct {
	ID             uuid.UUID `db:"id"`
	RunID          string    `db:"run_id"`
	AgentID        string    `db:"agent_id"`
	Responsibility string    `db:"responsibility"`
	Backend        string    `db:"backend"`
	Iteration      int       `db:"iteration"`
	InputTokens    int       `db:"input_tokens"`
	OutputTokens   int       `db:"output_tokens"`
	CostUSD        float64   `db:"cost_usd"`
	DurationMs     int64     `db:"duration_ms"`
	Error          string    `db:"error"`
	CreatedAt      time.Time `db:"created_at"`
}

// RecordStep inserts one agent execution row.
func (j *Journal) RecordStep(ctx context.Context, row *StepRow) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, `
        INSERT INTO agent_steps (
            id, run_id, agent_id, responsibility, backend, iteration,
            input_tokens, output_tokens, cost_usd, duration_ms, error, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (id) DO NOTHING
    `, row.ID, row.RunID, row.AgentID, row.Responsibility, nullIfEmpty(row.Backend),
		row.Iteration, row.InputTokens, row.OutputTokens, row.CostUSD,
		row.DurationMs, nullIfEmpty(row.Error), row.CreatedAt)
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("record agent step: %w", err)
	}

	metrics.JournalWrites.WithLabelValues("ok").Inc()
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
