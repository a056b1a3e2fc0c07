package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

const (
	defaultCheckTimeout = 5 * time.Second

	// Probes slower than this report degraded even when they succeed.
	slowProbe = 100 * time.Millisecond
)

// TemporalChecker verifies the Temporal frontend answers health probes. The
// worker cannot make progress without it, so failures mark the service not
// ready.
type TemporalChecker struct {
	client client.Client
	logger *zap.Logger
}

// NewTemporalChecker creates a checker for the Temporal frontend.
func NewTemporalChecker(c client.Client, logger *zap.Logger) *TemporalChecker {
	return &TemporalChecker{client: c, logger: logger}
}

func (t *TemporalChecker) Name() string           { return "temporal" }
func (t *TemporalChecker) Critical() bool         { return true }
func (t *TemporalChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (t *TemporalChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Component: t.Name(), Critical: true, Timestamp: start}

	_, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	res.Duration = time.Since(start)

	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = "Temporal frontend unreachable"
		return res
	}

	if res.Duration > slowProbe {
		res.Status = StatusDegraded
		res.Message = "Temporal responding with high latency"
	} else {
		res.Status = StatusHealthy
		res.Message = "Temporal healthy"
	}
	res.Details = map[string]any{"latency_ms": res.Duration.Milliseconds()}
	return res
}

// RedisChecker pings the cache and event transport. Non-critical: the run
// archive falls back to its in-process cache and lifecycle events are
// best-effort, so the worker stays ready without Redis.
type RedisChecker struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisChecker creates a checker for the Redis connection.
func NewRedisChecker(c redis.UniversalClient, logger *zap.Logger) *RedisChecker {
	return &RedisChecker{client: c, logger: logger}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) Critical() bool         { return false }
func (r *RedisChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Component: r.Name(), Timestamp: start}

	err := r.client.Ping(ctx).Err()
	res.Duration = time.Since(start)

	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = "Redis ping failed"
		return res
	}

	if res.Duration > slowProbe {
		res.Status = StatusDegraded
		res.Message = "Redis responding with high latency"
	} else {
		res.Status = StatusHealthy
		res.Message = "Redis healthy"
	}
	res.Details = map[string]any{"latency_ms": res.Duration.Milliseconds()}
	return res
}

// PostgresChecker pings the journal database and inspects pool saturation.
type PostgresChecker struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresChecker creates a checker for the journal database.
func NewPostgresChecker(db *sqlx.DB, logger *zap.Logger) *PostgresChecker {
	return &PostgresChecker{db: db, logger: logger}
}

func (p *PostgresChecker) Name() string           { return "postgres" }
func (p *PostgresChecker) Critical() bool         { return true }
func (p *PostgresChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (p *PostgresChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Component: p.Name(), Critical: true, Timestamp: start}

	err := p.db.PingContext(ctx)
	res.Duration = time.Since(start)

	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = "Postgres ping failed"
		return res
	}

	stats := p.db.Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		res.Status = StatusDegraded
		res.Message = "Postgres connection pool exhausted"
	case res.Duration > slowProbe:
		res.Status = StatusDegraded
		res.Message = "Postgres responding with high latency"
	default:
		res.Status = StatusHealthy
		res.Message = "Postgres healthy"
	}

	res.Details = map[string]any{
		"latency_ms":       res.Duration.Milliseconds(),
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}
	return res
}

// GenerationChecker probes the OpenAI-compatible gateway with a bare GET.
// Any HTTP response counts as reachable; only transport failures are
// reported. Non-critical because runs fall back across backends.
type GenerationChecker struct {
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

// NewGenerationChecker creates a checker for the generation gateway at baseURL.
func NewGenerationChecker(baseURL string, logger *zap.Logger) *GenerationChecker {
	return &GenerationChecker{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultCheckTimeout},
		logger:  logger,
	}
}

func (g *GenerationChecker) Name() string           { return "generation" }
func (g *GenerationChecker) Critical() bool         { return false }
func (g *GenerationChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (g *GenerationChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Component: g.Name(), Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL, nil)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = "invalid generation gateway URL"
		res.Duration = time.Since(start)
		return res
	}

	resp, err := g.httpc.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = "generation gateway unreachable"
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		res.Status = StatusDegraded
		res.Message = "generation gateway answering with server errors"
	} else {
		res.Status = StatusHealthy
		res.Message = "generation gateway reachable"
	}
	res.Details = map[string]any{
		"status_code": resp.StatusCode,
		"latency_ms":  res.Duration.Milliseconds(),
	}
	return res
}
