// Package archive keeps the terminal snapshot of each run in Redis so
// callers can fetch results after the workflow is gone. A small local
// cache fronts Redis for repeat reads.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/metrics"
)

// ErrNotFound is returned when no record exists for a run.
var ErrNotFound = errors.New("run record not found")

// Record is the terminal snapshot of one run. Only terminal states are
// archived; intermediate state lives in workflow history.
type Record struct {
	RunID       string             `json:"run_id"`
	Query       string             `json:"query"`
	Pattern     string             `json:"pattern"`
	Draft       string             `json:"draft"`
	Reason      string             `json:"reason"`
	Iterations  int                `json:"iterations"`
	TotalTokens int                `json:"total_tokens"`
	TotalCost   float64            `json:"total_cost"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Manager stores run records with a TTL.
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu         sync.RWMutex
	localCache map[string]*Record
	access     map[string]time.Time
	maxLocal   int
}

// NewManager wraps a connected Redis client. ttl <= 0 defaults to 7 days.
func NewManager(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:     client,
		logger:     logger,
		ttl:        ttl,
		localCache: make(map[string]*Record),
		access:     make(map[string]time.Time),
		maxLocal:   1000,
	}
}

// SetLocalCacheSize bounds the in-process cache. Values <= 0 are ignored.
func (m *Manager) SetLocalCacheSize(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.maxLocal = n
	m.evictLocked()
	m.mu.Unlock()
}

func (m *Manager) key(runID string) string {
	return "troupe:run:" + runID
}

// Save writes a terminal record. Saving the same run twice overwrites,
// which keeps retried persistence activities idempotent.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("record must have a run id")
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := m.client.Set(ctx, m.key(rec.RunID), data, m.ttl).Err(); err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("store run record: %w", err)
	}

	m.mu.Lock()
	m.localCache[rec.RunID] = rec
	m.access[rec.RunID] = time.Now()
	m.evictLocked()
	m.mu.Unlock()

	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
	m.logger.Info("Archived run record",
		zap.String("run_id", rec.RunID),
		zap.String("reason", rec.Reason),
		zap.Int("iterations", rec.Iterations))
	return nil
}

// Get fetches a record, local cache first.
func (m *Manager) Get(ctx context.Context, runID string) (*Record, error) {
	m.mu.RLock()
	if rec, ok := m.localCache[runID]; ok {
		m.mu.RUnlock()
		m.mu.Lock()
		m.access[runID] = time.Now()
		m.mu.Unlock()
		metrics.ArchiveHits.Inc()
		return rec, nil
	}
	m.mu.RUnlock()

	data, err := m.client.Get(ctx, m.key(runID)).Bytes()
	if err == redis.Nil {
		metrics.ArchiveMisses.Inc()
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("fetch run record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}

	m.mu.Lock()
	m.localCache[runID] = &rec
	m.access[runID] = time.Now()
	m.evictLocked()
	m.mu.Unlock()

	metrics.ArchiveHits.Inc()
	return &rec, nil
}

// Delete removes a record from Redis and the local cache.
func (m *Manager) Delete(ctx context.Context, runID string) error {
	if err := m.client.Del(ctx, m.key(runID)).Err(); err != nil {
		return fmt.Errorf("delete run record: %w", err)
	}
	m.mu.Lock()
	delete(m.localCache, runID)
	delete(m.access, runID)
	m.mu.Unlock()
	return nil
}

// evictLocked drops the least recently used entries above maxLocal.
// Caller holds m.mu.
func (m *Manager) evictLocked() {
	for len(m.localCache) > m.maxLocal {
		var oldest string
		var oldestAt time.Time
		for id, at := range m.access {
			if oldest == "" || at.Before(oldestAt) {
				oldest = id
				oldestAt = at
			}
		}
		if oldest == "" {
			return
		}
		delete(m.localCache, oldest)
		delete(m.access, oldest)
	}
}
