// Package events publishes run progress to Redis Streams so external
// consumers can tail a run while it executes and replay it afterwards.
// One stream per run, trimmed to a bounded length.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/metrics"
)

// Event types emitted over a run's lifetime.
const (
	TypeRunStarted     = "run_started"
	TypeAgentStarted   = "agent_started"
	TypeAgentCompleted = "agent_completed"
	TypeRunCompleted   = "run_completed"
	TypeRunPaused      = "run_paused"
	TypeRunResumed     = "run_resumed"
	TypeRunCancelled   = "run_cancelled"
	TypeWarning        = "warning"
)

// Event is one entry on a run's stream. ID is the Redis stream entry id,
// set when the event is read back; it doubles as the resume cursor.
type Event struct {
	ID        string                 `json:"id,omitempty"`
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

const (
	defaultMaxLen = 1000
	defaultTTL    = 24 * time.Hour
)

// Publisher writes and reads run event streams.
type Publisher struct {
	rdb    *redis.Client
	maxLen int64
	ttl    time.Duration
	logger *zap.Logger
}

// NewPublisher creates a publisher over an existing Redis client.
func NewPublisher(rdb *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		rdb:    rdb,
		maxLen: defaultMaxLen,
		ttl:    defaultTTL,
		logger: logger,
	}
}

func streamKey(runID string) string {
	return "troupe:events:" + runID
}

// Publish appends one event to its run's stream.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.RunID == "" {
		return fmt.Errorf("event must have a run id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(ev.Type, "error").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}

	key := streamKey(ev.RunID)
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		metrics.EventsPublished.WithLabelValues(ev.Type, "error").Inc()
		return fmt.Errorf("publish event: %w", err)
	}
	p.rdb.Expire(ctx, key, p.ttl)

	metrics.EventsPublished.WithLabelValues(ev.Type, "ok").Inc()
	return nil
}

// Replay returns events already on a run's stream in order. A positive
// limit caps the number returned.
func (p *Publisher) Replay(ctx context.Context, runID string, limit int64) ([]Event, error) {
	key := streamKey(runID)

	var msgs []redis.XMessage
	var err error
	if limit > 0 {
		msgs, err = p.rdb.XRangeN(ctx, key, "-", "+", limit).Result()
	} else {
		msgs, err = p.rdb.XRange(ctx, key, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}

	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := decodeEntry(msg)
		if err != nil {
			p.logger.Warn("Skipping undecodable event entry",
				zap.String("run_id", runID),
				zap.String("entry_id", msg.ID),
				zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe delivers events for a run to out until ctx is cancelled,
// starting after lastID (empty means from the beginning). Events already
// on the stream are delivered first, then new ones as they arrive.
func (p *Publisher) Subscribe(ctx context.Context, runID, lastID string, out chan<- Event) error {
	if lastID == "" {
		lastID = "0"
	}
	key := streamKey(runID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := p.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   64,
			Block:   250 * time.Millisecond,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// No new entries within the block window.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read events: %w", err)
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				ev, err := decodeEntry(msg)
				if err != nil {
					p.logger.Warn("Skipping undecodable event entry",
						zap.String("run_id", runID),
						zap.String("entry_id", msg.ID),
						zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func decodeEntry(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return Event{}, fmt.Errorf("entry %s has no data field", msg.ID)
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, fmt.Errorf("decode entry %s: %w", msg.ID, err)
	}
	ev.ID = msg.ID
	return ev, nil
}
