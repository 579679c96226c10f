// Package observe publishes session state to Redis for observers outside
// the coordinator process.
package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/notebook-exec/internal/config"
	"github.com/AltairaLabs/notebook-exec/internal/coordinator"
)

const keyPrefix = "notebook:"

// ErrNotFound is returned by Load when no state has been published
var ErrNotFound = errors.New("session state not found")

// StateKey is the key holding the latest session state as JSON
func StateKey(sessionID string) string {
	return keyPrefix + sessionID + ":state"
}

// EventsChannel is the pub/sub channel receiving every state change
func EventsChannel(sessionID string) string {
	return keyPrefix + sessionID + ":events"
}

// CellsChannel is the pub/sub channel receiving cell changes
func CellsChannel(sessionID string) string {
	return keyPrefix + sessionID + ":cells"
}

// Publisher writes session state and cell changes to Redis
type Publisher struct {
	client    *redis.Client
	sessionID string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewPublisher connects to redisURL and verifies the connection
func NewPublisher(ctx context.Context, redisURL, sessionID string, ttl time.Duration, logger *slog.Logger) (*Publisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewPublisherWithClient(client, sessionID, ttl, logger), nil
}

// NewPublisherWithClient wraps an existing client
func NewPublisherWithClient(client *redis.Client, sessionID string, ttl time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = config.DefaultStateTTL
	}
	return &Publisher{
		client:    client,
		sessionID: sessionID,
		ttl:       ttl,
		logger:    logger,
	}
}

// PublishState stores state under StateKey and announces it on EventsChannel
func (p *Publisher) PublishState(ctx context.Context, state coordinator.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, StateKey(p.sessionID), data, p.ttl)
		pipe.Publish(ctx, EventsChannel(p.sessionID), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish session state: %w", err)
	}
	return nil
}

// PublishCell announces a cell change on CellsChannel
func (p *Publisher) PublishCell(ctx context.Context, change coordinator.CellChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal cell change: %w", err)
	}
	if err := p.client.Publish(ctx, CellsChannel(p.sessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish cell change: %w", err)
	}
	return nil
}

// Load reads the last published state
func (p *Publisher) Load(ctx context.Context) (coordinator.SessionState, error) {
	var state coordinator.SessionState

	data, err := p.client.Get(ctx, StateKey(p.sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return state, ErrNotFound
		}
		return state, fmt.Errorf("failed to get session state: %w", err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return state, nil
}

// Run publishes everything received on states and cells until both are
// closed. Either channel may be nil. Once ctx is done, publishes use a short
// detached deadline so the final state still reaches Redis.
func (p *Publisher) Run(ctx context.Context, states <-chan coordinator.SessionState, cells <-chan coordinator.CellChange) {
	for states != nil || cells != nil {
		select {
		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			pubCtx, cancel := publishContext(ctx)
			if err := p.PublishState(pubCtx, state); err != nil {
				p.logger.WarnContext(ctx, "Failed to publish session state", "error", err)
			}
			cancel()
		case change, ok := <-cells:
			if !ok {
				cells = nil
				continue
			}
			pubCtx, cancel := publishContext(ctx)
			if err := p.PublishCell(pubCtx, change); err != nil {
				p.logger.WarnContext(ctx, "Failed to publish cell change",
					"cell_id", change.Cell.ID,
					"error", err)
			}
			cancel()
		}
	}
	p.logger.Debug("State publisher drained", "session_id", p.sessionID)
}

func publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), config.DefaultPublishFlushTimeout)
}

// Close closes the Redis client
func (p *Publisher) Close() error {
	return p.client.Close()
}
