// Package queue consumes trigger events from a Redis list. Producers RPUSH
// JSON items of the form {"trigger_type": "...", "payload": {...}}.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexuspro/flows/pkg/config"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/nexuspro/flows/pkg/trigger"
	goredis "github.com/redis/go-redis/v9"
)

// Item is one queued trigger event.
type Item struct {
	TriggerType models.TriggerType `json:"trigger_type"`
	Payload     map[string]string  `json:"payload,omitempty"`
}

type Config struct {
	Queue        string        `default:"flows:triggers" validate:"required"`
	BlockTimeout time.Duration `default:"5s"             validate:"gt=0"`
	RetryDelay   time.Duration `default:"1s"             validate:"gt=0"`
}

type Source struct {
	client *goredis.Client
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ protocol.Source = (*Source)(nil)

func New(logger *slog.Logger, client *goredis.Client, cfg Config) (*Source, error) {
	if err := config.Prepare(&cfg); err != nil {
		return nil, err
	}

	return &Source{
		client: client,
		cfg:    cfg,
		logger: logger.With("module", "queue_source", "queue", cfg.Queue),
	}, nil
}

func (s *Source) Validate() error {
	if s.client == nil {
		return errors.New("queue source requires a redis client")
	}

	return config.Validate(&s.cfg)
}

func (s *Source) Start(ctx context.Context, publisher protocol.TriggerPublisher) error {
	if err := s.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.consume(runCtx, publisher, s.done)

	s.logger.InfoContext(ctx, "Consuming trigger queue")

	return nil
}

func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) consume(ctx context.Context, publisher protocol.TriggerPublisher, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		result, err := s.client.BLPop(ctx, s.cfg.BlockTimeout, s.cfg.Queue).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}

			s.logger.ErrorContext(ctx, "Failed to pop trigger", "error", err)
			s.pause(ctx)

			continue
		}

		// BLPOP returns [key, value].
		if len(result) != 2 {
			continue
		}

		if err := s.process(ctx, publisher, result[1]); err != nil {
			s.requeue(ctx, result[1], err)
		}
	}
}

// process returns an error only when the item should be retried.
func (s *Source) process(ctx context.Context, publisher protocol.TriggerPublisher, raw string) error {
	var item Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		s.logger.WarnContext(ctx, "Dropping malformed queue item", "error", err)

		return nil
	}

	runs, err := publisher.Publish(ctx, item.TriggerType, item.Payload)
	if err == nil {
		s.logger.DebugContext(ctx, "Queue item handled", "trigger_type", item.TriggerType, "runs_started", len(runs))

		return nil
	}

	if errors.Is(err, trigger.ErrUnknownTriggerType) || errors.Is(err, trigger.ErrInvalidTick) || len(runs) > 0 {
		s.logger.WarnContext(ctx, "Queue item not fully handled", "trigger_type", item.TriggerType, "runs_started", len(runs), "error", err)

		return nil
	}

	return err
}

func (s *Source) requeue(ctx context.Context, raw string, cause error) {
	s.logger.WarnContext(ctx, "Requeueing trigger", "error", cause)

	// The item goes to the tail so one failing item cannot block the queue.
	if err := s.client.RPush(context.WithoutCancel(ctx), s.cfg.Queue, raw).Err(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to requeue trigger, item lost", "item", raw, "error", err)
	}

	s.pause(ctx)
}

func (s *Source) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.cfg.RetryDelay):
	}
}

// Enqueue pushes a trigger event onto queue for a Source to consume.
func Enqueue(ctx context.Context, client *goredis.Client, queue string, triggerType models.TriggerType, payload map[string]string) error {
	data, err := json.Marshal(Item{TriggerType: triggerType, Payload: payload})
	if err != nil {
		return err
	}

	if err := client.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue trigger: %w", err)
	}

	return nil
}
