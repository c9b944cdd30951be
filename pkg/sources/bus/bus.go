// Package bus consumes trigger events published on the event bus by CRM and
// chat collaborators and hands them to the trigger registry.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nexuspro/flows/pkg/eventbus"
	"github.com/nexuspro/flows/pkg/events"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/nexuspro/flows/pkg/trigger"
)

var ErrNoSubscriber = errors.New("bus source requires an event subscriber")

type Source struct {
	subscriber eventbus.EventSubscriber
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ protocol.Source = (*Source)(nil)

func New(logger *slog.Logger, subscriber eventbus.EventSubscriber) *Source {
	return &Source{
		subscriber: subscriber,
		logger:     logger.With("module", "bus_source"),
	}
}

func (s *Source) Validate() error {
	if s.subscriber == nil {
		return ErrNoSubscriber
	}

	return nil
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

	err := s.subscriber.Handle(events.TriggerPublishedEvent, func(ctx context.Context, event any) error {
		return s.handle(ctx, publisher, event)
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := s.subscriber.Subscribe(runCtx); err != nil {
		cancel()

		return fmt.Errorf("failed to subscribe to trigger events: %w", err)
	}

	s.cancel = cancel
	s.logger.InfoContext(ctx, "Listening for trigger events", "topic", events.TriggerTopic)

	return nil
}

// handle returns an error only for failures worth a redelivery. Malformed
// events are acknowledged and dropped.
func (s *Source) handle(ctx context.Context, publisher protocol.TriggerPublisher, event any) error {
	published, ok := event.(*events.TriggerPublished)
	if !ok {
		s.logger.WarnContext(ctx, "Unexpected event", "event", fmt.Sprintf("%T", event))

		return nil
	}

	logger := s.logger.With("event_id", published.ID, "trigger_type", published.TriggerType)

	runs, err := publisher.Publish(ctx, published.TriggerType, published.Payload)
	if err != nil {
		if errors.Is(err, trigger.ErrUnknownTriggerType) || errors.Is(err, trigger.ErrInvalidTick) {
			logger.WarnContext(ctx, "Dropping invalid trigger event", "error", err)

			return nil
		}

		if len(runs) > 0 {
			// Some runs already started; a redelivery would start them again.
			logger.ErrorContext(ctx, "Trigger event partially handled", "runs_started", len(runs), "error", err)

			return nil
		}

		return err
	}

	logger.DebugContext(ctx, "Trigger event handled", "runs_started", len(runs))

	return nil
}

func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	return nil
}
