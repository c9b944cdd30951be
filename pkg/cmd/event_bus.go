package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nexuspro/flows/pkg/channels/gochannel"
	"github.com/nexuspro/flows/pkg/channels/kafka"
	"github.com/nexuspro/flows/pkg/eventbus"
)

var ErrUnsupportedEventBus = errors.New("unsupported event bus provider")

// NewEventBus creates the event bus for provider: "gochannel" keeps events in
// process, "kafka" connects to brokers.
func NewEventBus(provider string, logger *slog.Logger, brokers []string) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	var (
		pub message.Publisher
		sub message.Subscriber
	)

	switch provider {
	case "kafka":
		kafkaPub, kafkaSub, err := kafka.CreateChannel(wmLogger, "flows", brokers)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		pub, sub = kafkaPub, kafkaSub
	case "gochannel", "":
		ch, err := gochannel.CreateChannel(wmLogger, gochannel.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create GoChannel pub/sub: %w", err)
		}

		pub, sub = ch, ch
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventBus, provider)
	}

	return eventbus.NewWatermillEventBus(logger, pub, sub), nil
}
