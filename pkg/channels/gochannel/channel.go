// Package gochannel is the in-process transport for trigger events and run
// lifecycle notifications when every engine component shares one process.
package gochannel

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nexuspro/flows/pkg/config"
)

type Config struct {
	// Buffer is the per-subscriber queue length; publishers block once a
	// subscriber falls this far behind.
	Buffer int64 `default:"1000" validate:"gte=1"`

	// Replay keeps every published message and hands it to subscribers that
	// join later, such as a trigger source started after the first publish.
	Replay bool

	// WaitForAck makes Publish return only after the handler acked, which
	// serialises delivery.
	WaitForAck bool
}

// CreateChannel returns one GoChannel that serves as both publisher and
// subscriber of the event bus.
func CreateChannel(logger watermill.LoggerAdapter, cfg Config) (*gochannel.GoChannel, error) {
	if err := config.Prepare(&cfg); err != nil {
		return nil, fmt.Errorf("invalid gochannel config: %w", err)
	}

	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.Buffer,
			Persistent:                     cfg.Replay,
			BlockPublishUntilSubscriberAck: cfg.WaitForAck,
		},
		logger,
	), nil
}
