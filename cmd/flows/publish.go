package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nexuspro/flows/pkg/channels/kafka"
	"github.com/nexuspro/flows/pkg/cmd"
	"github.com/nexuspro/flows/pkg/eventbus"
	"github.com/nexuspro/flows/pkg/events"
	"github.com/nexuspro/flows/pkg/log"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/sources/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

var errInvalidPayload = errors.New("payload entries must be key=value")

func publishCommand() *cli.Command {
	flags := []cli.Flag{logLevelFlag()}
	flags = append(flags, eventBusFlags()...)
	flags = append(flags, redisQueueFlags()...)

	return &cli.Command{
		Name:      "publish",
		Usage:     "Publish a trigger event to a running flows server",
		ArgsUsage: "<trigger-type> [key=value...]",
		Flags:     flags,
		Action:    runPublish,
	}
}

func runPublish(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("publish")

	args := command.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("missing trigger type", 2)
	}

	triggerType := models.TriggerType(args[0])
	if !slices.Contains(models.TriggerTypes, triggerType) {
		return cli.Exit(fmt.Sprintf("unknown trigger type %q", triggerType), 2)
	}

	payload, err := parsePayload(args[1:])
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if queueURL := command.String("redis-queue-url"); queueURL != "" {
		options, err := goredis.ParseURL(queueURL)
		if err != nil {
			return fmt.Errorf("invalid redis queue url: %w", err)
		}

		client := goredis.NewClient(options)
		defer client.Close()

		if err := queue.Enqueue(ctx, client, command.String("redis-queue"), triggerType, payload); err != nil {
			return err
		}

		logger.InfoContext(ctx, "Trigger queued", "trigger_type", triggerType, "queue", command.String("redis-queue"))

		return nil
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, kafka.ParseBrokers(command.String("kafka-brokers")))
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	if err := eventBus.Publish(ctx, eventbus.TriggerKey(triggerType, payload), events.NewTriggerPublished(triggerType, payload)); err != nil {
		return fmt.Errorf("failed to publish trigger: %w", err)
	}

	logger.InfoContext(ctx, "Trigger published", "trigger_type", triggerType)

	return nil
}

// parsePayload turns key=value arguments into a trigger payload. Later keys
// overwrite earlier ones.
func parsePayload(args []string) (map[string]string, error) {
	payload := make(map[string]string, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidPayload, arg)
		}

		payload[strings.TrimSpace(key)] = value
	}

	return payload, nil
}
