// Command flows runs the workflow engine and its operator tooling.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "flows",
		Usage:                 "Run and manage NexusPro workflow graphs",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			serveCommand(),
			validateCommand(),
			publishCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func eventBusFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
	}
}

func redisQueueFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "redis-queue-url",
			Usage:   "Redis URL of the trigger queue (disabled when empty)",
			Sources: cli.EnvVars("REDIS_QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-queue",
			Usage:   "Redis list holding queued trigger events",
			Value:   "flows:triggers",
			Sources: cli.EnvVars("REDIS_QUEUE"),
		},
	}
}
