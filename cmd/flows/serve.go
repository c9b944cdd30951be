package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/nexuspro/flows/pkg/channels/kafka"
	"github.com/nexuspro/flows/pkg/cmd"
	"github.com/nexuspro/flows/pkg/engine"
	"github.com/nexuspro/flows/pkg/eventbus"
	"github.com/nexuspro/flows/pkg/log"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/otelhelper"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/nexuspro/flows/pkg/services"
	"github.com/nexuspro/flows/pkg/sources/bus"
	"github.com/nexuspro/flows/pkg/sources/queue"
	"github.com/nexuspro/flows/pkg/sources/scheduler"
	"github.com/nexuspro/flows/pkg/supervisor"
	"github.com/nexuspro/flows/pkg/trigger"
	"github.com/nexuspro/flows/pkg/web"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort            = 9091
	defaultShutdownTimeout = 30 * time.Second
)

func serveCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL (file path, file://, postgres://, redis://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.IntFlag{
			Name:    "max-running-per-graph",
			Usage:   "Runs of one graph allowed to execute at the same time",
			Value:   10,
			Sources: cli.EnvVars("MAX_RUNNING_PER_GRAPH"),
		},
		&cli.DurationFlag{
			Name:    "adapter-timeout",
			Usage:   "Default timeout of one action adapter call",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("ADAPTER_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "message-gateway-url",
			Usage:   "Chat/email gateway base URL (log adapter when empty)",
			Sources: cli.EnvVars("MESSAGE_GATEWAY_URL"),
		},
		&cli.StringFlag{
			Name:    "message-gateway-token",
			Usage:   "Bearer token for the message gateway",
			Sources: cli.EnvVars("MESSAGE_GATEWAY_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "crm-url",
			Usage:   "CRM API base URL (log adapter when empty)",
			Sources: cli.EnvVars("CRM_URL"),
		},
		&cli.StringFlag{
			Name:    "crm-token",
			Usage:   "Bearer token for the CRM API",
			Sources: cli.EnvVars("CRM_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "adapters-config",
			Usage:   "YAML file with per-adapter settings and timeouts",
			Sources: cli.EnvVars("ADAPTERS_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "plugins-path",
			Usage: "Path to the directory containing adapter plugins",
			Value: "./plugins",
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "Time zone schedule triggers are evaluated in",
			Value:   "UTC",
			Sources: cli.EnvVars("SCHEDULE_TIMEZONE"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		logLevelFlag(),
	}

	flags = append(flags, eventBusFlags()...)
	flags = append(flags, redisQueueFlags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the engine, the trigger sources and the API",
		Flags:   flags,
		Action:  runServe,
	}
}

func runServe(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("serve")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing NexusPro Flows")

	tracer, shutdownTracer, err := newTracer(ctx, command.Bool("otel"))
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	reg, err := cmd.NewRegistry(logger, cmd.AdapterConfig{
		Timeout:      command.Duration("adapter-timeout"),
		GatewayURL:   command.String("message-gateway-url"),
		GatewayToken: command.String("message-gateway-token"),
		CRMURL:       command.String("crm-url"),
		CRMToken:     command.String("crm-token"),
		PluginsPath:  command.String("plugins-path"),
		ConfigFile:   command.String("adapters-config"),
	})
	if err != nil {
		return err
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

	eng := engine.New(logger, store, reg,
		engine.WithEventPublisher(eventBus),
		engine.WithTracer(tracer),
	)

	sup, err := supervisor.New(logger, eng, store.RunRepository(), supervisor.Config{
		MaxRunningPerGraph: command.Int("max-running-per-graph"),
	})
	if err != nil {
		return err
	}

	eng.SetScheduler(sup)

	triggers := trigger.NewRegistry(logger, store.GraphRepository(), eng)

	for _, triggerType := range models.TriggerTypes {
		if err := triggers.Subscribe(triggerType, auditTrigger(logger)); err != nil {
			return err
		}
	}

	sources, closeSources, err := newSources(ctx, logger, command, eventBus)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeSources(); err != nil {
			logger.ErrorContext(ctx, "Failed to close trigger queue client", "error", err)
		}
	}()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	for _, source := range sources {
		if err := source.Start(ctx, triggers); err != nil {
			return fmt.Errorf("failed to start trigger source: %w", err)
		}
	}

	graphs := services.NewGraphs(logger, store,
		services.WithParamChecker(reg),
		services.WithEvaluator(eng.Evaluator()),
		services.WithCanceller(sup),
	)
	runs := services.NewRuns(logger, store, sup)

	handlers := web.NewAPIHandlers(graphs, runs, triggers, sup, validator.New(validator.WithRequiredStructEnabled()))
	app := web.NewApp(handlers)

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- app.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.InfoContext(ctx, "NexusPro Flows started", "port", command.Int("port"))

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	case err := <-listenErr:
		logger.ErrorContext(ctx, "API server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()

	var errs []error

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}

	for _, source := range sources {
		if err := source.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("trigger source: %w", err))
		}
	}

	if err := sup.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}

	return errors.Join(errs...)
}

func auditTrigger(logger *slog.Logger) trigger.Handler {
	return func(ctx context.Context, triggerType models.TriggerType, payload map[string]string) error {
		logger.DebugContext(ctx, "Trigger received", "trigger_type", triggerType, "payload_keys", len(payload))

		return nil
	}
}

func newTracer(ctx context.Context, enabled bool) (trace.Tracer, otelhelper.Shutdown, error) {
	if !enabled {
		return otelhelper.NoopTracer("flows"), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "flows")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

// newSources builds the trigger sources: the minute scheduler, the event bus
// listener and, when configured, the Redis queue consumer.
func newSources(ctx context.Context, logger *slog.Logger, command *cli.Command, eventBus eventbus.EventSubscriber) ([]protocol.Source, func() error, error) {
	noop := func() error { return nil }

	loc, err := time.LoadLocation(command.String("timezone"))
	if err != nil {
		return nil, noop, fmt.Errorf("invalid timezone: %w", err)
	}

	sources := []protocol.Source{
		scheduler.New(logger, scheduler.WithLocation(loc)),
		bus.New(logger, eventBus),
	}

	queueURL := command.String("redis-queue-url")
	if queueURL == "" {
		return sources, noop, nil
	}

	options, err := goredis.ParseURL(queueURL)
	if err != nil {
		return nil, noop, fmt.Errorf("invalid redis queue url: %w", err)
	}

	client := goredis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, noop, fmt.Errorf("failed to connect to redis queue: %w", err)
	}

	consumer, err := queue.New(logger, client, queue.Config{Queue: command.String("redis-queue")})
	if err != nil {
		_ = client.Close()

		return nil, noop, err
	}

	return append(sources, consumer), client.Close, nil
}
