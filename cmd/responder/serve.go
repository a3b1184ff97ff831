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

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/cmd"
	"github.com/dukex/responder/pkg/eventbus"
	"github.com/dukex/responder/pkg/events"
	"github.com/dukex/responder/pkg/log"
	"github.com/dukex/responder/pkg/notify"
	"github.com/dukex/responder/pkg/web"
	"github.com/dukex/responder/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the API server, the dispatcher and the event bus consumers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of runs executed concurrently",
				Value:   workflow.DefaultWorkers,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "queue-size",
				Usage:   "Number of alerts waiting for a worker before new ones are rejected",
				Value:   workflow.DefaultQueueSize,
				Sources: cli.EnvVars("QUEUE_SIZE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule for expiring abandoned approval requests",
				Value:   approval.DefaultSweepSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, command)
		},
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("responder-server")
	logger.InfoContext(ctx, "Initializing responder")

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	c, err := newComponents(ctx, command, logger, notify.NewEventBusSink(eventBus, serviceName))
	if err != nil {
		return err
	}

	defer c.Close(context.WithoutCancel(ctx))

	go c.auditLog.Run(ctx)

	sweeper, err := approval.NewSweeper(c.gate, command.String("sweep-schedule"), logger)
	if err != nil {
		return err
	}

	err = sweeper.Start(ctx)
	if err != nil {
		return err
	}

	defer sweeper.Stop()

	dispatcher := workflow.NewDispatcher(c.orchestrator, c.policy,
		workflow.WithWorkers(command.Int("workers")),
		workflow.WithQueueSize(command.Int("queue-size")),
		workflow.WithPublisher(eventBus, serviceName),
		workflow.WithDispatcherLogger(logger),
	)

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	dispatcher.Start(runCtx)

	err = subscribe(ctx, eventBus, dispatcher, c.gate, logger)
	if err != nil {
		return err
	}

	app := newApp(web.NewAPIHandlers(
		dispatcher,
		c.gate,
		c.runs,
		c.auditStore,
		c.registry,
		validator.New(validator.WithRequiredStructEnabled()),
	))

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- app.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	logger.InfoContext(ctx, "Responder started", "port", command.Int("port"), "workflows", len(c.policy.Workflows))

	select {
	case <-ctx.Done():
	case err = <-listenErr:
		if err != nil {
			logger.ErrorContext(ctx, "API server stopped", "error", err)
		}
	}

	logger.InfoContext(ctx, "Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if shutdownErr := app.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
		logger.ErrorContext(ctx, "Failed to shut down API server", "error", shutdownErr)
	}

	// queued runs still execute; cancel whatever outlives the shutdown timeout
	dispatcher.Stop()

	done := make(chan struct{})

	go func() {
		dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.WarnContext(ctx, "Cancelling runs still active at shutdown", "active", dispatcher.Active())
		cancelRuns()
		<-done
	}

	return err
}

func newApp(handlers *web.APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Responder API")
	})

	handlers.Mount(app)

	return app
}

// subscribe feeds alerts and out-of-band approval decisions from the bus into the
// dispatcher and the gate.
func subscribe(
	ctx context.Context,
	eventBus eventbus.EventBus,
	dispatcher *workflow.Dispatcher,
	gate *approval.Gate,
	logger *slog.Logger,
) error {
	err := eventBus.Handle(events.AlertReceivedEvent, func(ctx context.Context, event any) error {
		received, ok := event.(*events.AlertReceived)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		runID, err := dispatcher.Submit(ctx, received.Alert)
		if errors.Is(err, workflow.ErrNoWorkflow) {
			logger.WarnContext(ctx, "No workflow for alert type", "alert_id", received.Alert.ID, "type", received.Alert.Type)

			return nil
		}

		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Alert received from event bus", "alert_id", received.Alert.ID, "run_id", runID)

		return nil
	})
	if err != nil {
		return err
	}

	err = eventBus.Handle(events.ApprovalResolvedEvent, func(ctx context.Context, event any) error {
		resolved, ok := event.(*events.ApprovalResolved)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		_, err := gate.Resolve(ctx, resolved.ApprovalID, resolved.Decision, resolved.Approver)
		if errors.Is(err, approval.ErrAlreadyTerminal) ||
			errors.Is(err, approval.ErrApprovalNotFound) ||
			errors.Is(err, approval.ErrInvalidDecision) {
			logger.WarnContext(ctx, "Ignoring approval decision", "approval_id", resolved.ApprovalID, "error", err)

			return nil
		}

		return err
	})
	if err != nil {
		return err
	}

	return eventBus.Subscribe(ctx)
}
