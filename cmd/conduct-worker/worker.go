package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"

	"github.com/oru-io/conduct/pkg/actions"
	"github.com/oru-io/conduct/pkg/cmd"
	"github.com/oru-io/conduct/pkg/dispatcher"
	"github.com/oru-io/conduct/pkg/execution"
	"github.com/oru-io/conduct/pkg/metrics"
	"github.com/oru-io/conduct/pkg/otelhelper"
	"github.com/oru-io/conduct/pkg/workfloworch"
)

// Worker wires one dispatcher instance with its action engine and workflow
// orchestrator onto the shared bus.
type Worker struct {
	id      string
	command *cli.Command
	logger  *slog.Logger
}

func NewWorker(id string, command *cli.Command, logger *slog.Logger) *Worker {
	return &Worker{
		id:      id,
		command: command,
		logger:  logger,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	if _, err := otelhelper.NewTracer(ctx, "conduct-worker"); err != nil {
		w.logger.WarnContext(ctx, "Tracing disabled, failed to initialize tracer", "error", err)
	}

	eventBus := cmd.NewEventBus(w.command.String("event-bus"), w.logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			w.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(w.command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	lease := cmd.NewExecutionLock(w.command.String("lock-url"))
	defer lease.Close()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	notifiers := cmd.NewNotifierRegistry()
	runners := cmd.NewRunnerRegistry(w.logger, notifiers)

	manager := execution.NewManager(persistence, eventBus, w.logger)

	engine := actions.NewEngine(
		persistence,
		eventBus,
		notifiers,
		collector,
		actions.DefaultMaxChainDepth,
		w.logger,
	)
	manager.Subscribe(engine)

	orchestrator := workfloworch.NewOrchestrator(persistence, eventBus, w.logger)
	manager.Subscribe(orchestrator)

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}

	disp := dispatcher.NewDispatcher(
		dispatcher.Config{
			WorkerID:      w.id,
			MaxConcurrent: int(w.command.Int("max-concurrent")),
			MaxPerHost:    int(w.command.Int("max-per-host")),
		},
		persistence,
		manager,
		runners,
		eventBus,
		lease,
		collector,
		w.logger,
	)

	if err := disp.Start(ctx); err != nil {
		return err
	}

	subscribeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := eventBus.Subscribe(subscribeCtx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")
	cancel()

	return nil
}
