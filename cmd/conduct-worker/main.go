package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/oru-io/conduct/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "conduct-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute dispatched events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "lock-url",
				Usage:   "Execution lock backend (memory, redis://host:port/db)",
				Value:   "memory",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent",
				Usage:   "Maximum executions in flight on this worker",
				Value:   0,
				Sources: cli.EnvVars("MAX_CONCURRENT"),
			},
			&cli.IntFlag{
				Name:    "max-per-host",
				Usage:   "Maximum concurrent executions per remote host",
				Value:   0,
				Sources: cli.EnvVars("MAX_PER_HOST"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("conduct-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Conduct Worker")

			worker := NewWorker(workerID, command, logger)

			return worker.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
