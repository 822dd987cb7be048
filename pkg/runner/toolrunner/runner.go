// Package toolrunner executes tool_action events: a batch of notification
// deliveries described by the event's JSON body. A batch where only some
// deliveries go through finalizes as partial, which is failure-adjacent
// for retries but can be routed separately by conditional actions.
package toolrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/notifier"
	"github.com/oru-io/conduct/pkg/runner"
)

// batch is the parsed tool_action script body.
type batch struct {
	Actions []action `json:"actions"`
}

type action struct {
	Channel   models.NotifyChannel `json:"channel"`
	Recipient string               `json:"recipient"`
	Subject   string               `json:"subject,omitempty"`
	Message   string               `json:"message"`
}

type Runner struct {
	logger   *slog.Logger
	registry *notifier.Registry
}

func NewRunner(logger *slog.Logger, registry *notifier.Registry) *Runner {
	return &Runner{
		logger:   logger.With("module", "runner.tool"),
		registry: registry,
	}
}

func (r *Runner) Mode() runner.Mode {
	return runner.ModeTool
}

func (r *Runner) Run(ctx context.Context, job *models.Job) (*models.ExecutionOutcome, error) {
	start := time.Now()

	var parsed batch
	if err := json.Unmarshal([]byte(job.Script), &parsed); err != nil {
		return nil, fmt.Errorf("invalid tool action body: %w", err)
	}

	if len(parsed.Actions) == 0 {
		return nil, fmt.Errorf("tool action body has no actions")
	}

	var delivered, failed int

	var failures []string

	for i, act := range parsed.Actions {
		if ctx.Err() != nil {
			break
		}

		err := r.registry.Send(ctx, notifier.Message{
			Channel:   act.Channel,
			Recipient: act.Recipient,
			Subject:   act.Subject,
			Body:      act.Message,
		})
		if err != nil {
			failed++

			failures = append(failures, fmt.Sprintf("action %d: %v", i, err))

			r.logger.Warn("Tool action delivery failed",
				"execution_id", job.ExecutionID,
				"channel", act.Channel,
				"error", err)

			continue
		}

		delivered++
	}

	outcome := &models.ExecutionOutcome{
		Stdout: fmt.Sprintf("delivered %d/%d actions", delivered, len(parsed.Actions)),
		Stderr: strings.Join(failures, "\n"),
		Phases: models.PhaseDurations{Execution: time.Since(start)},
	}

	switch {
	case failed == 0 && ctx.Err() == nil:
		outcome.Status = models.ExecutionSuccess
	case delivered > 0:
		outcome.Status = models.ExecutionPartial
		outcome.Reason = fmt.Sprintf("%d of %d actions failed", failed, len(parsed.Actions))
	default:
		outcome.Status = models.ExecutionFailure
		outcome.ExitCode = -1
		outcome.Reason = "all actions failed"
	}

	if ctx.Err() != nil {
		outcome.Reason = "execution cancelled: " + context.Cause(ctx).Error()
		if outcome.Status == models.ExecutionSuccess {
			outcome.Status = models.ExecutionFailure
		}
	}

	return outcome, nil
}
