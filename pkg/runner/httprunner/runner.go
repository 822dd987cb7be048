// Package httprunner executes http_request events: it issues the
// configured request and maps non-2xx responses to failure.
package httprunner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/runner"
)

type Runner struct {
	logger *slog.Logger
	client *http.Client
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger: logger.With("module", "runner.http"),
		// No client timeout: the dispatcher's watchdog is the deadline,
		// and it must stay independent of the transport's own timeouts.
		client: &http.Client{},
	}
}

func (r *Runner) Mode() runner.Mode {
	return runner.ModeHTTP
}

func (r *Runner) Run(ctx context.Context, job *models.Job) (*models.ExecutionOutcome, error) {
	if job.HTTP == nil {
		return nil, fmt.Errorf("http runner requires a request configuration for job %s", job.ExecutionID)
	}

	start := time.Now()

	var body io.Reader
	if job.HTTP.Body != "" {
		body = strings.NewReader(job.HTTP.Body)
	}

	req, err := http.NewRequestWithContext(ctx, job.HTTP.Method, job.HTTP.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for key, value := range job.HTTP.Headers {
		req.Header.Set(key, value)
	}

	resp, err := r.client.Do(req)

	execDuration := time.Since(start)

	outcome := &models.ExecutionOutcome{
		Phases: models.PhaseDurations{Execution: execDuration},
	}

	if err != nil {
		if ctx.Err() != nil {
			outcome.Status = models.ExecutionFailure
			outcome.ExitCode = -1
			outcome.Reason = "execution cancelled: " + context.Cause(ctx).Error()

			return outcome, nil
		}

		outcome.Status = models.ExecutionFailure
		outcome.ExitCode = -1
		outcome.Reason = err.Error()

		return outcome, nil
	}

	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		r.logger.Warn("Failed to read response body", "url", job.HTTP.URL, "error", readErr)
	}

	outcome.Stdout = string(responseBody)
	outcome.ExitCode = resp.StatusCode

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.Status = models.ExecutionSuccess
	} else {
		outcome.Status = models.ExecutionFailure
		outcome.Reason = fmt.Sprintf("http status %d", resp.StatusCode)
	}

	return outcome, nil
}
