// Package local executes jobs by spawning the script's interpreter in an
// isolated working directory on the engine host.
package local

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/runner"
)

type Runner struct {
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With("module", "runner.local")}
}

func (r *Runner) Mode() runner.Mode {
	return runner.ModeLocal
}

// Run materializes the script in a fresh working directory, spawns the
// interpreter with the resolved environment, and captures output plus the
// runtime output/condition files. Workdir creation counts as setup,
// removal as cleanup.
func (r *Runner) Run(ctx context.Context, job *models.Job) (*models.ExecutionOutcome, error) {
	setupStart := time.Now()

	workdir, err := os.MkdirTemp("", "conduct-"+job.EventID+"-")
	if err != nil {
		return nil, err
	}

	scriptPath := filepath.Join(workdir, "script"+job.ScriptType.FileExtension())
	if err := os.WriteFile(scriptPath, []byte(job.Script), 0o700); err != nil {
		os.RemoveAll(workdir)

		return nil, err
	}

	outputPath := filepath.Join(workdir, "output.json")
	conditionPath := filepath.Join(workdir, "condition")

	interpreter, args, err := job.ScriptType.Interpreter()
	if err != nil {
		os.RemoveAll(workdir)

		return nil, err
	}

	cmd := exec.CommandContext(ctx, interpreter, append(args, scriptPath)...)
	cmd.Dir = workdir
	cmd.Env = buildEnv(job, outputPath, conditionPath)

	// Cooperative cancellation: SIGTERM first, hard kill after the grace
	// period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setupDuration := time.Since(setupStart)

	execStart := time.Now()
	runErr := cmd.Run()
	execDuration := time.Since(execStart)

	cleanupStart := time.Now()

	outcome := &models.ExecutionOutcome{
		Stdout:           stdout.String(),
		Stderr:           stderr.String(),
		StructuredOutput: runner.ParseOutputFile(outputPath),
		Condition:        runner.ParseConditionFile(conditionPath),
	}

	if err := os.RemoveAll(workdir); err != nil {
		r.logger.Warn("Failed to remove working directory", "workdir", workdir, "error", err)
	}

	outcome.Phases = models.PhaseDurations{
		Setup:     setupDuration,
		Execution: execDuration,
		Cleanup:   time.Since(cleanupStart),
	}

	switch {
	case runErr == nil:
		outcome.Status = models.ExecutionSuccess
		outcome.ExitCode = 0
	case ctx.Err() != nil:
		outcome.Status = models.ExecutionFailure
		outcome.ExitCode = -1
		outcome.Reason = "execution cancelled: " + context.Cause(ctx).Error()
	default:
		outcome.Status = models.ExecutionFailure
		outcome.ExitCode = exitCode(runErr)
		outcome.Reason = runErr.Error()
	}

	return outcome, nil
}

func buildEnv(job *models.Job, outputPath, conditionPath string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		runner.EnvOutputFile + "=" + outputPath,
		runner.EnvConditionFile + "=" + conditionPath,
		runner.EnvEventID + "=" + job.EventID,
		runner.EnvExecutionID + "=" + job.ExecutionID,
	}

	for key, value := range job.Environment {
		env = append(env, key+"="+value)
	}

	return env
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
