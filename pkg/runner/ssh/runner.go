// Package ssh executes jobs on a remote host over SSH. Session
// establishment and script transfer are timed as the setup phase, the
// script itself as the execution phase, and remote teardown as cleanup:
// the breakdown is user-visible and drives execution reporting.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/runner"
)

const remoteWorkdirPrefix = "/tmp/conduct"

type Runner struct {
	logger      *slog.Logger
	dialTimeout time.Duration
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger:      logger.With("module", "runner.ssh"),
		dialTimeout: 15 * time.Second,
	}
}

func (r *Runner) Mode() runner.Mode {
	return runner.ModeRemote
}

func (r *Runner) Run(ctx context.Context, job *models.Job) (*models.ExecutionOutcome, error) {
	if job.Target == nil {
		return nil, fmt.Errorf("ssh runner requires a resolved target for job %s", job.ExecutionID)
	}

	setupStart := time.Now()

	client, err := r.dial(job.Target)
	if err != nil {
		// Transport errors fail the attempt; the dispatcher retries them
		// like any other failure.
		return nil, fmt.Errorf("ssh connect to %s failed: %w", job.Target.Addr(), err)
	}
	defer client.Close()

	// Close the connection when the context ends so a cancelled job tears
	// its session down instead of lingering.
	dialCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		<-dialCtx.Done()
		client.Close()
	}()

	workdir := fmt.Sprintf("%s-%s", remoteWorkdirPrefix, job.ExecutionID)
	scriptPath := workdir + "/script" + job.ScriptType.FileExtension()
	outputPath := workdir + "/output.json"
	conditionPath := workdir + "/condition"

	if err := r.transferScript(client, workdir, scriptPath, job.Script); err != nil {
		return nil, fmt.Errorf("script transfer failed: %w", err)
	}

	setupDuration := time.Since(setupStart)

	interpreter, _, err := job.ScriptType.Interpreter()
	if err != nil {
		return nil, err
	}

	execStart := time.Now()

	stdout, stderr, exitCode, runErr := r.execute(client, job, interpreter, scriptPath, outputPath, conditionPath)

	execDuration := time.Since(execStart)

	cleanupStart := time.Now()

	structured := runner.ParseOutput(r.readRemoteFile(client, outputPath))
	condition := runner.ParseCondition(r.readRemoteFile(client, conditionPath))

	if err := r.runCommand(client, "rm -rf "+shellQuote(workdir)); err != nil {
		r.logger.Warn("Failed to remove remote working directory",
			"host", job.Target.Host,
			"workdir", workdir,
			"error", err)
	}

	outcome := &models.ExecutionOutcome{
		Stdout:           stdout,
		Stderr:           stderr,
		ExitCode:         exitCode,
		StructuredOutput: structured,
		Condition:        condition,
		Phases: models.PhaseDurations{
			Setup:     setupDuration,
			Execution: execDuration,
			Cleanup:   time.Since(cleanupStart),
		},
	}

	switch {
	case runErr == nil:
		outcome.Status = models.ExecutionSuccess
	case ctx.Err() != nil:
		outcome.Status = models.ExecutionFailure
		outcome.Reason = "execution cancelled: " + context.Cause(ctx).Error()
	default:
		outcome.Status = models.ExecutionFailure
		outcome.Reason = runErr.Error()
	}

	return outcome, nil
}

func (r *Runner) dial(server *models.Server) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod

	if server.Password != "" {
		authMethods = append(authMethods, ssh.Password(server.Password))
	}

	if server.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(server.PrivateKey))
		if err != nil && server.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(server.PrivateKey), []byte(server.Passphrase))
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("server %s has no usable credentials", server.ID)
	}

	config := &ssh.ClientConfig{
		User:            server.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: host key verification via the credential resolver
		Timeout:         r.dialTimeout,
	}

	return ssh.Dial("tcp", server.Addr(), config)
}

// transferScript creates the remote working directory and streams the
// script body over stdin.
func (r *Runner) transferScript(client *ssh.Client, workdir, scriptPath, script string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = strings.NewReader(script)

	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod 0700 %s",
		shellQuote(workdir), shellQuote(scriptPath), shellQuote(scriptPath))

	return session.Run(cmd)
}

func (r *Runner) execute(client *ssh.Client, job *models.Job, interpreter, scriptPath, outputPath, conditionPath string) (string, string, int, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	env := map[string]string{
		runner.EnvOutputFile:    outputPath,
		runner.EnvConditionFile: conditionPath,
		runner.EnvEventID:       job.EventID,
		runner.EnvExecutionID:   job.ExecutionID,
	}

	for key, value := range job.Environment {
		env[key] = value
	}

	// Env is passed as an env(1) prefix: sshd's AcceptEnv allowlist is
	// not under our control.
	var envPrefix strings.Builder

	envPrefix.WriteString("env")

	for key, value := range env {
		envPrefix.WriteString(" ")
		envPrefix.WriteString(shellQuote(key + "=" + value))
	}

	cmd := fmt.Sprintf("%s %s %s", envPrefix.String(), interpreter, shellQuote(scriptPath))

	runErr := session.Run(cmd)

	exitCode := 0
	if runErr != nil {
		exitCode = -1

		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitStatus()
		}
	}

	return stdout.String(), stderr.String(), exitCode, runErr
}

func (r *Runner) readRemoteFile(client *ssh.Client, path string) string {
	session, err := client.NewSession()
	if err != nil {
		return ""
	}
	defer session.Close()

	output, err := session.Output("cat " + shellQuote(path) + " 2>/dev/null")
	if err != nil {
		return ""
	}

	return string(output)
}

func (r *Runner) runCommand(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Run(cmd)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
