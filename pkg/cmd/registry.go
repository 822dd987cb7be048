// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"
	"os"

	"github.com/oru-io/conduct/pkg/notifier"
	"github.com/oru-io/conduct/pkg/runner"
	"github.com/oru-io/conduct/pkg/runner/httprunner"
	"github.com/oru-io/conduct/pkg/runner/local"
	"github.com/oru-io/conduct/pkg/runner/ssh"
	"github.com/oru-io/conduct/pkg/runner/toolrunner"
)

// NewRunnerRegistry registers every native execution backend.
func NewRunnerRegistry(logger *slog.Logger, notifiers *notifier.Registry) *runner.Registry {
	reg := runner.NewRegistry()

	reg.Register(local.NewRunner(logger))
	reg.Register(ssh.NewRunner(logger))
	reg.Register(httprunner.NewRunner(logger))
	reg.Register(toolrunner.NewRunner(logger, notifiers))

	return reg
}

// NewNotifierRegistry registers the notification channels. Email delivery
// is configured from the environment and skipped when no SMTP address is
// set.
func NewNotifierRegistry() *notifier.Registry {
	reg := notifier.NewRegistry()

	reg.Register(notifier.NewSlackSender())
	reg.Register(notifier.NewDiscordSender())

	if addr := os.Getenv("CONDUCT_SMTP_ADDR"); addr != "" {
		reg.Register(notifier.NewEmailSender(
			addr,
			os.Getenv("CONDUCT_SMTP_FROM"),
			os.Getenv("CONDUCT_SMTP_USERNAME"),
			os.Getenv("CONDUCT_SMTP_PASSWORD"),
		))
	}

	return reg
}
