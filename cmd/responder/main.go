// Package main provides the responder command: the API server, one-shot runs and policy
// and audit tooling.
package main

import (
	"context"
	"os"

	"github.com/dukex/responder/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "responder",
		Usage:                 "Run incident response workflows with human approval and an audit trail",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "policy-file",
				Usage:    "YAML or JSON file with the approval policy and workflow definitions",
				Required: true,
				Sources:  cli.EnvVars("POLICY_FILE"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Run store URL (file://, postgres:// or memory://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "audit-url",
				Usage:   "Audit trail location (a directory, file:// or postgres://)",
				Value:   "./data/audit",
				Sources: cli.EnvVars("AUDIT_URL"),
			},
			&cli.StringFlag{
				Name:    "approval-store-url",
				Usage:   "Approval store URL (memory:// or redis://)",
				Value:   "memory://",
				Sources: cli.EnvVars("APPROVAL_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "notify-webhook-url",
				Usage:   "Webhook notified of every approval request",
				Sources: cli.EnvVars("NOTIFY_WEBHOOK_URL"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing capability plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			err := log.Setup(os.Stderr, log.Options{
				Level:  command.String("log-level"),
				Format: command.String("log-format"),
			})

			return ctx, err
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewRunCommand(),
			NewValidateCommand(),
			NewAuditCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("responder").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
