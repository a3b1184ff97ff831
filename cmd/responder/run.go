package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/responder/pkg/log"
	"github.com/dukex/responder/pkg/models"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

// NewRunCommand executes the matching workflow for one alert in the foreground. Restricted
// steps wait on the configured approval store, so a shared redis:// store lets approvers
// resolve them through a running server.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run the workflow matching an alert read from a JSON file or stdin",
		ArgsUsage: "<alert.json|->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "workflow",
				Usage: "Run this workflow instead of the one matching the alert type",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := log.WithModule("responder-run")

			alert, err := readAlert(command.Args().First())
			if err != nil {
				return err
			}

			c, err := newComponents(ctx, command, logger)
			if err != nil {
				return err
			}

			defer c.Close(context.WithoutCancel(ctx))

			definition, ok := c.policy.ForAlert(alert.Type)
			if name := command.String("workflow"); name != "" {
				definition, ok = c.policy.Workflow(name)
			}

			if !ok {
				return cli.Exit(fmt.Sprintf("no workflow for alert type %q", alert.Type), 2)
			}

			run, err := c.orchestrator.Execute(ctx, definition, alert)
			if run != nil {
				encoder := json.NewEncoder(command.Root().Writer)
				encoder.SetIndent("", "  ")

				if encodeErr := encoder.Encode(run); encodeErr != nil {
					return encodeErr
				}
			}

			if err != nil {
				return err
			}

			if run.Status != models.RunStatusCompleted {
				return cli.Exit("run "+run.ID+" failed: "+run.Error, 1)
			}

			return nil
		},
	}
}

func readAlert(path string) (models.Alert, error) {
	var (
		alert  models.Alert
		reader io.Reader = os.Stdin
	)

	if path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return alert, fmt.Errorf("failed to open alert: %w", err)
		}

		defer func() { _ = file.Close() }()

		reader = file
	}

	err := json.NewDecoder(reader).Decode(&alert)
	if err != nil {
		return alert, fmt.Errorf("failed to decode alert: %w", err)
	}

	err = validator.New(validator.WithRequiredStructEnabled()).Struct(alert)
	if err != nil {
		return alert, fmt.Errorf("invalid alert: %w", err)
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	return alert, nil
}
