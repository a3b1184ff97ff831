package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/cmd"
	"github.com/dukex/responder/pkg/log"
	cli "github.com/urfave/cli/v3"
)

// NewAuditCommand prints the audit trail of a run as JSON lines.
func NewAuditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Print audit entries, optionally for a single run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Only entries correlated with this run",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Only entries at or after this RFC3339 time",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Only entries at or before this RFC3339 time",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("responder-audit")

			query := audit.Query{CorrelationID: command.String("run-id")}

			var err error

			query.From, err = parseTime(command.String("from"))
			if err != nil {
				return cli.Exit("invalid --from: "+err.Error(), 2)
			}

			query.To, err = parseTime(command.String("to"))
			if err != nil {
				return cli.Exit("invalid --to: "+err.Error(), 2)
			}

			store, err := cmd.NewAuditSink(ctx, logger, command.String("audit-url"))
			if err != nil {
				return fmt.Errorf("failed to open audit trail: %w", err)
			}

			defer func() {
				if err := store.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close audit trail", "error", err)
				}
			}()

			entries, err := store.Entries(ctx, query)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(command.Root().Writer)

			for _, entry := range entries {
				err = encoder.Encode(entry)
				if err != nil {
					return err
				}
			}

			logger.DebugContext(ctx, "Audit entries printed", "count", len(entries))

			return nil
		},
	}
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339, value)
}
