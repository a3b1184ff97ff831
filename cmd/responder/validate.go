package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/responder/pkg/approval"
	"github.com/dukex/responder/pkg/cmd"
	"github.com/dukex/responder/pkg/log"
	"github.com/dukex/responder/pkg/policy"
	"github.com/dukex/responder/pkg/workflow"
	"github.com/urfave/cli/v3"
)

// NewValidateCommand checks the policy file and every workflow against the registered
// capabilities without opening any store.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the policy file and its workflow definitions",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("responder-validate")

			p, err := policy.Load(command.String("policy-file"))
			if err != nil {
				return err
			}

			registry, err := cmd.NewRegistry(ctx, logger, command.String("plugins-path"))
			if err != nil {
				return err
			}

			gate := approval.NewGate(p.Approval, approval.NewMemoryStore(), approval.WithLogger(logger))

			orchestrator, err := workflow.NewOrchestrator(registry, gate, nil, workflow.WithLogger(logger))
			if err != nil {
				return err
			}

			var errs []error

			for _, definition := range p.Workflows {
				err := orchestrator.Validate(definition)
				if err != nil {
					errs = append(errs, err)

					continue
				}

				logger.InfoContext(ctx, "Workflow is valid", "workflow", definition.Name, "steps", len(definition.Steps))
			}

			if len(errs) > 0 {
				return cli.Exit(errors.Join(errs...).Error(), 1)
			}

			_, _ = fmt.Fprintf(command.Root().Writer, "%d workflows valid\n", len(p.Workflows))

			return nil
		},
	}
}
