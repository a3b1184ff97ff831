package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/protocol"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type stepShape struct {
	Required    bool
	Fails       bool
	Skipped     bool
	Independent bool
}

func genStepShape() gopter.Gen {
	return gopter.CombineGens(gen.Bool(), gen.Bool(), gen.Weighted([]gen.WeightedGen{
		{Weight: 4, Gen: gen.Const(false)},
		{Weight: 1, Gen: gen.Const(true)},
	}), gen.Bool()).Map(func(values []any) stepShape {
		return stepShape{
			Required:    values[0].(bool),
			Fails:       values[1].(bool),
			Skipped:     values[2].(bool),
			Independent: values[3].(bool),
		}
	})
}

// sequential drops independence so every step runs alone.
func sequential(shapes []stepShape) []stepShape {
	out := make([]stepShape, len(shapes))
	for i, shape := range shapes {
		shape.Independent = false
		out[i] = shape
	}

	return out
}

func definitionFor(shapes []stepShape) models.WorkflowDefinition {
	definition := models.WorkflowDefinition{Name: "generated"}

	for i, shape := range shapes {
		spec := step(fmt.Sprintf("step-%d", i), "succeed")
		spec.Required = shape.Required
		spec.Independent = shape.Independent

		if shape.Fails {
			spec.Capability = "fail"
		}

		if shape.Skipped {
			spec.Condition = "false"
		}

		definition.Steps = append(definition.Steps, spec)
	}

	return definition
}

func TestExecute_Properties(t *testing.T) {
	f := newFixture(t)

	f.register("succeed", func(context.Context, *models.RunContext) (models.StepOutput, error) {
		return models.StepOutput{"ok": true}, nil
	})
	f.register("fail", func(context.Context, *models.RunContext) (models.StepOutput, error) {
		return nil, protocol.Permanent(errors.New("refused"))
	})

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.MaxSize = 12
	properties := gopter.NewProperties(parameters)

	alert := alertWithPriority(models.SeverityLow)

	properties.Property("results follow declared order up to the first required failure", prop.ForAll(
		func(shapes []stepShape) bool {
			shapes = sequential(shapes)
			definition := definitionFor(shapes)

			run, err := f.orchestrator.Execute(t.Context(), definition, alert)
			if err != nil || len(run.Steps) > len(shapes) {
				return false
			}

			for i, result := range run.Steps {
				if result.StepName != definition.Steps[i].Name {
					return false
				}
			}

			firstRequiredFailure := -1

			for i, shape := range shapes {
				if shape.Required && shape.Fails && !shape.Skipped {
					firstRequiredFailure = i

					break
				}
			}

			if firstRequiredFailure == -1 {
				return len(run.Steps) == len(shapes) && run.Status == models.RunStatusCompleted
			}

			return len(run.Steps) == firstRequiredFailure+1 && run.Status == models.RunStatusFailed
		},
		gen.SliceOf(genStepShape()).SuchThat(func(shapes []stepShape) bool { return len(shapes) > 0 }),
	))

	properties.Property("a failed required step ends the run, inside groups too", prop.ForAll(
		func(shapes []stepShape) bool {
			run, err := f.orchestrator.Execute(t.Context(), definitionFor(shapes), alert)
			if err != nil {
				return false
			}

			for i, result := range run.Steps {
				if shapes[i].Required && result.Status.IsFailure() {
					return run.Status == models.RunStatusFailed && i == len(run.Steps)-1
				}
			}

			return run.Status == models.RunStatusCompleted
		},
		gen.SliceOf(genStepShape()).SuchThat(func(shapes []stepShape) bool { return len(shapes) > 0 }),
	))

	properties.TestingRun(t)
}
