package conditional

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dukex/responder/pkg/models"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// ErrNotBoolean is returned when a condition does not produce a boolean.
var ErrNotBoolean = errors.New("condition must evaluate to a boolean")

// Scope is the data a condition can see.
type Scope struct {
	Alert       models.Alert
	StepOutputs map[string]models.StepOutput
	StepStatus  map[string]models.StepStatus
}

func (s Scope) activation() map[string]any {
	steps := make(map[string]any, len(s.StepOutputs))
	for name, output := range s.StepOutputs {
		steps[name] = map[string]any(output)
	}

	status := make(map[string]string, len(s.StepStatus))
	for name, st := range s.StepStatus {
		status[name] = string(st)
	}

	return map[string]any{
		"alert":  s.Alert.AsMap(),
		"steps":  steps,
		"status": status,
	}
}

// Evaluator compiles CEL conditions once and evaluates them many times.
// It is safe for concurrent use.
type Evaluator struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

// NewEvaluator builds the CEL environment exposing alert, steps, status and rank().
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("alert", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("status", cel.MapType(cel.StringType, cel.StringType)),
		cel.Function("rank",
			cel.Overload("rank_string",
				[]*cel.Type{cel.StringType},
				cel.IntType,
				cel.UnaryBinding(rank),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func rank(value ref.Val) ref.Val {
	s, ok := value.(types.String)
	if !ok {
		return types.MaybeNoSuchOverloadErr(value)
	}

	return types.Int(models.Severity(string(s)).Rank())
}

// Compile checks expr and caches its program. Literal conditions are accepted as is.
func (e *Evaluator) Compile(expr string) error {
	if _, ok := literal(expr); ok {
		return nil
	}

	_, err := e.program(expr)

	return err
}

// Evaluate reports whether expr holds within scope.
func (e *Evaluator) Evaluate(expr string, scope Scope) (bool, error) {
	if value, ok := literal(expr); ok {
		return value, nil
	}

	program, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(scope.activation())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", expr, err)
	}

	result, err := truthy(out.Value())
	if err != nil {
		return false, fmt.Errorf("%w: %q: %w", ErrNotBoolean, expr, err)
	}

	return result, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", expr, issues.Err())
	}

	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.BoolType) && !outputType.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: %q returns %s", ErrNotBoolean, expr, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build condition %q: %w", expr, err)
	}

	actual, _ := e.programs.LoadOrStore(expr, program)

	return actual.(cel.Program), nil
}
