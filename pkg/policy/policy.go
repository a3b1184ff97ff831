// Package policy loads the approval policy and the workflow catalog from a YAML or JSON file.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/responder/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStepTimeoutMs = 30000
	DefaultMaxAttempts   = 1
)

//go:embed schema.json
var schema string

var ErrInvalidPolicy = errors.New("invalid policy")

// Policy is the approval policy plus the workflows that handle alerts, in priority order.
type Policy struct {
	Approval  models.ApprovalPolicy         `json:"approval"  yaml:"approval"  validate:"required"`
	Workflows []models.WorkflowDefinition `json:"workflows" yaml:"workflows" validate:"required,min=1,dive"`
}

// Load reads a policy file. JSON is accepted as well since it is valid YAML.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return p, nil
}

// Parse validates the raw document against the policy schema, decodes it, applies defaults
// and validates the result.
func Parse(data []byte) (*Policy, error) {
	var raw map[string]any

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	err = validateSchema(raw)
	if err != nil {
		return nil, err
	}

	var p Policy

	err = yaml.Unmarshal(data, &p)
	if err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}

	p.applyDefaults()

	err = p.validate()
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func validateSchema(raw map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate policy: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(problems, "; "))
	}

	return nil
}

func (p *Policy) applyDefaults() {
	if severity, ok := models.ParseSeverity(string(p.Approval.SeverityThreshold)); ok {
		p.Approval.SeverityThreshold = severity
	}

	for i := range p.Workflows {
		steps := p.Workflows[i].Steps
		for j := range steps {
			if steps[j].TimeoutMs == 0 {
				steps[j].TimeoutMs = DefaultStepTimeoutMs
			}

			if steps[j].Retry.MaxAttempts == 0 {
				steps[j].Retry.MaxAttempts = DefaultMaxAttempts
			}

			if steps[j].Retry.BackoffCapMs == 0 {
				steps[j].Retry.BackoffCapMs = steps[j].Retry.BackoffBaseMs
			}
		}
	}
}

func (p *Policy) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	seen := make(map[string]struct{}, len(p.Workflows))

	for _, definition := range p.Workflows {
		if _, dup := seen[definition.Name]; dup {
			return fmt.Errorf("%w: duplicate workflow %q", ErrInvalidPolicy, definition.Name)
		}

		seen[definition.Name] = struct{}{}
	}

	return nil
}

// ForAlert returns the first workflow whose alert types contain alertType or the wildcard.
func (p *Policy) ForAlert(alertType string) (models.WorkflowDefinition, bool) {
	for _, definition := range p.Workflows {
		if definition.Matches(alertType) {
			return definition, true
		}
	}

	return models.WorkflowDefinition{}, false
}

// Workflow returns the workflow with the given name.
func (p *Policy) Workflow(name string) (models.WorkflowDefinition, bool) {
	for _, definition := range p.Workflows {
		if definition.Name == name {
			return definition, true
		}
	}

	return models.WorkflowDefinition{}, false
}
