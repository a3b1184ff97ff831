package models

import "time"

// WildcardAlertType matches every alert type when listed in a definition's AlertTypes.
const WildcardAlertType = "*"

// WorkflowDefinition is an ordered list of steps executed against one alert.
// It is immutable once loaded for a run.
type WorkflowDefinition struct {
	Name       string     `json:"name"                  yaml:"name"        validate:"required"`
	AlertTypes []string   `json:"alert_types,omitempty" yaml:"alert_types"`
	Steps      []StepSpec `json:"steps"                 yaml:"steps"       validate:"required,min=1,dive"`
}

// Matches reports whether the definition handles alerts of the given type.
func (d *WorkflowDefinition) Matches(alertType string) bool {
	for _, t := range d.AlertTypes {
		if t == WildcardAlertType || t == alertType {
			return true
		}
	}

	return false
}

// StepSpec declares one unit of work bound to a capability.
type StepSpec struct {
	Name        string         `json:"name"                  yaml:"name"        validate:"required"`
	Capability  string         `json:"capability"            yaml:"capability"  validate:"required"`
	ActionType  string         `json:"action_type,omitempty" yaml:"action_type"`
	TimeoutMs   int64          `json:"timeout_ms"            yaml:"timeout_ms"  validate:"gt=0"`
	Required    bool           `json:"required"              yaml:"required"`
	Condition   string         `json:"condition,omitempty"   yaml:"condition"`
	Retry       RetryPolicy    `json:"retry"                 yaml:"retry"`
	Restricted  bool           `json:"restricted"            yaml:"restricted"`
	Independent bool           `json:"independent,omitempty" yaml:"independent"`
	Config      map[string]any `json:"config,omitempty"      yaml:"config"`
}

// Timeout returns the step timeout as a duration.
func (s StepSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Action describes the concrete action the step performs for the given alert.
func (s StepSpec) Action(alert Alert) Action {
	actionType := s.ActionType
	if actionType == "" {
		actionType = s.Capability
	}

	return Action{
		Type:     actionType,
		Name:     s.Name,
		Severity: alert.EffectiveSeverity(),
		AlertID:  alert.ID,
	}
}

// RetryPolicy bounds how a transient capability failure is retried.
type RetryPolicy struct {
	MaxAttempts   int   `json:"max_attempts"    yaml:"max_attempts"    validate:"gte=1"`
	BackoffBaseMs int64 `json:"backoff_base_ms" yaml:"backoff_base_ms" validate:"gte=0"`
	BackoffCapMs  int64 `json:"backoff_cap_ms"  yaml:"backoff_cap_ms"  validate:"gtefield=BackoffBaseMs"`
}

// Backoff returns the delay before the given retry (1-based), doubling from the base and
// never exceeding the cap.
func (r RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 || r.BackoffBaseMs <= 0 {
		return 0
	}

	exponent := retry - 1
	if exponent > 30 {
		exponent = 30
	}

	delay := r.BackoffBaseMs << exponent
	if delay > r.BackoffCapMs || delay <= 0 {
		delay = r.BackoffCapMs
	}

	return time.Duration(delay) * time.Millisecond
}
