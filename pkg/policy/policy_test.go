package policy

import (
	"testing"

	"github.com/dukex/responder/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	p, err := Load("testdata/policy.yaml")
	require.NoError(t, err)

	assert.Equal(t, models.SeverityHigh, p.Approval.SeverityThreshold)
	assert.Equal(t, []string{"response"}, p.Approval.RestrictedActionTypes)
	assert.Equal(t, int64(300000), p.Approval.ApprovalTimeoutMs)

	require.Len(t, p.Workflows, 2)

	steps := p.Workflows[0].Steps
	require.Len(t, steps, 3)

	assert.Equal(t, "rank(alert.priority) >= rank('high')", steps[1].Condition)
	assert.Equal(t, models.RetryPolicy{MaxAttempts: 3, BackoffBaseMs: 200, BackoffCapMs: 2000}, steps[1].Retry)
	assert.Equal(t, "siem.internal", steps[1].Config["host"])
	assert.True(t, steps[2].Restricted)
	assert.Equal(t, "response", steps[2].ActionType)

	record := p.Workflows[1].Steps[0]
	assert.Equal(t, int64(DefaultStepTimeoutMs), record.TimeoutMs)
	assert.Equal(t, DefaultMaxAttempts, record.Retry.MaxAttempts)
}

func TestLoad_JSON(t *testing.T) {
	p, err := Load("testdata/policy.json")
	require.NoError(t, err)

	assert.Equal(t, models.SeverityCritical, p.Approval.SeverityThreshold)
	assert.Empty(t, p.Approval.RestrictedActionTypes)
	assert.Equal(t, "phishing", p.Workflows[0].Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read policy file")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		message string
	}{
		{
			name:    "not yaml",
			doc:     "approval: [",
			message: "failed to parse policy",
		},
		{
			name:    "missing workflows",
			doc:     "approval: {severity_threshold: high, approval_timeout_ms: 1000}",
			message: "workflows",
		},
		{
			name: "unknown severity",
			doc: `
approval: {severity_threshold: urgent, approval_timeout_ms: 1000}
workflows: [{name: a, alert_types: ["*"], steps: [{name: s, capability: log}]}]`,
			message: "severity_threshold",
		},
		{
			name: "zero attempts",
			doc: `
approval: {severity_threshold: high, approval_timeout_ms: 1000}
workflows: [{name: a, alert_types: ["*"], steps: [{name: s, capability: log, retry: {max_attempts: 0}}]}]`,
			message: "max_attempts",
		},
		{
			name: "cap below base",
			doc: `
approval: {severity_threshold: high, approval_timeout_ms: 1000}
workflows: [{name: a, alert_types: ["*"], steps: [{name: s, capability: log, retry: {backoff_base_ms: 500, backoff_cap_ms: 100}}]}]`,
			message: "BackoffCapMs",
		},
		{
			name: "unknown field",
			doc: `
approval: {severity_threshold: high, approval_timeout_ms: 1000}
workflows: [{name: a, alert_types: ["*"], steps: [{name: s, capability: log, timeout: 5}]}]`,
			message: "timeout",
		},
		{
			name: "duplicate workflow",
			doc: `
approval: {severity_threshold: high, approval_timeout_ms: 1000}
workflows:
  - {name: a, alert_types: ["*"], steps: [{name: s, capability: log}]}
  - {name: a, alert_types: [phishing], steps: [{name: s, capability: log}]}`,
			message: `duplicate workflow "a"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestPolicy_ForAlert(t *testing.T) {
	p, err := Load("testdata/policy.yaml")
	require.NoError(t, err)

	tests := []struct {
		alertType string
		expected  string
	}{
		{"intrusion", "intrusion-response"},
		{"lateral_movement", "intrusion-response"},
		{"phishing", "catch-all"},
		{"", "catch-all"},
	}

	for _, tt := range tests {
		t.Run(tt.alertType, func(t *testing.T) {
			definition, ok := p.ForAlert(tt.alertType)
			require.True(t, ok)
			assert.Equal(t, tt.expected, definition.Name)
		})
	}

	p.Workflows = p.Workflows[:1]
	_, ok := p.ForAlert("phishing")
	assert.False(t, ok)

	definition, ok := p.Workflow("intrusion-response")
	require.True(t, ok)
	assert.Len(t, definition.Steps, 3)
}
