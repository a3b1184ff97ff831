// Package models defines the core domain models for alert-driven response workflows.
package models

import (
	"encoding/json"
	"time"
)

// Alert is a security alert received from a SIEM, EDR or any other detection source.
type Alert struct {
	ID            string         `json:"id"                       validate:"required"`
	Type          string         `json:"type"`
	Severity      Severity       `json:"severity,omitempty"       validate:"omitempty,oneof=low medium high critical"`
	Priority      Severity       `json:"priority,omitempty"       validate:"omitempty,oneof=low medium high critical"`
	Source        string         `json:"source,omitempty"`
	Description   string         `json:"description,omitempty"`
	SourceIP      string         `json:"source_ip,omitempty"      validate:"omitempty,ip"`
	DestinationIP string         `json:"destination_ip,omitempty" validate:"omitempty,ip"`
	User          string         `json:"user,omitempty"`
	Timestamp     time.Time      `json:"timestamp,omitzero"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// EffectiveSeverity is the priority assigned to the alert, falling back to its raw severity.
func (a Alert) EffectiveSeverity() Severity {
	if a.Priority.Valid() {
		return a.Priority
	}

	return a.Severity
}

// AsMap flattens the alert into the generic map shape used by condition expressions.
func (a Alert) AsMap() map[string]any {
	out := make(map[string]any)

	payload, err := json.Marshal(a)
	if err != nil {
		return out
	}

	_ = json.Unmarshal(payload, &out)

	// conditions may reference these even when the source left them out
	out["type"] = a.Type
	out["severity"] = string(a.Severity)
	out["priority"] = string(a.EffectiveSeverity())

	for key, value := range a.Attributes {
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}

	return out
}
