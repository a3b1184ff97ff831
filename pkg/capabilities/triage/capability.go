// Package triage assigns a priority to an alert from its severity and the wording of its
// description.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/protocol"
)

// Keywords that raise an alert's priority when they appear in its description. Each
// severity word matches itself.
var defaultKeywords = map[models.Severity][]string{
	models.SeverityCritical: {"critical", "ransomware", "exfiltration", "domain admin"},
	models.SeverityHigh:     {"high", "malware", "lateral movement", "privilege escalation"},
	models.SeverityMedium:   {"medium", "brute force", "phishing"},
}

var priorityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
}

// Capability is a rule-based triage capability.
type Capability struct {
	keywords map[models.Severity][]string
	logger   *slog.Logger
}

// NewCapability builds a triage capability. config["keywords"] may replace the keyword
// list of any severity.
func NewCapability(config map[string]any, logger *slog.Logger) (*Capability, error) {
	keywords := make(map[models.Severity][]string, len(defaultKeywords))
	for severity, words := range defaultKeywords {
		keywords[severity] = words
	}

	if raw, ok := config["keywords"]; ok {
		overrides, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("triage keywords must be a map of severity to word list, got %T", raw)
		}

		for name, list := range overrides {
			severity, ok := models.ParseSeverity(name)
			if !ok {
				return nil, fmt.Errorf("unknown severity %q in triage keywords", name)
			}

			words, err := toStrings(list)
			if err != nil {
				return nil, fmt.Errorf("triage keywords for %s: %w", name, err)
			}

			keywords[severity] = words
		}
	}

	return &Capability{
		keywords: keywords,
		logger:   logger.With("module", "triage_capability"),
	}, nil
}

// Invoke returns the assessed priority together with the keywords that drove it.
func (c *Capability) Invoke(ctx context.Context, runCtx *models.RunContext) (models.StepOutput, error) {
	alert := runCtx.Alert

	priority := alert.Severity
	if !priority.Valid() {
		priority = models.SeverityLow
	}

	matched := make([]string, 0)
	description := strings.ToLower(alert.Description)

	for _, severity := range priorityOrder {
		for _, word := range c.keywords[severity] {
			if word == "" || !strings.Contains(description, strings.ToLower(word)) {
				continue
			}

			matched = append(matched, word)

			if severity.Rank() > priority.Rank() {
				priority = severity
			}
		}
	}

	c.logger.InfoContext(ctx, "Alert triaged",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"priority", priority,
		"matched_keywords", matched,
	)

	return models.StepOutput{
		"priority":         string(priority),
		"severity":         string(alert.Severity),
		"matched_keywords": matched,
		"recommendation":   recommendation(priority),
	}, nil
}

func recommendation(priority models.Severity) string {
	switch priority {
	case models.SeverityCritical:
		return "contain immediately and page the on-call responder"
	case models.SeverityHigh:
		return "investigate within the hour"
	case models.SeverityMedium:
		return "investigate during business hours"
	default:
		return "monitor"
	}
}

func toStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}

			out = append(out, s)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", value)
	}
}

// CapabilityFactory creates triage capabilities.
type CapabilityFactory struct {
	logger *slog.Logger
}

func NewCapabilityFactory(logger *slog.Logger) *CapabilityFactory {
	return &CapabilityFactory{logger: logger}
}

func (*CapabilityFactory) ID() string {
	return "triage"
}

func (*CapabilityFactory) Description() string {
	return "Assigns a priority to the alert from its severity and description keywords."
}

func (f *CapabilityFactory) Create(_ context.Context, config map[string]any) (protocol.Capability, error) {
	return NewCapability(config, f.logger)
}
