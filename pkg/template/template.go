// Package template renders capability configuration against the state of a run.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/responder/pkg/models"
)

// RunData is the data exposed to templates: .alert, .steps, .run and .step.
func RunData(runCtx *models.RunContext) map[string]any {
	steps := make(map[string]any, len(runCtx.StepOutputs))
	for name, output := range runCtx.StepOutputs {
		steps[name] = map[string]any(output)
	}

	return map[string]any{
		"alert": runCtx.Alert.AsMap(),
		"steps": steps,
		"run": map[string]any{
			"id":      runCtx.RunID,
			"attempt": runCtx.Attempt,
		},
		"step": map[string]any{
			"name":       runCtx.Step.Name,
			"capability": runCtx.Step.Capability,
		},
	}
}

// RenderWithRunContext renders input and returns the raw text.
func RenderWithRunContext(input string, runCtx *models.RunContext) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	return execute(input, RunData(runCtx))
}

// Render renders templateStr and decodes the result into JSON, number, bool or string.
func Render(templateStr string, data any) (any, error) {
	result, err := execute(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// Parse checks that templateStr is a valid template.
func Parse(templateStr string) (*template.Template, error) {
	return newTemplate().Parse(templateStr)
}

func execute(templateStr string, data any) (string, error) {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

func newTemplate() *template.Template {
	return template.
		New("capability").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"json": func(v any) (string, error) {
				payload, err := json.Marshal(v)

				return string(payload), err
			},
		})
}
