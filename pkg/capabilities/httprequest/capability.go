// Package httprequest provides a capability that calls an external SIEM, EDR or
// threat-intelligence HTTP endpoint.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/protocol"
	"github.com/dukex/responder/pkg/template"
)

const maxResponseBytes = 1 << 20

var (
	// ErrHTTPRequestHostInvalid is returned when the configuration has no host.
	ErrHTTPRequestHostInvalid = errors.New("invalid HTTP request host")
	// ErrHTTPMethodInvalid is returned when the HTTP method is not supported.
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	// ErrHTTPServerError is returned when the endpoint answers with a retryable status.
	ErrHTTPServerError = errors.New("server error during HTTP request")
	// ErrHTTPClientError is returned when the endpoint rejects the request.
	ErrHTTPClientError = errors.New("client error during HTTP request")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Capability performs one HTTP request per invocation. Retrying is left to the
// orchestrator, which reads the transient flag on returned errors.
type Capability struct {
	Method   string
	Protocol string
	Host     string
	Path     string
	Headers  map[string]string
	Body     string

	client *http.Client
	logger *slog.Logger
}

// NewCapability creates a Capability from step configuration.
func NewCapability(config map[string]any, client *http.Client, logger *slog.Logger) (*Capability, error) {
	host, ok := config["host"].(string)
	if !ok || host == "" {
		return nil, fmt.Errorf("missing or invalid 'host' in configuration: %w", ErrHTTPRequestHostInvalid)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrHTTPMethodInvalid, method)
	}

	path, _ := config["path"].(string)
	if path == "" {
		path = "/"
	}

	protocol, _ := config["protocol"].(string)
	if protocol == "" {
		protocol = "https"
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	c := &Capability{
		Method:   method,
		Protocol: protocol,
		Host:     host,
		Path:     path,
		Headers:  headers,
		Body:     body,
		client:   client,
		logger:   logger.With("module", "http_request_capability"),
	}

	err := c.Validate()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks that every templated field parses.
func (c *Capability) Validate() error {
	_, err := template.Parse(c.Body)
	if err != nil {
		return fmt.Errorf("invalid body template: %w", err)
	}

	for key, value := range c.Headers {
		_, err := template.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid header '%s' template: %w", key, err)
		}
	}

	_, err = template.Parse(c.Path)
	if err != nil {
		return fmt.Errorf("invalid path template: %w", err)
	}

	return nil
}

// Invoke sends the request. Network failures, 429 and 5xx are transient; other
// non-2xx statuses are permanent.
func (c *Capability) Invoke(ctx context.Context, runCtx *models.RunContext) (models.StepOutput, error) {
	logger := c.logger.With("run_id", runCtx.RunID, "step", runCtx.Step.Name, "attempt", runCtx.Attempt)

	req, err := c.buildRequest(ctx, runCtx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	logger.DebugContext(ctx, "Sending HTTP request", "method", c.Method, "url", req.URL.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, protocol.Transient(fmt.Errorf("http request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, protocol.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, protocol.Transient(fmt.Errorf("%w: status %d", ErrHTTPServerError, resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, protocol.Permanent(fmt.Errorf("%w: status %d", ErrHTTPClientError, resp.StatusCode))
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return models.StepOutput{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}

func (c *Capability) buildRequest(ctx context.Context, runCtx *models.RunContext) (*http.Request, error) {
	path, err := template.RenderWithRunContext(c.Path, runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render path template: %w", err)
	}

	var bodyReader io.Reader = http.NoBody

	if c.Body != "" {
		body, err := template.RenderWithRunContext(c.Body, runCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		bodyReader = strings.NewReader(body)
	}

	url := fmt.Sprintf("%s://%s%s", c.Protocol, c.Host, path)

	req, err := http.NewRequestWithContext(ctx, c.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range c.Headers {
		headerValue, err := template.RenderWithRunContext(value, runCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, headerValue)
	}

	if c.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}
