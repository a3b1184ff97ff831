package httprequest_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dukex/responder/pkg/capabilities/httprequest"
	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunContext() *models.RunContext {
	return &models.RunContext{
		RunID: "run-1",
		Alert: models.Alert{
			ID:       "alert-1",
			Type:     "intrusion",
			Severity: models.SeverityHigh,
			SourceIP: "10.1.2.3",
		},
		Step: models.StepSpec{Name: "investigation", Capability: "http"},
		StepOutputs: map[string]models.StepOutput{
			"triage": {"priority": "high"},
		},
		Attempt: 1,
	}
}

func serverHost(t *testing.T, server *httptest.Server) string {
	t.Helper()

	return strings.TrimPrefix(server.URL, "http://")
}

func TestNewCapability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   map[string]any
		expected *httprequest.Capability
		err      error
	}{
		{
			name:   "defaults",
			config: map[string]any{"host": "edr.example.com"},
			expected: &httprequest.Capability{
				Method:   "GET",
				Protocol: "https",
				Host:     "edr.example.com",
				Path:     "/",
				Headers:  map[string]string{},
			},
		},
		{
			name: "post with headers",
			config: map[string]any{
				"host":     "siem.example.com",
				"method":   "post",
				"protocol": "http",
				"path":     "/search",
				"body":     `{"ip":"{{ .alert.source_ip }}"}`,
				"headers":  map[string]any{"X-Key": "abc", "ignored": 1},
			},
			expected: &httprequest.Capability{
				Method:   "POST",
				Protocol: "http",
				Host:     "siem.example.com",
				Path:     "/search",
				Body:     `{"ip":"{{ .alert.source_ip }}"}`,
				Headers:  map[string]string{"X-Key": "abc"},
			},
		},
		{
			name:   "missing host",
			config: map[string]any{"path": "/x"},
			err:    httprequest.ErrHTTPRequestHostInvalid,
		},
		{
			name:   "invalid method",
			config: map[string]any{"host": "a", "method": "TRACE"},
			err:    httprequest.ErrHTTPMethodInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			capability, err := httprequest.NewCapability(tt.config, http.DefaultClient, slog.Default())
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected.Method, capability.Method)
			assert.Equal(t, tt.expected.Protocol, capability.Protocol)
			assert.Equal(t, tt.expected.Host, capability.Host)
			assert.Equal(t, tt.expected.Path, capability.Path)
			assert.Equal(t, tt.expected.Body, capability.Body)
			assert.Equal(t, tt.expected.Headers, capability.Headers)
		})
	}
}

func TestNewCapability_InvalidTemplate(t *testing.T) {
	t.Parallel()

	_, err := httprequest.NewCapability(map[string]any{"host": "a", "path": "/{{ .alert.id "}, http.DefaultClient, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid path template")
}

func TestCapability_Invoke_RendersRunContext(t *testing.T) {
	t.Parallel()

	var (
		gotPath   string
		gotBody   map[string]any
		gotHeader string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Run")

		payload, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(payload, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"verdict":"malicious","score":91}`))
	}))
	defer server.Close()

	capability, err := httprequest.NewCapability(map[string]any{
		"host":     serverHost(t, server),
		"protocol": "http",
		"method":   "POST",
		"path":     "/lookup/{{ .alert.source_ip }}",
		"body":     `{"alert":"{{ .alert.id }}","priority":"{{ .steps.triage.priority }}"}`,
		"headers":  map[string]any{"X-Run": "{{ .run.id }}"},
	}, server.Client(), slog.Default())
	require.NoError(t, err)

	output, err := capability.Invoke(t.Context(), newRunContext())
	require.NoError(t, err)

	assert.Equal(t, "/lookup/10.1.2.3", gotPath)
	assert.Equal(t, "run-1", gotHeader)
	assert.Equal(t, map[string]any{"alert": "alert-1", "priority": "high"}, gotBody)

	assert.Equal(t, http.StatusOK, output["status_code"])
	body, ok := output["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "malicious", body["verdict"])
}

func TestCapability_Invoke_PlainTextBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("quarantined"))
	}))
	defer server.Close()

	capability, err := httprequest.NewCapability(map[string]any{
		"host":     serverHost(t, server),
		"protocol": "http",
	}, server.Client(), slog.Default())
	require.NoError(t, err)

	output, err := capability.Invoke(t.Context(), newRunContext())
	require.NoError(t, err)
	assert.Equal(t, "quarantined", output["body"])
}

func TestCapability_Invoke_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		transient bool
		sentinel  error
	}{
		{name: "server error", status: http.StatusBadGateway, transient: true, sentinel: httprequest.ErrHTTPServerError},
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true, sentinel: httprequest.ErrHTTPServerError},
		{name: "not found", status: http.StatusNotFound, transient: false, sentinel: httprequest.ErrHTTPClientError},
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false, sentinel: httprequest.ErrHTTPClientError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			capability, err := httprequest.NewCapability(map[string]any{
				"host":     serverHost(t, server),
				"protocol": "http",
			}, server.Client(), slog.Default())
			require.NoError(t, err)

			_, err = capability.Invoke(t.Context(), newRunContext())
			require.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.transient, protocol.IsTransient(err))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCapability_Invoke_UnreachableIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	host := serverHost(t, server)
	server.Close()

	capability, err := httprequest.NewCapability(map[string]any{
		"host":     host,
		"protocol": "http",
	}, http.DefaultClient, slog.Default())
	require.NoError(t, err)

	_, err = capability.Invoke(t.Context(), newRunContext())
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))
}

func TestCapabilityFactory(t *testing.T) {
	t.Parallel()

	factory := httprequest.NewCapabilityFactory(slog.Default())
	assert.Equal(t, "http", factory.ID())
	assert.NotEmpty(t, factory.Description())

	capability, err := factory.Create(t.Context(), map[string]any{"host": "ti.example.com"})
	require.NoError(t, err)
	assert.NotNil(t, capability)

	_, err = factory.Create(t.Context(), map[string]any{})
	require.ErrorIs(t, err, httprequest.ErrHTTPRequestHostInvalid)
}
