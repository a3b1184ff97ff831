package audit

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

type credentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Nested   struct {
		Token string `json:"token"`
		Scope string `json:"scope"`
	} `json:"nested"`
}

func TestRedactor_Redact(t *testing.T) {
	r := NewRedactor()

	creds := credentials{User: "svc", Password: "hunter2"}
	creds.Nested.Token = "t-1"
	creds.Nested.Scope = "read"

	tests := []struct {
		name     string
		input    any
		expected any
	}{
		{name: "nil", input: nil, expected: nil},
		{name: "scalar", input: "plain", expected: "plain"},
		{
			name:     "case insensitive keys",
			input:    map[string]any{"PASSWORD": "x", "X-Api-Key": "y", "host": "h"},
			expected: map[string]any{"PASSWORD": Marker, "X-Api-Key": Marker, "host": "h"},
		},
		{
			name: "compound keys",
			input: map[string]any{
				"db_password":   "hunter2",
				"access_token":  "abc",
				"client_secret": "s",
				"X-Auth-Token":  "t",
				"Password":      "p",
				"username":      "svc",
			},
			expected: map[string]any{
				"db_password":   Marker,
				"access_token":  Marker,
				"client_secret": Marker,
				"X-Auth-Token":  Marker,
				"Password":      Marker,
				"username":      "svc",
			},
		},
		{
			name:     "nested slices",
			input:    map[string]any{"hosts": []any{map[string]any{"name": "a", "secret": "s"}}},
			expected: map[string]any{"hosts": []any{map[string]any{"name": "a", "secret": Marker}}},
		},
		{
			name:  "struct",
			input: creds,
			expected: map[string]any{
				"user":     "svc",
				"password": Marker,
				"nested":   map[string]any{"token": Marker, "scope": "read"},
			},
		},
		{
			name:     "typed map",
			input:    map[string]string{"cookie": "c", "path": "/"},
			expected: map[string]any{"cookie": Marker, "path": "/"},
		},
		{
			name:     "whole subtree under sensitive key",
			input:    map[string]any{"credential": map[string]any{"user": "u"}},
			expected: map[string]any{"credential": Marker},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Redact(tt.input))
		})
	}
}

func TestRedactor_CustomKeys(t *testing.T) {
	r := NewRedactor("ssn")

	assert.True(t, r.Sensitive("SSN"))
	assert.True(t, r.Sensitive("customer_ssn"))
	assert.False(t, r.Sensitive("password"))
	assert.Equal(t, map[string]any{"ssn": Marker, "password": "p"}, r.Redact(map[string]any{"ssn": "1", "password": "p"}))
}

func TestRedactor_DoesNotMutateInput(t *testing.T) {
	input := map[string]any{"token": "t", "inner": map[string]any{"secret": "s"}}

	_ = NewRedactor().Redact(input)

	assert.Equal(t, "t", input["token"])
	assert.Equal(t, "s", input["inner"].(map[string]any)["secret"])
}

func TestRedactor_SensitiveKeyAtAnyDepth(t *testing.T) {
	r := NewRedactor()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sensitive values are masked and siblings kept", prop.ForAll(
		func(path []string, key string, upper bool, secret, sibling string) bool {
			if upper {
				key = strings.ToUpper(key)
			}

			var node any = map[string]any{key: secret, "note": sibling}
			for i := len(path) - 1; i >= 0; i-- {
				node = map[string]any{"lvl_" + path[i]: node, "note": sibling}
			}

			current, ok := r.Redact(node).(map[string]any)
			if !ok {
				return false
			}

			for _, segment := range path {
				if current["note"] != sibling {
					return false
				}

				current, ok = current["lvl_"+segment].(map[string]any)
				if !ok {
					return false
				}
			}

			return current[key] == Marker && current["note"] == sibling
		},
		gen.SliceOf(gen.NumString()),
		gen.OneConstOf("password", "token", "api_key", "secret", "authorization", "cookie",
			"db_password", "access_token", "client_secret", "x-api-key"),
		gen.Bool(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
