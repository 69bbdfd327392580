package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/c360studio/semreq/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_BuildURL(t *testing.T) {
	p := &AnthropicProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "empty uses default",
			baseURL: "",
			want:    "https://api.anthropic.com/v1/messages",
		},
		{
			name:    "custom base URL",
			baseURL: "https://custom.api.com",
			want:    "https://custom.api.com/v1/messages",
		},
		{
			name:    "trailing slash handled",
			baseURL: "https://api.anthropic.com/",
			want:    "https://api.anthropic.com/v1/messages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.BuildURL(tt.baseURL))
		})
	}
}

func TestAnthropicProvider_BuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	messages := []llm.Message{
		{Role: "system", Content: "You are a data quality analyst."},
		{Role: "user", Content: "Suggest thresholds for Exposure at Default."},
	}

	temp := 0.0
	body, err := p.BuildRequestBody("claude-sonnet", messages, &temp, 0)
	require.NoError(t, err)

	var req anthropicRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "You are a data quality analyst.", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, defaultMaxTokens, req.MaxTokens)

	// Temperature should be present even when 0 (deterministic)
	assert.Contains(t, string(body), `"temperature":0`)
}

func TestAnthropicProvider_ParseResponse(t *testing.T) {
	p := &AnthropicProvider{}

	resp, err := p.ParseResponse([]byte(`{
		"content": [
			{"type": "text", "text": "[{\"dimension\": \"Timeliness\", "},
			{"type": "text", "text": "\"value\": \"T+1\"}]"}
		],
		"model": "claude-sonnet-20250101",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 15, "output_tokens": 8}
	}`))
	require.NoError(t, err)

	assert.Equal(t, `[{"dimension": "Timeliness", "value": "T+1"}]`, resp.Content)
	assert.Equal(t, "claude-sonnet-20250101", resp.Model)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 23, resp.Usage.TotalTokens)

	_, err = p.ParseResponse([]byte(`not json`))
	assert.Error(t, err)
}

func TestAnthropicProvider_Registered(t *testing.T) {
	assert.Contains(t, llm.ListProviders(), "anthropic")
}

func TestClientWithAnthropicProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"system"`)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"model":"claude","stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client := llm.NewClient(llm.Endpoint{Provider: "anthropic", URL: server.URL, Model: "claude", APIKey: "secret"})
	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "Hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}
