package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/semreq/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func writeCompletion(w http.ResponseWriter, content string) {
	resp := map[string]any{
		"id":    "chatcmpl-123",
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Equal(t, float64(256), body["max_tokens"])

		writeCompletion(w, "Hello")
	}))
	defer server.Close()

	client := llm.NewClient(llm.Endpoint{URL: server.URL + "/v1/", Model: "test-model", APIKey: "secret", MaxTokens: 256})
	resp, err := client.Complete(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})

	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, 1, resp.Attempts)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClient_Complete_RetryOnTransientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("overloaded"))
			return
		}
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	client := llm.NewClient(llm.Endpoint{URL: server.URL, Model: "m"}, llm.WithRetryConfig(fastRetry()))
	resp, err := client.Complete(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Complete_NoRetryOnFatalError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	client := llm.NewClient(llm.Endpoint{URL: server.URL, Model: "m"}, llm.WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Complete_RateLimitRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := llm.NewClient(llm.Endpoint{URL: server.URL, Model: "m"}, llm.WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Complete_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := llm.NewClient(llm.Endpoint{URL: server.URL, Model: "m"}, llm.WithRetryConfig(fastRetry()))
	_, err := client.Complete(ctx, []llm.Message{{Role: "user", Content: "Hi"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Complete_ValidationErrors(t *testing.T) {
	client := llm.NewClient(llm.Endpoint{Model: "m"})
	_, err := client.Complete(context.Background(), nil)
	assert.Error(t, err)
}

func TestClient_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer server.Close()

	client := llm.NewClient(llm.Endpoint{URL: server.URL, Model: "m"}, llm.WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), []llm.Message{{Role: "user", Content: "Hi"}})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}
