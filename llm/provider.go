package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Provider is the wire format of a chat completions API.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// BuildURL constructs the full API endpoint URL. An empty base uses the
	// provider's public endpoint.
	BuildURL(baseURL string) string

	// SetHeaders adds authentication and provider-specific headers.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody creates the JSON request body. temperature nil uses
	// the provider default; maxTokens 0 uses the provider default.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the reply from a provider-specific body.
	ParseResponse(body []byte) (*Response, error)
}

// Built-in provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

var (
	providerRegistry = map[string]Provider{
		ProviderOpenAI: &CompatProvider{name: ProviderOpenAI, defaultURL: "https://api.openai.com/v1"},
		ProviderOllama: &CompatProvider{name: ProviderOllama, defaultURL: "http://localhost:11434/v1"},
	}
	providerMu sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name; empty means openai.
func GetProvider(name string) Provider {
	if name == "" {
		name = ProviderOpenAI
	}
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names, sorted.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompatProvider is the OpenAI chat completions format, also served by
// Ollama, vLLM and OpenRouter.
type CompatProvider struct {
	name       string
	defaultURL string
}

// Name returns the provider identifier.
func (p *CompatProvider) Name() string {
	return p.name
}

// BuildURL constructs the chat completions endpoint.
func (p *CompatProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = p.defaultURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders sets the bearer token when a key is configured.
func (p *CompatProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

// BuildRequestBody creates the chat completions request body.
func (p *CompatProvider) BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error) {
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}
	return json.Marshal(req)
}

// ParseResponse extracts the first choice.
func (p *CompatProvider) ParseResponse(body []byte) (*Response, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &Response{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		Usage:        parsed.Usage,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}
