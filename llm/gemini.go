package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/semreq/quality"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// contentGenerator is the part of *genai.GenerativeModel the oracle uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiOracle asks a Gemini model for thresholds.
type GeminiOracle struct {
	client *genai.Client
	model  contentGenerator
	name   string
}

// NewGeminiOracle connects to the Gemini API with an API key.
func NewGeminiOracle(ctx context.Context, apiKey, modelName string) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, NewFatalError(fmt.Errorf("gemini API key is empty"))
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	model.ResponseMIMEType = "application/json"

	return &GeminiOracle{client: client, model: model, name: "gemini:" + modelName}, nil
}

// Name identifies the oracle.
func (o *GeminiOracle) Name() string {
	return o.name
}

// Suggest asks the model and parses its answer.
func (o *GeminiOracle) Suggest(ctx context.Context, req quality.Request) ([]quality.Suggestion, error) {
	resp, err := o.model.GenerateContent(ctx, genai.Text(BuildPrompt(req)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransientError(fmt.Errorf("gemini generate: %w", err))
	}
	return ParseSuggestions(responseText(resp), req.Dimensions)
}

// Close releases the client.
func (o *GeminiOracle) Close() error {
	if o.client == nil {
		return nil
	}
	return o.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return sb.String()
}
