package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/semreq/quality"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	content  string
	err      error
	messages []Message
}

func (s *stubCompleter) Complete(_ context.Context, messages []Message) (*Response, error) {
	s.messages = messages
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.content}, nil
}

var dims = []string{quality.DimCompleteness, quality.DimTimeliness}

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []quality.Suggestion
		wantErr bool
	}{
		{
			name: "array in code fence",
			content: "Here you go:\n```json\n[\n" +
				`{"dimension": "Completeness", "value": "≥ 99.9%", "rationale": "CDE"}, // strict` + "\n" +
				`{"dimension": "Timeliness", "value": "T+1"},` + "\n" +
				"]\n```",
			want: []quality.Suggestion{
				{Dimension: "Completeness", Value: "≥ 99.9%", Rationale: "CDE"},
				{Dimension: "Timeliness", Value: "T+1"},
			},
		},
		{
			name:    "object keyed by dimension",
			content: `{"Timeliness": {"value": "T+0", "rationale": "intraday"}, "Completeness": {"value": ""}}`,
			want:    []quality.Suggestion{{Dimension: "Timeliness", Value: "T+0", Rationale: "intraday"}},
		},
		{
			name:    "unknown dimensions dropped",
			content: `[{"dimension": "Uniqueness", "value": "none"}]`,
			want:    []quality.Suggestion{},
		},
		{name: "no json", content: "I cannot help with that.", wantErr: true},
		{name: "broken json", content: `[{"dimension": }]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSuggestions(tt.content, dims)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOracle_Suggest(t *testing.T) {
	stub := &stubCompleter{content: `[{"dimension": "Timeliness", "value": "T+1 by 07:00 CET"}]`}
	o := NewOracle(stub, "")
	assert.Equal(t, "llm", o.Name())

	got, err := o.Suggest(context.Background(), quality.Request{
		TermLabel:  "stage transition date",
		Domain:     "Credits",
		IsCDE:      true,
		Dimensions: dims,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "T+1 by 07:00 CET", got[0].Value)

	require.Len(t, stub.messages, 2)
	assert.Equal(t, "system", stub.messages[0].Role)
	assert.Contains(t, stub.messages[1].Content, "Term: stage transition date")
	assert.Contains(t, stub.messages[1].Content, "Critical data element: yes")
	assert.Contains(t, stub.messages[1].Content, "Dimensions: Completeness, Timeliness")

	stub.err = errors.New("down")
	_, err = o.Suggest(context.Background(), quality.Request{Dimensions: dims})
	assert.Error(t, err)
}

type stubGenerator struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (s stubGenerator) GenerateContent(context.Context, ...genai.Part) (*genai.GenerateContentResponse, error) {
	return s.resp, s.err
}

func TestGeminiOracle_Suggest(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`[{"dimension": "Completeness",`),
				genai.Text(` "value": "≥ 99.5%"}]`),
			}},
		}},
	}
	o := &GeminiOracle{model: stubGenerator{resp: resp}, name: "gemini:test"}

	got, err := o.Suggest(context.Background(), quality.Request{Dimensions: dims})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "≥ 99.5%", got[0].Value)
	assert.NoError(t, o.Close())

	o.model = stubGenerator{err: errors.New("quota")}
	_, err = o.Suggest(context.Background(), quality.Request{Dimensions: dims})
	assert.True(t, IsTransient(err))
}

func TestNewGeminiOracle_RequiresKey(t *testing.T) {
	_, err := NewGeminiOracle(context.Background(), "", "gemini-1.5-flash")
	assert.True(t, IsFatal(err))
}

type countingOracle struct{ calls int }

func (c *countingOracle) Name() string { return "counting" }

func (c *countingOracle) Suggest(context.Context, quality.Request) ([]quality.Suggestion, error) {
	c.calls++
	return nil, nil
}

func TestRateLimited(t *testing.T) {
	next := &countingOracle{}
	r := NewRateLimited(next, 0.001, 1)
	assert.Equal(t, "counting", r.Name())

	_, err := r.Suggest(context.Background(), quality.Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Suggest(ctx, quality.Request{})
	assert.Error(t, err, "second call must wait longer than the deadline")
	assert.Equal(t, 1, next.calls)

	unlimited := NewRateLimited(next, 0, 0)
	for i := 0; i < 5; i++ {
		_, err := unlimited.Suggest(context.Background(), quality.Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, 6, next.calls)
}
