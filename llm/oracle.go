package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/semreq/quality"
)

const systemPrompt = `You are a data governance analyst. You propose data-quality thresholds for regulatory data requirements.
Answer with a JSON array only. Each element has the fields "dimension", "value" and "rationale".
Use the dimension names exactly as given. Keep values short, e.g. "≥ 99.5%" or "T+1 by 07:00 CET".`

// Completer sends a chat completion. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Oracle asks a chat model for thresholds. It implements quality.Oracle.
type Oracle struct {
	completer Completer
	name      string
}

// NewOracle creates an oracle over a completer. The name is recorded as
// SuggestedBy on applied thresholds.
func NewOracle(completer Completer, name string) *Oracle {
	if name == "" {
		name = "llm"
	}
	return &Oracle{completer: completer, name: name}
}

// Name identifies the oracle.
func (o *Oracle) Name() string {
	return o.name
}

// Suggest asks the model and parses its answer.
func (o *Oracle) Suggest(ctx context.Context, req quality.Request) ([]quality.Suggestion, error) {
	resp, err := o.completer.Complete(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildPrompt(req)},
	})
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(resp.Content, req.Dimensions)
}

// BuildPrompt renders the user prompt for one requirement.
func BuildPrompt(req quality.Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Term: %s\n", req.TermLabel)
	if req.Definition != "" {
		fmt.Fprintf(&sb, "Definition: %s\n", req.Definition)
	}
	fmt.Fprintf(&sb, "Domain: %s\n", req.Domain)
	if req.IsCDE {
		sb.WriteString("Critical data element: yes\n")
	} else {
		sb.WriteString("Critical data element: no\n")
	}
	fmt.Fprintf(&sb, "Dimensions: %s\n", strings.Join(req.Dimensions, ", "))
	return sb.String()
}

// ParseSuggestions reads a model reply. Both a JSON array of suggestions and
// an object keyed by dimension are accepted. Dimensions outside the requested
// set are dropped.
func ParseSuggestions(content string, dimensions []string) ([]quality.Suggestion, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, NewFatalError(fmt.Errorf("no JSON in model reply"))
	}

	var list []quality.Suggestion
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, NewFatalError(fmt.Errorf("parse suggestions: %w", err))
		}
	} else {
		var byDim map[string]struct {
			Value     string `json:"value"`
			Rationale string `json:"rationale"`
		}
		if err := json.Unmarshal([]byte(raw), &byDim); err != nil {
			return nil, NewFatalError(fmt.Errorf("parse suggestions: %w", err))
		}
		for _, dim := range dimensions {
			if v, ok := byDim[dim]; ok {
				list = append(list, quality.Suggestion{Dimension: dim, Value: v.Value, Rationale: v.Rationale})
			}
		}
	}

	wanted := make(map[string]bool, len(dimensions))
	for _, d := range dimensions {
		wanted[d] = true
	}
	out := make([]quality.Suggestion, 0, len(list))
	for _, s := range list {
		if wanted[s.Dimension] && strings.TrimSpace(s.Value) != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
