package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int // number of top-level elements or keys
		wantErr bool
	}{
		{
			name:    "plain array",
			input:   `[{"dimension": "Timeliness", "value": "T+1"}]`,
			wantLen: 1,
		},
		{
			name:    "plain object",
			input:   `{"Timeliness": {"value": "T+1"}, "Accuracy": {"value": "± 0.1%"}}`,
			wantLen: 2,
		},
		{
			name:    "markdown code block",
			input:   "```json\n[{\"dimension\": \"Completeness\", \"value\": \"≥ 99.5%\"}]\n```",
			wantLen: 1,
		},
		{
			name:    "code block with trailing prose",
			input:   "```json\n[{\"dimension\": \"Completeness\", \"value\": \"≥ 99.5%\"}]\n```\n\n**Note:** values assume daily batches.",
			wantLen: 1,
		},
		{
			name:    "leading prose without fence",
			input:   "Suggested thresholds: [{\"dimension\": \"Validity\", \"value\": \"ISO 4217\"}] Let me know.",
			wantLen: 1,
		},
		{
			name: "comments and trailing commas",
			input: "```json\n[\n" +
				"  {\"dimension\": \"Completeness\", \"value\": \"≥ 99.9%\"}, // CDE\n" +
				"  {\"dimension\": \"Timeliness\", \"value\": \"T+0\"},  // intraday\n" +
				"]\n```",
			wantLen: 2,
		},
		{
			name:    "URL in string not stripped",
			input:   `{"Validity": {"value": "see http://example.com/rules"}}`,
			wantLen: 1,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "I cannot suggest thresholds for this term.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				if result != "" {
					t.Errorf("expected empty result, got: %s", result)
				}
				return
			}
			if result == "" {
				t.Fatal("expected JSON result, got empty string")
			}

			var parsed any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("result is not valid JSON: %v\nresult: %s", err, result)
			}

			n := 0
			switch v := parsed.(type) {
			case []any:
				n = len(v)
			case map[string]any:
				n = len(v)
			}
			if n != tt.wantLen {
				t.Errorf("expected %d elements, got %d\nresult: %s", tt.wantLen, n, result)
			}
		})
	}
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no comment",
			input:    `  "value": "T+1",`,
			expected: `  "value": "T+1",`,
		},
		{
			name:     "trailing comment",
			input:    `  "value": "T+1",  // next business day`,
			expected: `  "value": "T+1",`,
		},
		{
			name:     "URL in string preserved",
			input:    `  "rationale": "http://example.com",`,
			expected: `  "rationale": "http://example.com",`,
		},
		{
			name:     "whole line comment",
			input:    `  // strict for CDEs`,
			expected: ``,
		},
		{
			name:     "escaped quote in string",
			input:    `  "value": "a\"b//c",  // comment`,
			expected: `  "value": "a\"b//c",`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripLineComment(tt.input)
			if got != tt.expected {
				t.Errorf("stripLineComment(%q)\ngot:  %q\nwant: %q", tt.input, got, tt.expected)
			}
		})
	}
}
