// Package main implements an OpenAI-compatible chat server that answers
// threshold suggestion prompts from JSON fixture files. Point the http oracle
// at it to run suggestion flows offline and deterministically.
//
// Usage:
//
//	mock-oracle -fixtures ./fixtures -port 11434
//
// Fixture layout, relative to the fixture directory:
//
//	<model>.json           reply for every call to <model>
//	<model>.<n>.json       reply for the nth call to <model>; <model>.json
//	                       becomes the fallback once the sequence runs out
//	<model>/<term>.json    reply when the prompt's term slug matches <term>
//
// Term fixtures win over the per-model sequence.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semreq/llm"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []chatChoice   `json:"choices"`
	Usage   llm.TokenUsage `json:"usage"`
}

// fixtureSet holds the replies for one model.
type fixtureSet struct {
	sequence []string
	byTerm   map[string]string
}

// capturedCall is one served prompt, kept for assertions.
type capturedCall struct {
	Model     string `json:"model"`
	Term      string `json:"term,omitempty"`
	Prompt    string `json:"prompt"`
	CallIndex int    `json:"call_index"`
}

type server struct {
	fixtures map[string]*fixtureSet
	logger   *slog.Logger
	calls    atomic.Int64

	mu         sync.Mutex
	modelCalls map[string]int
	captured   []capturedCall
}

func newServer(fixtures map[string]*fixtureSet, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures:   fixtures,
		logger:     logger,
		modelCalls: make(map[string]int),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /calls", s.handleCalls)
	return mux
}

func main() {
	fixtureDir := flag.String("fixtures", os.Getenv("MOCK_ORACLE_FIXTURES"), "directory containing fixture files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *fixtureDir == "" {
		*fixtureDir = "fixtures"
	}

	fixtures, err := loadFixtures(os.DirFS(*fixtureDir))
	if err != nil {
		logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	for model, set := range fixtures {
		logger.Info("Loaded fixtures", "model", model, "sequence", len(set.sequence), "terms", len(set.byTerm))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           newServer(fixtures, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Mock oracle listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	set, ok := s.fixtures[req.Model]
	if !ok {
		set, ok = s.fixtures[strings.TrimPrefix(req.Model, "mock-")]
	}
	if !ok {
		s.logger.Warn("No fixture for model", "call", callNum, "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	prompt := lastUserPrompt(req.Messages)
	term := termSlug(prompt)

	s.mu.Lock()
	callIndex := s.modelCalls[req.Model]
	s.modelCalls[req.Model] = callIndex + 1
	s.captured = append(s.captured, capturedCall{
		Model:     req.Model,
		Term:      term,
		Prompt:    prompt,
		CallIndex: callIndex + 1,
	})
	s.mu.Unlock()

	content, ok := set.byTerm[term]
	switch {
	case ok:
	case len(set.sequence) == 0:
		http.Error(w, fmt.Sprintf("no fixture for term %q of model %q", term, req.Model), http.StatusNotFound)
		return
	case callIndex < len(set.sequence):
		content = set.sequence[callIndex]
	default:
		content = set.sequence[len(set.sequence)-1]
	}

	s.logger.Debug("Served fixture", "call", callNum, "model", req.Model, "term", term, "bytes", len(content))
	writeJSON(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", callNum),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      llm.Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: llm.TokenUsage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(prompt) + len(content)) / 4,
		},
	})
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	models := make([]modelEntry, 0, len(s.fixtures))
	for name := range s.fixtures {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-oracle"})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	writeJSON(w, map[string]any{"object": "list", "data": models})
}

// handleCalls returns captured prompts, optionally filtered by ?model= and ?term=.
func (s *server) handleCalls(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	term := r.URL.Query().Get("term")

	s.mu.Lock()
	out := make([]capturedCall, 0, len(s.captured))
	for _, c := range s.captured {
		if (model == "" || c.Model == model) && (term == "" || c.Term == term) {
			out = append(out, c)
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"total_calls": s.calls.Load(), "calls": out})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func lastUserPrompt(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// termSlug extracts the "Term:" line of a suggestion prompt as a file-safe slug.
func termSlug(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if label, ok := strings.CutPrefix(line, "Term:"); ok {
			return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(label), "-"), "-")
		}
	}
	return ""
}

var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads every *.json under fsys. Numbered files come first in
// numeric order, the base file is the final fallback.
func loadFixtures(fsys fs.FS) (map[string]*fixtureSet, error) {
	matches, err := doublestar.Glob(fsys, "**/*.json")
	if err != nil {
		return nil, fmt.Errorf("glob fixtures: %w", err)
	}

	base := make(map[string]string)
	numbered := make(map[string]map[int]string)
	fixtures := make(map[string]*fixtureSet)
	get := func(model string) *fixtureSet {
		if fixtures[model] == nil {
			fixtures[model] = &fixtureSet{byTerm: make(map[string]string)}
		}
		return fixtures[model]
	}

	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("invalid JSON in %s", name)
		}

		dir, file := path.Split(name)
		if dir != "" {
			model := strings.TrimSuffix(dir, "/")
			get(model).byTerm[strings.TrimSuffix(file, ".json")] = string(data)
			continue
		}
		if m := numberedFileRe.FindStringSubmatch(file); m != nil {
			idx, _ := strconv.Atoi(m[2])
			if numbered[m[1]] == nil {
				numbered[m[1]] = make(map[int]string)
			}
			numbered[m[1]][idx] = string(data)
			get(m[1])
			continue
		}
		model := strings.TrimSuffix(file, ".json")
		base[model] = string(data)
		get(model)
	}

	for model, set := range fixtures {
		indices := make([]int, 0, len(numbered[model]))
		for idx := range numbered[model] {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			set.sequence = append(set.sequence, numbered[model][idx])
		}
		if b, ok := base[model]; ok {
			set.sequence = append(set.sequence, b)
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found")
	}
	return fixtures, nil
}
