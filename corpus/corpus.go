// Package corpus loads the use case definitions the engine works on. Each
// YAML file describes one use case and its canonical requirements; files are
// discovered with glob patterns and validated against an embedded JSON
// schema before they are decoded.
package corpus

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semreq/requirement"
)

// DefaultPatterns is used when no corpus pattern is configured.
var DefaultPatterns = []string{"corpus/**/*.yaml", "corpus/**/*.yml"}

var (
	// ErrInvalid is returned for a file that fails schema validation or decoding.
	ErrInvalid = errors.New("invalid use case file")
	// ErrDuplicate is returned when two files define the same use case id.
	ErrDuplicate = errors.New("duplicate use case")
)

// UseCase is one use case definition read from the corpus.
type UseCase struct {
	ID           string                    `yaml:"id" json:"id"`
	Name         string                    `yaml:"name" json:"name"`
	Owner        string                    `yaml:"owner" json:"owner,omitempty"`
	Description  string                    `yaml:"description" json:"description,omitempty"`
	Regulation   string                    `yaml:"regulation" json:"regulation,omitempty"`
	Stages       []string                  `yaml:"stages" json:"stages,omitempty"`
	Requirements []requirement.Requirement `yaml:"requirements" json:"requirements"`

	// Path is the file the use case was read from.
	Path string `yaml:"-" json:"path,omitempty"`
}

// TermLabels returns the trimmed, non-blank term labels of the use case.
func (u UseCase) TermLabels() []string {
	out := make([]string, 0, len(u.Requirements))
	for _, r := range u.Requirements {
		if label := strings.TrimSpace(r.TermLabel); label != "" {
			out = append(out, label)
		}
	}
	return out
}

// Corpus is an immutable set of use cases ordered by id.
type Corpus struct {
	useCases []UseCase
	byID     map[string]int
}

// New builds a corpus, rejecting duplicate ids.
func New(useCases ...UseCase) (*Corpus, error) {
	sorted := make([]UseCase, len(useCases))
	copy(sorted, useCases)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &Corpus{useCases: sorted, byID: make(map[string]int, len(sorted))}
	for i, uc := range sorted {
		if prev, ok := c.byID[uc.ID]; ok {
			return nil, fmt.Errorf("%w: %q in %s and %s", ErrDuplicate, uc.ID, sorted[prev].Path, uc.Path)
		}
		c.byID[uc.ID] = i
	}
	return c, nil
}

// Len returns the number of use cases.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.useCases)
}

// IDs returns the use case ids in order.
func (c *Corpus) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.useCases))
	for i, uc := range c.useCases {
		ids[i] = uc.ID
	}
	return ids
}

// Get returns the use case with the given id.
func (c *Corpus) Get(id string) (UseCase, bool) {
	if c == nil {
		return UseCase{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return UseCase{}, false
	}
	return c.useCases[i], true
}

// UseCases returns all use cases in order.
func (c *Corpus) UseCases() []UseCase {
	if c == nil {
		return nil
	}
	out := make([]UseCase, len(c.useCases))
	copy(out, c.useCases)
	return out
}

// Loader discovers and parses corpus files.
type Loader struct {
	baseDir  string
	patterns []string
	schema   *Validator
	logger   *slog.Logger
}

// NewLoader creates a loader resolving patterns relative to baseDir.
func NewLoader(baseDir string, patterns []string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{baseDir: baseDir, patterns: patterns, schema: v, logger: logger}, nil
}

// BaseDir returns the directory patterns are resolved against.
func (l *Loader) BaseDir() string {
	return l.baseDir
}

// Files resolves the patterns to a sorted, de-duplicated list of files.
func (l *Loader) Files() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range l.patterns {
		abs := pattern
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(l.baseDir, pattern)
		}
		matches, err := doublestar.FilepathGlob(abs)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Load reads every corpus file. The first invalid file fails the load so a
// broken edit never replaces a good corpus.
func (l *Loader) Load() (*Corpus, error) {
	files, err := l.Files()
	if err != nil {
		return nil, err
	}

	useCases := make([]UseCase, 0, len(files))
	for _, path := range files {
		uc, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		useCases = append(useCases, uc)
	}

	c, err := New(useCases...)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Corpus loaded",
		"base_dir", l.baseDir,
		"files", len(files),
		"use_cases", c.Len())
	return c, nil
}

// LoadFile reads and parses a single use case file.
func (l *Loader) LoadFile(path string) (UseCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UseCase{}, fmt.Errorf("read %s: %w", path, err)
	}
	uc, err := l.Parse(data)
	if err != nil {
		return UseCase{}, fmt.Errorf("%s: %w", path, err)
	}
	uc.Path = path
	return uc, nil
}

// Parse validates and decodes one use case document.
func (l *Loader) Parse(data []byte) (UseCase, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return UseCase{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := l.schema.Validate(raw); err != nil {
		return UseCase{}, err
	}

	var uc UseCase
	if err := yaml.Unmarshal(data, &uc); err != nil {
		return UseCase{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if uc.Name == "" {
		uc.Name = uc.ID
	}
	for i := range uc.Requirements {
		r := &uc.Requirements[i]
		if r.Source == "" {
			r.Source = requirement.SourceDerived
		}
		if err := r.Validate(); err != nil {
			return UseCase{}, fmt.Errorf("%w: requirement %d: %v", ErrInvalid, i, err)
		}
	}
	return uc, nil
}
