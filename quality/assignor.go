package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semreq/requirement"
)

// RequirementSource is the read side of the record store the assignor needs.
type RequirementSource interface {
	Lookup(useCaseID, reqID string) (requirement.Requirement, error)
	RequirementRevision(useCaseID, reqID string) (uint64, error)
}

// OracleObserver is told about every oracle call.
type OracleObserver func(oracle string, elapsed time.Duration, err error)

type reqKey struct {
	useCaseID string
	reqID     string
}

type pending struct {
	gen    uint64
	cancel context.CancelFunc
}

// Assignor stores thresholds per requirement and dimension. Values that were
// never set are reported from the policy on read.
type Assignor struct {
	source   RequirementSource
	oracle   Oracle
	policy   *Policy
	timeout  time.Duration
	defaults []string
	clock    func() time.Time
	observer OracleObserver
	logger   *slog.Logger

	mu         sync.Mutex
	dimensions map[string][]string
	values     map[reqKey]map[string]Threshold
	inflight   map[reqKey]*pending
	gen        uint64
}

// Option configures an Assignor.
type Option func(*Assignor)

// WithOracle sets the suggestion oracle. Without one, Suggest fails with
// ErrOracleUnavailable.
func WithOracle(o Oracle) Option {
	return func(a *Assignor) {
		a.oracle = o
	}
}

// WithPolicy sets the default-value policy.
func WithPolicy(p *Policy) Option {
	return func(a *Assignor) {
		if p != nil {
			a.policy = p
		}
	}
}

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) Option {
	return func(a *Assignor) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithDefaultDimensions sets the dimensions a use case starts with.
func WithDefaultDimensions(dims []string) Option {
	return func(a *Assignor) {
		if len(dims) > 0 {
			a.defaults = append([]string(nil), dims...)
		}
	}
}

// WithOracleObserver sets a callback run after every oracle call.
func WithOracleObserver(o OracleObserver) Option {
	return func(a *Assignor) {
		a.observer = o
	}
}

// WithClock sets the time source for UpdatedAt.
func WithClock(clock func() time.Time) Option {
	return func(a *Assignor) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assignor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssignor creates an assignor reading requirements from source.
func NewAssignor(source RequirementSource, opts ...Option) *Assignor {
	a := &Assignor{
		source:     source,
		policy:     &Policy{},
		timeout:    30 * time.Second,
		defaults:   append([]string(nil), DefaultDimensions...),
		clock:      time.Now,
		logger:     slog.Default(),
		dimensions: make(map[string][]string),
		values:     make(map[reqKey]map[string]Threshold),
		inflight:   make(map[reqKey]*pending),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OracleName returns the configured oracle's name, or "" without one.
func (a *Assignor) OracleName() string {
	if a.oracle == nil {
		return ""
	}
	return a.oracle.Name()
}

// Dimensions returns the active dimensions of a use case.
func (a *Assignor) Dimensions(useCaseID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.dims(useCaseID)...)
}

// AddDimension appends a dimension. The name is trimmed; empty or duplicate
// names are rejected.
func (a *Assignor) AddDimension(useCaseID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidDimension)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dims := a.dims(useCaseID)
	if indexOf(dims, name) >= 0 {
		return fmt.Errorf("%w: %q already exists", ErrInvalidDimension, name)
	}
	a.dimensions[useCaseID] = append(append([]string(nil), dims...), name)
	return nil
}

// RenameDimension renames a dimension in place. Values stored under the old
// name are dropped for every requirement of the use case.
func (a *Assignor) RenameDimension(useCaseID, from, to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidDimension)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dims := a.dims(useCaseID)
	i := indexOf(dims, from)
	if i < 0 {
		return fmt.Errorf("%w: %q is not a dimension", ErrInvalidDimension, from)
	}
	if from == to {
		return nil
	}
	if indexOf(dims, to) >= 0 {
		return fmt.Errorf("%w: %q already exists", ErrInvalidDimension, to)
	}

	renamed := append([]string(nil), dims...)
	renamed[i] = to
	a.dimensions[useCaseID] = renamed
	a.dropDimension(useCaseID, from)
	return nil
}

// RemoveDimension removes a dimension and its values.
func (a *Assignor) RemoveDimension(useCaseID, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dims := a.dims(useCaseID)
	i := indexOf(dims, name)
	if i < 0 {
		return fmt.Errorf("%w: %q is not a dimension", ErrInvalidDimension, name)
	}

	kept := make([]string, 0, len(dims)-1)
	kept = append(kept, dims[:i]...)
	kept = append(kept, dims[i+1:]...)
	a.dimensions[useCaseID] = kept
	a.dropDimension(useCaseID, name)
	return nil
}

// Get returns the thresholds of a requirement in dimension order. Missing
// values are filled from the policy using the requirement's current CDE flag
// and domain.
func (a *Assignor) Get(useCaseID, reqID string) ([]Threshold, error) {
	r, err := a.source.Lookup(useCaseID, reqID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(useCaseID, r), nil
}

// Set overwrites one value. A pending suggestion for the requirement is
// cancelled so it cannot overwrite the value on arrival.
func (a *Assignor) Set(useCaseID, reqID, dimension, value string) (Threshold, error) {
	if _, err := a.source.Lookup(useCaseID, reqID); err != nil {
		return Threshold{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if indexOf(a.dims(useCaseID), dimension) < 0 {
		return Threshold{}, fmt.Errorf("%w: %q is not a dimension", ErrInvalidDimension, dimension)
	}

	k := reqKey{useCaseID, reqID}
	a.supersede(k)

	t := Threshold{RequirementID: reqID, Dimension: dimension, Value: value, UpdatedAt: a.clock()}
	a.store(k, t)
	return t, nil
}

// Suggest asks the oracle for all current dimensions of a requirement and
// applies the answer in one batch. A newer Suggest or Set for the same
// requirement cancels this one. The answer is discarded if the requirement
// changed while the oracle was working. Dimensions the oracle did not answer
// keep their values.
func (a *Assignor) Suggest(ctx context.Context, useCaseID, reqID string) (SuggestResult, error) {
	r, err := a.source.Lookup(useCaseID, reqID)
	if err != nil {
		return SuggestResult{}, err
	}
	rev, err := a.source.RequirementRevision(useCaseID, reqID)
	if err != nil {
		return SuggestResult{}, err
	}
	if a.oracle == nil {
		return SuggestResult{}, fmt.Errorf("%w: no oracle configured", ErrOracleUnavailable)
	}

	k := reqKey{useCaseID, reqID}
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.Lock()
	a.supersede(k)
	a.gen++
	gen := a.gen
	a.inflight[k] = &pending{gen: gen, cancel: cancel}
	req := Request{
		UseCaseID:     useCaseID,
		RequirementID: reqID,
		TermLabel:     r.TermLabel,
		Definition:    r.Definition,
		Domain:        r.Domain,
		IsCDE:         r.IsCDE,
		Dimensions:    append([]string(nil), a.dims(useCaseID)...),
	}
	a.mu.Unlock()

	start := time.Now()
	suggestions, callErr := a.oracle.Suggest(callCtx, req)
	if a.observer != nil {
		a.observer(a.oracle.Name(), time.Since(start), callErr)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.inflight[k]
	if !ok || cur.gen != gen {
		return SuggestResult{}, fmt.Errorf("%w: requirement %s in use case %s", ErrSuperseded, reqID, useCaseID)
	}
	delete(a.inflight, k)

	if callErr != nil {
		a.logger.Warn("Threshold suggestion failed",
			"use_case", useCaseID,
			"requirement", reqID,
			"oracle", a.oracle.Name(),
			"error", callErr)
		return SuggestResult{}, fmt.Errorf("%w: %w", ErrOracleUnavailable, callErr)
	}

	nowRev, err := a.source.RequirementRevision(useCaseID, reqID)
	if err != nil {
		return SuggestResult{}, fmt.Errorf("%w: %w", ErrStale, err)
	}
	if nowRev != rev {
		return SuggestResult{}, fmt.Errorf("%w: requirement %s in use case %s", ErrStale, reqID, useCaseID)
	}

	byDim := make(map[string]Suggestion, len(suggestions))
	for _, s := range suggestions {
		if strings.TrimSpace(s.Value) != "" {
			byDim[s.Dimension] = s
		}
	}

	now := a.clock()
	result := SuggestResult{Oracle: a.oracle.Name(), Applied: []string{}}
	for _, dim := range a.dims(useCaseID) {
		s, ok := byDim[dim]
		if !ok {
			continue
		}
		a.store(k, Threshold{
			RequirementID: reqID,
			Dimension:     dim,
			Value:         s.Value,
			SuggestedBy:   a.oracle.Name(),
			Rationale:     s.Rationale,
			UpdatedAt:     now,
		})
		result.Applied = append(result.Applied, dim)
	}

	// The requirement is re-read for defaults of dimensions left unanswered.
	if latest, err := a.source.Lookup(useCaseID, reqID); err == nil {
		r = latest
	}
	result.Thresholds = a.snapshot(useCaseID, r)

	a.logger.Debug("Threshold suggestion applied",
		"use_case", useCaseID,
		"requirement", reqID,
		"oracle", result.Oracle,
		"dimensions", len(result.Applied))
	return result, nil
}

// SuggestAll runs Suggest for each requirement with at most workers calls in
// flight. Outcomes keep the order of reqIDs.
func (a *Assignor) SuggestAll(ctx context.Context, useCaseID string, reqIDs []string, workers int) []BatchOutcome {
	if workers < 1 {
		workers = 1
	}
	out := make([]BatchOutcome, len(reqIDs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, id := range reqIDs {
		out[i].RequirementID = id
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out[i].Err = fmt.Errorf("%w: %w", ErrOracleUnavailable, ctx.Err())
				return
			}
			defer func() { <-sem }()

			res, err := a.Suggest(ctx, useCaseID, id)
			out[i].Applied = res.Applied
			out[i].Err = err
		}(i, id)
	}
	wg.Wait()
	return out
}

// IsDegraded reports whether err is a suggestion failure that leaves the
// thresholds untouched and can be shown as "no suggestion available".
func IsDegraded(err error) bool {
	return errors.Is(err, ErrOracleUnavailable) ||
		errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrStale)
}

// Forget drops the values of a deleted requirement and cancels its pending
// suggestion, so a later requirement never sees them.
func (a *Assignor) Forget(useCaseID, reqID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := reqKey{useCaseID, reqID}
	a.supersede(k)
	delete(a.values, k)
}

// dims returns the dimensions of a use case. Callers hold a.mu.
func (a *Assignor) dims(useCaseID string) []string {
	if d, ok := a.dimensions[useCaseID]; ok {
		return d
	}
	return a.defaults
}

// supersede cancels a pending suggestion. Callers hold a.mu.
func (a *Assignor) supersede(k reqKey) {
	if p, ok := a.inflight[k]; ok {
		p.cancel()
		delete(a.inflight, k)
	}
}

// store records a value. Callers hold a.mu.
func (a *Assignor) store(k reqKey, t Threshold) {
	m, ok := a.values[k]
	if !ok {
		m = make(map[string]Threshold)
		a.values[k] = m
	}
	m[t.Dimension] = t
}

// dropDimension removes a dimension's values across a use case. Callers hold a.mu.
func (a *Assignor) dropDimension(useCaseID, dim string) {
	for k, m := range a.values {
		if k.useCaseID == useCaseID {
			delete(m, dim)
		}
	}
}

// snapshot builds the ordered threshold list. Callers hold a.mu.
func (a *Assignor) snapshot(useCaseID string, r requirement.Requirement) []Threshold {
	stored := a.values[reqKey{useCaseID, r.ID}]
	dims := a.dims(useCaseID)
	out := make([]Threshold, 0, len(dims))
	for _, dim := range dims {
		if t, ok := stored[dim]; ok {
			out = append(out, t)
			continue
		}
		out = append(out, Threshold{
			RequirementID: r.ID,
			Dimension:     dim,
			Value:         a.policy.Default(r.IsCDE, r.Domain, dim),
			Default:       true,
		})
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
