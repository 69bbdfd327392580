// Package engine is the single entry point the presentation layer talks to.
// It owns the record store, the two governance boards, the quality assignor
// and the shared-term cache, and keeps them consistent: loading a use case
// opens governance items for its new requirements, the boards guard deletes,
// and every write invalidates the derived views.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semreq/corpus"
	"github.com/c360studio/semreq/dependency"
	"github.com/c360studio/semreq/events"
	"github.com/c360studio/semreq/export"
	"github.com/c360studio/semreq/quality"
	"github.com/c360studio/semreq/requirement"
	"github.com/c360studio/semreq/stats"
	"github.com/c360studio/semreq/workflow"
)

var (
	// ErrUnknownRegister is returned for a register other than lexicon or model.
	ErrUnknownRegister = errors.New("unknown governance register")
	// ErrNoCorpusLoader is returned by ReloadCorpus when no loader is configured.
	ErrNoCorpusLoader = errors.New("no corpus loader configured")
)

// CorpusLoader produces a fresh corpus.
type CorpusLoader interface {
	Load() (*corpus.Corpus, error)
}

type settings struct {
	logger        *slog.Logger
	loader        CorpusLoader
	publisher     events.Publisher
	oracle        quality.Oracle
	policy        *quality.Policy
	dimensions    []string
	timeout       time.Duration
	workers       int
	lexApprover   string
	modelApprover string
	rejectReason  string
	metrics       *Metrics
	clock         func() time.Time
}

// Option configures an Engine.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCorpusLoader sets the loader used by ReloadCorpus.
func WithCorpusLoader(l CorpusLoader) Option {
	return func(s *settings) {
		s.loader = l
	}
}

// WithPublisher sets the sink of governance events.
func WithPublisher(p events.Publisher) Option {
	return func(s *settings) {
		s.publisher = p
	}
}

// WithOracle sets the threshold suggestion oracle.
func WithOracle(o quality.Oracle) Option {
	return func(s *settings) {
		s.oracle = o
	}
}

// WithPolicy sets the threshold default policy.
func WithPolicy(p *quality.Policy) Option {
	return func(s *settings) {
		s.policy = p
	}
}

// WithDimensions sets the starting dimensions of every use case.
func WithDimensions(dims []string) Option {
	return func(s *settings) {
		s.dimensions = dims
	}
}

// WithSuggestTimeout bounds one oracle call.
func WithSuggestTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithWorkers bounds the concurrent oracle calls of SuggestAllThresholds.
func WithWorkers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithApprovers sets the approver roles of the lexicon and model registers.
func WithApprovers(lexicon, model string) Option {
	return func(s *settings) {
		s.lexApprover = lexicon
		s.modelApprover = model
	}
}

// WithRejectReason sets the reason recorded for rejections without one.
func WithRejectReason(reason string) Option {
	return func(s *settings) {
		s.rejectReason = reason
	}
}

// WithMetrics sets the prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithClock sets the time source of audit entries and thresholds.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Engine is the requirement classification and governance engine.
type Engine struct {
	logger  *slog.Logger
	loader  CorpusLoader
	metrics *Metrics
	workers int

	corpusMu  sync.RWMutex
	corpus    *corpus.Corpus
	corpusRev atomic.Uint64

	loadMu sync.Mutex

	store   *requirement.Store
	boards  map[workflow.Register]*workflow.Board
	quality *quality.Assignor
	shared  *dependency.Cache
	stages  *stats.StageTracker
}

// New creates an engine over an initial corpus, which may be nil.
func New(c *corpus.Corpus, opts ...Option) *Engine {
	s := settings{
		logger:  slog.Default(),
		workers: 4,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}

	e := &Engine{
		logger:  s.logger,
		loader:  s.loader,
		metrics: s.metrics,
		workers: s.workers,
		corpus:  c,
		stages:  stats.NewStageTracker(),
	}

	boardOpts := func(approver string) []workflow.BoardOption {
		o := []workflow.BoardOption{
			workflow.WithLogger(s.logger),
			workflow.WithClock(s.clock),
			workflow.WithObserver(s.metrics.observeTransition),
			workflow.WithRejectReason(s.rejectReason),
			workflow.WithApproverRole(approver),
		}
		if s.publisher != nil {
			o = append(o, workflow.WithPublisher(s.publisher))
		}
		return o
	}
	e.boards = map[workflow.Register]*workflow.Board{
		workflow.RegisterLexicon: workflow.NewBoard(workflow.RegisterLexicon, boardOpts(s.lexApprover)...),
		workflow.RegisterModel:   workflow.NewBoard(workflow.RegisterModel, boardOpts(s.modelApprover)...),
	}

	e.store = requirement.NewStore(
		requirement.WithGuard(openItemGuard{e.boards[workflow.RegisterLexicon], e.boards[workflow.RegisterModel]}),
		requirement.WithLogger(s.logger),
	)

	qOpts := []quality.Option{
		quality.WithLogger(s.logger),
		quality.WithClock(s.clock),
		quality.WithOracleObserver(s.metrics.observeOracle),
	}
	if s.oracle != nil {
		qOpts = append(qOpts, quality.WithOracle(s.oracle))
	}
	if s.policy != nil {
		qOpts = append(qOpts, quality.WithPolicy(s.policy))
	}
	if len(s.dimensions) > 0 {
		qOpts = append(qOpts, quality.WithDefaultDimensions(s.dimensions))
	}
	if s.timeout > 0 {
		qOpts = append(qOpts, quality.WithTimeout(s.timeout))
	}
	e.quality = quality.NewAssignor(e.store, qOpts...)
	e.shared = dependency.NewCache(termSource{e}, s.logger)

	return e
}

// openItemGuard blocks deletes while either register holds an open item.
type openItemGuard []*workflow.Board

func (g openItemGuard) HasOpenItem(useCaseID, requirementID string) bool {
	for _, b := range g {
		if b.HasOpenItem(useCaseID, requirementID) {
			return true
		}
	}
	return false
}

// termSource feeds the shared-term cache: loaded use cases contribute their
// working records, the rest their corpus definition.
type termSource struct{ e *Engine }

func (t termSource) Revision() uint64 {
	return t.e.corpusRev.Load() + t.e.store.Revision()
}

func (t termSource) Terms() []dependency.UseCaseTerms {
	c := t.e.currentCorpus()
	seen := make(map[string]bool)
	var out []dependency.UseCaseTerms

	for _, uc := range c.UseCases() {
		seen[uc.ID] = true
		terms := uc.TermLabels()
		if reqs, err := t.e.store.Get(uc.ID); err == nil {
			terms = termLabels(reqs)
		}
		out = append(out, dependency.UseCaseTerms{UseCaseID: uc.ID, Terms: terms})
	}
	for _, id := range t.e.store.UseCases() {
		if seen[id] {
			continue
		}
		if reqs, err := t.e.store.Get(id); err == nil {
			out = append(out, dependency.UseCaseTerms{UseCaseID: id, Terms: termLabels(reqs)})
		}
	}
	return out
}

func termLabels(reqs []requirement.Requirement) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.TermLabel
	}
	return out
}

func (e *Engine) currentCorpus() *corpus.Corpus {
	e.corpusMu.RLock()
	defer e.corpusMu.RUnlock()
	return e.corpus
}

func (e *Engine) board(register workflow.Register) (*workflow.Board, error) {
	b, ok := e.boards[register]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegister, register)
	}
	return b, nil
}

// knownUseCase reports whether the id is in the corpus or loaded.
func (e *Engine) knownUseCase(useCaseID string) bool {
	if e.store.Loaded(useCaseID) {
		return true
	}
	_, ok := e.currentCorpus().Get(useCaseID)
	return ok
}

func unknownUseCase(useCaseID string) error {
	return fmt.Errorf("%w: use case %s", requirement.ErrNotFound, useCaseID)
}

// UseCases returns the corpus use cases.
func (e *Engine) UseCases() []corpus.UseCase {
	return e.currentCorpus().UseCases()
}

// LoadUseCase installs a use case from the corpus and opens a draft item in
// both registers for each new requirement. Loading an already loaded use case
// returns its current records.
func (e *Engine) LoadUseCase(useCaseID string) ([]requirement.Classified, error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.store.Loaded(useCaseID) {
		return e.store.Classified(useCaseID)
	}

	uc, ok := e.currentCorpus().Get(useCaseID)
	if !ok {
		return nil, unknownUseCase(useCaseID)
	}
	if err := e.store.Load(useCaseID, uc.Requirements); err != nil {
		return nil, err
	}

	opened := 0
	for _, r := range uc.Requirements {
		opened += e.openGovernance(useCaseID, r)
	}
	for _, st := range uc.Stages {
		if err := e.stages.Mark(useCaseID, stats.Stage(st), true); err != nil {
			e.logger.Warn("Ignoring stage", "use_case", useCaseID, "stage", st, "error", err)
		}
	}

	e.logger.Info("Use case loaded",
		"use_case", useCaseID,
		"requirements", len(uc.Requirements),
		"governance_items", opened)
	return e.store.Classified(useCaseID)
}

// openGovernance opens an item per register for a new requirement and returns
// how many were created.
func (e *Engine) openGovernance(useCaseID string, r requirement.Requirement) int {
	if r.MatchState != requirement.MatchNew {
		return 0
	}
	created := 0
	for _, register := range []workflow.Register{workflow.RegisterLexicon, workflow.RegisterModel} {
		_, ok, err := e.boards[register].Open(useCaseID, r, workflow.OwnerRole)
		if err != nil {
			e.logger.Warn("Failed to open governance item",
				"register", register,
				"use_case", useCaseID,
				"requirement", r.ID,
				"error", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created
}

// ListRequirements returns the classified records of a loaded use case.
func (e *Engine) ListRequirements(useCaseID string) ([]requirement.Classified, error) {
	return e.store.Classified(useCaseID)
}

// SetOverride corrects the entity and/or attribute mapping. A nil value
// leaves that part as it is.
func (e *Engine) SetOverride(useCaseID, reqID string, entity, attribute *string) (requirement.Classified, error) {
	if err := e.store.ApplyOverride(useCaseID, reqID, entity, attribute); err != nil {
		return requirement.Classified{}, err
	}
	return e.store.ClassifiedOne(useCaseID, reqID)
}

// ClearOverride restores the canonical mapping.
func (e *Engine) ClearOverride(useCaseID, reqID string) (requirement.Classified, error) {
	if err := e.store.ClearOverride(useCaseID, reqID); err != nil {
		return requirement.Classified{}, err
	}
	return e.store.ClassifiedOne(useCaseID, reqID)
}

// ToggleCDE flips the critical-data-element flag.
func (e *Engine) ToggleCDE(useCaseID, reqID string) (requirement.Classified, error) {
	if _, err := e.store.ToggleCDE(useCaseID, reqID); err != nil {
		return requirement.Classified{}, err
	}
	return e.store.ClassifiedOne(useCaseID, reqID)
}

// AddRequirement appends a hand-entered requirement. A new requirement
// enters governance in both registers. An explicit id that already keys a
// governance item is rejected so the item's history stays with its original
// requirement.
func (e *Engine) AddRequirement(useCaseID string, r requirement.Requirement) (requirement.Classified, error) {
	if r.ID != "" {
		key := workflow.Key{UseCaseID: useCaseID, RequirementID: r.ID}
		for _, b := range e.boards {
			if _, err := b.Item(key); err == nil {
				return requirement.Classified{}, fmt.Errorf("%w: %s already has governance history in use case %s",
					requirement.ErrDuplicateID, r.ID, useCaseID)
			}
		}
	}
	added, err := e.store.Add(useCaseID, r)
	if err != nil {
		return requirement.Classified{}, err
	}
	e.openGovernance(useCaseID, added)
	return e.store.ClassifiedOne(useCaseID, added.ID)
}

// DeleteRequirement removes a requirement unless it has an open governance
// item. Its quality thresholds go with it.
func (e *Engine) DeleteRequirement(useCaseID, reqID string) error {
	if err := e.store.Delete(useCaseID, reqID); err != nil {
		return err
	}
	e.quality.Forget(useCaseID, reqID)
	return nil
}

// ComputeStats derives the statistics of a loaded use case.
func (e *Engine) ComputeStats(useCaseID string) (stats.Stats, error) {
	reqs, err := e.store.Classified(useCaseID)
	if err != nil {
		return stats.Stats{}, err
	}
	return stats.Compute(reqs), nil
}

// EntityBreakdown groups a loaded use case by effective entity.
func (e *Engine) EntityBreakdown(useCaseID string) ([]stats.EntityStats, error) {
	reqs, err := e.store.Classified(useCaseID)
	if err != nil {
		return nil, err
	}
	return stats.ByEntity(reqs), nil
}

// ComputeSharedTerms lists the terms the use case shares with others.
func (e *Engine) ComputeSharedTerms(useCaseID string) ([]dependency.SharedTerm, error) {
	if !e.knownUseCase(useCaseID) {
		return nil, unknownUseCase(useCaseID)
	}
	return e.shared.SharedTerms(useCaseID), nil
}

// Transition applies a governance action to one item.
func (e *Engine) Transition(ctx context.Context, register workflow.Register, useCaseID, reqID string, action workflow.Action, p workflow.Payload) (workflow.Item, error) {
	b, err := e.board(register)
	if err != nil {
		return workflow.Item{}, err
	}
	return b.Transition(ctx, workflow.Key{UseCaseID: useCaseID, RequirementID: reqID}, action, p)
}

// BulkSubmit submits every draft item of the use case in one register.
func (e *Engine) BulkSubmit(ctx context.Context, register workflow.Register, useCaseID, actorRole string) (workflow.BulkResult, error) {
	b, err := e.board(register)
	if err != nil {
		return workflow.BulkResult{}, err
	}
	res := b.BulkSubmit(ctx, useCaseID, actorRole)
	e.metrics.BulkSubmitted.WithLabelValues(string(register)).Add(float64(len(res.Submitted)))
	return res, nil
}

// GovernanceCounts returns the per-status counts of one register.
func (e *Engine) GovernanceCounts(register workflow.Register, useCaseID string) (workflow.Counts, error) {
	b, err := e.board(register)
	if err != nil {
		return workflow.Counts{}, err
	}
	return b.Counts(useCaseID), nil
}

// GovernanceItems returns the items of one register in opening order.
func (e *Engine) GovernanceItems(register workflow.Register, useCaseID string) ([]workflow.Item, error) {
	b, err := e.board(register)
	if err != nil {
		return nil, err
	}
	return b.Items(useCaseID), nil
}

// Thresholds returns a requirement's value for every current dimension.
func (e *Engine) Thresholds(useCaseID, reqID string) ([]quality.Threshold, error) {
	return e.quality.Get(useCaseID, reqID)
}

// SetThreshold overwrites one value.
func (e *Engine) SetThreshold(useCaseID, reqID, dimension, value string) (quality.Threshold, error) {
	return e.quality.Set(useCaseID, reqID, dimension, value)
}

// SuggestionResult reports a suggestion request. A failed oracle is not an
// error: Applied is false, Reason says why, and the thresholds are unchanged.
type SuggestionResult struct {
	Applied    bool                `json:"applied"`
	Oracle     string              `json:"oracle,omitempty"`
	Dimensions []string            `json:"dimensions,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Thresholds []quality.Threshold `json:"thresholds"`
}

// SuggestThresholds asks the oracle for a requirement's thresholds.
func (e *Engine) SuggestThresholds(ctx context.Context, useCaseID, reqID string) (SuggestionResult, error) {
	res, err := e.quality.Suggest(ctx, useCaseID, reqID)
	if err == nil {
		return SuggestionResult{
			Applied:    true,
			Oracle:     res.Oracle,
			Dimensions: res.Applied,
			Thresholds: res.Thresholds,
		}, nil
	}
	if !quality.IsDegraded(err) {
		return SuggestionResult{}, err
	}

	current, getErr := e.quality.Get(useCaseID, reqID)
	if getErr != nil {
		return SuggestionResult{}, getErr
	}
	return SuggestionResult{
		Applied:    false,
		Oracle:     e.quality.OracleName(),
		Reason:     err.Error(),
		Thresholds: current,
	}, nil
}

// SuggestAllThresholds runs a suggestion for every requirement of the use case.
func (e *Engine) SuggestAllThresholds(ctx context.Context, useCaseID string) ([]quality.BatchOutcome, error) {
	reqs, err := e.store.Get(useCaseID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	return e.quality.SuggestAll(ctx, useCaseID, ids, e.workers), nil
}

// Dimensions returns the quality dimensions of a use case.
func (e *Engine) Dimensions(useCaseID string) ([]string, error) {
	if !e.knownUseCase(useCaseID) {
		return nil, unknownUseCase(useCaseID)
	}
	return e.quality.Dimensions(useCaseID), nil
}

// AddDimension adds a quality dimension to a use case.
func (e *Engine) AddDimension(useCaseID, name string) error {
	if !e.knownUseCase(useCaseID) {
		return unknownUseCase(useCaseID)
	}
	return e.quality.AddDimension(useCaseID, name)
}

// RenameDimension renames a dimension; values of the old name are dropped.
func (e *Engine) RenameDimension(useCaseID, from, to string) error {
	if !e.knownUseCase(useCaseID) {
		return unknownUseCase(useCaseID)
	}
	return e.quality.RenameDimension(useCaseID, from, to)
}

// RemoveDimension removes a dimension and its values.
func (e *Engine) RemoveDimension(useCaseID, name string) error {
	if !e.knownUseCase(useCaseID) {
		return unknownUseCase(useCaseID)
	}
	return e.quality.RemoveDimension(useCaseID, name)
}

// ExportRequirements projects a loaded use case into export rows.
func (e *Engine) ExportRequirements(useCaseID string) ([]export.Row, error) {
	reqs, err := e.store.Classified(useCaseID)
	if err != nil {
		return nil, err
	}
	return export.RequirementRows(reqs), nil
}

// ExportGovernance projects one register's items into export rows.
func (e *Engine) ExportGovernance(register workflow.Register, useCaseID string) ([]export.Row, error) {
	items, err := e.GovernanceItems(register, useCaseID)
	if err != nil {
		return nil, err
	}
	return export.GovernanceRows(items), nil
}

// Export dispatches on an export profile.
func (e *Engine) Export(useCaseID string, profile export.Profile) ([]export.Row, error) {
	cfg, err := export.GetProfileConfig(profile)
	if err != nil {
		return nil, err
	}
	if cfg.Register == "" {
		return e.ExportRequirements(useCaseID)
	}
	if !e.knownUseCase(useCaseID) {
		return nil, unknownUseCase(useCaseID)
	}
	return e.ExportGovernance(cfg.Register, useCaseID)
}

// MarkStage records the completion of an intake stage.
func (e *Engine) MarkStage(useCaseID string, stage stats.Stage, completed bool) error {
	if !e.knownUseCase(useCaseID) {
		return unknownUseCase(useCaseID)
	}
	return e.stages.Mark(useCaseID, stage, completed)
}

// Portfolio summarizes every corpus use case. Use cases not loaded yet are
// summarized from their corpus definition.
func (e *Engine) Portfolio() stats.PortfolioSummary {
	var entries []stats.PortfolioEntry
	for _, uc := range e.currentCorpus().UseCases() {
		reqs, err := e.store.Classified(uc.ID)
		if err != nil {
			reqs = make([]requirement.Classified, len(uc.Requirements))
			for i, r := range uc.Requirements {
				reqs[i] = requirement.Classify(r, requirement.Override{})
			}
		}
		open := 0
		for _, b := range e.boards {
			open += b.Counts(uc.ID).Pending()
		}
		entries = append(entries, stats.PortfolioEntry{
			UseCaseID: uc.ID,
			Name:      uc.Name,
			Stats:     stats.Compute(reqs),
			Progress:  e.stages.Progress(uc.ID),
			OpenItems: open,
		})
	}
	return stats.Portfolio(entries)
}

// ReloadCorpus re-reads the corpus. Use cases already loaded keep their
// working records; the new definitions apply to use cases loaded afterwards
// and to the shared-term view of the rest. A failed reload keeps the
// previous corpus.
func (e *Engine) ReloadCorpus(ctx context.Context) error {
	if e.loader == nil {
		return ErrNoCorpusLoader
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := e.loader.Load()
	e.metrics.observeReload(err)
	if err != nil {
		e.logger.Warn("Corpus reload failed, keeping previous corpus", "error", err)
		return err
	}

	e.corpusMu.Lock()
	e.corpus = c
	e.corpusMu.Unlock()
	e.corpusRev.Add(1)

	e.logger.Info("Corpus replaced", "use_cases", c.Len())
	return nil
}
