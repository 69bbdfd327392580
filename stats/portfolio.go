package stats

import (
	"errors"
	"fmt"
	"sync"
)

// Stage is one step of the intake journey of a use case.
type Stage string

const (
	StageIntake       Stage = "intake"
	StageBusinessNeed Stage = "business_need"
	StageLexicon      Stage = "lexicon_mapping"
	StageModel        Stage = "model_mapping"
	StageDataQuality  Stage = "data_quality"
	StageOrigination  Stage = "origination"
	StageGapAnalysis  Stage = "gap_analysis"
	StageHandoff      Stage = "handoff"
)

// Stages lists the journey in order.
var Stages = []Stage{
	StageIntake, StageBusinessNeed, StageLexicon, StageModel,
	StageDataQuality, StageOrigination, StageGapAnalysis, StageHandoff,
}

// IsValid returns true for a known stage.
func (s Stage) IsValid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// ErrUnknownStage is returned for a stage name outside the journey.
var ErrUnknownStage = errors.New("unknown stage")

// Progress reports how far a use case has come.
type Progress struct {
	Completed []Stage `json:"completed"`
	// Current is the first stage not yet completed, empty when all are done.
	Current Stage `json:"current,omitempty"`
	Percent int   `json:"percent"`
}

// StageTracker records which stages each use case has completed. Stage
// completion is reported by the caller; it is never inferred from coverage.
type StageTracker struct {
	mu   sync.RWMutex
	done map[string]map[Stage]bool
}

// NewStageTracker creates an empty tracker.
func NewStageTracker() *StageTracker {
	return &StageTracker{done: make(map[string]map[Stage]bool)}
}

// Mark sets or clears the completion of a stage.
func (t *StageTracker) Mark(useCaseID string, stage Stage, completed bool) error {
	if !stage.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.done[useCaseID]
	if !ok {
		m = make(map[Stage]bool)
		t.done[useCaseID] = m
	}
	if completed {
		m[stage] = true
	} else {
		delete(m, stage)
	}
	return nil
}

// Progress returns the progress of a use case.
func (t *StageTracker) Progress(useCaseID string) Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p := Progress{Completed: []Stage{}}
	m := t.done[useCaseID]
	for _, st := range Stages {
		if m[st] {
			p.Completed = append(p.Completed, st)
		} else if p.Current == "" {
			p.Current = st
		}
	}
	p.Percent = Percent(len(p.Completed), len(Stages))
	return p
}

// PortfolioEntry is the input for one use case of the portfolio overview.
type PortfolioEntry struct {
	UseCaseID string
	Name      string
	Stats     Stats
	Progress  Progress
	// OpenItems is the number of governance items not yet published.
	OpenItems int
}

// UseCaseSummary is one row of the portfolio overview.
type UseCaseSummary struct {
	UseCaseID    string   `json:"use_case_id"`
	Name         string   `json:"name"`
	Requirements int      `json:"requirements"`
	Coverage     int      `json:"coverage"`
	New          int      `json:"new"`
	NewCDEs      int      `json:"new_cdes"`
	OpenItems    int      `json:"open_items"`
	Progress     Progress `json:"progress"`
}

// PortfolioSummary aggregates all loaded use cases.
type PortfolioSummary struct {
	UseCases          []UseCaseSummary `json:"use_cases"`
	TotalRequirements int              `json:"total_requirements"`
	TotalNew          int              `json:"total_new"`
	AverageCoverage   int              `json:"average_coverage"`
	OpenItems         int              `json:"open_items"`
}

// Portfolio builds the overview. Rows keep the order of entries; the average
// coverage is the rounded mean of per-use-case coverage, 0 with no entries.
func Portfolio(entries []PortfolioEntry) PortfolioSummary {
	sum := PortfolioSummary{UseCases: make([]UseCaseSummary, 0, len(entries))}
	coverage := 0
	for _, e := range entries {
		sum.UseCases = append(sum.UseCases, UseCaseSummary{
			UseCaseID:    e.UseCaseID,
			Name:         e.Name,
			Requirements: e.Stats.Total,
			Coverage:     e.Stats.Coverage,
			New:          e.Stats.New,
			NewCDEs:      e.Stats.NewCDEs,
			OpenItems:    e.OpenItems,
			Progress:     e.Progress,
		})
		sum.TotalRequirements += e.Stats.Total
		sum.TotalNew += e.Stats.New
		sum.OpenItems += e.OpenItems
		coverage += e.Stats.Coverage
	}
	sum.AverageCoverage = Percent(coverage, 100*len(entries))
	return sum
}
