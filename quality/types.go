// Package quality attaches data-quality thresholds to requirements, one value
// per requirement per dimension, and applies batch suggestions from an oracle.
package quality

import (
	"context"
	"errors"
	"time"
)

// Default dimensions of a new use case.
const (
	DimCompleteness = "Completeness"
	DimAccuracy     = "Accuracy"
	DimTimeliness   = "Timeliness"
	DimConsistency  = "Consistency"
	DimValidity     = "Validity"
)

// DefaultDimensions is the dimension set every use case starts with.
var DefaultDimensions = []string{DimCompleteness, DimAccuracy, DimTimeliness, DimConsistency, DimValidity}

// Sentinel errors for threshold operations.
var (
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrOracleUnavailable = errors.New("suggestion oracle unavailable")
	ErrSuperseded        = errors.New("suggestion superseded by a newer request")
	ErrStale             = errors.New("requirement changed while the suggestion was pending")
)

// Threshold is the value of one dimension for one requirement.
type Threshold struct {
	RequirementID string `json:"requirement_id"`
	Dimension     string `json:"dimension"`
	Value         string `json:"value"`
	// Default is true when no value was stored and the policy default is shown.
	Default     bool      `json:"default"`
	SuggestedBy string    `json:"suggested_by,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Request is what an oracle is asked about.
type Request struct {
	UseCaseID     string   `json:"use_case_id"`
	RequirementID string   `json:"requirement_id"`
	TermLabel     string   `json:"term_label"`
	Definition    string   `json:"definition"`
	Domain        string   `json:"domain"`
	IsCDE         bool     `json:"is_cde"`
	Dimensions    []string `json:"dimensions"`
}

// Suggestion is an oracle's proposal for one dimension.
type Suggestion struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
	Rationale string `json:"rationale,omitempty"`
}

// Oracle proposes thresholds. Implementations must honour ctx cancellation.
type Oracle interface {
	Name() string
	Suggest(ctx context.Context, req Request) ([]Suggestion, error)
}

// SuggestResult reports an applied suggestion.
type SuggestResult struct {
	Oracle     string      `json:"oracle"`
	Applied    []string    `json:"applied"`
	Thresholds []Threshold `json:"thresholds"`
}

// BatchOutcome is the result of one requirement in SuggestAll.
type BatchOutcome struct {
	RequirementID string   `json:"requirement_id"`
	Applied       []string `json:"applied,omitempty"`
	Err           error    `json:"-"`
}
