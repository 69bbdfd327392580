// Package requirement holds the canonical data requirements of each use case,
// the user's mapping overrides, and the classification read-projection that
// every downstream consumer derives its view from.
package requirement

import (
	"strconv"
	"strings"
)

// MatchState classifies a requirement against the target lexicon.
// It is fixed when the requirement is created and never changed by the engine.
type MatchState string

const (
	// MatchExact indicates the requirement maps to an existing lexicon term.
	MatchExact MatchState = "exact"
	// MatchReview indicates a candidate term exists but needs human review.
	MatchReview MatchState = "review"
	// MatchNew indicates no lexicon term exists; the term must be proposed.
	MatchNew MatchState = "new"
)

// String returns the string representation of the match state.
func (m MatchState) String() string {
	return string(m)
}

// IsValid returns true if the match state is one of the known states.
func (m MatchState) IsValid() bool {
	switch m {
	case MatchExact, MatchReview, MatchNew:
		return true
	default:
		return false
	}
}

// LexiconAlignment describes how a requirement lines up with the optional
// alignment reference model. The zero value means no alignment was recorded.
type LexiconAlignment string

const (
	AlignmentUnset      LexiconAlignment = ""
	AlignmentAligned    LexiconAlignment = "aligned"
	AlignmentPartial    LexiconAlignment = "partial"
	AlignmentNotPresent LexiconAlignment = "not_present"
)

// IsValid returns true for the known alignment values, including unset.
func (a LexiconAlignment) IsValid() bool {
	switch a {
	case AlignmentUnset, AlignmentAligned, AlignmentPartial, AlignmentNotPresent:
		return true
	default:
		return false
	}
}

// IsSet reports whether an alignment value was recorded.
func (a LexiconAlignment) IsSet() bool {
	return a != AlignmentUnset
}

// Known business domains. Other values are tolerated and reported as-is.
const (
	DomainCredits  = "Credits"
	DomainConsumer = "Consumer"
	DomainMarkets  = "Markets"
)

// KnownDomains lists the fixed domains in display order.
var KnownDomains = []string{DomainCredits, DomainConsumer, DomainMarkets}

// Source records where a requirement came from.
type Source string

const (
	// SourceDerived marks requirements produced by the upstream matching step.
	SourceDerived Source = "derived"
	// SourceUser marks requirements added by hand during intake.
	SourceUser Source = "user"
)

// Requirement is one data element demanded by a use case.
type Requirement struct {
	// ID is unique within the use case and stable for its lifetime.
	ID string `json:"id" yaml:"id"`

	TermLabel         string `json:"term_label" yaml:"term_label"`
	Definition        string `json:"definition" yaml:"definition"`
	BusinessReference string `json:"business_reference,omitempty" yaml:"business_reference"`
	Domain            string `json:"domain" yaml:"domain"`

	// Entity and Attribute name the target model location.
	Entity    string `json:"entity" yaml:"entity"`
	Attribute string `json:"attribute" yaml:"attribute"`

	IsCDE            bool             `json:"is_cde" yaml:"cde"`
	MatchState       MatchState       `json:"match_state" yaml:"match"`
	LexiconAlignment LexiconAlignment `json:"lexicon_alignment,omitempty" yaml:"alignment"`

	Category string `json:"category,omitempty" yaml:"category"`
	Source   Source `json:"source,omitempty" yaml:"source"`
}

// Validate checks the fields every stored requirement must carry.
func (r Requirement) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if !r.MatchState.IsValid() {
		return &ValidationError{Field: "match_state", Message: "must be exact, review, or new"}
	}
	if !r.LexiconAlignment.IsValid() {
		return &ValidationError{Field: "lexicon_alignment", Message: "must be aligned, partial, not_present, or empty"}
	}
	return nil
}

// ValidationError reports an invalid requirement field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Override is a user correction of the target entity/attribute.
// A nil field means that part of the mapping is not overridden.
type Override struct {
	Entity    *string `json:"entity,omitempty"`
	Attribute *string `json:"attribute,omitempty"`
}

// IsEmpty reports whether the override corrects nothing.
func (o Override) IsEmpty() bool {
	return o.Entity == nil && o.Attribute == nil
}

// numericID parses an id assigned by the store or a corpus with integer ids.
func numericID(id string) (int, bool) {
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
