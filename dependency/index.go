// Package dependency finds the requirements a use case shares with other use
// cases and classifies how much coordination each shared term needs.
package dependency

import (
	"sort"
	"strings"
)

// Impact is the coordination impact of a shared term.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// ClassifyImpact buckets a term by the number of use cases demanding it:
// more than 4 is high, 3 or 4 is medium, anything else low.
func ClassifyImpact(useCases int) Impact {
	switch {
	case useCases > 4:
		return ImpactHigh
	case useCases > 2:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// UseCaseTerms is the list of term labels one use case demands.
type UseCaseTerms struct {
	UseCaseID string
	Terms     []string
}

// SharedTerm is a term demanded by the target use case and at least one other.
type SharedTerm struct {
	TermLabel  string   `json:"term_label"`
	UseCaseIDs []string `json:"use_case_ids"`
	Count      int      `json:"count"`
	Impact     Impact   `json:"impact"`
	SharedWith []string `json:"shared_with"`
}

// Index maps each term label to the ordered set of use cases demanding it.
// It is immutable once built.
type Index struct {
	terms    []string
	useCases map[string][]string
}

// Build indexes a corpus. Terms keep the order of their first appearance;
// use cases keep the order they are given in. Blank labels are skipped and
// labels are compared after trimming surrounding space.
func Build(corpus []UseCaseTerms) *Index {
	idx := &Index{useCases: make(map[string][]string)}
	seen := make(map[string]map[string]bool)

	for _, uc := range corpus {
		for _, raw := range uc.Terms {
			term := strings.TrimSpace(raw)
			if term == "" {
				continue
			}
			members, ok := seen[term]
			if !ok {
				members = make(map[string]bool)
				seen[term] = members
				idx.terms = append(idx.terms, term)
			}
			if members[uc.UseCaseID] {
				continue
			}
			members[uc.UseCaseID] = true
			idx.useCases[term] = append(idx.useCases[term], uc.UseCaseID)
		}
	}
	return idx
}

// Len returns the number of distinct terms.
func (idx *Index) Len() int {
	return len(idx.terms)
}

// UseCasesFor returns the use cases demanding a term.
func (idx *Index) UseCasesFor(term string) []string {
	ids := idx.useCases[strings.TrimSpace(term)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// SharedTerms returns the terms the use case shares with at least one other
// use case, most widely shared first. Ties keep index order.
func (idx *Index) SharedTerms(useCaseID string) []SharedTerm {
	out := []SharedTerm{}
	for _, term := range idx.terms {
		ids := idx.useCases[term]
		if len(ids) < 2 || !contains(ids, useCaseID) {
			continue
		}

		members := make([]string, len(ids))
		copy(members, ids)
		others := make([]string, 0, len(ids)-1)
		for _, id := range ids {
			if id != useCaseID {
				others = append(others, id)
			}
		}

		out = append(out, SharedTerm{
			TermLabel:  term,
			UseCaseIDs: members,
			Count:      len(ids),
			Impact:     ClassifyImpact(len(ids)),
			SharedWith: others,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
