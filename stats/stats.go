// Package stats derives coverage and gap statistics from the classification
// projection. Every figure is recomputed from the records it is given; no
// counter is cached between calls.
package stats

import (
	"math"
	"sort"

	"github.com/c360studio/semreq/requirement"
)

// Counts are the match-state counters shared by every breakdown.
type Counts struct {
	Total   int `json:"total"`
	Exact   int `json:"exact"`
	Review  int `json:"review"`
	New     int `json:"new"`
	CDEs    int `json:"cdes"`
	NewCDEs int `json:"new_cdes"`
}

// Coverage is round(100*exact/total), 0 for an empty set.
func (c Counts) Coverage() int {
	return Percent(c.Exact, c.Total)
}

func (c *Counts) add(r requirement.Classified) {
	c.Total++
	switch r.MatchState {
	case requirement.MatchExact:
		c.Exact++
	case requirement.MatchReview:
		c.Review++
	case requirement.MatchNew:
		c.New++
	}
	if r.IsCDE {
		c.CDEs++
		if r.MatchState == requirement.MatchNew {
			c.NewCDEs++
		}
	}
}

// DomainStats is the breakdown for one business domain.
type DomainStats struct {
	Domain string `json:"domain"`
	Counts
	Coverage int `json:"coverage"`
}

// EntityStats is the breakdown for one effective target entity.
type EntityStats struct {
	Entity string `json:"entity"`
	Counts
	Overridden int `json:"overridden"`
}

// Stats summarises one use case.
type Stats struct {
	Counts
	Coverage    int           `json:"coverage"`
	BirdAligned int           `json:"bird_aligned"`
	BirdPartial int           `json:"bird_partial"`
	BirdTotal   int           `json:"bird_total"`
	Domains     []DomainStats `json:"domains"`
}

// AlignmentRatio is the percentage of aligned requirements among those with
// an alignment value, 0 when none carry one.
func (s Stats) AlignmentRatio() int {
	return Percent(s.BirdAligned, s.BirdTotal)
}

// Compute aggregates the classification projection of a use case.
func Compute(reqs []requirement.Classified) Stats {
	var s Stats
	domains := make(map[string]*DomainStats)

	for _, r := range reqs {
		s.Counts.add(r)

		if r.LexiconAlignment.IsSet() {
			s.BirdTotal++
			switch r.LexiconAlignment {
			case requirement.AlignmentAligned:
				s.BirdAligned++
			case requirement.AlignmentPartial:
				s.BirdPartial++
			}
		}

		domain := r.Requirement.Domain
		d, ok := domains[domain]
		if !ok {
			d = &DomainStats{Domain: domain}
			domains[domain] = d
		}
		d.Counts.add(r)
	}

	s.Coverage = s.Counts.Coverage()
	s.Domains = make([]DomainStats, 0, len(domains))
	for _, name := range domainOrder(domains) {
		d := domains[name]
		d.Coverage = d.Counts.Coverage()
		s.Domains = append(s.Domains, *d)
	}
	return s
}

// ByEntity breaks a use case down by effective entity, sorted by entity name.
func ByEntity(reqs []requirement.Classified) []EntityStats {
	entities := make(map[string]*EntityStats)
	for _, r := range reqs {
		e, ok := entities[r.EffectiveEntity]
		if !ok {
			e = &EntityStats{Entity: r.EffectiveEntity}
			entities[r.EffectiveEntity] = e
		}
		e.Counts.add(r)
		if r.Overridden {
			e.Overridden++
		}
	}

	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]EntityStats, 0, len(names))
	for _, name := range names {
		out = append(out, *entities[name])
	}
	return out
}

// Percent returns round(100*part/whole), 0 when whole is 0.
func Percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

// domainOrder lists the known domains first in their fixed order, then any
// other domain alphabetically.
func domainOrder(domains map[string]*DomainStats) []string {
	out := make([]string, 0, len(domains))
	known := make(map[string]bool, len(requirement.KnownDomains))
	for _, d := range requirement.KnownDomains {
		known[d] = true
		if _, ok := domains[d]; ok {
			out = append(out, d)
		}
	}

	var rest []string
	for d := range domains {
		if !known[d] {
			rest = append(rest, d)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
