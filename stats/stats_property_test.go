package stats_test

import (
	"math"
	"strconv"
	"testing"

	"github.com/c360studio/semreq/requirement"
	"github.com/c360studio/semreq/stats"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var states = []requirement.MatchState{requirement.MatchExact, requirement.MatchReview, requirement.MatchNew}

// TestCountsAddUp checks the match-state counters and coverage for arbitrary
// requirement sets.
func TestCountsAddUp(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("exact+review+new == total and coverage is rounded", prop.ForAll(
		func(picks []int) bool {
			reqs := make([]requirement.Classified, 0, len(picks))
			for i, p := range picks {
				r := requirement.Requirement{
					ID:         strconv.Itoa(i),
					MatchState: states[p%len(states)],
					Domain:     requirement.KnownDomains[p%len(requirement.KnownDomains)],
					IsCDE:      p%2 == 0,
				}
				reqs = append(reqs, requirement.Classify(r, requirement.Override{}))
			}

			s := stats.Compute(reqs)
			if s.Exact+s.Review+s.New != s.Total || s.Total != len(picks) {
				return false
			}
			want := 0
			if s.Total > 0 {
				want = int(math.Round(100 * float64(s.Exact) / float64(s.Total)))
			}
			if s.Coverage != want {
				return false
			}

			domainTotal := 0
			for _, d := range s.Domains {
				domainTotal += d.Total
			}
			return domainTotal == s.Total && s.NewCDEs <= s.CDEs
		},
		gen.SliceOf(gen.IntRange(0, 59)),
	))

	properties.TestingRun(t)
}
