package requirement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	entity := "Facility"
	r := Requirement{
		ID:               "7",
		Entity:           "Exposure",
		Attribute:        "drawn_amount",
		MatchState:       MatchNew,
		IsCDE:            true,
		LexiconAlignment: AlignmentPartial,
	}

	tests := []struct {
		name          string
		override      Override
		wantEntity    string
		wantAttribute string
		wantOverride  bool
	}{
		{name: "no override", wantEntity: "Exposure", wantAttribute: "drawn_amount"},
		{name: "entity override", override: Override{Entity: &entity}, wantEntity: "Facility", wantAttribute: "drawn_amount", wantOverride: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(r, tt.override)
			assert.Equal(t, MatchNew, c.MatchState)
			assert.True(t, c.IsCDE)
			assert.True(t, c.IsNewCDE())
			assert.Equal(t, AlignmentPartial, c.LexiconAlignment)
			assert.Equal(t, tt.wantEntity, c.EffectiveEntity)
			assert.Equal(t, tt.wantAttribute, c.EffectiveAttribute)
			assert.Equal(t, tt.wantOverride, c.Overridden)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	attr := "x"
	r := Requirement{ID: "1", MatchState: MatchReview, Entity: "E", Attribute: "A"}
	o := Override{Attribute: &attr}
	assert.Equal(t, Classify(r, o), Classify(r, o))
	assert.Equal(t, MatchReview, r.MatchState)
}

func TestMatchState_IsValid(t *testing.T) {
	assert.True(t, MatchExact.IsValid())
	assert.True(t, MatchReview.IsValid())
	assert.True(t, MatchNew.IsValid())
	assert.False(t, MatchState("").IsValid())
	assert.False(t, MatchState("partial").IsValid())
}
