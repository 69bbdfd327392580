package requirement

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequirements() []Requirement {
	return []Requirement{
		{ID: "1", TermLabel: "exposure amount", Domain: DomainCredits, Entity: "Exposure", Attribute: "amount", MatchState: MatchExact},
		{ID: "2", TermLabel: "counterparty name", Domain: DomainConsumer, Entity: "Party", Attribute: "name", MatchState: MatchReview},
		{ID: "7", TermLabel: "stage transition date", Domain: DomainCredits, Entity: "RiskAssessment", Attribute: "stage_date", MatchState: MatchNew, IsCDE: true},
	}
}

type fakeGuard map[string]bool

func (g fakeGuard) HasOpenItem(useCaseID, requirementID string) bool {
	return g[useCaseID+"/"+requirementID]
}

func TestStore_LoadAndGet(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	reqs, err := s.Get("uc1")
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, []string{"1", "2", "7"}, []string{reqs[0].ID, reqs[1].ID, reqs[2].ID})
	assert.Equal(t, SourceDerived, reqs[0].Source)

	err = s.Load("uc1", sampleRequirements())
	assert.ErrorIs(t, err, ErrUseCaseExists)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		reqs    []Requirement
		wantErr error
	}{
		{
			name:    "duplicate id",
			reqs:    []Requirement{{ID: "1", MatchState: MatchExact}, {ID: "1", MatchState: MatchNew}},
			wantErr: ErrDuplicateID,
		},
		{
			name: "bad match state",
			reqs: []Requirement{{ID: "1", MatchState: "fuzzy"}},
		},
		{
			name: "missing id",
			reqs: []Requirement{{MatchState: MatchExact}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			err := s.Load("uc", tt.reqs)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				var vErr *ValidationError
				assert.True(t, errors.As(err, &vErr), "expected *ValidationError, got %T", err)
			}
			assert.False(t, s.Loaded("uc"))
		})
	}
}

func TestStore_OverrideRoundTrip(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	r, err := s.Lookup("uc1", "2")
	require.NoError(t, err)

	entity, attr := "Counterparty", "legal_name"
	require.NoError(t, s.ApplyOverride("uc1", "2", &entity, &attr))
	assert.Equal(t, "Counterparty", s.EffectiveEntity("uc1", r))
	assert.Equal(t, "legal_name", s.EffectiveAttribute("uc1", r))

	// Overrides never touch the canonical record or its match state.
	canonical, err := s.Lookup("uc1", "2")
	require.NoError(t, err)
	assert.Equal(t, "Party", canonical.Entity)
	assert.Equal(t, MatchReview, canonical.MatchState)

	require.NoError(t, s.ClearOverride("uc1", "2"))
	assert.Equal(t, "Party", s.EffectiveEntity("uc1", r))
	assert.Equal(t, "name", s.EffectiveAttribute("uc1", r))
}

func TestStore_OverrideLastWriteWins(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	first, second := "A", "B"
	require.NoError(t, s.ApplyOverride("uc1", "1", &first, nil))
	require.NoError(t, s.ApplyOverride("uc1", "1", &second, nil))

	c, err := s.ClassifiedOne("uc1", "1")
	require.NoError(t, err)
	assert.Equal(t, "B", c.EffectiveEntity)
	assert.Equal(t, "amount", c.EffectiveAttribute, "attribute keeps canonical value when only entity is overridden")
	assert.True(t, c.Overridden)
}

func TestStore_OverrideForReturnsCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	entity := "Exposure2"
	require.NoError(t, s.ApplyOverride("uc1", "1", &entity, nil))

	o, ok, err := s.OverrideFor("uc1", "1")
	require.NoError(t, err)
	require.True(t, ok)
	*o.Entity = "mutated"

	c, err := s.ClassifiedOne("uc1", "1")
	require.NoError(t, err)
	assert.Equal(t, "Exposure2", c.EffectiveEntity)
}

func TestStore_ToggleCDE(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	before := s.Revision()
	on, err := s.ToggleCDE("uc1", "1")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Greater(t, s.Revision(), before)

	rev, err := s.RequirementRevision("uc1", "1")
	require.NoError(t, err)
	assert.Equal(t, s.Revision(), rev)

	off, err := s.ToggleCDE("uc1", "1")
	require.NoError(t, err)
	assert.False(t, off)

	_, err = s.ToggleCDE("uc1", "99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AddAssignsNextID(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	added, err := s.Add("uc1", Requirement{TermLabel: "recovery amount", Category: "Risk Parameter"})
	require.NoError(t, err)
	assert.Equal(t, "8", added.ID)
	assert.Equal(t, MatchNew, added.MatchState)
	assert.Equal(t, SourceUser, added.Source)

	_, err = s.Add("uc1", Requirement{ID: "8", MatchState: MatchExact})
	assert.ErrorIs(t, err, ErrDuplicateID)

	reqs, err := s.Get("uc1")
	require.NoError(t, err)
	assert.Equal(t, "8", reqs[len(reqs)-1].ID)
}

func TestStore_DeleteGuarded(t *testing.T) {
	guard := fakeGuard{"uc1/7": true}
	s := NewStore(WithGuard(guard))
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	err := s.Delete("uc1", "7")
	assert.ErrorIs(t, err, ErrGoverned)
	_, err = s.Lookup("uc1", "7")
	assert.NoError(t, err, "guarded requirement must survive")

	require.NoError(t, s.Delete("uc1", "2"))
	_, err = s.Lookup("uc1", "2")
	assert.ErrorIs(t, err, ErrNotFound)

	reqs, err := s.Get("uc1")
	require.NoError(t, err)
	assert.Len(t, reqs, 2)

	guard["uc1/7"] = false
	assert.NoError(t, s.Delete("uc1", "7"))
}

func TestStore_DeletedIDsAreNotReused(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	require.NoError(t, s.Delete("uc1", "7"))

	added, err := s.Add("uc1", Requirement{TermLabel: "brand new unreviewed term"})
	require.NoError(t, err)
	assert.Equal(t, "8", added.ID, "the highest id ever held was 7")

	_, err = s.Add("uc1", Requirement{ID: "7", TermLabel: "stage transition date"})
	assert.ErrorIs(t, err, ErrDuplicateID)

	require.NoError(t, s.Delete("uc1", "8"))
	added, err = s.Add("uc1", Requirement{TermLabel: "another term"})
	require.NoError(t, err)
	assert.Equal(t, "9", added.ID)
}

func TestStore_ConcurrentOverrides(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("uc1", sampleRequirements()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := "E"
			_ = s.ApplyOverride("uc1", "1", &v, nil)
			_, _ = s.Classified("uc1")
		}(i)
	}
	wg.Wait()

	c, err := s.ClassifiedOne("uc1", "1")
	require.NoError(t, err)
	assert.Equal(t, "E", c.EffectiveEntity)
}
