package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/semreq/events"
	"github.com/c360studio/semreq/requirement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReq(id string) requirement.Requirement {
	return requirement.Requirement{
		ID:         id,
		TermLabel:  "term " + id,
		Domain:     requirement.DomainCredits,
		Entity:     "Exposure",
		Attribute:  "attr_" + id,
		MatchState: requirement.MatchNew,
	}
}

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func openBoard(t *testing.T, ids ...string) *Board {
	t.Helper()
	b := NewBoard(RegisterLexicon, WithClock(fixedClock()))
	for _, id := range ids {
		_, created, err := b.Open("uc1", newReq(id), "")
		require.NoError(t, err)
		require.True(t, created)
	}
	return b
}

func TestBoard_OpenRequiresNew(t *testing.T) {
	b := NewBoard(RegisterModel)
	r := newReq("1")
	r.MatchState = requirement.MatchExact

	_, _, err := b.Open("uc1", r, "")
	assert.ErrorIs(t, err, ErrNotEligible)

	item, created, err := b.Open("uc1", newReq("2"), "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusDraft, item.Status)
	assert.Equal(t, OwnerRole, item.CreatedBy)
	assert.Empty(t, item.AuditTrail, "creation is not a transition")

	_, created, err = b.Open("uc1", newReq("2"), "")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestBoard_RejectReviseScenario(t *testing.T) {
	b := openBoard(t, "7")
	ctx := context.Background()
	key := Key{UseCaseID: "uc1", RequirementID: "7"}

	for _, a := range []Action{ActionSubmit, ActionStartReview, ActionReject} {
		_, err := b.Transition(ctx, key, a, Payload{})
		require.NoError(t, err, a)
	}

	item, err := b.Item(key)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, item.Status)
	require.Len(t, item.AuditTrail, 3)
	last := item.AuditTrail[2]
	assert.Equal(t, DefaultRejectReason, last.Reason)
	assert.Equal(t, "Lexicon Expert", last.ActorRole)

	item, err = b.Transition(ctx, key, ActionRevise, Payload{})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, item.Status)
	require.Len(t, item.AuditTrail, 4, "revise appends and never truncates")
	assert.Equal(t, OwnerRole, item.AuditTrail[3].ActorRole)
	assert.Equal(t, "revised", item.AuditTrail[3].Event)
}

func TestBoard_InvalidTransition(t *testing.T) {
	b := openBoard(t, "1")
	key := Key{UseCaseID: "uc1", RequirementID: "1"}

	_, err := b.Transition(context.Background(), key, ActionApprove, Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var tErr *TransitionError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, StatusDraft, tErr.Current)
	assert.Equal(t, StatusApproved, tErr.Requested)

	item, err := b.Item(key)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, item.Status)
	assert.Empty(t, item.AuditTrail)

	_, err = b.Transition(context.Background(), key, Action("escalate"), Payload{})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = b.Transition(context.Background(), Key{UseCaseID: "uc1", RequirementID: "99"}, ActionSubmit, Payload{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoard_PublishedIsTerminal(t *testing.T) {
	b := openBoard(t, "1")
	ctx := context.Background()
	key := Key{UseCaseID: "uc1", RequirementID: "1"}

	for _, a := range []Action{ActionSubmit, ActionStartReview, ActionApprove, ActionPublish} {
		_, err := b.Transition(ctx, key, a, Payload{})
		require.NoError(t, err)
	}
	assert.False(t, b.HasOpenItem("uc1", "1"))

	for _, a := range AllActions {
		_, err := b.Transition(ctx, key, a, Payload{})
		assert.ErrorIs(t, err, ErrInvalidTransition, a)
	}
}

func TestBoard_BulkSubmitIdempotent(t *testing.T) {
	b := openBoard(t, "1", "2", "3")
	ctx := context.Background()

	_, err := b.Transition(ctx, Key{UseCaseID: "uc1", RequirementID: "2"}, ActionSubmit, Payload{})
	require.NoError(t, err)

	first := b.BulkSubmit(ctx, "uc1", "")
	assert.Equal(t, []string{"1", "3"}, first.Submitted)
	assert.Equal(t, 1, first.Unchanged)

	second := b.BulkSubmit(ctx, "uc1", "")
	assert.Empty(t, second.Submitted)
	assert.Equal(t, 3, second.Unchanged)

	counts := b.Counts("uc1")
	assert.Equal(t, 3, counts.ByStatus[StatusSubmitted])
	assert.Equal(t, 3, counts.Total)

	assert.Empty(t, b.BulkSubmit(ctx, "other", "").Submitted)
}

func TestBoard_CountsCoverAllStatuses(t *testing.T) {
	b := openBoard(t, "1", "2")
	c := b.Counts("uc1")
	require.Len(t, c.ByStatus, len(AllStatuses))
	assert.Equal(t, 2, c.ByStatus[StatusDraft])
	assert.Equal(t, c.Total, c.Sum())
	assert.Equal(t, 2, c.Pending())

	empty := b.Counts("nothing")
	assert.Equal(t, 0, empty.Total)
	assert.Len(t, empty.ByStatus, len(AllStatuses))
}

func TestBoard_PublishesCommittedTransitions(t *testing.T) {
	rec := &events.Recorder{}
	var observed []Action
	b := NewBoard(RegisterModel,
		WithPublisher(rec),
		WithObserver(func(_ Register, a Action, err error) {
			if err == nil {
				observed = append(observed, a)
			}
		}))
	_, _, err := b.Open("uc1", newReq("4"), "")
	require.NoError(t, err)

	key := Key{UseCaseID: "uc1", RequirementID: "4"}
	_, err = b.Transition(context.Background(), key, ActionSubmit, Payload{})
	require.NoError(t, err)
	_, err = b.Transition(context.Background(), key, ActionPublish, Payload{})
	require.Error(t, err)

	got := rec.Events()
	require.Len(t, got, 1, "failed transitions publish nothing")
	assert.Equal(t, "model", got[0].Register)
	assert.Equal(t, "submitted", got[0].To)
	assert.Equal(t, []Action{ActionSubmit}, observed)
}

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, events.Event) error {
	return errors.New("sink down")
}

func TestBoard_PublisherFailureKeepsTransition(t *testing.T) {
	b := NewBoard(RegisterLexicon, WithPublisher(brokenPublisher{}))
	_, _, err := b.Open("uc1", newReq("1"), "")
	require.NoError(t, err)

	item, err := b.Transition(context.Background(), Key{UseCaseID: "uc1", RequirementID: "1"}, ActionSubmit, Payload{})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, item.Status)
}

func TestBoard_ConcurrentTransitionsOnOneItem(t *testing.T) {
	b := openBoard(t, "1")
	key := Key{UseCaseID: "uc1", RequirementID: "1"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Transition(context.Background(), key, ActionSubmit, Payload{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one submit wins")
	item, err := b.Item(key)
	require.NoError(t, err)
	assert.Len(t, item.AuditTrail, 1)
}

func TestBoard_ItemSnapshotsAreCopies(t *testing.T) {
	b := openBoard(t, "1")
	key := Key{UseCaseID: "uc1", RequirementID: "1"}
	item, err := b.Transition(context.Background(), key, ActionSubmit, Payload{})
	require.NoError(t, err)

	item.AuditTrail[0].Reason = "tampered"
	fresh, err := b.Item(key)
	require.NoError(t, err)
	assert.Empty(t, fresh.AuditTrail[0].Reason)
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusSubmitted, true},
		{StatusDraft, StatusApproved, false},
		{StatusSubmitted, StatusUnderReview, true},
		{StatusUnderReview, StatusApproved, true},
		{StatusUnderReview, StatusRejected, true},
		{StatusApproved, StatusPublished, true},
		{StatusRejected, StatusDraft, true},
		{StatusRejected, StatusSubmitted, false},
		{StatusPublished, StatusDraft, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.Equal(t, []Action{ActionApprove, ActionReject}, StatusUnderReview.Actions())
	assert.Empty(t, StatusPublished.Actions())
	assert.False(t, Status("closed").IsValid())
}
