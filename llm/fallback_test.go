package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/semreq/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOracle struct {
	name  string
	err   error
	calls int
}

func (s *stubOracle) Name() string { return s.name }

func (s *stubOracle) Suggest(_ context.Context, _ quality.Request) ([]quality.Suggestion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []quality.Suggestion{{Dimension: quality.DimTimeliness, Value: "T+1 (" + s.name + ")"}}, nil
}

func TestFallbackOracle_UsesFirstHealthy(t *testing.T) {
	primary := &stubOracle{name: "llm:primary", err: NewTransientError(errors.New("503"))}
	secondary := &stubOracle{name: "llm:secondary"}
	f := NewFallbackOracle([]quality.Oracle{primary, secondary}, HealthConfig{}, nil)

	assert.Equal(t, "llm:primary>llm:secondary", f.Name())

	out, err := f.Suggest(context.Background(), quality.Request{RequirementID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "T+1 (llm:secondary)", out[0].Value)

	h := f.Health("llm:primary")
	require.NotNil(t, h)
	assert.Equal(t, 1, h.FailureCount)
	assert.False(t, h.CircuitOpen)
	assert.Nil(t, f.Health("llm:unknown"))
}

func TestFallbackOracle_CircuitOpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC)
	primary := &stubOracle{name: "a", err: errors.New("connection refused")}
	secondary := &stubOracle{name: "b"}
	f := NewFallbackOracle([]quality.Oracle{primary, secondary},
		HealthConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}, nil)
	f.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.Suggest(ctx, quality.Request{})
		require.NoError(t, err)
	}
	require.True(t, f.Health("a").CircuitOpen)
	assert.Equal(t, 2, primary.calls)

	// open circuit is skipped
	_, err := f.Suggest(ctx, quality.Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)

	// half-open trial after the recovery timeout
	now = now.Add(2 * time.Minute)
	primary.err = nil
	out, err := f.Suggest(ctx, quality.Request{})
	require.NoError(t, err)
	assert.Equal(t, "T+1 (a)", out[0].Value)
	assert.False(t, f.Health("a").CircuitOpen)
	assert.Equal(t, 0, f.Health("a").FailureCount)
}

func TestFallbackOracle_AllFail(t *testing.T) {
	a := &stubOracle{name: "a", err: errors.New("boom")}
	b := &stubOracle{name: "b", err: errors.New("bang")}
	f := NewFallbackOracle([]quality.Oracle{a, b}, HealthConfig{FailureThreshold: 1}, nil)

	_, err := f.Suggest(context.Background(), quality.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Contains(t, err.Error(), "b: bang")

	// every circuit open: the whole chain is tried again
	_, err = f.Suggest(context.Background(), quality.Request{})
	require.Error(t, err)
	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, b.calls)
}

func TestFallbackOracle_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &stubOracle{name: "a", err: context.Canceled}
	b := &stubOracle{name: "b"}
	f := NewFallbackOracle([]quality.Oracle{a, b}, HealthConfig{}, nil)

	_, err := f.Suggest(ctx, quality.Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.calls)
	assert.Nil(t, f.Health("a"))
}

func TestFallbackOracle_Empty(t *testing.T) {
	_, err := NewFallbackOracle(nil, HealthConfig{}, nil).Suggest(context.Background(), quality.Request{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}
