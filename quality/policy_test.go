package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_TableDefaults(t *testing.T) {
	var p *Policy
	tests := []struct {
		cde       bool
		dimension string
		want      string
	}{
		{true, DimCompleteness, "≥ 99.5%"},
		{false, DimCompleteness, "≥ 95%"},
		{true, DimAccuracy, "Reconcile GL ± 0.1%"},
		{false, DimTimeliness, "T+1"},
		{true, DimConsistency, "Cross-domain identical"},
		{false, "Integrity", "Domain rules apply"},
	}
	for _, tt := range tests {
		t.Run(tt.dimension, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Default(tt.cde, "Credits", tt.dimension))
		})
	}
}

func TestPolicy_Rules(t *testing.T) {
	p, err := NewPolicy([]Rule{
		{When: `domain == "Markets"`, Dimension: DimTimeliness, Value: "T+0"},
		{When: `cde && dimension.startsWith("Val")`, Value: "Strict validation"},
	})
	require.NoError(t, err)

	assert.Equal(t, "T+0", p.Default(false, "Markets", DimTimeliness))
	assert.Equal(t, "T+1", p.Default(false, "Credits", DimTimeliness))
	assert.Equal(t, "Strict validation", p.Default(true, "Consumer", DimValidity))
	assert.Equal(t, "Domain rules apply", p.Default(false, "Consumer", DimValidity))
}

func TestNewPolicy_RejectsBadRules(t *testing.T) {
	_, err := NewPolicy([]Rule{{When: `domain ==`, Value: "x"}})
	assert.Error(t, err)

	_, err = NewPolicy([]Rule{{When: `domain`, Value: "x"}})
	assert.Error(t, err, "non-boolean conditions are rejected")
}

func TestTableOracle(t *testing.T) {
	o := NewTableOracle()

	got, err := o.Suggest(context.Background(), Request{Domain: "Consumer", IsCDE: true, Dimensions: DefaultDimensions})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, DimCompleteness, got[0].Dimension)
	assert.Equal(t, "Daily by 06:00 CET", got[2].Value)

	got, err = o.Suggest(context.Background(), Request{Domain: "Treasury", Dimensions: []string{DimAccuracy}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Reconcile GL ± 0.5%", got[0].Value, "unknown domains use the non-CDE credits row")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Suggest(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
