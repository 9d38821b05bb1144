package license

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTierOrderingIsTotal(t *testing.T) {
	tiers := AllTiers()
	for i, a := range tiers {
		for j, b := range tiers {
			assert.Equal(t, i >= j, a.Satisfies(b), "%s satisfies %s", a, b)
		}
	}
}

func TestTierOrderingIsNotLexical(t *testing.T) {
	// "FULL" < "FOUNDATION" lexically, the rank table says otherwise.
	assert.True(t, TierFull.Satisfies(TierFoundation))
	assert.False(t, TierFoundation.Satisfies(TierFull))
	assert.True(t, TierAgency.Satisfies(TierFull))
	assert.False(t, TierDev.Satisfies(TierGrowth))
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"DEV", TierDev, false},
		{"foundation", TierFoundation, false},
		{" Growth ", TierGrowth, false},
		{"FULL", TierFull, false},
		{"agency", TierAgency, false},
		{"enterprise", TierDev, true},
		{"", TierDev, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTierInvalidNeverSatisfies(t *testing.T) {
	invalid := Tier(42)
	assert.False(t, invalid.IsValid())
	assert.False(t, invalid.Satisfies(TierDev))
	assert.False(t, TierAgency.Satisfies(invalid))
	assert.Equal(t, "Tier(42)", invalid.String())
}

func TestTierEncoding(t *testing.T) {
	data, err := json.Marshal(struct {
		Tier Tier `json:"tier"`
	}{TierGrowth})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"GROWTH"}`, string(data))

	var decoded struct {
		Tier Tier `json:"tier" yaml:"tier"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"tier":"agency"}`), &decoded))
	assert.Equal(t, TierAgency, decoded.Tier)

	require.NoError(t, yaml.Unmarshal([]byte("tier: FOUNDATION\n"), &decoded))
	assert.Equal(t, TierFoundation, decoded.Tier)

	assert.Error(t, json.Unmarshal([]byte(`{"tier":"gold"}`), &decoded))
}

func TestRequireTier(t *testing.T) {
	assert.NoError(t, RequireTier(TierGrowth, TierGrowth))
	assert.NoError(t, RequireTier(TierGrowth, TierDev))

	err := RequireTier(TierFoundation, TierGrowth)
	require.Error(t, err)
	var tierErr *TierError
	require.ErrorAs(t, err, &tierErr)
	assert.Equal(t, TierGrowth, tierErr.Required)
	assert.Equal(t, TierFoundation, tierErr.Actual)
	assert.Contains(t, err.Error(), "FOUNDATION")
	assert.Contains(t, err.Error(), "GROWTH")
	assert.ErrorIs(t, err, ErrTierInsufficient)
	assert.Equal(t, ReasonTierInsufficient, ReasonOf(err))
}
