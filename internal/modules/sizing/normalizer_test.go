package sizing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/decisiondesk/internal/domain"
)

func lotConfig(lot string, behavior MinLotBehavior) RoundingConfig {
	cfg := DefaultRoundingConfig()
	cfg.LotSize = dec(lot)
	cfg.MinLotBehavior = behavior
	return cfg
}

// Scenario: 1M portfolio, price 100, flat position, "2.5" absolute weight
func TestNormalize_AbsoluteWeightFromFlat(t *testing.T) {
	spec, err := Parse("2.5")
	require.NoError(t, err)

	got, err := Normalize(Inputs{
		Spec:           spec,
		Position:       domain.Position{Shares: 0, Weight: 0},
		Price:          100,
		PortfolioValue: 1_000_000,
		Rounding:       lotConfig("100", AllowZero),
	})
	require.NoError(t, err)

	assert.InDelta(t, 2.5, got.TargetWeight, 1e-9)
	assert.InDelta(t, 250, got.TargetShares, 1e-9)
	assert.InDelta(t, 250, got.DeltaShares, 1e-9)
	assert.InDelta(t, 2.5, got.DeltaWeight, 1e-9)
	assert.InDelta(t, 25_000, got.NotionalValue, 1e-9)
	assert.Equal(t, DirectionBuy, got.Direction)
	assert.False(t, got.BelowLotWarning)
}

func TestNormalize_WeightDelta(t *testing.T) {
	spec, err := Parse("+0.5")
	require.NoError(t, err)

	got, err := Normalize(Inputs{
		Spec:           spec,
		Position:       domain.Position{Shares: 200, Weight: 2.0},
		Price:          100,
		PortfolioValue: 1_000_000,
		Rounding:       DefaultRoundingConfig(),
	})
	require.NoError(t, err)

	assert.InDelta(t, 2.5, got.TargetWeight, 1e-9)
	assert.InDelta(t, 250, got.TargetShares, 1e-9)
	assert.InDelta(t, 50, got.DeltaShares, 1e-9)
	assert.Equal(t, DirectionBuy, got.Direction)
}

func TestNormalize_AbsoluteShares(t *testing.T) {
	spec, err := Parse("#120")
	require.NoError(t, err)

	got, err := Normalize(Inputs{
		Spec:           spec,
		Position:       domain.Position{Shares: 500, Weight: 5.0},
		Price:          200,
		PortfolioValue: 2_000_000,
		Rounding:       DefaultRoundingConfig(),
	})
	require.NoError(t, err)

	assert.InDelta(t, 120, got.TargetShares, 1e-9)
	assert.InDelta(t, -380, got.DeltaShares, 1e-9)
	// Weight derived from price x shares / value: 120*200/2M = 1.2%
	assert.InDelta(t, 1.2, got.TargetWeight, 1e-9)
	assert.InDelta(t, -3.8, got.DeltaWeight, 1e-9)
	assert.InDelta(t, 76_000, got.NotionalValue, 1e-9)
	assert.Equal(t, DirectionSell, got.Direction)
}

func TestNormalize_SharesDelta(t *testing.T) {
	spec, err := Parse("#-200")
	require.NoError(t, err)

	got, err := Normalize(Inputs{
		Spec:           spec,
		Position:       domain.Position{Shares: 500, Weight: 5.0},
		Price:          100,
		PortfolioValue: 1_000_000,
		Rounding:       DefaultRoundingConfig(),
	})
	require.NoError(t, err)

	assert.InDelta(t, 300, got.TargetShares, 1e-9)
	assert.InDelta(t, -200, got.DeltaShares, 1e-9)
	assert.Equal(t, DirectionSell, got.Direction)
}

func TestNormalize_ActiveWeightTarget(t *testing.T) {
	spec, err := Parse("@t1.0")
	require.NoError(t, err)

	benchmark := 3.0
	current := 0.5
	got, err := Normalize(Inputs{
		Spec:            spec,
		Position:        domain.Position{Shares: 350, Weight: 3.5, ActiveWeight: &current},
		Price:           100,
		PortfolioValue:  1_000_000,
		Rounding:        DefaultRoundingConfig(),
		BenchmarkWeight: &benchmark,
	})
	require.NoError(t, err)

	// Target = benchmark 3.0 + active 1.0 = 4.0% -> 400 shares
	assert.InDelta(t, 4.0, got.TargetWeight, 1e-9)
	assert.InDelta(t, 400, got.TargetShares, 1e-9)
	assert.InDelta(t, 50, got.DeltaShares, 1e-9)
	require.NotNil(t, got.ActiveWeightTarget)
	assert.InDelta(t, 1.0, *got.ActiveWeightTarget, 1e-9)
	require.NotNil(t, got.ActiveWeightDelta)
	assert.InDelta(t, 0.5, *got.ActiveWeightDelta, 1e-9)
}

func TestNormalize_ActiveWeightWithoutBenchmark(t *testing.T) {
	spec, err := Parse("@t1.0")
	require.NoError(t, err)

	_, err = Normalize(Inputs{
		Spec:           spec,
		Position:       domain.Position{},
		Price:          100,
		PortfolioValue: 1_000_000,
		Rounding:       DefaultRoundingConfig(),
	})
	assert.ErrorIs(t, err, ErrBenchmarkUnavailable)
}

func TestNormalize_BelowLotWarningPropagates(t *testing.T) {
	spec, err := Parse("#+40")
	require.NoError(t, err)

	got, err := Normalize(Inputs{
		Spec:           spec,
		Position:       domain.Position{Shares: 1000, Weight: 10},
		Price:          100,
		PortfolioValue: 1_000_000,
		Rounding:       lotConfig("100", AllowZero),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0, got.DeltaShares, 1e-9)
	assert.InDelta(t, 1000, got.TargetShares, 1e-9)
	assert.True(t, got.BelowLotWarning)
	assert.Equal(t, DirectionFlat, got.Direction)
}

func TestNormalize_InvalidPrice(t *testing.T) {
	spec, err := Parse("2.5")
	require.NoError(t, err)

	for _, price := range []float64{0, -10} {
		_, err := Normalize(Inputs{
			Spec:           spec,
			Price:          price,
			PortfolioValue: 1_000_000,
			Rounding:       DefaultRoundingConfig(),
		})
		assert.Error(t, err, "price %v must be rejected", price)
	}
}

// Identical inputs must always yield identical outputs; revalidation depends
// on this to be deterministic.
func TestNormalize_Deterministic(t *testing.T) {
	spec, err := Parse("+1.75")
	require.NoError(t, err)

	ts := time.Date(2026, 2, 3, 15, 30, 0, 0, time.UTC)
	in := Inputs{
		Spec:           spec,
		Position:       domain.Position{Shares: 333, Weight: 3.33},
		Price:          97.43,
		PriceTimestamp: ts,
		PortfolioValue: 1_234_567,
		Rounding:       lotConfig("10", RoundToOneLot),
	}

	first, err := Normalize(in)
	require.NoError(t, err)
	second, err := Normalize(in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
