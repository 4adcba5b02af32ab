package sizing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/decisiondesk/internal/domain"
)

// ErrBenchmarkUnavailable is returned when an active-weight sizing form is
// normalized for a position without a resolvable benchmark weight. Failing
// loudly beats silently computing a wrong absolute weight.
var ErrBenchmarkUnavailable = errors.New("benchmark weight unavailable for active-weight sizing")

// Direction is the computed trade direction
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionFlat Direction = "flat"
)

// ComputedValues is the normalized output of a sizing instruction. Always
// derived from its inputs, never hand-edited.
type ComputedValues struct {
	Direction          Direction `json:"direction"`
	TargetShares       float64   `json:"target_shares"`
	TargetWeight       float64   `json:"target_weight"`
	DeltaShares        float64   `json:"delta_shares"`
	DeltaWeight        float64   `json:"delta_weight"`
	ActiveWeightTarget *float64  `json:"active_weight_target,omitempty"`
	ActiveWeightDelta  *float64  `json:"active_weight_delta,omitempty"`
	NotionalValue      float64   `json:"notional_value"`
	PriceUsed          float64   `json:"price_used"`
	PriceTimestamp     time.Time `json:"price_timestamp"`
	BelowLotWarning    bool      `json:"below_lot_warning"`
}

// Inputs carries everything Normalize needs. Normalize is a pure function of
// these values: identical inputs always yield identical outputs, which the
// revalidation processor relies on.
type Inputs struct {
	Spec            Spec
	Position        domain.Position
	Price           float64
	PriceTimestamp  time.Time
	PortfolioValue  float64
	Rounding        RoundingConfig
	BenchmarkWeight *float64 // nil when the portfolio has no benchmark for this asset
}

// Normalize combines a parsed spec, the current position, a live price and
// the lot policy into concrete target and delta values.
func Normalize(in Inputs) (ComputedValues, error) {
	if in.Price <= 0 {
		return ComputedValues{}, fmt.Errorf("price must be positive, got %v", in.Price)
	}

	price := decimal.NewFromFloat(in.Price)
	portfolioValue := decimal.NewFromFloat(in.PortfolioValue)
	currentShares := decimal.NewFromFloat(in.Position.Shares)
	currentWeight := decimal.NewFromFloat(in.Position.Weight)
	hundred := decimal.NewFromInt(100)

	var (
		targetWeight   decimal.Decimal
		rawDelta       decimal.Decimal
		weightFromSpec bool
		activeTarget   *float64
	)

	switch in.Spec.Kind {
	case WeightAbs, WeightDelta, ActiveWeightTarget:
		if in.PortfolioValue <= 0 {
			return ComputedValues{}, fmt.Errorf("portfolio value must be positive for weight sizing, got %v", in.PortfolioValue)
		}

		switch in.Spec.Kind {
		case WeightAbs:
			targetWeight = in.Spec.Magnitude
		case WeightDelta:
			targetWeight = currentWeight.Add(in.Spec.Magnitude)
		case ActiveWeightTarget:
			if in.BenchmarkWeight == nil {
				return ComputedValues{}, ErrBenchmarkUnavailable
			}
			targetWeight = decimal.NewFromFloat(*in.BenchmarkWeight).Add(in.Spec.Magnitude)
			t, _ := in.Spec.Magnitude.Float64()
			activeTarget = &t
		}

		weightFromSpec = true
		rawTargetShares := targetWeight.Div(hundred).Mul(portfolioValue).Div(price)
		rawDelta = rawTargetShares.Sub(currentShares)

	case SharesAbs:
		rawDelta = in.Spec.Magnitude.Sub(currentShares)

	case SharesDelta:
		rawDelta = in.Spec.Magnitude

	default:
		return ComputedValues{}, fmt.Errorf("unknown sizing spec kind %q", in.Spec.Kind)
	}

	roundedDelta, belowLot := Round(rawDelta, in.Rounding)
	targetShares := currentShares.Add(roundedDelta)

	// Weight forms keep the weight the user asked for; share forms derive it
	// from the rounded target
	if !weightFromSpec {
		if in.PortfolioValue > 0 {
			targetWeight = targetShares.Mul(price).Div(portfolioValue).Mul(hundred)
		} else {
			targetWeight = decimal.Zero
		}
	}

	deltaWeight := targetWeight.Sub(currentWeight)
	notional := roundedDelta.Abs().Mul(price)

	out := ComputedValues{
		Direction:          directionOf(roundedDelta),
		TargetShares:       mustFloat(targetShares),
		TargetWeight:       mustFloat(targetWeight),
		DeltaShares:        mustFloat(roundedDelta),
		DeltaWeight:        mustFloat(deltaWeight),
		ActiveWeightTarget: activeTarget,
		NotionalValue:      mustFloat(notional),
		PriceUsed:          in.Price,
		PriceTimestamp:     in.PriceTimestamp,
		BelowLotWarning:    belowLot,
	}

	if in.Position.ActiveWeight != nil && activeTarget != nil {
		delta := *activeTarget - *in.Position.ActiveWeight
		out.ActiveWeightDelta = &delta
	}

	return out, nil
}

func directionOf(delta decimal.Decimal) Direction {
	switch delta.Sign() {
	case 1:
		return DirectionBuy
	case -1:
		return DirectionSell
	default:
		return DirectionFlat
	}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
