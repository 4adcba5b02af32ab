package sizing

import (
	"github.com/shopspring/decimal"
)

// MinLotBehavior controls what happens when a non-zero raw change rounds
// below one lot
type MinLotBehavior string

const (
	// AllowZero rounds a below-lot change to zero and flags a warning
	AllowZero MinLotBehavior = "allow_zero"
	// RoundToOneLot forces exactly one lot in the direction of the raw change
	RoundToOneLot MinLotBehavior = "round_to_one_lot"
)

// RoundDirection controls how fractional share counts are resolved
type RoundDirection string

const (
	TowardZero   RoundDirection = "toward_zero"
	Nearest      RoundDirection = "nearest"
	AwayFromZero RoundDirection = "away_from_zero"
)

// RoundingConfig is the per-portfolio (or per-asset override) lot policy.
// LotSize is the minimum tradable share increment.
type RoundingConfig struct {
	LotSize        decimal.Decimal `json:"lot_size"`
	MinLotBehavior MinLotBehavior  `json:"min_lot_behavior"`
	Direction      RoundDirection  `json:"direction"`
	ZeroThreshold  decimal.Decimal `json:"zero_threshold"`
}

// DefaultRoundingConfig returns the policy used when a portfolio has no
// explicit configuration: whole shares, below-lot changes collapse to zero.
func DefaultRoundingConfig() RoundingConfig {
	return RoundingConfig{
		LotSize:        decimal.NewFromInt(1),
		MinLotBehavior: AllowZero,
		Direction:      TowardZero,
	}
}

// normalized fills in zero-value fields so stored configs with missing
// columns behave like the default
func (c RoundingConfig) normalized() RoundingConfig {
	if c.LotSize.Sign() <= 0 {
		c.LotSize = decimal.NewFromInt(1)
	}
	if c.MinLotBehavior == "" {
		c.MinLotBehavior = AllowZero
	}
	if c.Direction == "" {
		c.Direction = TowardZero
	}
	return c
}

// Round converts a raw (possibly fractional) share change into a tradable
// one. A change of zero, or within ZeroThreshold of it, always rounds to
// zero with no warning. A non-zero change whose magnitude is below one lot
// resolves per MinLotBehavior: AllowZero returns zero and reports
// belowLot=true; RoundToOneLot returns one lot carrying the raw sign.
// At or above one lot the change is rounded to a whole number of shares in
// the configured direction. Round is idempotent: a value it has produced is
// returned unchanged when rounded again under the same config.
func Round(raw decimal.Decimal, cfg RoundingConfig) (rounded decimal.Decimal, belowLot bool) {
	cfg = cfg.normalized()

	if raw.Abs().LessThanOrEqual(cfg.ZeroThreshold) || raw.IsZero() {
		return decimal.Zero, false
	}

	if raw.Abs().LessThan(cfg.LotSize) {
		switch cfg.MinLotBehavior {
		case RoundToOneLot:
			if raw.Sign() < 0 {
				return cfg.LotSize.Neg(), false
			}
			return cfg.LotSize, false
		default: // AllowZero
			return decimal.Zero, true
		}
	}

	return roundShares(raw, cfg.Direction), false
}

// roundShares resolves fractional share counts to whole shares
func roundShares(raw decimal.Decimal, direction RoundDirection) decimal.Decimal {
	if raw.Equal(raw.Truncate(0)) {
		return raw
	}
	switch direction {
	case Nearest:
		return raw.Round(0)
	case AwayFromZero:
		if raw.Sign() < 0 {
			return raw.Floor()
		}
		return raw.Ceil()
	default: // TowardZero
		return raw.Truncate(0)
	}
}
