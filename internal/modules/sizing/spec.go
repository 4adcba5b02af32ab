// Package sizing turns free-form sizing instructions into unambiguous,
// lot-rounded share and weight targets, and detects direction conflicts
// between a stated action and the computed change.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SpecKind identifies the sizing form resolved at parse time. Downstream
// logic switches exhaustively over this closed set, so a new form is a
// compile-time change, not a runtime string re-scan.
type SpecKind string

const (
	// WeightAbs is an absolute percent weight target, e.g. "2.5"
	WeightAbs SpecKind = "weight_abs"
	// WeightDelta is a signed percent weight change, e.g. "+0.5"
	WeightDelta SpecKind = "weight_delta"
	// SharesAbs is an absolute share count target, e.g. "#500"
	SharesAbs SpecKind = "shares_abs"
	// SharesDelta is a signed share count change, e.g. "#-200"
	SharesDelta SpecKind = "shares_delta"
	// ActiveWeightTarget is a target weight relative to benchmark, e.g. "@t1.0"
	ActiveWeightTarget SpecKind = "active_weight_target"
)

// IsValid checks if the spec kind is one of the known values
func (k SpecKind) IsValid() bool {
	switch k {
	case WeightAbs, WeightDelta, SharesAbs, SharesDelta, ActiveWeightTarget:
		return true
	}
	return false
}

// IsDelta returns true for forms expressing a change rather than a target
func (k SpecKind) IsDelta() bool {
	return k == WeightDelta || k == SharesDelta
}

// Spec is the parsed, typed representation of a sizing instruction.
// Magnitude is signed for delta forms and for active-weight targets
// (a negative target means underweight vs. benchmark).
type Spec struct {
	Kind      SpecKind        `json:"kind"`
	Magnitude decimal.Decimal `json:"magnitude"`
}

// String renders the spec in its canonical input form
func (s Spec) String() string {
	switch s.Kind {
	case SharesAbs:
		return "#" + s.Magnitude.String()
	case SharesDelta:
		if s.Magnitude.Sign() >= 0 {
			return "#+" + s.Magnitude.String()
		}
		return "#" + s.Magnitude.String()
	case ActiveWeightTarget:
		return "@t" + s.Magnitude.String()
	case WeightDelta:
		if s.Magnitude.Sign() >= 0 {
			return "+" + s.Magnitude.String()
		}
		return s.Magnitude.String()
	default:
		return s.Magnitude.String()
	}
}

// ParseError reports an unparseable sizing instruction. It is non-fatal:
// callers flag the owning variant and keep processing the batch.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable sizing input %q: %s", e.Input, e.Reason)
}
