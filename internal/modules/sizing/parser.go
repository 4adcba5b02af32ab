package sizing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Parse resolves a sizing instruction string into a typed Spec using
// longest-prefix matching over the recognized forms:
//
//	"@t1.0"  target active weight (signed)
//	"#500"   absolute share count
//	"#+200"  share count change (signed)
//	"+0.5"   percent weight change (signed)
//	"2.5"    absolute percent weight
//
// A trailing "%" on weight forms is tolerated. Anything else fails with a
// *ParseError. Parse performs no position- or price-aware computation.
func Parse(input string) (Spec, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Spec{}, &ParseError{Input: input, Reason: "empty input"}
	}

	switch {
	case strings.HasPrefix(trimmed, "@t"):
		return parseActiveWeight(input, trimmed[2:])
	case strings.HasPrefix(trimmed, "#"):
		return parseShares(input, trimmed[1:])
	case strings.HasPrefix(trimmed, "+"), strings.HasPrefix(trimmed, "-"):
		return parseWeightDelta(input, trimmed)
	default:
		return parseWeightAbs(input, trimmed)
	}
}

func parseActiveWeight(raw, body string) (Spec, error) {
	magnitude, err := parseNumber(body, true)
	if err != nil {
		return Spec{}, &ParseError{Input: raw, Reason: "invalid active weight target"}
	}
	return Spec{Kind: ActiveWeightTarget, Magnitude: magnitude}, nil
}

func parseShares(raw, body string) (Spec, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Spec{}, &ParseError{Input: raw, Reason: "missing share count"}
	}

	// A sign after "#" makes it a share change rather than a target
	kind := SharesAbs
	if body[0] == '+' || body[0] == '-' {
		kind = SharesDelta
	}

	magnitude, err := decimal.NewFromString(body)
	if err != nil {
		return Spec{}, &ParseError{Input: raw, Reason: "invalid share count"}
	}
	if kind == SharesAbs && magnitude.IsNegative() {
		return Spec{}, &ParseError{Input: raw, Reason: "absolute share count cannot be negative"}
	}
	return Spec{Kind: kind, Magnitude: magnitude}, nil
}

func parseWeightDelta(raw, body string) (Spec, error) {
	magnitude, err := parseNumber(body, true)
	if err != nil {
		return Spec{}, &ParseError{Input: raw, Reason: "invalid weight change"}
	}
	return Spec{Kind: WeightDelta, Magnitude: magnitude}, nil
}

func parseWeightAbs(raw, body string) (Spec, error) {
	magnitude, err := parseNumber(body, false)
	if err != nil {
		return Spec{}, &ParseError{Input: raw, Reason: "invalid weight"}
	}
	if magnitude.IsNegative() {
		return Spec{}, &ParseError{Input: raw, Reason: "absolute weight cannot be negative"}
	}
	return Spec{Kind: WeightAbs, Magnitude: magnitude}, nil
}

// parseNumber parses a decimal number, tolerating a trailing percent sign
// and surrounding whitespace
func parseNumber(body string, allowSign bool) (decimal.Decimal, error) {
	body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "%"))
	if body == "" {
		return decimal.Decimal{}, &ParseError{Input: body, Reason: "empty number"}
	}
	if !allowSign && (body[0] == '+' || body[0] == '-') {
		return decimal.Decimal{}, &ParseError{Input: body, Reason: "unexpected sign"}
	}
	return decimal.NewFromString(body)
}
