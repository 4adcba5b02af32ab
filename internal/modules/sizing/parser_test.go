package sizing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Forms(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		kind      SpecKind
		magnitude string
	}{
		{"absolute weight", "2.5", WeightAbs, "2.5"},
		{"absolute weight with percent", "2.5%", WeightAbs, "2.5"},
		{"absolute weight with whitespace", "  3 ", WeightAbs, "3"},
		{"positive weight delta", "+0.5", WeightDelta, "0.5"},
		{"negative weight delta", "-1.25", WeightDelta, "-1.25"},
		{"weight delta with percent", "+0.5%", WeightDelta, "0.5"},
		{"absolute shares", "#500", SharesAbs, "500"},
		{"fractional shares", "#12.5", SharesAbs, "12.5"},
		{"positive shares delta", "#+200", SharesDelta, "200"},
		{"negative shares delta", "#-200", SharesDelta, "-200"},
		{"active weight target", "@t1.0", ActiveWeightTarget, "1"},
		{"negative active weight target", "@t-0.5", ActiveWeightTarget, "-0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, spec.Kind)
			assert.True(t, spec.Magnitude.Equal(decimal.RequireFromString(tt.magnitude)),
				"magnitude: want %s, got %s", tt.magnitude, spec.Magnitude)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"abc",
		"2.5x",
		"#",
		"#abc",
		"#-",
		"@t",
		"@tabc",
		"+",
		"--2",
		"#-500x",
	}

	for _, input := range inputs {
		t.Run("input "+input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)

			var parseErr *ParseError
			assert.True(t, errors.As(err, &parseErr), "expected *ParseError, got %T", err)
		})
	}
}

func TestParse_NegativeAbsoluteRejected(t *testing.T) {
	// A bare negative number is a delta; a negative absolute share count is
	// never valid
	_, err := Parse("#-0")
	require.NoError(t, err, "signed zero share delta is fine")

	spec, err := Parse("-2.5")
	require.NoError(t, err)
	assert.Equal(t, WeightDelta, spec.Kind)
}

func TestParse_LongestPrefixWins(t *testing.T) {
	// "@t" must win over the bare-number and sign forms
	spec, err := Parse("@t+0.75")
	require.NoError(t, err)
	assert.Equal(t, ActiveWeightTarget, spec.Kind)
	assert.True(t, spec.Magnitude.Equal(decimal.RequireFromString("0.75")))
}

func TestSpec_StringRoundTrip(t *testing.T) {
	inputs := []string{"2.5", "+0.5", "-1.25", "#500", "#+200", "#-200", "@t1", "@t-0.5"}
	for _, input := range inputs {
		spec, err := Parse(input)
		require.NoError(t, err)

		again, err := Parse(spec.String())
		require.NoError(t, err, "canonical form %q must re-parse", spec.String())
		assert.Equal(t, spec.Kind, again.Kind)
		assert.True(t, spec.Magnitude.Equal(again.Magnitude))
	}
}
