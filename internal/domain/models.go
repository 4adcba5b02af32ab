// Package domain holds types shared across modules.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TradeAction is the direction an analyst states for a trade idea or variant.
// buy/add increase the position, sell/trim reduce it; the distinction between
// the pairs is intent (new position vs. adjustment), not arithmetic.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
	ActionTrim TradeAction = "trim"
	ActionAdd  TradeAction = "add"
)

// IsValid checks if the trade action is one of the known values
func (a TradeAction) IsValid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionTrim, ActionAdd:
		return true
	}
	return false
}

// IsIncrease returns true for actions that grow the position
func (a TradeAction) IsIncrease() bool {
	return a == ActionBuy || a == ActionAdd
}

// IsReduce returns true for actions that shrink the position
func (a TradeAction) IsReduce() bool {
	return a == ActionSell || a == ActionTrim
}

// TradeActionFromString creates a TradeAction from a string (case-insensitive)
func TradeActionFromString(value string) (TradeAction, error) {
	action := TradeAction(strings.ToLower(strings.TrimSpace(value)))
	if !action.IsValid() {
		return "", fmt.Errorf("invalid trade action: %q", value)
	}
	return action, nil
}

// Position is a portfolio's current holding of one asset
type Position struct {
	PortfolioID  string    `json:"portfolio_id"`
	AssetID      string    `json:"asset_id"`
	Shares       float64   `json:"shares"`
	Weight       float64   `json:"weight"` // Percent of portfolio value
	CostBasis    float64   `json:"cost_basis"`
	ActiveWeight *float64  `json:"active_weight,omitempty"` // Weight relative to benchmark, if benchmarked
	UpdatedAt    time.Time `json:"updated_at"`
}

// PriceQuote is one asset's price as returned by the price feed
type PriceQuote struct {
	AssetID   string    `json:"asset_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// PriceResult is a per-asset price feed outcome. The feed is partial-failure
// tolerant: each asset carries its own error instead of failing the batch.
type PriceResult struct {
	Quote PriceQuote
	Err   error
}
