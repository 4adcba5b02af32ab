// Package prices provides the price feed used to normalize sizing
// instructions. The live implementation pulls quotes from Yahoo Finance;
// tests use the static feed.
package prices

import (
	"context"

	"github.com/meridian/decisiondesk/internal/domain"
)

// Feed resolves current prices for a batch of assets. Results are per-asset:
// one failed lookup never fails the batch, each asset carries its own error.
type Feed interface {
	GetPrices(ctx context.Context, assetIDs []string) map[string]domain.PriceResult
}
