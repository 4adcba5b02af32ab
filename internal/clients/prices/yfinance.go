package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"

	"github.com/meridian/decisiondesk/internal/domain"
)

// YFinanceFeed fetches quotes from Yahoo Finance in one batch download
type YFinanceFeed struct {
	log zerolog.Logger
}

// NewYFinanceFeed creates a Yahoo Finance backed price feed
func NewYFinanceFeed(log zerolog.Logger) *YFinanceFeed {
	return &YFinanceFeed{
		log: log.With().Str("client", "yfinance").Logger(),
	}
}

// GetPrices downloads recent daily bars for the assets and uses each last
// close as the current price. Per-asset failures land in that asset's result.
func (f *YFinanceFeed) GetPrices(ctx context.Context, assetIDs []string) map[string]domain.PriceResult {
	out := make(map[string]domain.PriceResult, len(assetIDs))
	if len(assetIDs) == 0 {
		return out
	}

	params := models.DefaultDownloadParams()
	params.Symbols = assetIDs
	params.Period = "5d"
	params.Interval = "1d"

	result, err := multi.Download(assetIDs, &params)
	if err != nil {
		// Whole-batch failure: every asset reports the upstream outage
		f.log.Error().Err(err).Int("assets", len(assetIDs)).Msg("Batch quote download failed")
		for _, id := range assetIDs {
			out[id] = domain.PriceResult{Err: fmt.Errorf("quote download for %s: %w", id, domain.ErrUpstreamUnavailable)}
		}
		return out
	}

	for _, id := range assetIDs {
		if bars, ok := result.Data[id]; ok && len(bars) > 0 {
			last := bars[len(bars)-1]
			out[id] = domain.PriceResult{Quote: domain.PriceQuote{
				AssetID:   id,
				Price:     last.Close,
				Timestamp: time.Now().UTC(),
				Source:    "yfinance",
			}}
			continue
		}
		if assetErr, ok := result.Errors[id]; ok {
			f.log.Warn().Err(assetErr).Str("asset_id", id).Msg("Quote unavailable")
			out[id] = domain.PriceResult{Err: fmt.Errorf("quote for %s: %w", id, assetErr)}
			continue
		}
		out[id] = domain.PriceResult{Err: fmt.Errorf("no quote data for %s", id)}
	}
	return out
}
