package prices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian/decisiondesk/internal/domain"
)

// StaticFeed serves fixed prices, used in tests and offline development
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]float64
}

// NewStaticFeed creates a static feed seeded with the given prices
func NewStaticFeed(quotes map[string]float64) *StaticFeed {
	copied := make(map[string]float64, len(quotes))
	for k, v := range quotes {
		copied[k] = v
	}
	return &StaticFeed{quotes: copied}
}

// Set updates one asset's price
func (f *StaticFeed) Set(assetID string, price float64) {
	f.mu.Lock()
	f.quotes[assetID] = price
	f.mu.Unlock()
}

// GetPrices returns the configured prices; unknown assets get a per-asset
// error, matching the live feed's partial-failure behavior
func (f *StaticFeed) GetPrices(_ context.Context, assetIDs []string) map[string]domain.PriceResult {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]domain.PriceResult, len(assetIDs))
	for _, id := range assetIDs {
		price, ok := f.quotes[id]
		if !ok {
			out[id] = domain.PriceResult{Err: fmt.Errorf("no static quote for %s", id)}
			continue
		}
		out[id] = domain.PriceResult{Quote: domain.PriceQuote{
			AssetID:   id,
			Price:     price,
			Timestamp: time.Now().UTC(),
			Source:    "static",
		}}
	}
	return out
}
