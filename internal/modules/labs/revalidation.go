package labs

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/events"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
)

// RevalidationProcessor re-runs the sizing pipeline over a view's live
// variants when prices or positions move. The pass is idempotent and
// order-independent: it reads each variant's generation before recomputing
// and drops its write-back if an edit landed in between, so a batch that
// started before an accepted edit never overwrites it.
type RevalidationProcessor struct {
	repo     *Repository
	service  *Service
	eventMgr *events.Manager
	log      zerolog.Logger
}

// NewRevalidationProcessor creates a revalidation processor
func NewRevalidationProcessor(repo *Repository, service *Service, eventMgr *events.Manager, log zerolog.Logger) *RevalidationProcessor {
	return &RevalidationProcessor{
		repo:     repo,
		service:  service,
		eventMgr: eventMgr,
		log:      log.With().Str("service", "revalidation").Logger(),
	}
}

// Revalidate recomputes every live variant in the view whose asset has a
// resolvable price. Per-asset price failures skip only that asset; parse
// failures flag the variant and count toward the summary. Placeholder
// variants are left untouched, they have no authoritative identity to price.
func (p *RevalidationProcessor) Revalidate(ctx context.Context, labID, viewID string, trigger sizing.Trigger) (*RevalidationSummary, error) {
	lab, err := p.repo.GetLab(ctx, labID)
	if err != nil {
		return nil, err
	}

	variants, err := p.repo.ListLiveVariants(ctx, labID, viewID)
	if err != nil {
		return nil, err
	}

	summary := &RevalidationSummary{}
	if len(variants) == 0 {
		return summary, nil
	}

	assetSet := make(map[string]bool)
	var assetIDs []string
	for _, v := range variants {
		if v.Placeholder || assetSet[v.AssetID] {
			continue
		}
		assetSet[v.AssetID] = true
		assetIDs = append(assetIDs, v.AssetID)
	}

	prices := p.service.prices.GetPrices(ctx, assetIDs)

	for i := range variants {
		v := variants[i]
		if v.Placeholder {
			continue
		}

		result, ok := prices[v.AssetID]
		if !ok || result.Err != nil {
			p.log.Warn().Str("asset_id", v.AssetID).Msg("Price unavailable, skipping asset")
			summary.SkippedAssets = append(summary.SkippedAssets, v.AssetID)
			continue
		}

		readGeneration := v.Generation

		spec, err := sizing.Parse(v.SizingInput)
		if err != nil {
			v.Spec = nil
			v.Computed = nil
			v.Conflict = nil
			v.BelowLotWarning = false
			v.ParseError = err.Error()
			summary.ParseFailures++
		} else {
			computed, conflict, err := p.service.normalize(ctx, lab.PortfolioID, v.AssetID, spec, v.Action, result.Quote.Price, result.Quote.Timestamp, trigger)
			if err != nil {
				p.log.Warn().Err(err).Str("asset_id", v.AssetID).Msg("Normalization failed, skipping asset")
				summary.SkippedAssets = append(summary.SkippedAssets, v.AssetID)
				continue
			}
			v.Spec = &spec
			v.Computed = computed
			v.Conflict = conflict
			v.BelowLotWarning = computed.BelowLotWarning
			v.ParseError = ""
			if snapshot, err := p.service.positions.GetPosition(ctx, lab.PortfolioID, v.AssetID); err == nil {
				v.PositionSnapshot = &snapshot
			}
		}

		if err := p.repo.UpdateVariant(ctx, &v, readGeneration); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				// An edit was accepted after this batch read the variant;
				// the edit wins
				p.log.Debug().Str("variant_id", v.ID).Msg("Dropping stale revalidation write-back")
				continue
			}
			return nil, err
		}

		// Parse failures were flagged and persisted but nothing was recomputed
		if v.ParseError != "" {
			continue
		}
		summary.Recomputed++
		if v.Conflict != nil {
			summary.Conflicts++
		}
		if v.BelowLotWarning {
			summary.BelowLotWarnings++
		}
	}

	p.eventMgr.Emit(events.VariantsRevalidated, "labs", "system", map[string]interface{}{
		"lab_id":             labID,
		"view_id":            viewID,
		"portfolio_id":       lab.PortfolioID,
		"trigger":            string(trigger),
		"recomputed":         summary.Recomputed,
		"conflicts":          summary.Conflicts,
		"below_lot_warnings": summary.BelowLotWarnings,
		"parse_failures":     summary.ParseFailures,
	})
	return summary, nil
}

// RevalidateAll sweeps every lab, used by the scheduled job
func (p *RevalidationProcessor) RevalidateAll(ctx context.Context, trigger sizing.Trigger) error {
	labList, err := p.repo.ListLabs(ctx)
	if err != nil {
		return err
	}
	for _, lab := range labList {
		views, err := p.repo.ListViews(ctx, lab.ID)
		if err != nil {
			return err
		}
		for _, viewID := range views {
			if _, err := p.Revalidate(ctx, lab.ID, viewID, trigger); err != nil {
				p.log.Error().Err(err).Str("lab_id", lab.ID).Str("view_id", viewID).
					Msg("Revalidation sweep failed for view")
			}
		}
	}
	return nil
}
