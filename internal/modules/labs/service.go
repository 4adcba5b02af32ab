package labs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/events"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
	"github.com/meridian/decisiondesk/internal/requests"
)

// PriceFeed resolves live prices per asset. Failures are per-asset: one bad
// symbol never poisons the batch.
type PriceFeed interface {
	GetPrices(ctx context.Context, assetIDs []string) map[string]domain.PriceResult
}

// PositionProvider resolves a portfolio's current position in an asset.
// A missing position is a flat position, not an error.
type PositionProvider interface {
	GetPosition(ctx context.Context, portfolioID, assetID string) (domain.Position, error)
}

// PortfolioData resolves the portfolio reference data sizing needs
type PortfolioData interface {
	TotalValue(ctx context.Context, portfolioID string) (float64, error)
	BenchmarkWeight(ctx context.Context, portfolioID, assetID string) (*float64, error)
	RoundingConfig(ctx context.Context, portfolioID, assetID string) (sizing.RoundingConfig, error)
}

// Service orchestrates variant mutations through the arena so same-slot
// writes serialize, and keeps computed fields in sync with inputs.
type Service struct {
	repo       *Repository
	arena      *Arena
	prices     PriceFeed
	positions  PositionProvider
	portfolios PortfolioData
	requestLog *requests.Log
	eventMgr   *events.Manager
	log        zerolog.Logger
}

// NewService creates a new labs service
func NewService(repo *Repository, arena *Arena, prices PriceFeed, positions PositionProvider, portfolios PortfolioData, requestLog *requests.Log, eventMgr *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		arena:      arena,
		prices:     prices,
		positions:  positions,
		portfolios: portfolios,
		requestLog: requestLog,
		eventMgr:   eventMgr,
		log:        log.With().Str("service", "labs").Logger(),
	}
}

// CreateLab creates a new lab
func (s *Service) CreateLab(ctx context.Context, actorID string, lab *Lab, requestID string) (*Lab, error) {
	if applied, err := s.applied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return s.repo.GetLab(ctx, lab.ID)
	}

	lab.OwnerID = actorID
	if err := s.repo.CreateLab(ctx, lab); err != nil {
		return nil, err
	}
	s.record(ctx, requestID, "create_lab", lab.ID)
	return lab, nil
}

// SaveInput is a variant save request
type SaveInput struct {
	LabID       string
	ViewID      string
	AssetID     string
	Action      domain.TradeAction
	SizingInput string
	Placeholder bool
}

// SaveVariant creates or updates the variant in the slot. A duplicate save
// racing on the same key collapses into the existing slot; the computed
// fields are refreshed from live price and position data on every save.
// Unparseable input is stored with a parse flag rather than rejected, so the
// analyst's draft survives.
func (s *Service) SaveVariant(ctx context.Context, actorID string, in SaveInput, requestID string) (*Variant, error) {
	if !in.Action.IsValid() {
		return nil, fmt.Errorf("invalid action: %q", in.Action)
	}
	if in.SizingInput == "" {
		return nil, fmt.Errorf("sizing input cannot be empty")
	}

	lab, err := s.repo.GetLab(ctx, in.LabID)
	if err != nil {
		return nil, err
	}

	if applied, err := s.applied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return s.repo.GetLiveVariant(ctx, Key{LabID: in.LabID, ViewID: in.ViewID, AssetID: in.AssetID})
	}

	key := Key{LabID: in.LabID, ViewID: in.ViewID, AssetID: in.AssetID}
	var saved *Variant

	err = s.arena.Do(key, func() error {
		variant := &Variant{
			LabID:       in.LabID,
			ViewID:      in.ViewID,
			AssetID:     in.AssetID,
			Action:      in.Action,
			SizingInput: in.SizingInput,
			Placeholder: in.Placeholder,
		}
		s.compute(ctx, lab.PortfolioID, variant, sizing.TriggerUserEdit)

		existing, err := s.repo.GetLiveVariant(ctx, key)
		if err != nil {
			return err
		}

		if existing == nil {
			if err := s.repo.InsertVariant(ctx, variant); err != nil {
				if !errors.Is(err, domain.ErrConcurrencyConflict) {
					return err
				}
				// Lost an insert race outside this process; collapse into
				// the winner's row
				existing, err = s.repo.GetLiveVariant(ctx, key)
				if err != nil {
					return err
				}
				if existing == nil {
					return fmt.Errorf("slot %s: %w", key, domain.ErrConcurrencyConflict)
				}
			}
		}

		if existing != nil {
			variant.ID = existing.ID
			variant.CreatedAt = existing.CreatedAt
			if err := s.repo.UpdateVariant(ctx, variant, existing.Generation); err != nil {
				return err
			}
		}

		if !variant.Placeholder {
			s.arena.MarkGood(variant)
		}
		saved = variant
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eventMgr.Emit(events.VariantSaved, "labs", actorID, map[string]interface{}{
		"lab_id":       in.LabID,
		"view_id":      in.ViewID,
		"asset_id":     in.AssetID,
		"portfolio_id": lab.PortfolioID,
		"action":       string(in.Action),
		"sizing_input": in.SizingInput,
		"has_conflict": saved.Conflict != nil,
	})
	s.record(ctx, requestID, "save_variant", saved.ID)
	return saved, nil
}

// ConfirmIdentity resolves a placeholder variant to its authoritative asset
// identity. The replacement happens in place when the generation still
// matches; on failure the slot rolls back to its last known-good state.
func (s *Service) ConfirmIdentity(ctx context.Context, actorID, variantID, confirmedAssetID, requestID string) (*Variant, error) {
	variant, err := s.repo.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if !variant.Placeholder {
		return variant, nil
	}

	if applied, err := s.applied(ctx, requestID); err != nil {
		return nil, err
	} else if applied {
		return s.repo.GetVariant(ctx, variantID)
	}

	lab, err := s.repo.GetLab(ctx, variant.LabID)
	if err != nil {
		return nil, err
	}

	key := variant.Key()
	var confirmed *Variant

	err = s.arena.Do(key, func() error {
		current, err := s.repo.GetLiveVariant(ctx, key)
		if err != nil {
			return err
		}
		if current == nil || current.ID != variantID {
			return fmt.Errorf("variant %s no longer occupies slot %s: %w", variantID, key, domain.ErrConcurrencyConflict)
		}

		updated := *current
		updated.AssetID = confirmedAssetID
		updated.Placeholder = false
		s.compute(ctx, lab.PortfolioID, &updated, sizing.TriggerUserEdit)

		if err := s.repo.UpdateVariant(ctx, &updated, current.Generation); err != nil {
			s.rollback(ctx, key, current, err)
			return err
		}

		s.arena.MarkGood(&updated)
		confirmed = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eventMgr.Emit(events.VariantSaved, "labs", actorID, map[string]interface{}{
		"lab_id":    variant.LabID,
		"asset_id":  confirmedAssetID,
		"confirmed": true,
	})
	s.record(ctx, requestID, "confirm_identity", variantID)
	return confirmed, nil
}

// rollback restores a slot to its last known-good state after a failed
// placeholder replacement
func (s *Service) rollback(ctx context.Context, key Key, current *Variant, cause error) {
	good := s.arena.LastGood(key)
	if good == nil {
		s.log.Warn().Err(cause).Str("key", key.String()).
			Msg("Placeholder confirmation failed with no known-good state to restore")
		return
	}

	restore := *good
	restore.ID = current.ID
	if err := s.repo.UpdateVariant(ctx, &restore, current.Generation); err != nil {
		s.log.Error().Err(err).Str("key", key.String()).
			Msg("Failed to roll back slot to last known-good state")
		return
	}
	s.log.Info().Str("key", key.String()).Msg("Rolled slot back to last known-good state")
}

// DeleteVariant vacates a slot
func (s *Service) DeleteVariant(ctx context.Context, actorID, variantID, requestID string) error {
	variant, err := s.repo.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	if !variant.Live() {
		return nil
	}

	if applied, err := s.applied(ctx, requestID); err != nil {
		return err
	} else if applied {
		return nil
	}

	key := variant.Key()
	err = s.arena.Do(key, func() error {
		current, err := s.repo.GetLiveVariant(ctx, key)
		if err != nil {
			return err
		}
		if current == nil || current.ID != variantID {
			return nil
		}
		return s.repo.SoftDeleteVariant(ctx, variantID, current.Generation)
	})
	if err != nil {
		return err
	}
	s.arena.Forget(key)

	s.eventMgr.Emit(events.VariantDeleted, "labs", actorID, map[string]interface{}{
		"lab_id":   variant.LabID,
		"view_id":  variant.ViewID,
		"asset_id": variant.AssetID,
	})
	s.record(ctx, requestID, "delete_variant", variantID)
	return nil
}

// ListVariants returns a view's live variants
func (s *Service) ListVariants(ctx context.Context, labID, viewID string) ([]Variant, error) {
	return s.repo.ListLiveVariants(ctx, labID, viewID)
}

// compute refreshes a variant's derived fields from live inputs. Computation
// failures degrade per field: an unparseable input sets the parse flag, a
// missing price leaves computed values absent, and the variant still saves.
func (s *Service) compute(ctx context.Context, portfolioID string, v *Variant, trigger sizing.Trigger) {
	v.Spec = nil
	v.Computed = nil
	v.Conflict = nil
	v.BelowLotWarning = false
	v.ParseError = ""

	spec, err := sizing.Parse(v.SizingInput)
	if err != nil {
		v.ParseError = err.Error()
		return
	}
	v.Spec = &spec

	if v.Placeholder {
		// No authoritative identity yet, nothing to price
		return
	}

	results := s.prices.GetPrices(ctx, []string{v.AssetID})
	result, ok := results[v.AssetID]
	if !ok || result.Err != nil {
		s.log.Debug().Str("asset_id", v.AssetID).Msg("Price unavailable, skipping computation")
		return
	}

	computed, conflict, err := s.normalize(ctx, portfolioID, v.AssetID, spec, v.Action, result.Quote.Price, result.Quote.Timestamp, trigger)
	if err != nil {
		s.log.Debug().Err(err).Str("asset_id", v.AssetID).Msg("Normalization failed, saving without computed values")
		return
	}

	snapshot, err := s.positions.GetPosition(ctx, portfolioID, v.AssetID)
	if err == nil {
		v.PositionSnapshot = &snapshot
	}
	v.Computed = computed
	v.Conflict = conflict
	v.BelowLotWarning = computed.BelowLotWarning
}

// normalize runs the sizing pipeline for one asset
func (s *Service) normalize(ctx context.Context, portfolioID, assetID string, spec sizing.Spec, action domain.TradeAction, price float64, priceTS time.Time, trigger sizing.Trigger) (*sizing.ComputedValues, *sizing.Conflict, error) {
	position, err := s.positions.GetPosition(ctx, portfolioID, assetID)
	if err != nil {
		return nil, nil, err
	}
	totalValue, err := s.portfolios.TotalValue(ctx, portfolioID)
	if err != nil {
		return nil, nil, err
	}
	rounding, err := s.portfolios.RoundingConfig(ctx, portfolioID, assetID)
	if err != nil {
		rounding = sizing.DefaultRoundingConfig()
	}
	benchmark, err := s.portfolios.BenchmarkWeight(ctx, portfolioID, assetID)
	if err != nil {
		benchmark = nil
	}

	computed, err := sizing.Normalize(sizing.Inputs{
		Spec:            spec,
		Position:        position,
		Price:           price,
		PriceTimestamp:  priceTS,
		PortfolioValue:  totalValue,
		Rounding:        rounding,
		BenchmarkWeight: benchmark,
	})
	if err != nil {
		return nil, nil, err
	}

	conflict := sizing.Detect(action, computed.DeltaShares, trigger)
	return &computed, conflict, nil
}

func (s *Service) applied(ctx context.Context, requestID string) (bool, error) {
	outcome, err := s.requestLog.Lookup(ctx, requestID)
	if err != nil {
		return false, err
	}
	return outcome != nil, nil
}

func (s *Service) record(ctx context.Context, requestID, operation, entityID string) {
	if err := s.requestLog.Record(ctx, requestID, operation, entityID, "ok"); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
}
