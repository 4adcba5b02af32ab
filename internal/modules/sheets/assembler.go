package sheets

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/events"
	"github.com/meridian/decisiondesk/internal/modules/labs"
	"github.com/meridian/decisiondesk/internal/requests"
)

// ErrUnresolvedConflicts blocks assembly while any candidate variant carries
// a direction conflict. Assembly is all-or-nothing: nothing persists on
// failure.
var ErrUnresolvedConflicts = errors.New("cannot assemble sheet: unresolved direction conflicts")

// ErrNoVariants blocks assembly of an empty sheet
var ErrNoVariants = errors.New("cannot assemble sheet: no live variants in view")

// Assembler builds trade sheets from a lab view's live variants and drives
// their status pipeline
type Assembler struct {
	repo       *Repository
	labRepo    *labs.Repository
	requestLog *requests.Log
	eventMgr   *events.Manager
	log        zerolog.Logger
}

// NewAssembler creates a sheet assembler
func NewAssembler(repo *Repository, labRepo *labs.Repository, requestLog *requests.Log, eventMgr *events.Manager, log zerolog.Logger) *Assembler {
	return &Assembler{
		repo:       repo,
		labRepo:    labRepo,
		requestLog: requestLog,
		eventMgr:   eventMgr,
		log:        log.With().Str("service", "sheets").Logger(),
	}
}

// Assemble builds a sheet from every live variant in the view. Any variant
// with an unresolved conflict fails the whole assembly; parse-flagged and
// placeholder variants are equally unacceptable because their sizing is not
// authoritative. The snapshot is a value copy: later lab edits never reach
// an issued sheet.
func (a *Assembler) Assemble(ctx context.Context, actorID, labID, viewID, requestID string) (*Sheet, error) {
	lab, err := a.labRepo.GetLab(ctx, labID)
	if err != nil {
		return nil, err
	}

	if outcome, err := a.requestLog.Lookup(ctx, requestID); err != nil {
		return nil, err
	} else if outcome != nil {
		return a.repo.Get(ctx, outcome.EntityID)
	}

	variants, err := a.labRepo.ListLiveVariants(ctx, labID, viewID)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}

	sheet := &Sheet{
		LabID:       labID,
		ViewID:      viewID,
		PortfolioID: lab.PortfolioID,
		CreatedBy:   actorID,
	}

	for i := range variants {
		v := &variants[i]
		if v.Conflict != nil {
			return nil, fmt.Errorf("%w: %s has a %s", ErrUnresolvedConflicts, v.AssetID, v.Conflict.Code)
		}
		if v.ParseError != "" {
			return nil, fmt.Errorf("%w: %s has unparseable sizing input", ErrUnresolvedConflicts, v.AssetID)
		}
		if v.Placeholder {
			return nil, fmt.Errorf("%w: %s has unconfirmed identity", ErrUnresolvedConflicts, v.AssetID)
		}
		if v.Computed == nil {
			return nil, fmt.Errorf("%w: %s has no computed sizing", ErrUnresolvedConflicts, v.AssetID)
		}

		if v.Computed.DeltaShares > 0 {
			sheet.BuyNotional += v.Computed.NotionalValue
		} else if v.Computed.DeltaShares < 0 {
			sheet.SellNotional += v.Computed.NotionalValue
		}
		if v.BelowLotWarning {
			sheet.HadBelowLotWarnings = true
		}
	}

	sheet.VariantCount = len(variants)
	sheet.VariantsSnapshot = append([]labs.Variant(nil), variants...)

	if err := a.repo.Create(ctx, sheet); err != nil {
		return nil, err
	}

	a.eventMgr.Emit(events.SheetCreated, "sheets", actorID, map[string]interface{}{
		"sheet_id":      sheet.ID,
		"lab_id":        labID,
		"view_id":       viewID,
		"portfolio_id":  lab.PortfolioID,
		"variant_count": sheet.VariantCount,
		"buy_notional":  sheet.BuyNotional,
		"sell_notional": sheet.SellNotional,
	})

	if err := a.requestLog.Record(ctx, requestID, "assemble_sheet", sheet.ID, "ok"); err != nil {
		a.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return sheet, nil
}

// UpdateStatus advances a sheet through the approval pipeline, or cancels it
// from any non-terminal status
func (a *Assembler) UpdateStatus(ctx context.Context, actorID, sheetID string, to Status, requestID string) (*Sheet, error) {
	sheet, err := a.repo.Get(ctx, sheetID)
	if err != nil {
		return nil, err
	}

	if outcome, err := a.requestLog.Lookup(ctx, requestID); err != nil {
		return nil, err
	} else if outcome != nil {
		return sheet, nil
	}

	if err := CanTransition(sheet.Status, to); err != nil {
		return nil, err
	}

	from := sheet.Status
	if err := a.repo.UpdateStatus(ctx, sheetID, sheet.Version, to); err != nil {
		return nil, err
	}

	a.eventMgr.Emit(events.SheetStatusChanged, "sheets", actorID, map[string]interface{}{
		"sheet_id":     sheetID,
		"portfolio_id": sheet.PortfolioID,
		"old_status":   string(from),
		"new_status":   string(to),
	})

	if err := a.requestLog.Record(ctx, requestID, "sheet_status", sheetID, "ok"); err != nil {
		a.log.Error().Err(err).Str("request_id", requestID).Msg("Failed to record request")
	}
	return a.repo.Get(ctx, sheetID)
}
