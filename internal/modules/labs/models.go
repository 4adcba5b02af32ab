// Package labs manages sizing labs: scratch workspaces where analysts keep
// intent variants per asset, revalidated against live prices and positions.
package labs

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian/decisiondesk/internal/domain"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
)

// Lab is one sizing workspace, bound to a portfolio
type Lab struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"owner_id"`
	PortfolioID string    `json:"portfolio_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate validates lab data
func (l *Lab) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.TrimSpace(l.PortfolioID) == "" {
		return fmt.Errorf("portfolio_id cannot be empty")
	}
	return nil
}

// Variant is one sizing intent for an asset within a lab view. At most one
// live variant exists per (lab, view, asset); a duplicate save lands in the
// existing slot. Computed fields are always derived, never hand-edited.
type Variant struct {
	ID          string             `json:"id"`
	LabID       string             `json:"lab_id"`
	ViewID      string             `json:"view_id"`
	AssetID     string             `json:"asset_id"`
	Action      domain.TradeAction `json:"action"`
	SizingInput string             `json:"sizing_input"`

	Spec     *sizing.Spec           `json:"spec,omitempty"`
	Computed *sizing.ComputedValues `json:"computed,omitempty"`
	Conflict *sizing.Conflict       `json:"conflict,omitempty"`

	BelowLotWarning  bool             `json:"below_lot_warning"`
	ParseError       string           `json:"parse_error,omitempty"`
	PositionSnapshot *domain.Position `json:"position_snapshot,omitempty"`

	// Placeholder marks a variant created before the asset's identity was
	// confirmed by the reference service
	Placeholder bool `json:"placeholder"`

	// Generation increments on every accepted write to the slot. Write-backs
	// from stale batches carry the generation they read and are dropped when
	// it no longer matches.
	Generation int64 `json:"generation"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Live reports whether the variant occupies its slot
func (v *Variant) Live() bool {
	return v.DeletedAt == nil
}

// Key identifies the variant's slot
func (v *Variant) Key() Key {
	return Key{LabID: v.LabID, ViewID: v.ViewID, AssetID: v.AssetID}
}

// Key addresses one variant slot
type Key struct {
	LabID   string
	ViewID  string
	AssetID string
}

func (k Key) String() string {
	return k.LabID + "/" + k.ViewID + "/" + k.AssetID
}

// RevalidationSummary aggregates the outcome of one revalidation pass
type RevalidationSummary struct {
	Recomputed       int      `json:"recomputed"`
	Conflicts        int      `json:"conflicts"`
	BelowLotWarnings int      `json:"below_lot_warnings"`
	ParseFailures    int      `json:"parse_failures"`
	SkippedAssets    []string `json:"skipped_assets,omitempty"`
}
