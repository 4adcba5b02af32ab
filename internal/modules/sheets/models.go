// Package sheets assembles decided sizing work into immutable trade sheets
// and walks them through the desk approval pipeline.
package sheets

import (
	"fmt"
	"time"

	"github.com/meridian/decisiondesk/internal/modules/labs"
)

// Status is a sheet's position in the approval pipeline
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusSentToDesk      Status = "sent_to_desk"
	StatusExecuted        Status = "executed"
	StatusCancelled       Status = "cancelled"
)

// forward transitions; cancelled is reachable from any non-terminal status
var nextStatus = map[Status]Status{
	StatusDraft:           StatusPendingApproval,
	StatusPendingApproval: StatusApproved,
	StatusApproved:        StatusSentToDesk,
	StatusSentToDesk:      StatusExecuted,
}

// IsValid checks if the status is one of the known values
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusSentToDesk, StatusExecuted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// CanTransition validates a status move. Content never changes with status;
// this machine is the only mutation a sheet ever sees.
func CanTransition(from, to Status) error {
	if !from.IsValid() || !to.IsValid() {
		return &StatusError{From: from, To: to, Reason: "unknown status"}
	}
	if from.Terminal() {
		return &StatusError{From: from, To: to, Reason: "sheet is in a terminal status"}
	}
	if to == StatusCancelled {
		return nil
	}
	if nextStatus[from] != to {
		return &StatusError{From: from, To: to, Reason: "statuses advance one step at a time"}
	}
	return nil
}

// StatusError reports an illegal status move
type StatusError struct {
	From   Status
	To     Status
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("illegal sheet status transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// Sheet is an immutable package of sized trades. Once assembled, only its
// status moves; the variant snapshot and totals are frozen at creation.
type Sheet struct {
	ID          string `json:"id"`
	LabID       string `json:"lab_id"`
	ViewID      string `json:"view_id"`
	PortfolioID string `json:"portfolio_id"`
	Status      Status `json:"status"`

	VariantCount int     `json:"variant_count"`
	BuyNotional  float64 `json:"buy_notional"`
	SellNotional float64 `json:"sell_notional"`

	// Audit flags frozen at assembly. HadConflicts is always false on a
	// persisted sheet; assembly refuses conflicted inputs.
	HadConflicts        bool `json:"had_conflicts"`
	HadBelowLotWarnings bool `json:"had_below_lot_warnings"`

	// VariantsSnapshot is a value copy of the variants at assembly time,
	// immune to later edits in the lab
	VariantsSnapshot []labs.Variant `json:"variants_snapshot"`

	CreatedBy string    `json:"created_by"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
