// Package ideas governs the lifecycle of trade ideas: the global stage
// machine, the per-portfolio decision tracks, and the sizing proposals
// analysts maintain against them.
package ideas

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian/decisiondesk/internal/domain"
)

// Stage is a lifecycle phase. The same stage space serves the idea's global
// lifecycle and each portfolio track, but the two machines are independent:
// a track's stage may diverge from the idea's.
type Stage string

const (
	StageIdea      Stage = "idea"
	StageWorkingOn Stage = "working_on"
	StageModeling  Stage = "modeling"
	StageDeciding  Stage = "deciding"
)

var stageOrder = map[Stage]int{
	StageIdea:      0,
	StageWorkingOn: 1,
	StageModeling:  2,
	StageDeciding:  3,
}

// IsValid checks if the stage is one of the known values
func (s Stage) IsValid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s comes earlier in the lifecycle than other
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// StageFromString creates a Stage from a string (case-insensitive)
func StageFromString(value string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	if !stage.IsValid() {
		return "", fmt.Errorf("invalid stage: %q", value)
	}
	return stage, nil
}

// Retention is the idea's retention tier
type Retention string

const (
	RetentionActive  Retention = "active"
	RetentionTrash   Retention = "trash"
	RetentionArchive Retention = "archive"
)

// DecisionOutcome is a portfolio-scoped PM verdict
type DecisionOutcome string

const (
	DecisionAccepted DecisionOutcome = "accepted"
	DecisionDeferred DecisionOutcome = "deferred"
	DecisionRejected DecisionOutcome = "rejected"
)

// IsValid checks if the outcome is one of the known values
func (d DecisionOutcome) IsValid() bool {
	switch d {
	case DecisionAccepted, DecisionDeferred, DecisionRejected:
		return true
	}
	return false
}

// Idea is one proposed trade, owned by its creator and mutated only through
// lifecycle transitions
type Idea struct {
	ID            string     `json:"id"`
	AssetID       string     `json:"asset_id"`
	CreatedBy     string     `json:"created_by"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	Collaborators []string   `json:"collaborators,omitempty"`
	Rationale     string     `json:"rationale"`
	Stage         Stage      `json:"stage"`
	PreviousStage *Stage     `json:"previous_stage,omitempty"` // One-level undo snapshot
	Retention     Retention  `json:"retention"`
	TrashedAt     *time.Time `json:"trashed_at,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate validates idea data
func (i *Idea) Validate() error {
	if strings.TrimSpace(i.AssetID) == "" {
		return fmt.Errorf("asset_id cannot be empty")
	}
	if strings.TrimSpace(i.CreatedBy) == "" {
		return fmt.Errorf("created_by cannot be empty")
	}
	if !i.Stage.IsValid() {
		return fmt.Errorf("invalid stage: %q", i.Stage)
	}
	return nil
}

// Track is the per-(idea, portfolio) decision track. Its stage mirrors the
// idea stage space but can diverge per portfolio; its decision is terminal
// until a PM reverts it.
type Track struct {
	ID              string           `json:"id"`
	IdeaID          string           `json:"idea_id"`
	PortfolioID     string           `json:"portfolio_id"`
	Stage           Stage            `json:"stage"`
	DecisionOutcome *DecisionOutcome `json:"decision_outcome,omitempty"`
	DecisionReason  string           `json:"decision_reason,omitempty"`
	DecidedBy       string           `json:"decided_by,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
	DeferredUntil   *time.Time       `json:"deferred_until,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Decided reports whether a decision has been recorded for this track
func (t *Track) Decided() bool {
	return t.DecisionOutcome != nil
}

// Proposal is the editable sizing proposal one user maintains for one
// (idea, portfolio). At most one active proposal per (user, idea, portfolio).
type Proposal struct {
	ID          string             `json:"id"`
	IdeaID      string             `json:"idea_id"`
	PortfolioID string             `json:"portfolio_id"`
	UserID      string             `json:"user_id"`
	SizingInput string             `json:"sizing_input"`
	Action      domain.TradeAction `json:"action"`
	Active      bool               `json:"active"`
	Version     int64              `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ProposalVersionTag records why a proposal snapshot was taken
type ProposalVersionTag string

const (
	// TagMovedToDeciding - snapshot taken when the track entered deciding
	TagMovedToDeciding ProposalVersionTag = "moved_to_deciding"
	// TagExplicitSave - snapshot taken on an explicit save
	TagExplicitSave ProposalVersionTag = "explicit_save"
)

// ProposalVersion is an immutable snapshot of a proposal
type ProposalVersion struct {
	ID          string             `json:"id"`
	ProposalID  string             `json:"proposal_id"`
	SizingInput string             `json:"sizing_input"`
	Action      domain.TradeAction `json:"action"`
	Tag         ProposalVersionTag `json:"tag"`
	CreatedAt   time.Time          `json:"created_at"`
}
