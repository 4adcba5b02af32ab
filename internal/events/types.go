// Package events provides audit event emission for the activity feed.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	StageChanged        EventType = "STAGE_CHANGED"
	StageReverted       EventType = "STAGE_REVERTED"
	TrackStageChanged   EventType = "TRACK_STAGE_CHANGED"
	DecisionRecorded    EventType = "DECISION_RECORDED"
	DecisionReverted    EventType = "DECISION_REVERTED"
	ProposalSaved       EventType = "PROPOSAL_SAVED"
	VariantSaved        EventType = "VARIANT_SAVED"
	VariantDeleted      EventType = "VARIANT_DELETED"
	VariantsRevalidated EventType = "VARIANTS_REVALIDATED"
	SheetCreated        EventType = "SHEET_CREATED"
	SheetStatusChanged  EventType = "SHEET_STATUS_CHANGED"
	IdeaRetired         EventType = "IDEA_RETIRED"
	IdeaRestored        EventType = "IDEA_RESTORED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	ActorID   string                 `json:"actor_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
}
