package sizing

import (
	"fmt"

	"github.com/meridian/decisiondesk/internal/domain"
)

// Trigger records why a conflict check ran. It is written to the activity
// log; it never changes the conflict logic.
type Trigger string

const (
	TriggerUserEdit         Trigger = "user_edit"
	TriggerLoadRevalidation Trigger = "load_revalidation"
	TriggerPriceUpdate      Trigger = "price_update"
)

// ConflictCode classifies a sizing validation failure
type ConflictCode string

const (
	// CodeDirectionConflict means the stated action contradicts the sign of
	// the computed share change
	CodeDirectionConflict ConflictCode = "direction_conflict"
)

// Conflict is a sizing validation error. It blocks sheet inclusion but not
// saving the variant itself.
type Conflict struct {
	Code               ConflictCode       `json:"code"`
	Action             domain.TradeAction `json:"action"`
	SharesChange       float64            `json:"shares_change"`
	SuggestedDirection domain.TradeAction `json:"suggested_direction"`
	Trigger            Trigger            `json:"trigger"`
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("%s: action %q but computed share change %v (suggested: %s)",
		c.Code, c.Action, c.SharesChange, c.SuggestedDirection)
}

// Detect compares a stated action against the computed share change.
// buy/add conflict iff the change is negative; sell/trim conflict iff it is
// positive; a change of zero never conflicts, regardless of action.
// Returns nil when there is no conflict.
func Detect(action domain.TradeAction, sharesChange float64, trigger Trigger) *Conflict {
	if sharesChange == 0 {
		return nil
	}

	conflicted := (action.IsIncrease() && sharesChange < 0) ||
		(action.IsReduce() && sharesChange > 0)
	if !conflicted {
		return nil
	}

	suggested := domain.ActionBuy
	if sharesChange < 0 {
		suggested = domain.ActionSell
	}

	return &Conflict{
		Code:               CodeDirectionConflict,
		Action:             action,
		SharesChange:       sharesChange,
		SuggestedDirection: suggested,
		Trigger:            trigger,
	}
}
