package ideas

import "fmt"

// TransitionKind classifies a stage move
type TransitionKind string

const (
	// TransitionForward - the default monotonic progression
	TransitionForward TransitionKind = "forward"
	// TransitionRevert - an authorized move back to an earlier stage
	TransitionRevert TransitionKind = "revert"
)

// TransitionError reports an illegal stage move
type TransitionError struct {
	From   Stage
	To     Stage
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal stage transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// ClassifyTransition validates a global stage move and reports whether it is
// a forward step or a revert to an earlier stage. Deciding is entered per
// portfolio through decision initiation, never as a plain global move.
func ClassifyTransition(from, to Stage) (TransitionKind, error) {
	if !from.IsValid() || !to.IsValid() {
		return "", &TransitionError{From: from, To: to, Reason: "unknown stage"}
	}
	if from == to {
		return "", &TransitionError{From: from, To: to, Reason: "idea is already in this stage"}
	}
	if to == StageDeciding {
		return "", &TransitionError{From: from, To: to, Reason: "deciding is entered per portfolio via decision initiation"}
	}

	if to.Before(from) {
		return TransitionRevert, nil
	}
	return TransitionForward, nil
}

// CanRecordDecision validates that a track is in a state where a decision
// may be recorded: in deciding, with no decision already standing.
func CanRecordDecision(track *Track) error {
	if track.Stage != StageDeciding {
		return &TransitionError{From: track.Stage, To: track.Stage,
			Reason: "decisions are recorded only while the track is in deciding"}
	}
	if track.Decided() {
		return &TransitionError{From: track.Stage, To: track.Stage,
			Reason: fmt.Sprintf("a %s decision is already recorded", *track.DecisionOutcome)}
	}
	return nil
}
