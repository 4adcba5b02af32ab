// Package permissions resolves whether an actor may perform a mutation,
// given their relationship to a trade idea and to the portfolios linked to
// it.
package permissions

import "fmt"

// Role is a user's resolved role for one specific portfolio
type Role string

const (
	RoleAnalyst Role = "analyst"
	RolePM      Role = "pm"
)

// IsValid checks if the role is one of the known values
func (r Role) IsValid() bool {
	return r == RoleAnalyst || r == RolePM
}

// IdeaAccess is the slice of a trade idea the engine needs: who created it,
// who it is assigned to, and who collaborates on it.
type IdeaAccess struct {
	CreatedBy     string
	AssignedTo    string // Empty when unassigned
	Collaborators []string
}

// IsStakeholder reports whether the user is creator, assignee or
// collaborator on the idea
func (a IdeaAccess) IsStakeholder(userID string) bool {
	if userID == "" {
		return false
	}
	if userID == a.CreatedBy || userID == a.AssignedTo {
		return true
	}
	for _, id := range a.Collaborators {
		if id == userID {
			return true
		}
	}
	return false
}

// Error is a permission rejection. It carries no partial effect: the
// operation it guards must not have happened.
type Error struct {
	Operation string
	UserID    string
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("permission denied: %s for user %s: %s", e.Operation, e.UserID, e.Reason)
}

// Denied builds a permission error for an operation
func Denied(operation, userID, reason string) *Error {
	return &Error{Operation: operation, UserID: userID, Reason: reason}
}
