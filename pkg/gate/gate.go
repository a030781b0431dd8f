// Package gate holds the authorization predicates evaluated before every
// registry operation. Predicates are pure: they read the session and
// return nil or a *fault.Error, nothing else.
package gate

import (
	"fmt"

	"taskflow/pkg/fault"
	"taskflow/pkg/session"
	"taskflow/pkg/user"
)

// RequireAuthenticated fails with fault.Unauthenticated when there is no
// active session.
func RequireAuthenticated(s *session.Session) error {
	if s == nil || !s.LoggedIn {
		return fault.New(fault.Unauthenticated, "Not authenticated")
	}
	return nil
}

// RequireRole fails unless s is authenticated and holds role.
func RequireRole(s *session.Session, role user.Role) error {
	if err := RequireAuthenticated(s); err != nil {
		return err
	}
	if s.Role != role {
		return fault.New(fault.Forbidden, fmt.Sprintf("Insufficient permissions. %s role required.", role))
	}
	return nil
}

// RequireAnyRole fails unless s is authenticated and holds one of roles.
func RequireAnyRole(s *session.Session, roles ...user.Role) error {
	if err := RequireAuthenticated(s); err != nil {
		return err
	}
	for _, r := range roles {
		if s.Role == r {
			return nil
		}
	}
	return fault.New(fault.Forbidden, "Insufficient permissions")
}

// RequireOwnerOrAdmin lets administrators through and restricts
// collaborators to records they own.
func RequireOwnerOrAdmin(s *session.Session, ownerID int64, msg string) error {
	if err := RequireAuthenticated(s); err != nil {
		return err
	}
	if s.Role == user.Collaborator && s.UserID != ownerID {
		return fault.New(fault.Forbidden, msg)
	}
	return nil
}

// TaskReadPolicy decides who may read a single task by id.
type TaskReadPolicy string

const (
	// TaskReadOpen lets any authenticated user read any task.
	TaskReadOpen TaskReadPolicy = "open"
	// TaskReadAssignee restricts collaborators to their own tasks.
	TaskReadAssignee TaskReadPolicy = "assignee"
)

// ParseTaskReadPolicy parses a configured policy name.
func ParseTaskReadPolicy(v string) (TaskReadPolicy, error) {
	switch p := TaskReadPolicy(v); p {
	case TaskReadOpen, TaskReadAssignee:
		return p, nil
	case "":
		return TaskReadOpen, nil
	}
	return "", fmt.Errorf("unknown task read policy %q", v)
}

// AllowTaskRead applies the policy to a task assigned to assigneeID.
func (p TaskReadPolicy) AllowTaskRead(s *session.Session, assigneeID int64) error {
	if err := RequireAuthenticated(s); err != nil {
		return err
	}
	if p == TaskReadAssignee {
		return RequireOwnerOrAdmin(s, assigneeID, "You can only view tasks assigned to you")
	}
	return nil
}
