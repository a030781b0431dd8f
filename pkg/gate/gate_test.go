package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskflow/pkg/fault"
	"taskflow/pkg/session"
	"taskflow/pkg/user"
)

var (
	admin  = &session.Session{UserID: 1, Role: user.Administrator, LoggedIn: true}
	collab = &session.Session{UserID: 7, Role: user.Collaborator, LoggedIn: true}
	gone   = &session.Session{UserID: 7, Role: user.Collaborator, LoggedIn: false}
)

func TestRequireAuthenticated(t *testing.T) {
	assert.NoError(t, RequireAuthenticated(admin))
	assert.ErrorIs(t, RequireAuthenticated(nil), fault.Unauthenticated)
	assert.ErrorIs(t, RequireAuthenticated(gone), fault.Unauthenticated)
}

func TestRequireRole(t *testing.T) {
	assert.NoError(t, RequireRole(admin, user.Administrator))
	assert.ErrorIs(t, RequireRole(collab, user.Administrator), fault.Forbidden)
	assert.ErrorIs(t, RequireRole(admin, user.Collaborator), fault.Forbidden)
	assert.ErrorIs(t, RequireRole(nil, user.Collaborator), fault.Unauthenticated)
}

func TestRequireAnyRole(t *testing.T) {
	assert.NoError(t, RequireAnyRole(collab, user.Administrator, user.Collaborator))
	assert.ErrorIs(t, RequireAnyRole(collab, user.Administrator), fault.Forbidden)
	assert.ErrorIs(t, RequireAnyRole(nil), fault.Unauthenticated)
}

func TestRequireOwnerOrAdmin(t *testing.T) {
	assert.NoError(t, RequireOwnerOrAdmin(admin, 99, "x"))
	assert.NoError(t, RequireOwnerOrAdmin(collab, 7, "x"))
	assert.ErrorIs(t, RequireOwnerOrAdmin(collab, 8, "x"), fault.Forbidden)
}

func TestTaskReadPolicy(t *testing.T) {
	p, err := ParseTaskReadPolicy("")
	assert.NoError(t, err)
	assert.Equal(t, TaskReadOpen, p)

	_, err = ParseTaskReadPolicy("closed")
	assert.Error(t, err)

	assert.NoError(t, TaskReadOpen.AllowTaskRead(collab, 8))
	assert.ErrorIs(t, TaskReadAssignee.AllowTaskRead(collab, 8), fault.Forbidden)
	assert.NoError(t, TaskReadAssignee.AllowTaskRead(collab, 7))
	assert.NoError(t, TaskReadAssignee.AllowTaskRead(admin, 8))
	assert.ErrorIs(t, TaskReadOpen.AllowTaskRead(nil, 8), fault.Unauthenticated)
}
