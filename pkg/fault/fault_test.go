package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(Conflict, "Task execution already submitted"))

	assert.True(t, errors.Is(err, Conflict))
	assert.False(t, errors.Is(err, Forbidden))
	assert.Equal(t, Conflict, KindOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Persistence, "insert execution", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, Persistence))
	assert.Equal(t, "insert execution: connection refused", err.Error())
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestStatus(t *testing.T) {
	cases := map[Kind]int{
		Unauthenticated:    http.StatusUnauthorized,
		InvalidCredentials: http.StatusUnauthorized,
		Forbidden:          http.StatusForbidden,
		NotFound:           http.StatusNotFound,
		Validation:         http.StatusBadRequest,
		InvalidAssignee:    http.StatusBadRequest,
		FileTooLarge:       http.StatusBadRequest,
		InvalidContentType: http.StatusBadRequest,
		Conflict:           http.StatusBadRequest,
		UploadFailed:       http.StatusInternalServerError,
		Persistence:        http.StatusInternalServerError,
		Internal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Status(), kind)
	}
}

func TestPublicMessageHidesServerDetail(t *testing.T) {
	err := Wrap(Persistence, "insert task", errors.New(`pq: relation "tasks" does not exist`))
	assert.Equal(t, "Database error", PublicMessage(err))

	up := &Error{Kind: UploadFailed, Message: "upload", Retryable: true, Err: errors.New("deadline")}
	assert.Equal(t, "File upload timed out, please retry", PublicMessage(up))

	assert.Equal(t, "Internal server error", PublicMessage(errors.New("secret")))
	assert.Equal(t, "Task not found", PublicMessage(New(NotFound, "Task not found")))
}
