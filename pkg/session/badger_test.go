package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/pkg/user"
)

func openMemory(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	token, err := NewToken()
	require.NoError(t, err)

	in := &Session{Token: token, UserID: 7, Email: "c7@example.com", Name: "Col Seven", Role: user.Collaborator, LoggedIn: true}
	require.NoError(t, s.Put(ctx, in, time.Hour))

	got, err := s.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, token, got.Token)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, user.Collaborator, got.Role)
	assert.True(t, got.LoggedIn)

	require.NoError(t, s.Delete(ctx, token))
	_, err = s.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)

	// idempotent
	require.NoError(t, s.Delete(ctx, token))
}

func TestGetUnknownToken(t *testing.T) {
	s := openMemory(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredSessionIsGone(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	in := &Session{Token: "short", UserID: 1, Role: user.Administrator, LoggedIn: true}
	require.NoError(t, s.Put(ctx, in, time.Second))

	// Badger TTLs have one-second granularity.
	time.Sleep(2100 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}
