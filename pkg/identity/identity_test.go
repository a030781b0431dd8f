package identity

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/pkg/audit"
	"taskflow/pkg/fault"
	"taskflow/pkg/session"
	"taskflow/pkg/user"
)

// --- Mock user store ---

type mockUserStore struct {
	users map[int64]*user.User
}

func (s *mockUserStore) Get(_ context.Context, id int64) (*user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (s *mockUserStore) ByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (s *mockUserStore) ByRole(_ context.Context, role user.Role) ([]user.User, error) {
	var out []user.User
	for _, u := range s.users {
		if u.Role == role {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *mockUserStore) EnsureTable(_ context.Context) error { return nil }

// --- Mock session store ---

type mockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	getErr   error
}

func (s *mockSessionStore) Put(_ context.Context, sess *session.Session, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = *sess
	return nil
}

func (s *mockSessionStore) Get(_ context.Context, token string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	sess, ok := s.sessions[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &sess, nil
}

func (s *mockSessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// --- Recording audit ---

type recorder struct{ types []string }

func (r *recorder) Append(_ context.Context, eventType string, actorID int64, content map[string]any) (*audit.Event, error) {
	r.types = append(r.types, eventType)
	return &audit.Event{Type: eventType}, nil
}

func newService(t *testing.T) (*Service, *mockSessionStore, *recorder) {
	t.Helper()
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)

	users := &mockUserStore{users: map[int64]*user.User{
		1: {ID: 1, Email: "admin@example.com", PasswordHash: hash, Name: "Admin", Role: user.Administrator},
		7: {ID: 7, Email: "c7@example.com", PasswordHash: hash, Name: "Col Seven", Role: user.Collaborator},
	}}
	sessions := &mockSessionStore{sessions: map[string]session.Session{}}
	rec := &recorder{}
	return New(users, sessions, time.Hour, rec, log.NewNopLogger()), sessions, rec
}

func TestAuthenticate(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Authenticate(ctx, "C7@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
}

func TestAuthenticateDoesNotRevealWhichPartFailed(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	_, wrongPass := svc.Authenticate(ctx, "c7@example.com", "nope")
	_, unknown := svc.Authenticate(ctx, "ghost@example.com", "s3cret-pass")

	require.ErrorIs(t, wrongPass, fault.InvalidCredentials)
	require.ErrorIs(t, unknown, fault.InvalidCredentials)
	assert.Equal(t, wrongPass.Error(), unknown.Error())
	assert.Equal(t, []string{audit.LoginFailed, audit.LoginFailed}, rec.types)
}

func TestAuthenticateRequiresFields(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Authenticate(context.Background(), " ", "x")
	assert.ErrorIs(t, err, fault.Validation)
}

func TestLoginCreatesSession(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := context.Background()

	sess, err := svc.Login(ctx, "admin@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.LoggedIn)
	assert.Equal(t, user.Administrator, sess.Role)
	assert.Contains(t, store.sessions, sess.Token)
	assert.Equal(t, []string{audit.LoginSucceeded}, rec.types)

	cur, err := svc.CurrentSession(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(1), cur.UserID)
}

func TestSecondLoginKeepsFirstSession(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Login(ctx, "c7@example.com", "s3cret-pass")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "c7@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	cur, err := svc.CurrentSession(ctx, first.Token)
	require.NoError(t, err)
	assert.NotNil(t, cur)
}

func TestDestroySessionIsIdempotent(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	sess, err := svc.Login(ctx, "c7@example.com", "s3cret-pass")
	require.NoError(t, err)

	require.NoError(t, svc.DestroySession(ctx, sess.Token))
	require.NoError(t, svc.DestroySession(ctx, sess.Token))
	require.NoError(t, svc.DestroySession(ctx, ""))

	cur, err := svc.CurrentSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestDestroySessionDeletesUnreadableSession(t *testing.T) {
	svc, sessions, rec := newService(t)
	ctx := context.Background()
	var buf bytes.Buffer
	svc.logger = log.NewLogfmtLogger(&buf)

	sess, err := svc.Login(ctx, "c7@example.com", "s3cret-pass")
	require.NoError(t, err)

	sessions.getErr = errors.New("value log truncated")
	require.NoError(t, svc.DestroySession(ctx, sess.Token))
	assert.Contains(t, buf.String(), `msg="load session before logout"`)
	assert.Contains(t, buf.String(), "value log truncated")
	assert.NotContains(t, rec.types, audit.Logout)

	sessions.getErr = nil
	cur, err := svc.CurrentSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestCurrentSessionExpired(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	sess, err := svc.Login(ctx, "c7@example.com", "s3cret-pass")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	cur, err := svc.CurrentSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, cur)
}
