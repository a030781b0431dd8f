// Package identity authenticates users and manages their sessions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/crypto/bcrypt"

	"taskflow/pkg/audit"
	"taskflow/pkg/fault"
	"taskflow/pkg/session"
	"taskflow/pkg/user"
)

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
var dummyHash = mustHash("taskflow-dummy-password")

// Service authenticates credentials and issues server-side sessions.
type Service struct {
	users    user.Store
	sessions session.Store
	ttl      time.Duration
	audit    audit.Recorder
	logger   log.Logger
	now      func() time.Time
}

// New creates a Service. Sessions live for ttl.
func New(users user.Store, sessions session.Store, ttl time.Duration, rec audit.Recorder, logger log.Logger) *Service {
	if rec == nil {
		rec = audit.Discard
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		ttl:      ttl,
		audit:    rec,
		logger:   logger,
		now:      time.Now,
	}
}

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func mustHash(password string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}

// Authenticate checks email and password. Unknown emails and wrong
// passwords fail with the same fault.InvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fault.New(fault.Validation, "Email and password are required")
	}

	u, err := s.users.ByEmail(ctx, email)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return nil, fault.Wrap(fault.Persistence, "look up user", err)
	}

	hash := dummyHash
	if u != nil {
		hash = []byte(u.PasswordHash)
	}
	cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if u == nil || cmpErr != nil {
		s.record(ctx, audit.LoginFailed, 0, map[string]any{"email": email})
		return nil, fault.New(fault.InvalidCredentials, "Invalid credentials")
	}
	return u, nil
}

// CreateSession binds a fresh session to u.
func (s *Service) CreateSession(ctx context.Context, u *user.User) (*session.Session, error) {
	token, err := session.NewToken()
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "create session", err)
	}
	now := s.now().UTC()
	sess := &session.Session{
		Token:     token,
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		LoggedIn:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Put(ctx, sess, s.ttl); err != nil {
		return nil, fault.Wrap(fault.Internal, "store session", err)
	}
	return sess, nil
}

// Login authenticates and opens a session in one step.
func (s *Service) Login(ctx context.Context, email, password string) (*session.Session, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	sess, err := s.CreateSession(ctx, u)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.LoginSucceeded, u.ID, map[string]any{"role": string(u.Role)})
	return sess, nil
}

// DestroySession invalidates token immediately. It is idempotent.
func (s *Service) DestroySession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	// A session that cannot be read is still deleted; only the logout
	// event is lost.
	sess, err := s.CurrentSession(ctx, token)
	if err != nil {
		level.Warn(s.logger).Log("msg", "load session before logout", "err", err)
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fault.Wrap(fault.Internal, "destroy session", err)
	}
	if sess != nil {
		s.record(ctx, audit.Logout, sess.UserID, nil)
	}
	return nil
}

// CurrentSession returns the live session for token, or nil when the token
// is unknown or expired.
func (s *Service) CurrentSession(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.sessions.Get(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "load session", err)
	}
	if !sess.ExpiresAt.IsZero() && s.now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

func (s *Service) record(ctx context.Context, eventType string, actorID int64, content map[string]any) {
	if _, err := s.audit.Append(ctx, eventType, actorID, content); err != nil {
		level.Warn(s.logger).Log("msg", "audit append failed", "type", eventType, "err", err)
	}
}
