// Package audit records registry actions in an append-only, hash-chained log.
package audit

import (
	"context"
	"time"
)

// Event types written by the registries.
const (
	LoginSucceeded     = "auth.login"
	LoginFailed        = "auth.login_failed"
	Logout             = "auth.logout"
	TaskCreated        = "task.created"
	TaskStatusChanged  = "task.status_changed"
	ExecutionSubmitted = "execution.submitted"
	ExecutionReviewed  = "execution.reviewed"
)

// Event is a single entry of the audit chain.
type Event struct {
	ID        string         `json:"id"`        // UUID v7 (time-ordered)
	Type      string         `json:"type"`      // e.g. "task.created"
	Timestamp time.Time      `json:"timestamp"` // when the action happened
	ActorID   int64          `json:"actor_id"`  // 0 when no user is known
	Content   map[string]any `json:"content"`
	Hash      string         `json:"hash"`      // SHA-256 of canonical form
	PrevHash  string         `json:"prev_hash"` // hash chain link
	Seq       int64          `json:"seq"`       // append order
}

// Recorder appends events. Registries depend on this narrow contract only.
type Recorder interface {
	Append(ctx context.Context, eventType string, actorID int64, content map[string]any) (*Event, error)
}

// Store is the contract for audit persistence.
type Store interface {
	Recorder
	Recent(ctx context.Context, limit int) ([]Event, error)
	ByType(ctx context.Context, eventType string, limit int) ([]Event, error)
	VerifyChain(ctx context.Context) error
	EnsureTable(ctx context.Context) error
}

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Append(_ context.Context, eventType string, actorID int64, content map[string]any) (*Event, error) {
	return &Event{Type: eventType, ActorID: actorID, Content: content}, nil
}
