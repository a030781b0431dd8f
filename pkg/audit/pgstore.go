package audit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed audit Store with hash-chained integrity.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the audit_events table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id        TEXT PRIMARY KEY,
			type      TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			actor_id  BIGINT NOT NULL DEFAULT 0,
			content   JSONB NOT NULL DEFAULT '{}',
			hash      TEXT NOT NULL,
			prev_hash TEXT NOT NULL DEFAULT '',
			seq       BIGSERIAL UNIQUE
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `ALTER TABLE audit_events ADD COLUMN IF NOT EXISTS seq BIGSERIAL UNIQUE`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_timestamp_id ON audit_events(timestamp, id)`)
	return err
}

// Append creates and stores a new event, extending the hash chain.
func (s *PgStore) Append(ctx context.Context, eventType string, actorID int64, content map[string]any) (*Event, error) {
	if content == nil {
		content = map[string]any{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialise appends so two writers never link to the same predecessor.
	if _, err := tx.Exec(ctx, `LOCK TABLE audit_events IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("lock audit chain: %w", err)
	}

	var head *Event
	var h Event
	err = tx.QueryRow(ctx, `SELECT hash, timestamp FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&h.Hash, &h.Timestamp)
	switch {
	case err == nil:
		head = &h
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	// Stamped under the lock so the chain order and the clock agree.
	e := nextEvent(head, uuid.Must(uuid.NewV7()).String(), eventType, actorID, content, contentJSON, time.Now())

	err = tx.QueryRow(ctx, `
		INSERT INTO audit_events (id, type, timestamp, actor_id, content, hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		RETURNING seq`,
		e.ID, e.Type, e.Timestamp, e.ActorID, string(contentJSON), e.Hash, e.PrevHash).Scan(&e.Seq)
	if err != nil {
		return nil, fmt.Errorf("insert audit event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit event: %w", err)
	}
	return e, nil
}

// nextEvent builds the event that follows head (nil for an empty chain).
// Its timestamp never precedes the head's, even if clocks disagree.
func nextEvent(head *Event, id, eventType string, actorID int64, content map[string]any, contentJSON []byte, now time.Time) *Event {
	now = now.Truncate(time.Microsecond)
	var prevHash string
	if head != nil {
		prevHash = head.Hash
		if now.Before(head.Timestamp) {
			now = head.Timestamp
		}
	}
	e := &Event{
		ID:        id,
		Type:      eventType,
		Timestamp: now,
		ActorID:   actorID,
		Content:   content,
		PrevHash:  prevHash,
	}
	e.Hash = computeHash(prevHash, e.ID, e.Type, e.ActorID, e.Timestamp, contentJSON)
	return e
}

// Recent returns the most recent events in reverse chronological order.
func (s *PgStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.scanMany(ctx, `
		SELECT id, type, timestamp, actor_id, content, hash, prev_hash, seq
		FROM audit_events ORDER BY seq DESC LIMIT $1`, limit)
}

// ByType returns events of one type, newest first.
func (s *PgStore) ByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	return s.scanMany(ctx, `
		SELECT id, type, timestamp, actor_id, content, hash, prev_hash, seq
		FROM audit_events WHERE type = $1 ORDER BY seq DESC LIMIT $2`, eventType, limit)
}

// VerifyChain walks the entire chain in append order and verifies hash integrity.
func (s *PgStore) VerifyChain(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, timestamp, actor_id, content, hash, prev_hash, seq
		FROM audit_events ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("verify chain query: %w", err)
	}
	defer rows.Close()

	events, err := scanRows(rows)
	if err != nil {
		return fmt.Errorf("verify chain: %w", err)
	}
	return verify(events)
}

// verify checks links and hashes of events given in append order.
func verify(events []Event) error {
	prevHash := ""
	for i, e := range events {
		if e.PrevHash != prevHash {
			return fmt.Errorf("event %d (%s): prev_hash mismatch: got %s, want %s", i, e.ID, e.PrevHash, prevHash)
		}
		// JSONB normalises key order; json.Marshal sorts map keys, so a
		// re-marshal reproduces the bytes hashed at append time.
		contentJSON, err := json.Marshal(e.Content)
		if err != nil {
			return fmt.Errorf("event %d (%s): marshal content: %w", i, e.ID, err)
		}
		if want := computeHash(prevHash, e.ID, e.Type, e.ActorID, e.Timestamp, contentJSON); e.Hash != want {
			return fmt.Errorf("event %d (%s): hash mismatch: got %s, want %s", i, e.ID, e.Hash, want)
		}
		prevHash = e.Hash
	}
	return nil
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var contentJSON []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.Timestamp, &e.ActorID, &contentJSON, &e.Hash, &e.PrevHash, &e.Seq); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(contentJSON, &e.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return events, nil
}

// computeHash computes a SHA-256 hash for chain integrity.
func computeHash(prevHash, id, eventType string, actorID int64, timestamp time.Time, contentJSON []byte) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d|%s", prevHash, id, eventType, actorID, timestamp.UnixNano(), string(contentJSON))
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", h)
}
