package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "session/"

// BadgerStore keeps sessions in a Badger database using per-entry TTLs.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a session store rooted at dir. An empty dir keeps the
// store in memory, so sessions end with the process.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Put stores sess under its token for ttl.
func (s *BadgerStore) Put(_ context.Context, sess *Session, ttl time.Duration) error {
	if sess.Token == "" {
		return errors.New("put session: empty token")
	}
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key(sess.Token), val).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Get returns the live session for token.
func (s *BadgerStore) Get(_ context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(token))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Token = token
	return &sess, nil
}

// Delete removes the session for token. Deleting a missing token is not an error.
func (s *BadgerStore) Delete(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(token))
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func key(token string) []byte {
	return []byte(keyPrefix + token)
}
