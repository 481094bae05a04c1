// Package storage persists per-user enforcement state behind an
// idempotent update contract: each apply is keyed by the triggering event
// ID and a second apply for the same event is a no-op. That contract is
// what makes enforcement safe under at-least-once event delivery.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/mkarls/showcased/types"
)

// Bucket names in bbolt
var (
	bucketStates  = []byte("user_states")
	bucketApplied = []byte("applied_events")
	bucketMeta    = []byte("meta")
)

var keyCurrentRevision = []byte("current_revision")

// StateStore holds per-user enforcement state with an in-memory index
// for fast lookups and a monotonic revision counter for auditability.
type StateStore struct {
	mu sync.RWMutex

	// In-memory index over users with persisted state
	index *btree.BTreeG[*UserRecord]

	// On-disk storage
	db *bbolt.DB

	// Current revision number
	currentRev int64

	dir string
}

// UserRecord tracks a user in the index
type UserRecord struct {
	UserID      string
	StrikeCount int
	UpdatedRev  int64
}

// appliedMark records which event produced which revision, for dedup
// and audit
type appliedMark struct {
	UserID    string    `json:"user_id"`
	Revision  int64     `json:"revision"`
	AppliedAt time.Time `json:"applied_at"`
}

// NewStateStore opens or creates the store in dir
func NewStateStore(dir string) (*StateStore, error) {
	dbPath := filepath.Join(dir, "showcased.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketStates, bucketApplied, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &StateStore{
		index: btree.NewG[*UserRecord](32, func(a, b *UserRecord) bool {
			return a.UserID < b.UserID
		}),
		db:  db,
		dir: dir,
	}

	if err := store.loadRevision(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the store
func (s *StateStore) Close() error {
	return s.db.Close()
}

// Get returns the user's current state. An absent user yields the zero
// state; that read does not persist anything.
func (s *StateStore) Get(userID string) (types.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state types.UserState
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStates).Get([]byte(userID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return types.UserState{}, fmt.Errorf("read state for %s: %w", userID, err)
	}

	if !found {
		return types.ZeroState(userID), nil
	}
	return state, nil
}

// Apply atomically updates a user's state, keyed by the triggering event.
// A second apply for an already-processed event ID is a no-op that
// returns the current state and applied=false. The mutation runs inside
// the transaction against the freshest persisted state.
func (s *StateStore) Apply(userID, eventID string, mutate func(*types.UserState)) (types.UserState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state types.UserState
	applied := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		appliedBucket := tx.Bucket(bucketApplied)
		if appliedBucket.Get([]byte(eventID)) != nil {
			// duplicate delivery; hand back current state untouched
			return s.readStateTx(tx, userID, &state)
		}

		if err := s.readStateTx(tx, userID, &state); err != nil {
			return err
		}

		mutate(&state)

		rev := s.currentRev + 1
		state.UserID = userID
		state.UpdatedRev = rev

		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketStates).Put([]byte(userID), data); err != nil {
			return err
		}

		mark, err := json.Marshal(appliedMark{
			UserID:    userID,
			Revision:  rev,
			AppliedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		if err := appliedBucket.Put([]byte(eventID), mark); err != nil {
			return err
		}

		if err := tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev)); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return types.UserState{}, false, fmt.Errorf("apply %s for %s: %w", eventID, userID, err)
	}

	if applied {
		s.currentRev++
		s.updateIndex(&state)
	}

	return state, applied, nil
}

// WasApplied reports whether an event ID has already been applied
func (s *StateStore) WasApplied(eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketApplied).Get([]byte(eventID)) != nil
		return nil
	})
	return found, err
}

// ListUsers returns index records for users with at least minStrikes
func (s *StateStore) ListUsers(minStrikes int) []*UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*UserRecord
	s.index.Ascend(func(rec *UserRecord) bool {
		if rec.StrikeCount >= minStrikes {
			results = append(results, rec)
		}
		return true
	})
	return results
}

// UserCount returns the number of users with persisted state
func (s *StateStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// CurrentRevision returns the current revision number
func (s *StateStore) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Compact drops applied-event marks older than keepRevisions. User states
// are never compacted; strike history is retained.
func (s *StateStore) Compact(keepRevisions int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.currentRev - keepRevisions
	if cutoff <= 0 {
		return 0, nil
	}

	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketApplied)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var mark appliedMark
			if err := json.Unmarshal(v, &mark); err != nil {
				continue
			}
			if mark.Revision < cutoff {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}

		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// Helper functions

func (s *StateStore) readStateTx(tx *bbolt.Tx, userID string, out *types.UserState) error {
	data := tx.Bucket(bucketStates).Get([]byte(userID))
	if data == nil {
		*out = types.ZeroState(userID)
		return nil
	}
	return json.Unmarshal(data, out)
}

func (s *StateStore) updateIndex(state *types.UserState) {
	s.index.ReplaceOrInsert(&UserRecord{
		UserID:      state.UserID,
		StrikeCount: state.StrikeCount,
		UpdatedRev:  state.UpdatedRev,
	})
}

func (s *StateStore) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCurrentRevision)
		if data != nil {
			s.currentRev = bytesToInt64(data)
		}
		return nil
	})
}

func (s *StateStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStates).ForEach(func(k, v []byte) error {
			var state types.UserState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("corrupt state for %s: %w", string(k), err)
			}
			s.updateIndex(&state)
			return nil
		})
	})
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
