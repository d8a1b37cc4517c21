package provision

import (
	"errors"
	"path/filepath"
	"sync"
	"time"
)

const maxIDAttempts = 5

// Store is the in-memory table of live sessions keyed by id.
//
// Lock order is Store.mu before Record.mu.
type Store struct {
	root string

	mu      sync.Mutex
	records map[string]*Record
}

// NewStore returns an empty store whose records get work directories under root.
func NewStore(root string) *Store {
	return &Store{
		root:    filepath.Clean(root),
		records: make(map[string]*Record),
	}
}

// Create inserts a fresh INITIALIZING record with a unique id.
// The work directory path is assigned but not created.
func (s *Store) Create(kind Kind, now time.Time) (*Record, error) {
	if !kind.valid() {
		return nil, invalidInput("unknown session kind " + string(kind))
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxIDAttempts {
		id, err := NewSessionID(now)
		if err != nil {
			return nil, err
		}
		if _, exists := s.records[id]; exists {
			continue
		}
		rec := newRecord(id, kind, now, filepath.Join(s.root, id))
		s.records[id] = rec
		return rec, nil
	}
	return nil, errors.New("provision: session id collision")
}

// Get returns the record for id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Remove deletes id and returns the removed record, if any.
func (s *Store) Remove(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if ok {
		delete(s.records, id)
	}
	return rec, ok
}

// Take removes id only if pred holds for it. pred runs under the store lock,
// so two concurrent callers can never both take the same record.
func (s *Store) Take(id string, pred func(*Record) bool) (rec *Record, found bool, taken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found = s.records[id]
	if !found {
		return nil, false, false
	}
	if pred != nil && !pred(rec) {
		return rec, true, false
	}
	delete(s.records, id)
	return rec, true, true
}

// ForEachExpired removes every record created more than maxAge before now and
// then calls fn on each, outside the store lock.
func (s *Store) ForEachExpired(maxAge time.Duration, now time.Time, fn func(*Record)) int {
	s.mu.Lock()
	var expired []*Record
	for id, rec := range s.records {
		if now.Sub(rec.CreatedAt) > maxAge {
			expired = append(expired, rec)
			delete(s.records, id)
		}
	}
	s.mu.Unlock()

	if fn != nil {
		for _, rec := range expired {
			fn(rec)
		}
	}
	return len(expired)
}

// Drain removes and returns every record.
func (s *Store) Drain() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.records))
	for id, rec := range s.records {
		out = append(out, rec)
		delete(s.records, id)
	}
	return out
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
