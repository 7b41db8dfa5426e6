package record

import (
	"fmt"
	"sync"

	"github.com/maxpert/livefeed/errs"
)

// Store is an ordered, append-only, in-memory collection of records.
// Insertion order is display order. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	records    []Record
	lastID     uint64
	maxContent int
}

// NewStore creates an empty store. maxContentLength <= 0 selects
// DefaultMaxContentLength.
func NewStore(maxContentLength int) *Store {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &Store{maxContent: maxContentLength}
}

// MaxContentLength returns the configured content limit in characters.
func (s *Store) MaxContentLength() int {
	return s.maxContent
}

// Append validates content, assigns the next id and appends the record.
func (s *Store) Append(content string) (Record, error) {
	if err := (CreateInput{Content: content}).Validate(s.maxContent); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	rec := Record{ID: s.lastID, Content: content}
	s.records = append(s.records, rec)
	return rec, nil
}

// ListAll returns a copy of all records in creation order.
func (s *Store) ListAll() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with the given id.
func (s *Store) Get(id uint64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// ids are dense: record n lives at index n-1
	if id == 0 || id > uint64(len(s.records)) {
		return Record{}, errs.NotFound("record", fmt.Errorf("record %d not found", id))
	}
	return s.records[id-1], nil
}

// After returns up to limit records with ids greater than afterID, and
// whether more remain.
func (s *Store) After(afterID uint64, limit int) ([]Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if afterID >= uint64(len(s.records)) {
		return []Record{}, false
	}
	rest := s.records[afterID:]
	if limit <= 0 || limit >= len(rest) {
		out := make([]Record, len(rest))
		copy(out, rest)
		return out, false
	}
	out := make([]Record, limit)
	copy(out, rest[:limit])
	return out, true
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
