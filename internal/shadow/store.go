// Package shadow keeps a verbatim copy of every inserted vector together
// with its caller-supplied metadata. The similarity engine cannot be
// enumerated, so this store is the sole source of truth for persistence and
// for rebuilding the engine after a restart.
package shadow

// Record is one stored vector with its metadata. The vector copy is an
// implementation detail for persistence and never appears in responses.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Store maps record IDs to their shadow records. It is not safe for
// concurrent use on its own; the owning collection serializes access.
type Store struct {
	records map[string]Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Put stores rec under rec.ID, overwriting any prior entry with the same ID.
// The vector is copied so later mutation of the caller's slice cannot
// corrupt the shadow copy.
func (s *Store) Put(rec Record) {
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	rec.Vector = vec
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	s.records[rec.ID] = rec
}

// Get returns the record stored under id.
func (s *Store) Get(id string) (Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Clear removes all records.
func (s *Store) Clear() {
	s.records = make(map[string]Record)
}

// Size returns the number of live records.
func (s *Store) Size() int {
	return len(s.records)
}

// Entries returns all records. Order is not stable across processes, only
// complete; callers serializing the store key everything by ID.
func (s *Store) Entries() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}
