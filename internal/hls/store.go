package hls

import "sort"

// Store is the persistence abstraction for playlist state.
// The Repository uses Store for all reads and writes and serializes access to
// it; implementations need not be safe for concurrent use.
type Store interface {
	GetStream(id uint32) (*StreamState, bool)
	SetStream(s *StreamState)
	ListStreamIDs() []uint32
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	streams map[uint32]*StreamState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[uint32]*StreamState),
	}
}

// GetStream implements Store.GetStream.
func (s *InMemoryStore) GetStream(id uint32) (*StreamState, bool) {
	st, ok := s.streams[id]
	return st, ok
}

// SetStream implements Store.SetStream.
func (s *InMemoryStore) SetStream(st *StreamState) {
	s.streams[st.ID] = st
}

// ListStreamIDs implements Store.ListStreamIDs. IDs are returned in ascending
// order, which is registration order.
func (s *InMemoryStore) ListStreamIDs() []uint32 {
	ids := make([]uint32, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
