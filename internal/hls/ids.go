package hls

import "sync/atomic"

// StreamIDs allocates stream ids. One allocator is shared by all notifiers of
// a packaging run, so independent runs never share ids or state.
type StreamIDs struct {
	last atomic.Uint32
}

// NewStreamIDs returns an allocator whose first id is 1.
func NewStreamIDs() *StreamIDs { return &StreamIDs{} }

// Next returns a fresh id. It is safe for concurrent use.
func (s *StreamIDs) Next() uint32 { return s.last.Add(1) }
