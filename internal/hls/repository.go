package hls

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"media-packager/internal/media"
)

// Repository defines the concurrency-safe contract for accessing and mutating
// playlist state. Muxers of different streams may run on different goroutines
// and report into the same repository.
type Repository interface {
	// AddStream records a newly registered stream. Playlist names must be
	// unique.
	AddStream(id uint32, desc FormatDescription) error

	// AddKey records an encryption key. Keys announced before encryption has
	// started take effect with the first encrypted segment.
	AddKey(id uint32, key KeyInfo) error

	// StartEncryption marks every following segment as encrypted.
	StartEncryption(id uint32) error

	// SetFrameDuration records the sample duration of a stream.
	SetFrameDuration(id uint32, duration uint32) error

	// AddSegment appends a segment. A segment with the start time of an
	// already recorded segment is ignored.
	AddSegment(id uint32, seg SegmentRecord) error

	// EndStream finalizes a stream. segments are appended first; for
	// single-file outputs they are matched in order with ranges' subsegment
	// ranges. Ending an ended stream is a no-op.
	EndStream(id uint32, ranges media.MediaRanges, durationSeconds float64, segments []SegmentRecord) error

	// Snapshot returns a copy of the stream state.
	Snapshot(id uint32) (StreamState, bool)

	// SnapshotByPlaylist returns a copy of the stream published under name.
	SnapshotByPlaylist(name string) (StreamState, bool)

	// Streams returns copies of all streams in registration order.
	Streams() []StreamState

	// ActiveStreamCount returns the number of streams that are not ended.
	// Used for metrics.
	ActiveStreamCount() int
}

var (
	// ErrUnknownStream is returned for ids that were never registered.
	ErrUnknownStream = errors.New("unknown stream id")

	// ErrStreamExists is returned when an id is registered twice.
	ErrStreamExists = errors.New("stream id already registered")

	// ErrDuplicatePlaylist is returned when two streams claim the same
	// playlist name.
	ErrDuplicatePlaylist = errors.New("playlist name already in use")

	// ErrStreamEnded is returned when attempting to change a stream that has
	// already been ended.
	ErrStreamEnded = errors.New("stream has ended")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// AddStream implements Repository.AddStream.
func (r *InMemoryRepository) AddStream(id uint32, desc FormatDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetStream(id); exists {
		return errors.Wrapf(ErrStreamExists, "stream %d", id)
	}
	if _, exists := r.findByPlaylistLocked(desc.PlaylistName); exists {
		return errors.Wrapf(ErrDuplicatePlaylist, "%q", desc.PlaylistName)
	}

	r.store.SetStream(&StreamState{
		ID:           id,
		Desc:         desc,
		RegisteredAt: r.now(),
	})
	return nil
}

// AddKey implements Repository.AddKey.
func (r *InMemoryRepository) AddKey(id uint32, key KeyInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.openStreamLocked(id)
	if err != nil {
		return err
	}
	key.FromSegment = -1
	if stream.EncryptionStarted {
		key.FromSegment = int64(len(stream.Segments))
	}
	stream.Keys = append(stream.Keys, key)
	return nil
}

// StartEncryption implements Repository.StartEncryption.
func (r *InMemoryRepository) StartEncryption(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.openStreamLocked(id)
	if err != nil {
		return err
	}
	if stream.EncryptionStarted {
		return nil
	}
	stream.EncryptionStarted = true
	for i := range stream.Keys {
		if stream.Keys[i].FromSegment < 0 {
			stream.Keys[i].FromSegment = int64(len(stream.Segments))
		}
	}
	return nil
}

// SetFrameDuration implements Repository.SetFrameDuration.
func (r *InMemoryRepository) SetFrameDuration(id uint32, duration uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.openStreamLocked(id)
	if err != nil {
		return err
	}
	stream.Desc.FrameDuration = duration
	return nil
}

// AddSegment implements Repository.AddSegment.
func (r *InMemoryRepository) AddSegment(id uint32, seg SegmentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.openStreamLocked(id)
	if err != nil {
		return err
	}
	r.appendSegmentLocked(stream, seg)
	return nil
}

// EndStream implements Repository.EndStream.
func (r *InMemoryRepository) EndStream(id uint32, ranges media.MediaRanges, durationSeconds float64, segments []SegmentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, exists := r.store.GetStream(id)
	if !exists {
		return errors.Wrapf(ErrUnknownStream, "stream %d", id)
	}
	if stream.Ended {
		return nil
	}

	for i, seg := range segments {
		if i < len(ranges.SubsegmentRanges) {
			rng := ranges.SubsegmentRanges[i]
			seg.ByteRange = &rng
			if seg.Size == 0 {
				seg.Size = rng.Size()
			}
		}
		if seg.FileName == "" {
			seg.FileName = stream.Desc.MediaFile
		}
		r.appendSegmentLocked(stream, seg)
	}

	stream.Ranges = ranges
	stream.DurationSeconds = durationSeconds
	stream.Ended = true
	return nil
}

// Snapshot implements Repository.Snapshot.
func (r *InMemoryRepository) Snapshot(id uint32) (StreamState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.store.GetStream(id)
	if !exists {
		return StreamState{}, false
	}
	return stream.clone(), true
}

// SnapshotByPlaylist implements Repository.SnapshotByPlaylist.
func (r *InMemoryRepository) SnapshotByPlaylist(name string) (StreamState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.findByPlaylistLocked(name)
	if !exists {
		return StreamState{}, false
	}
	return stream.clone(), true
}

// Streams implements Repository.Streams.
func (r *InMemoryRepository) Streams() []StreamState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListStreamIDs()
	out := make([]StreamState, 0, len(ids))
	for _, id := range ids {
		if st, ok := r.store.GetStream(id); ok {
			out = append(out, st.clone())
		}
	}
	return out
}

// ActiveStreamCount implements Repository.ActiveStreamCount.
func (r *InMemoryRepository) ActiveStreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListStreamIDs() {
		if st, ok := r.store.GetStream(id); ok && !st.Ended {
			n++
		}
	}
	return n
}

// openStreamLocked returns a registered stream that has not ended.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) openStreamLocked(id uint32) (*StreamState, error) {
	stream, exists := r.store.GetStream(id)
	if !exists {
		return nil, errors.Wrapf(ErrUnknownStream, "stream %d", id)
	}
	if stream.Ended {
		return nil, errors.Wrapf(ErrStreamEnded, "stream %d", id)
	}
	return stream, nil
}

// appendSegmentLocked assigns the next sequence number and appends seg unless
// a segment with the same start time exists.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) appendSegmentLocked(stream *StreamState, seg SegmentRecord) {
	for _, existing := range stream.Segments {
		if existing.StartTime == seg.StartTime {
			return
		}
	}
	seg.Sequence = int64(len(stream.Segments))
	seg.ReceivedAt = r.now()
	stream.Segments = append(stream.Segments, seg)
}

// findByPlaylistLocked looks a stream up by playlist name.
// Caller must hold r.mu.
func (r *InMemoryRepository) findByPlaylistLocked(name string) (*StreamState, bool) {
	for _, id := range r.store.ListStreamIDs() {
		if st, ok := r.store.GetStream(id); ok && st.Desc.PlaylistName == name {
			return st, true
		}
	}
	return nil, false
}
