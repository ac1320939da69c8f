package hls

import (
	"github.com/pkg/errors"
)

// DefaultWindowSize is the default number of segments in the live sliding window.
const DefaultWindowSize = 6

// DefaultMasterPlaylist is the file name of the master playlist.
const DefaultMasterPlaylist = "master.m3u8"

// FileWriter stores a named file.
type FileWriter interface {
	WriteFile(name string, data []byte) error
}

// Service renders playlists from repository state. Streams that are still
// running get a live sliding window; ended streams list every segment.
type Service struct {
	repo       Repository
	windowSize int
}

// NewService returns a Service that uses repo and keeps at most windowSize segments
// in the live sliding window. If windowSize <= 0, DefaultWindowSize is used.
func NewService(repo Repository, windowSize int) *Service {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Service{repo: repo, windowSize: windowSize}
}

// MediaPlaylist returns the media playlist published under name.
func (s *Service) MediaPlaylist(name string) (m3u8 string, ok bool) {
	st, ok := s.repo.SnapshotByPlaylist(name)
	if !ok {
		return "", false
	}
	segments := st.Segments
	if !st.Ended {
		segments = contiguousVisibleSegments(segments, s.windowSize)
	}
	return BuildMediaPlaylist(st, segments), true
}

// MasterPlaylist returns the master playlist over all registered streams. ok
// is false when no stream has been registered yet.
func (s *Service) MasterPlaylist() (m3u8 string, ok bool) {
	streams := s.repo.Streams()
	if len(streams) == 0 {
		return "", false
	}
	return BuildMasterPlaylist(streams), true
}

// Publish writes every media playlist and the master playlist to w.
func (s *Service) Publish(w FileWriter, masterName string) error {
	if masterName == "" {
		masterName = DefaultMasterPlaylist
	}
	streams := s.repo.Streams()
	for _, st := range streams {
		m3u8, ok := s.MediaPlaylist(st.Desc.PlaylistName)
		if !ok {
			continue
		}
		if err := w.WriteFile(st.Desc.PlaylistName, []byte(m3u8)); err != nil {
			return errors.Wrapf(err, "write %s", st.Desc.PlaylistName)
		}
	}
	if len(streams) == 0 {
		return nil
	}
	if err := w.WriteFile(masterName, []byte(BuildMasterPlaylist(streams))); err != nil {
		return errors.Wrapf(err, "write %s", masterName)
	}
	return nil
}

// contiguousVisibleSegments implements the "Slide then Filter" logic: take the
// last windowSize segments, then stop at the first timeline gap so players never
// see a hole. A gap eventually falls off the back of the window.
// segs must be ordered by sequence.
func contiguousVisibleSegments(segs []SegmentRecord, windowSize int) []SegmentRecord {
	if len(segs) == 0 || windowSize <= 0 {
		return nil
	}

	start := 0
	if len(segs) > windowSize {
		start = len(segs) - windowSize
	}
	windowed := segs[start:]

	visible := make([]SegmentRecord, 0, len(windowed))
	for i := 0; i < len(windowed); i++ {
		if i > 0 && windowed[i].StartTime != windowed[i-1].End() {
			break
		}
		visible = append(visible, windowed[i])
	}
	return visible
}
