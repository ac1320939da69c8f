package hls

import (
	"time"

	"media-packager/internal/media"
)

// StreamIdentity names the playlist a muxer output is published under.
type StreamIdentity struct {
	// PlaylistName is the media playlist file name, e.g. "video_720p.m3u8".
	PlaylistName string
	// Name is the NAME attribute of EXT-X-MEDIA. May be empty for video.
	Name string
	// GroupID is the GROUP-ID attribute of EXT-X-MEDIA. May be empty for video.
	GroupID string
}

// FormatDescription is everything the playlists need to know about a stream.
// It is handed to the notifier when the stream is registered.
type FormatDescription struct {
	StreamIdentity

	Type        media.StreamType
	Codec       media.Codec
	CodecString string
	TimeScale   uint32
	Language    string

	Width           uint32
	Height          uint32
	TrickPlayFactor uint32

	NumChannels       uint8
	SamplingFrequency uint32

	// FrameDuration is the duration of one sample in TimeScale units, or 0 if
	// not known yet.
	FrameDuration uint32
	Bandwidth     uint32

	Container media.ContainerType
	// InitSegment is the init segment of a segmented fMP4 output.
	InitSegment string
	// MediaFile is the output file of a single-file output.
	MediaFile       string
	SegmentTemplate string

	Encrypted        bool
	ProtectionScheme media.FourCC
}

// SingleFile reports whether the stream is published as one file addressed
// with byte ranges.
func (d FormatDescription) SingleFile() bool { return d.SegmentTemplate == "" }

// IsTrickPlay reports whether the stream is an I-frame only stream.
func (d FormatDescription) IsTrickPlay() bool { return d.TrickPlayFactor > 0 }

// SegmentRecord is one media segment of a stream. Times are in the stream time
// scale.
type SegmentRecord struct {
	Sequence  int64
	FileName  string
	StartTime int64
	Duration  int64
	Size      uint64

	// ByteRange is set for segments of single-file outputs.
	ByteRange *media.Range

	// ReceivedAt is when the segment was recorded.
	ReceivedAt time.Time
}

// End returns the timestamp right after the segment.
func (s SegmentRecord) End() int64 { return s.StartTime + s.Duration }

// KeyInfo is one encryption key announcement.
type KeyInfo struct {
	Scheme     media.FourCC
	KeyID      []byte
	IV         []byte
	KeySystems []media.KeySystemInfo

	// FromSegment is the sequence of the first segment encrypted with this
	// key, or -1 while encryption has not started.
	FromSegment int64
}

// StreamState is the playlist state of one registered stream.
type StreamState struct {
	ID   uint32
	Desc FormatDescription

	Segments          []SegmentRecord
	Keys              []KeyInfo
	EncryptionStarted bool

	Ranges          media.MediaRanges
	DurationSeconds float64
	Ended           bool

	RegisteredAt time.Time
}

func (s *StreamState) clone() StreamState {
	c := *s
	c.Segments = append([]SegmentRecord(nil), s.Segments...)
	c.Keys = make([]KeyInfo, len(s.Keys))
	for i, k := range s.Keys {
		c.Keys[i] = KeyInfo{
			Scheme:      k.Scheme,
			KeyID:       append([]byte(nil), k.KeyID...),
			IV:          append([]byte(nil), k.IV...),
			KeySystems:  media.CloneKeySystems(k.KeySystems),
			FromSegment: k.FromSegment,
		}
	}
	c.Ranges.SubsegmentRanges = append([]media.Range(nil), s.Ranges.SubsegmentRanges...)
	return c
}

// seconds converts a duration in the stream time scale to seconds.
func (s *StreamState) seconds(d int64) float64 {
	if s.Desc.TimeScale == 0 {
		return 0
	}
	return float64(d) / float64(s.Desc.TimeScale)
}
