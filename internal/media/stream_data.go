package media

import (
	"bytes"
	"fmt"
)

// DataType is the discriminant of StreamData.
type DataType int

const (
	DataUnknown DataType = iota
	DataStreamInfo
	DataMediaSample
	DataSegmentInfo
	// DataFlush marks the end of the stream on the input it is delivered to.
	DataFlush
)

func (t DataType) String() string {
	switch t {
	case DataStreamInfo:
		return "stream_info"
	case DataMediaSample:
		return "media_sample"
	case DataSegmentInfo:
		return "segment_info"
	case DataFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// MediaSample is one encoded access unit. A sample has a single logical owner:
// whoever dispatches it hands it over and must not touch it afterwards.
type MediaSample struct {
	Data     []byte
	SideData []byte

	DTS      int64
	PTS      int64
	Duration int64

	IsKeyFrame bool

	// DecryptConfig is non-nil for encrypted samples.
	DecryptConfig *DecryptConfig
}

// Clone deep-copies the sample, including its buffers.
func (s *MediaSample) Clone() *MediaSample {
	c := *s
	c.Data = cloneBytes(s.Data)
	c.SideData = cloneBytes(s.SideData)
	c.DecryptConfig = s.DecryptConfig.clone()
	return &c
}

// Equal compares two samples by value. Decrypt configs are compared by key id
// and IV only.
func (s *MediaSample) Equal(o *MediaSample) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.DTS != o.DTS || s.PTS != o.PTS || s.Duration != o.Duration || s.IsKeyFrame != o.IsKeyFrame {
		return false
	}
	if !bytes.Equal(s.Data, o.Data) || !bytes.Equal(s.SideData, o.SideData) {
		return false
	}
	if (s.DecryptConfig == nil) != (o.DecryptConfig == nil) {
		return false
	}
	if s.DecryptConfig != nil {
		return bytes.Equal(s.DecryptConfig.KeyID, o.DecryptConfig.KeyID) &&
			bytes.Equal(s.DecryptConfig.IV, o.DecryptConfig.IV)
	}
	return true
}

func (s *MediaSample) String() string {
	return fmt.Sprintf("sample dts=%d pts=%d duration=%d key=%t size=%d", s.DTS, s.PTS, s.Duration, s.IsKeyFrame, len(s.Data))
}

// SegmentInfo marks a segment (or subsegment) boundary, in stream time scale.
type SegmentInfo struct {
	StartTimestamp int64
	Duration       int64
	IsSubsegment   bool
	IsEncrypted    bool

	// KeyRotation is set when a new crypto period starts with this segment.
	KeyRotation *EncryptionConfig
}

// End returns the timestamp right after the segment.
func (s *SegmentInfo) End() int64 { return s.StartTimestamp + s.Duration }

// StreamData is the unit exchanged between handlers. Exactly one payload field
// is set, selected by Type. StreamIndex carries the port the data travels on:
// the output port while dispatching and the input port once delivered.
type StreamData struct {
	Type        DataType
	StreamIndex int

	StreamInfo  *StreamInfo
	MediaSample *MediaSample
	SegmentInfo *SegmentInfo
}

// FromStreamInfo wraps a stream info.
func FromStreamInfo(index int, info *StreamInfo) *StreamData {
	return &StreamData{Type: DataStreamInfo, StreamIndex: index, StreamInfo: info}
}

// FromMediaSample wraps a media sample.
func FromMediaSample(index int, sample *MediaSample) *StreamData {
	return &StreamData{Type: DataMediaSample, StreamIndex: index, MediaSample: sample}
}

// FromSegmentInfo wraps a segment boundary.
func FromSegmentInfo(index int, info *SegmentInfo) *StreamData {
	return &StreamData{Type: DataSegmentInfo, StreamIndex: index, SegmentInfo: info}
}

// FlushMarker returns the end-of-stream marker for an input.
func FlushMarker(index int) *StreamData {
	return &StreamData{Type: DataFlush, StreamIndex: index}
}

// Valid reports whether the payload matching Type is present.
func (d *StreamData) Valid() bool {
	switch d.Type {
	case DataStreamInfo:
		return d.StreamInfo != nil
	case DataMediaSample:
		return d.MediaSample != nil
	case DataSegmentInfo:
		return d.SegmentInfo != nil
	case DataFlush:
		return true
	default:
		return false
	}
}

func (d *StreamData) String() string {
	switch d.Type {
	case DataStreamInfo:
		return fmt.Sprintf("[%d] %s", d.StreamIndex, d.StreamInfo)
	case DataMediaSample:
		return fmt.Sprintf("[%d] %s", d.StreamIndex, d.MediaSample)
	case DataSegmentInfo:
		return fmt.Sprintf("[%d] segment start=%d duration=%d sub=%t",
			d.StreamIndex, d.SegmentInfo.StartTimestamp, d.SegmentInfo.Duration, d.SegmentInfo.IsSubsegment)
	default:
		return fmt.Sprintf("[%d] %s", d.StreamIndex, d.Type)
	}
}
