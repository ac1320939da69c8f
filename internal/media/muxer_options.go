package media

import (
	"strconv"
	"strings"
)

// ContainerType is the output container produced by a muxer.
type ContainerType int

const (
	ContainerUnknown ContainerType = iota
	ContainerMPEG2TS
	ContainerMP4
	ContainerWebVTT
)

func (c ContainerType) String() string {
	switch c {
	case ContainerMPEG2TS:
		return "ts"
	case ContainerMP4:
		return "mp4"
	case ContainerWebVTT:
		return "vtt"
	default:
		return "unknown"
	}
}

// ParseContainerType accepts "ts", "mp4" and "fmp4" (case insensitive).
func ParseContainerType(s string) ContainerType {
	switch strings.ToLower(s) {
	case "ts", "mpeg2ts", "mp2t":
		return ContainerMPEG2TS
	case "mp4", "fmp4", "cmaf":
		return ContainerMP4
	case "vtt", "webvtt":
		return ContainerWebVTT
	default:
		return ContainerUnknown
	}
}

// Extension returns the file extension for media segments.
func (c ContainerType) Extension() string {
	switch c {
	case ContainerMPEG2TS:
		return ".ts"
	case ContainerMP4:
		return ".m4s"
	case ContainerWebVTT:
		return ".vtt"
	default:
		return ""
	}
}

// MuxerOptions configures one muxer output.
type MuxerOptions struct {
	// OutputFileName is the single output file, or the init segment of a
	// segmented fMP4 output.
	OutputFileName string

	// SegmentTemplate names media segments. $Number$ is replaced by the
	// 1-based segment number. Empty means single-file output.
	SegmentTemplate string

	// BandwidthBps overrides the computed bandwidth when non-zero.
	BandwidthBps uint32
}

// SingleFile reports whether all segments go into OutputFileName.
func (o MuxerOptions) SingleFile() bool { return o.SegmentTemplate == "" }

// SegmentName expands the segment template for the given 1-based number.
func (o MuxerOptions) SegmentName(number int) string {
	return strings.ReplaceAll(o.SegmentTemplate, "$Number$", strconv.Itoa(number))
}

// Range is an inclusive byte range inside a file.
type Range struct {
	Start uint64
	End   uint64
}

// Size returns the number of bytes covered by r.
func (r Range) Size() uint64 { return r.End - r.Start + 1 }

// MediaRanges locates the parts of a single-file output.
type MediaRanges struct {
	InitRange        *Range
	IndexRange       *Range
	SubsegmentRanges []Range
}
