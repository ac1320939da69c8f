// Package muxer turns sample streams into container segments and reports
// their lifecycle to a muxer listener.
package muxer

import (
	"github.com/pkg/errors"

	"media-packager/internal/media"
)

var ErrUnsupportedCodec = errors.New("codec not supported by container")

// SegmentWriter encodes samples into one container format. Streams are
// addressed by their position in the slice passed to Init.
type SegmentWriter interface {
	Container() media.ContainerType
	// Init prepares the writer and returns the initialization segment, or nil
	// for containers without one.
	Init(streams []*media.StreamInfo) ([]byte, error)
	WriteSample(stream int, s *media.MediaSample) error
	// FinishSegment returns the encoded segment and starts a new one. It
	// returns nil when no sample was written since the last call.
	FinishSegment() ([]byte, error)
}

// NewSegmentWriter returns the writer for container.
func NewSegmentWriter(container media.ContainerType) (SegmentWriter, error) {
	switch container {
	case media.ContainerMPEG2TS:
		return NewTSWriter(), nil
	case media.ContainerMP4:
		return NewFMP4Writer(), nil
	default:
		return nil, errors.Errorf("no segment writer for %s", container)
	}
}
