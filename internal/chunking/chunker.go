// Package chunking cuts a sample stream into segments and subsegments.
package chunking

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"media-packager/internal/media"
	"media-packager/internal/platform/logger"
)

var (
	ErrInvalidDuration = errors.New("segment duration must be positive")
	ErrNonMonotonicDTS = errors.New("decoding timestamps must not decrease")
)

// Params configures a Handler. Durations are in seconds.
type Params struct {
	SegmentDuration float64
	// SubsegmentDuration is 0 to disable subsegments.
	SubsegmentDuration float64
}

// Validate reports parameters the handler cannot work with.
func (p Params) Validate() error {
	if p.SegmentDuration <= 0 || math.IsNaN(p.SegmentDuration) {
		return errors.Wrapf(ErrInvalidDuration, "segment duration %v", p.SegmentDuration)
	}
	if p.SubsegmentDuration < 0 {
		return errors.Wrapf(ErrInvalidDuration, "subsegment duration %v", p.SubsegmentDuration)
	}
	return nil
}

// Handler has one input and one output. Samples are forwarded as they
// arrive; a SegmentInfo follows the last sample of the segment it describes.
//
// Boundaries are placed at multiples of the segment duration counted from the
// first sample. Video streams cut only at key frames, so a segment runs until
// the first key frame at or past its boundary. Audio and text cut at the first
// sample past the boundary.
type Handler struct {
	*media.Base

	params Params
	log    *slog.Logger

	timeScale  uint32
	keyFrames  bool
	segmentLen int64
	subLen     int64

	started  bool
	firstDTS int64
	lastDTS  int64
	lastEnd  int64

	segmentIndex int64
	segmentStart int64
	subIndex     int64
	subStart     int64
	inSegment    bool
	inSubsegment bool
}

// New returns a chunking handler. It fails on invalid params.
func New(name string, params Params, log *slog.Logger) (*Handler, error) {
	if err := params.Validate(); err != nil {
		return nil, media.NewConfigurationError(name, err)
	}
	if log == nil {
		log = logger.Discard()
	}
	h := &Handler{params: params, log: log.With(slog.String("handler", name))}
	h.Base = media.NewBase(name, h, media.Ports{Inputs: 1, Outputs: 1, RequireStreamInfo: true})
	return h, nil
}

func (h *Handler) ProcessData(data *media.StreamData) error {
	data.StreamIndex = 0
	switch data.Type {
	case media.DataStreamInfo:
		return h.onStreamInfo(data)
	case media.DataMediaSample:
		return h.onSample(data.MediaSample)
	case media.DataSegmentInfo:
		// Upstream segmentation is superseded by ours.
		return nil
	default:
		return errors.Wrapf(media.ErrUnknownDataType, "%s", data.Type)
	}
}

func (h *Handler) onStreamInfo(data *media.StreamData) error {
	info := data.StreamInfo
	if info.TimeScale == 0 {
		return errors.New("stream info without time scale")
	}
	h.timeScale = info.TimeScale
	h.keyFrames = info.Type == media.StreamVideo
	h.segmentLen = h.ticks(h.params.SegmentDuration)
	h.subLen = h.ticks(h.params.SubsegmentDuration)
	if h.segmentLen == 0 {
		h.segmentLen = 1
	}
	return h.Dispatch(data)
}

func (h *Handler) ticks(seconds float64) int64 {
	return int64(math.Round(seconds * float64(h.timeScale)))
}

func (h *Handler) onSample(s *media.MediaSample) error {
	if !h.started {
		h.started = true
		h.firstDTS = s.DTS
		h.lastDTS = s.DTS
	}
	if s.DTS < h.lastDTS {
		return errors.Wrapf(ErrNonMonotonicDTS, "dts %d after %d", s.DTS, h.lastDTS)
	}
	h.lastDTS = s.DTS

	canCut := !h.keyFrames || s.IsKeyFrame
	elapsed := s.DTS - h.firstDTS
	if canCut && h.inSegment {
		if idx := elapsed / h.segmentLen; idx > h.segmentIndex {
			if err := h.endSegment(s.DTS); err != nil {
				return err
			}
			h.segmentIndex = idx
		} else if h.subLen > 0 && h.inSubsegment {
			if sub := (s.DTS - h.segmentStart) / h.subLen; sub > h.subIndex {
				if err := h.endSubsegment(s.DTS); err != nil {
					return err
				}
				h.subIndex = sub
			}
		}
	}
	if !h.inSegment {
		h.inSegment = true
		h.segmentStart = s.DTS
		h.subIndex = 0
	}
	if !h.inSubsegment {
		h.inSubsegment = true
		h.subStart = s.DTS
	}

	if end := s.DTS + s.Duration; end > h.lastEnd {
		h.lastEnd = end
	}
	return h.DispatchMediaSample(0, s)
}

func (h *Handler) endSubsegment(end int64) error {
	h.inSubsegment = false
	return h.DispatchSegmentInfo(0, &media.SegmentInfo{
		StartTimestamp: h.subStart,
		Duration:       end - h.subStart,
		IsSubsegment:   true,
	})
}

// endSegment closes the open subsegment, if subsegments are enabled, then
// the segment itself.
func (h *Handler) endSegment(end int64) error {
	if h.subLen > 0 && h.inSubsegment {
		if err := h.endSubsegment(end); err != nil {
			return err
		}
	}
	h.inSubsegment = false
	h.inSegment = false
	h.log.Debug("segment ready",
		slog.Int64("start", h.segmentStart),
		slog.Int64("duration", end-h.segmentStart))
	return h.DispatchSegmentInfo(0, &media.SegmentInfo{
		StartTimestamp: h.segmentStart,
		Duration:       end - h.segmentStart,
	})
}

// OnFlushRequest emits the last, possibly short, segment.
func (h *Handler) OnFlushRequest(int) error {
	if !h.inSegment {
		return nil
	}
	return h.endSegment(h.lastEnd)
}
