// Package trickplay derives fast-forward streams from a video stream.
package trickplay

import (
	"github.com/pkg/errors"

	"media-packager/internal/media"
)

var ErrNotVideo = errors.New("trick play needs a video stream")

// Handler keeps every factor-th key frame of its single input and drops
// everything else. Each kept frame is stretched to last until the next kept
// frame, so the output covers the same timeline as the input.
type Handler struct {
	*media.Base

	factor   uint32
	keyCount uint32
	held     *media.MediaSample
	lastEnd  int64
}

// New returns a trick play handler. factor must be at least 1.
func New(name string, factor uint32) (*Handler, error) {
	if factor == 0 {
		return nil, media.NewConfigurationError(name, errors.New("trick play factor must be positive"))
	}
	h := &Handler{factor: factor}
	h.Base = media.NewBase(name, h, media.Ports{Inputs: 1, Outputs: 1, RequireStreamInfo: true})
	return h, nil
}

func (h *Handler) ProcessData(data *media.StreamData) error {
	data.StreamIndex = 0
	switch data.Type {
	case media.DataStreamInfo:
		info := data.StreamInfo
		if info.Type != media.StreamVideo {
			return errors.Wrapf(ErrNotVideo, "got %s", info.Type)
		}
		return h.DispatchStreamInfo(0, info.WithTrickPlay(h.factor, h.factor))
	case media.DataMediaSample:
		return h.onSample(data.MediaSample)
	case media.DataSegmentInfo:
		// Segmentation happens downstream of trick play.
		return nil
	default:
		return errors.Wrapf(media.ErrUnknownDataType, "%s", data.Type)
	}
}

func (h *Handler) onSample(s *media.MediaSample) error {
	if end := s.DTS + s.Duration; end > h.lastEnd {
		h.lastEnd = end
	}
	if !s.IsKeyFrame {
		return nil
	}
	h.keyCount++
	if (h.keyCount-1)%h.factor != 0 {
		return nil
	}
	if err := h.release(s.DTS); err != nil {
		return err
	}
	h.held = s
	return nil
}

// release dispatches the held frame with its duration extended to end.
func (h *Handler) release(end int64) error {
	if h.held == nil {
		return nil
	}
	s := h.held
	h.held = nil
	s.Duration = end - s.DTS
	return h.DispatchMediaSample(0, s)
}

func (h *Handler) OnFlushRequest(int) error {
	return h.release(h.lastEnd)
}
