package muxer

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/pkg/errors"

	"media-packager/internal/media"
)

// FMP4Writer produces an init segment and one moof/mdat fragment per media
// segment.
type FMP4Writer struct {
	tracks   []*fmp4.PartTrack
	sequence uint32
	samples  int
}

func NewFMP4Writer() *FMP4Writer { return &FMP4Writer{sequence: 1} }

func (w *FMP4Writer) Container() media.ContainerType { return media.ContainerMP4 }

func (w *FMP4Writer) Init(streams []*media.StreamInfo) ([]byte, error) {
	init := &fmp4.Init{}
	w.tracks = w.tracks[:0]
	for i, info := range streams {
		codec, err := mp4Codec(info)
		if err != nil {
			return nil, err
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        i + 1,
			TimeScale: info.TimeScale,
			Codec:     codec,
		})
		w.tracks = append(w.tracks, &fmp4.PartTrack{ID: i + 1})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, errors.Wrap(err, "marshal init segment")
	}
	return buf.Bytes(), nil
}

func mp4Codec(info *media.StreamInfo) (mp4.Codec, error) {
	switch info.Codec {
	case media.CodecH264:
		var rec h264parser.AVCDecoderConfRecord
		if _, err := rec.Unmarshal(info.CodecConfig); err != nil {
			return nil, errors.Wrap(err, "h264 decoder configuration")
		}
		if len(rec.SPS) == 0 || len(rec.PPS) == 0 {
			return nil, errors.New("h264 decoder configuration without parameter sets")
		}
		return &mp4.CodecH264{SPS: rec.SPS[0], PPS: rec.PPS[0]}, nil
	case media.CodecAAC:
		var cfg mpeg4audio.AudioSpecificConfig
		if err := cfg.Unmarshal(info.CodecConfig); err != nil {
			return nil, errors.Wrap(err, "aac audio specific config")
		}
		return &mp4.CodecMPEG4Audio{Config: cfg}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedCodec, "%s in fmp4", info.Codec)
	}
}

func (w *FMP4Writer) WriteSample(stream int, s *media.MediaSample) error {
	if stream < 0 || stream >= len(w.tracks) {
		return errors.Errorf("fmp4 track %d not initialized", stream)
	}
	t := w.tracks[stream]
	if len(t.Samples) == 0 {
		t.BaseTime = uint64(s.DTS)
	}
	t.Samples = append(t.Samples, &fmp4.Sample{
		Duration:        uint32(s.Duration),
		PTSOffset:       int32(s.PTS - s.DTS),
		IsNonSyncSample: !s.IsKeyFrame,
		Payload:         s.Data,
	})
	w.samples++
	return nil
}

func (w *FMP4Writer) FinishSegment() ([]byte, error) {
	if w.samples == 0 {
		return nil, nil
	}
	part := &fmp4.Part{SequenceNumber: w.sequence}
	for _, t := range w.tracks {
		if len(t.Samples) > 0 {
			part.Tracks = append(part.Tracks, t)
		}
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, errors.Wrap(err, "marshal fragment")
	}
	for i, t := range w.tracks {
		w.tracks[i] = &fmp4.PartTrack{ID: t.ID}
	}
	w.sequence++
	w.samples = 0
	return buf.Bytes(), nil
}
