package muxer

import (
	"bytes"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/ts"
	"github.com/pkg/errors"

	"media-packager/internal/media"
)

// TSWriter produces self-contained MPEG-2 TS segments: every segment starts
// with its own PAT and PMT.
type TSWriter struct {
	codecs     []av.CodecData
	timeScales []uint32

	buf     bytes.Buffer
	mux     *ts.Muxer
	samples int
}

func NewTSWriter() *TSWriter { return &TSWriter{} }

func (w *TSWriter) Container() media.ContainerType { return media.ContainerMPEG2TS }

func (w *TSWriter) Init(streams []*media.StreamInfo) ([]byte, error) {
	w.codecs = w.codecs[:0]
	w.timeScales = w.timeScales[:0]
	for _, info := range streams {
		cd, err := joyCodecData(info)
		if err != nil {
			return nil, err
		}
		w.codecs = append(w.codecs, cd)
		w.timeScales = append(w.timeScales, info.TimeScale)
	}
	return nil, nil
}

func joyCodecData(info *media.StreamInfo) (av.CodecData, error) {
	switch info.Codec {
	case media.CodecH264:
		cd, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(info.CodecConfig)
		return cd, errors.Wrap(err, "h264 decoder configuration")
	case media.CodecAAC:
		cd, err := aacparser.NewCodecDataFromMPEG4AudioConfigBytes(info.CodecConfig)
		return cd, errors.Wrap(err, "aac audio specific config")
	default:
		return nil, errors.Wrapf(ErrUnsupportedCodec, "%s in ts", info.Codec)
	}
}

func (w *TSWriter) WriteSample(stream int, s *media.MediaSample) error {
	if stream < 0 || stream >= len(w.codecs) {
		return errors.Errorf("ts stream %d not initialized", stream)
	}
	if w.mux == nil {
		w.mux = ts.NewMuxer(&w.buf)
		if err := w.mux.WriteHeader(w.codecs); err != nil {
			return errors.Wrap(err, "ts header")
		}
	}
	scale := w.timeScales[stream]
	err := w.mux.WritePacket(av.Packet{
		Idx:             int8(stream),
		IsKeyFrame:      s.IsKeyFrame,
		Time:            toDuration(s.DTS, scale),
		CompositionTime: toDuration(s.PTS-s.DTS, scale),
		Data:            s.Data,
	})
	if err != nil {
		return errors.Wrap(err, "ts packet")
	}
	w.samples++
	return nil
}

func (w *TSWriter) FinishSegment() ([]byte, error) {
	if w.mux == nil || w.samples == 0 {
		return nil, nil
	}
	if err := w.mux.WriteTrailer(); err != nil {
		return nil, errors.Wrap(err, "ts trailer")
	}
	out := append([]byte(nil), w.buf.Bytes()...)
	w.buf.Reset()
	w.mux = nil
	w.samples = 0
	return out, nil
}

func toDuration(ticks int64, timeScale uint32) time.Duration {
	return time.Duration(ticks * int64(time.Second) / int64(timeScale))
}
