// Package demuxer reads container files and feeds their tracks into a
// processing graph.
package demuxer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/pkg/errors"

	"media-packager/internal/media"
	"media-packager/internal/platform/logger"
)

const videoTimeScale = 90000

var ErrNoTracks = errors.New("no supported tracks")

type track struct {
	index  int // position in the file
	info   *media.StreamInfo
	held   *media.MediaSample
	output int
}

// MP4Source is a source handler for an ISO-BMFF file. Output i carries the
// i-th supported track of the file; unsupported tracks are skipped.
type MP4Source struct {
	*media.Base

	demuxer *mp4.Demuxer
	closer  io.Closer
	log     *slog.Logger

	tracks  []*track
	byIndex map[int]*track
}

// OpenMP4 opens path and reads its track headers.
func OpenMP4(name, path string, log *slog.Logger) (*MP4Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	s, err := NewMP4Source(name, f, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// NewMP4Source reads the track headers from r.
func NewMP4Source(name string, r io.ReadSeeker, log *slog.Logger) (*MP4Source, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &MP4Source{
		demuxer: mp4.NewDemuxer(r),
		log:     log.With(slog.String("handler", name)),
		byIndex: make(map[int]*track),
	}
	s.Base = media.NewBase(name, s, media.Ports{Inputs: 0, Outputs: media.Variable})

	codecs, err := s.demuxer.Streams()
	if err != nil {
		return nil, media.NewProcessingError(name, errors.Wrap(err, "read mp4 header"))
	}
	for i, cd := range codecs {
		info, err := streamInfo(cd)
		if err != nil {
			s.log.Info("skipping track", slog.Int("track", i), slog.String("reason", err.Error()))
			continue
		}
		info.TrackID = uint32(i + 1)
		t := &track{index: i, info: info, output: len(s.tracks)}
		s.tracks = append(s.tracks, t)
		s.byIndex[i] = t
	}
	if len(s.tracks) == 0 {
		return nil, media.NewProcessingError(name, ErrNoTracks)
	}
	return s, nil
}

// Streams returns the stream info of every output, indexed by output.
func (s *MP4Source) Streams() []*media.StreamInfo {
	out := make([]*media.StreamInfo, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t.info
	}
	return out
}

// IsValidOutput accepts one output per supported track.
func (s *MP4Source) IsValidOutput(index int) bool { return index < len(s.tracks) }

func (s *MP4Source) ProcessData(*media.StreamData) error {
	return errors.New("source has no inputs")
}

func (s *MP4Source) OnFlushRequest(int) error { return nil }

// Run pushes every track through the graph and flushes all outputs at end
// of file. Cancellation is checked between packets.
func (s *MP4Source) Run(ctx context.Context) error {
	for _, t := range s.tracks {
		if !s.IsConnected(t.output) {
			continue
		}
		if err := s.DispatchStreamInfo(t.output, t.info); err != nil {
			return err
		}
	}

	var packets int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := s.demuxer.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return media.NewProcessingError(s.Name(), errors.Wrap(err, "read packet"))
		}
		t, ok := s.byIndex[int(pkt.Idx)]
		if !ok || !s.IsConnected(t.output) {
			continue
		}
		packets++
		if err := s.push(t, pkt); err != nil {
			return err
		}
	}

	for _, t := range s.tracks {
		if t.held == nil {
			continue
		}
		if err := s.DispatchMediaSample(t.output, t.held); err != nil {
			return err
		}
		t.held = nil
	}
	s.log.Debug("end of input", slog.Int("packets", packets))
	return s.FlushAllDownstreams()
}

// push converts pkt and dispatches the previous sample of the track, whose
// duration is now known.
func (s *MP4Source) push(t *track, pkt av.Packet) error {
	ts := toTicks(pkt.Time, t.info.TimeScale)
	sample := &media.MediaSample{
		Data:       pkt.Data,
		DTS:        ts,
		PTS:        ts + toTicks(pkt.CompositionTime, t.info.TimeScale),
		IsKeyFrame: pkt.IsKeyFrame || t.info.Type == media.StreamAudio,
	}

	prev := t.held
	t.held = sample
	if prev == nil {
		return nil
	}
	prev.Duration = sample.DTS - prev.DTS
	sample.Duration = prev.Duration
	return s.DispatchMediaSample(t.output, prev)
}

func (s *MP4Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func toTicks(d time.Duration, timeScale uint32) int64 {
	ts := int64(timeScale)
	return int64(d/time.Second)*ts + int64(d%time.Second)*ts/int64(time.Second)
}

// streamInfo maps joy4 codec data to a stream info.
func streamInfo(cd av.CodecData) (*media.StreamInfo, error) {
	switch c := cd.(type) {
	case h264parser.CodecData:
		sps := c.SPS()
		codecString := "avc1"
		if len(sps) >= 4 {
			codecString = fmt.Sprintf("avc1.%02x%02x%02x", sps[1], sps[2], sps[3])
		}
		return &media.StreamInfo{
			Type:        media.StreamVideo,
			TimeScale:   videoTimeScale,
			Codec:       media.CodecH264,
			CodecString: codecString,
			CodecConfig: c.AVCDecoderConfRecordBytes(),
			Video: &media.VideoInfo{
				Width:          uint32(c.Width()),
				Height:         uint32(c.Height()),
				PixelWidth:     1,
				PixelHeight:    1,
				NaluLengthSize: c.RecordInfo.LengthSizeMinusOne + 1,
			},
		}, nil
	case aacparser.CodecData:
		return &media.StreamInfo{
			Type:        media.StreamAudio,
			TimeScale:   uint32(c.SampleRate()),
			Codec:       media.CodecAAC,
			CodecString: fmt.Sprintf("mp4a.40.%d", c.Config.ObjectType),
			CodecConfig: c.MPEG4AudioConfigBytes(),
			Audio: &media.AudioInfo{
				SampleBits:        16,
				NumChannels:       uint8(c.ChannelLayout().Count()),
				SamplingFrequency: uint32(c.SampleRate()),
			},
		}, nil
	default:
		return nil, errors.Errorf("unsupported codec %v", cd.Type())
	}
}
