package muxer

import (
	"log/slog"

	"github.com/pkg/errors"

	"media-packager/internal/event"
	"media-packager/internal/media"
	"media-packager/internal/platform/logger"
	"media-packager/internal/platform/metrics"
)

// Config wires a Muxer to its collaborators.
type Config struct {
	Options media.MuxerOptions
	Writer  SegmentWriter
	Output  Output
	// Listener may be nil.
	Listener event.MuxerListener
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Inputs is the number of streams multiplexed into the output. Zero means
	// one.
	Inputs int
}

type muxStream struct {
	info     *media.StreamInfo
	firstDTS int64
	lastEnd  int64
	started  bool
}

// Muxer is a terminal handler writing its inputs into one output.
//
// Segments are cut on the segment infos of the primary input, the first video
// input or input 0. Listener events follow the order in which the muxer
// learns things: key material of the stream, media start, the first sample
// duration, the first encrypted sample, then one event per segment and the
// media end once every input is flushed.
type Muxer struct {
	*media.Base

	cfg     Config
	log     *slog.Logger
	streams []*muxStream
	primary int

	mediaStarted      bool
	sampleDurationSet bool
	encryptionStarted bool
	segments          int
	segmentStart      int64
	segmentOpen       bool
	ranges            media.MediaRanges
	ended             bool
}

// New returns a muxer. Options, Writer and Output are required.
func New(name string, cfg Config) (*Muxer, error) {
	if cfg.Writer == nil || cfg.Output == nil {
		return nil, media.NewConfigurationError(name, errors.New("muxer needs a segment writer and an output"))
	}
	if cfg.Options.OutputFileName == "" {
		return nil, media.NewConfigurationError(name, errors.New("muxer needs an output file name"))
	}
	if cfg.Inputs <= 0 {
		cfg.Inputs = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	m := &Muxer{
		cfg:     cfg,
		log:     cfg.Logger.With(slog.String("handler", name), slog.String("output", cfg.Options.OutputFileName)),
		streams: make([]*muxStream, cfg.Inputs),
	}
	m.Base = media.NewBase(name, m, media.Ports{Inputs: cfg.Inputs, Outputs: 0, RequireStreamInfo: true})
	return m, nil
}

func (m *Muxer) ProcessData(data *media.StreamData) error {
	switch data.Type {
	case media.DataStreamInfo:
		return m.onStreamInfo(data.StreamIndex, data.StreamInfo)
	case media.DataMediaSample:
		return m.onSample(data.StreamIndex, data.MediaSample)
	case media.DataSegmentInfo:
		if data.StreamIndex != m.primary {
			return nil
		}
		return m.onSegmentInfo(data.SegmentInfo)
	default:
		return errors.Wrapf(media.ErrUnknownDataType, "%s", data.Type)
	}
}

func (m *Muxer) onStreamInfo(input int, info *media.StreamInfo) error {
	if m.mediaStarted {
		return errors.Errorf("stream info on input %d after media start", input)
	}
	m.streams[input] = &muxStream{info: info}
	for _, s := range m.streams {
		if s == nil {
			return nil
		}
	}
	return m.startMedia()
}

func (m *Muxer) startMedia() error {
	infos := make([]*media.StreamInfo, len(m.streams))
	for i, s := range m.streams {
		infos[i] = s.info
		if s.info.Type == media.StreamVideo && m.streams[m.primary].info.Type != media.StreamVideo {
			m.primary = i
		}
	}
	primary := infos[m.primary]

	if enc := primary.Encryption; enc != nil && m.cfg.Listener != nil {
		if err := m.cfg.Listener.OnEncryptionInfoReady(true, enc.Scheme, enc.KeyID, announcedIV(enc), enc.KeySystems); err != nil {
			return err
		}
	}
	if m.cfg.Listener != nil {
		if err := m.cfg.Listener.OnMediaStart(m.cfg.Options, primary, primary.TimeScale, m.cfg.Writer.Container()); err != nil {
			return err
		}
	}

	init, err := m.cfg.Writer.Init(infos)
	if err != nil {
		return err
	}
	if len(init) > 0 {
		if m.cfg.Options.SingleFile() {
			if _, err := m.cfg.Output.Append(m.cfg.Options.OutputFileName, init); err != nil {
				return err
			}
			m.ranges.InitRange = &media.Range{Start: 0, End: uint64(len(init)) - 1}
		} else if err := m.cfg.Output.WriteFile(m.cfg.Options.OutputFileName, init); err != nil {
			return err
		}
	}
	m.mediaStarted = true
	m.log.Debug("media started", slog.Int("streams", len(infos)), slog.String("container", m.cfg.Writer.Container().String()))
	return nil
}

func announcedIV(enc *media.EncryptionConfig) []byte {
	if len(enc.IV) > 0 {
		return enc.IV
	}
	return enc.ConstantIV
}

func (m *Muxer) onSample(input int, s *media.MediaSample) error {
	if !m.mediaStarted {
		return errors.Errorf("sample on input %d before every input has a stream info", input)
	}
	st := m.streams[input]
	if !st.started {
		st.started = true
		st.firstDTS = s.DTS
	}
	if end := s.DTS + s.Duration; end > st.lastEnd {
		st.lastEnd = end
	}

	if input == m.primary {
		if !m.sampleDurationSet && m.cfg.Listener != nil {
			m.sampleDurationSet = true
			if err := m.cfg.Listener.OnSampleDurationReady(uint32(s.Duration)); err != nil {
				return err
			}
		}
		if !m.segmentOpen {
			m.segmentOpen = true
			m.segmentStart = s.DTS
		}
	}
	if s.DecryptConfig != nil && !m.encryptionStarted {
		m.encryptionStarted = true
		if m.cfg.Listener != nil {
			if err := m.cfg.Listener.OnEncryptionStart(); err != nil {
				return err
			}
		}
	}

	if err := m.cfg.Writer.WriteSample(input, s); err != nil {
		return err
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AddSamples(1)
	}
	return nil
}

func (m *Muxer) onSegmentInfo(seg *media.SegmentInfo) error {
	if seg.IsSubsegment {
		return nil
	}
	if rot := seg.KeyRotation; rot != nil && m.cfg.Listener != nil {
		if err := m.cfg.Listener.OnEncryptionInfoReady(false, rot.Scheme, rot.KeyID, announcedIV(rot), rot.KeySystems); err != nil {
			return err
		}
	}
	return m.finishSegment(seg.StartTimestamp, seg.Duration)
}

func (m *Muxer) finishSegment(start, duration int64) error {
	data, err := m.cfg.Writer.FinishSegment()
	if err != nil {
		return err
	}
	m.segmentOpen = false
	if data == nil {
		return nil
	}
	m.segments++

	name := m.cfg.Options.OutputFileName
	if m.cfg.Options.SingleFile() {
		offset, err := m.cfg.Output.Append(name, data)
		if err != nil {
			return err
		}
		m.ranges.SubsegmentRanges = append(m.ranges.SubsegmentRanges, media.Range{
			Start: offset,
			End:   offset + uint64(len(data)) - 1,
		})
	} else {
		name = m.cfg.Options.SegmentName(m.segments)
		if err := m.cfg.Output.WriteFile(name, data); err != nil {
			return err
		}
	}
	m.log.Debug("segment written", slog.String("file", name), slog.Int("size", len(data)))
	if m.cfg.Listener == nil {
		return nil
	}
	return m.cfg.Listener.OnNewSegment(name, start, duration, uint64(len(data)))
}

// OnFlushRequest finishes the output once the last input is flushed.
func (m *Muxer) OnFlushRequest(int) error {
	if !m.AllInputsFlushed() || m.ended {
		return nil
	}
	m.ended = true
	if !m.mediaStarted {
		return nil
	}

	primary := m.streams[m.primary]
	if m.segmentOpen {
		if err := m.finishSegment(m.segmentStart, primary.lastEnd-m.segmentStart); err != nil {
			return err
		}
	}
	var seconds float64
	if primary.started && primary.info.TimeScale > 0 {
		seconds = float64(primary.lastEnd-primary.firstDTS) / float64(primary.info.TimeScale)
	}
	m.log.Debug("media ended", slog.Int("segments", m.segments), slog.Float64("duration_seconds", seconds))
	if m.cfg.Listener == nil {
		return nil
	}
	return m.cfg.Listener.OnMediaEnd(m.ranges, seconds)
}
