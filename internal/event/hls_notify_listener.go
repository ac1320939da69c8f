package event

import (
	"log/slog"

	"github.com/pkg/errors"

	"media-packager/internal/hls"
	"media-packager/internal/media"
	"media-packager/internal/platform/logger"
	"media-packager/internal/platform/metrics"
)

var (
	ErrMediaNotStarted     = errors.New("media has not started")
	ErrMediaAlreadyStarted = errors.New("media already started")
)

// RotationPolicy decides what happens to key rotations announced before media
// start.
type RotationPolicy int

// Only the most recent initial announcement is ever kept; the policy applies
// to rotations.
const (
	// RotationKeepAll replays every buffered rotation in arrival order.
	RotationKeepAll RotationPolicy = iota
	// RotationKeepLatest replays only the most recent rotation.
	RotationKeepLatest
)

func (p RotationPolicy) String() string {
	if p == RotationKeepLatest {
		return "keep_latest"
	}
	return "keep_all"
}

// ParseRotationPolicy accepts the job file spellings "keep_all" and
// "keep_latest". Anything else is RotationKeepAll.
func ParseRotationPolicy(s string) RotationPolicy {
	if s == RotationKeepLatest.String() {
		return RotationKeepLatest
	}
	return RotationKeepAll
}

type listenerState int

const (
	stateCreated listenerState = iota
	stateMediaStarted
	stateEnded
)

func (s listenerState) String() string {
	switch s {
	case stateMediaStarted:
		return "media_started"
	case stateEnded:
		return "ended"
	default:
		return "created"
	}
}

type encryptionRecord struct {
	initial    bool
	scheme     media.FourCC
	keyID      []byte
	iv         []byte
	keySystems []media.KeySystemInfo
}

// Option configures an HLSNotifyListener.
type Option func(*HLSNotifyListener)

// WithStrict makes contract violations panic instead of returning a
// LogicError. Meant for tests and debug builds.
func WithStrict(strict bool) Option {
	return func(l *HLSNotifyListener) { l.strict = strict }
}

func WithRotationPolicy(p RotationPolicy) Option {
	return func(l *HLSNotifyListener) { l.policy = p }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *HLSNotifyListener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics counts contract violations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *HLSNotifyListener) { l.metrics = m }
}

// HLSNotifyListener adapts the callbacks of one muxer to an hls.Notifier.
//
// The notifier requires a stream to be registered before anything is said
// about it, but muxers may announce key material before the container format
// is final. The listener buffers such announcements until OnMediaStart, which
// registers the stream, replays them in arrival order and then forwards an
// early encryption start. After OnMediaEnd every call is a LogicError.
//
// The notifier is owned by the caller and must outlive the listener.
type HLSNotifyListener struct {
	identity hls.StreamIdentity
	notifier hls.Notifier

	log     *slog.Logger
	strict  bool
	policy  RotationPolicy
	metrics *metrics.Metrics

	state    listenerState
	streamID uint32

	pending                   []encryptionRecord
	mustNotifyEncryptionStart bool
	scheme                    media.FourCC

	desc     hls.FormatDescription
	segments []hls.SegmentRecord
}

// NewHLSNotifyListener returns a listener publishing under identity.
func NewHLSNotifyListener(identity hls.StreamIdentity, notifier hls.Notifier, opts ...Option) *HLSNotifyListener {
	l := &HLSNotifyListener{
		identity: identity,
		notifier: notifier,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(slog.String("playlist", identity.PlaylistName))
	return l
}

// StreamID returns the id assigned at registration.
func (l *HLSNotifyListener) StreamID() (uint32, bool) {
	return l.streamID, l.state != stateCreated
}

// Policy reports how rotations announced before media start are buffered.
func (l *HLSNotifyListener) Policy() RotationPolicy { return l.policy }

// FormatDescription returns the description registered with the notifier,
// updated with metadata reported since.
func (l *HLSNotifyListener) FormatDescription() hls.FormatDescription { return l.desc }

func (l *HLSNotifyListener) OnEncryptionInfoReady(initial bool, scheme media.FourCC, keyID, iv []byte, keySystems []media.KeySystemInfo) error {
	switch l.state {
	case stateEnded:
		return l.misuse("OnEncryptionInfoReady", media.ErrListenerEnded)
	case stateMediaStarted:
		return l.notifyEncryptionInfo(scheme, keyID, iv, keySystems)
	}

	rec := encryptionRecord{
		initial:    initial,
		scheme:     scheme,
		keyID:      append([]byte(nil), keyID...),
		iv:         append([]byte(nil), iv...),
		keySystems: media.CloneKeySystems(keySystems),
	}
	if initial || l.policy == RotationKeepLatest {
		kept := l.pending[:0]
		for _, p := range l.pending {
			if p.initial != initial {
				kept = append(kept, p)
			}
		}
		l.pending = kept
	}
	l.pending = append(l.pending, rec)
	l.scheme = scheme
	l.log.Debug("encryption info buffered until media start",
		slog.Bool("initial", initial),
		slog.Int("pending", len(l.pending)))
	return nil
}

func (l *HLSNotifyListener) OnEncryptionStart() error {
	switch l.state {
	case stateEnded:
		return l.misuse("OnEncryptionStart", media.ErrListenerEnded)
	case stateCreated:
		l.mustNotifyEncryptionStart = true
		return nil
	}
	return errors.Wrap(l.notifier.NotifyEncryptionStart(l.streamID), "notify encryption start")
}

func (l *HLSNotifyListener) OnMediaStart(opts media.MuxerOptions, info *media.StreamInfo, timeScale uint32, container media.ContainerType) error {
	switch l.state {
	case stateEnded:
		return l.misuse("OnMediaStart", media.ErrListenerEnded)
	case stateMediaStarted:
		return l.misuse("OnMediaStart", ErrMediaAlreadyStarted)
	}
	if info == nil {
		return media.NewProcessingError("hls_listener.OnMediaStart", media.ErrMissingStreamInfo)
	}

	l.desc = l.describe(opts, info, timeScale, container)
	id, err := l.notifier.RegisterStream(l.desc)
	if err != nil {
		return errors.Wrap(err, "register stream")
	}
	l.streamID = id
	l.state = stateMediaStarted

	pending := l.pending
	l.pending = nil
	for _, rec := range pending {
		if err := l.notifyEncryptionInfo(rec.scheme, rec.keyID, rec.iv, rec.keySystems); err != nil {
			return err
		}
	}
	if l.mustNotifyEncryptionStart {
		l.mustNotifyEncryptionStart = false
		if err := l.notifier.NotifyEncryptionStart(l.streamID); err != nil {
			return errors.Wrap(err, "notify encryption start")
		}
	}
	l.log.Debug("media started",
		slog.Uint64("stream_id", uint64(id)),
		slog.Int("replayed", len(pending)))
	return nil
}

func (l *HLSNotifyListener) describe(opts media.MuxerOptions, info *media.StreamInfo, timeScale uint32, container media.ContainerType) hls.FormatDescription {
	d := hls.FormatDescription{
		StreamIdentity:  l.identity,
		Type:            info.Type,
		Codec:           info.Codec,
		CodecString:     info.CodecString,
		TimeScale:       timeScale,
		Language:        info.Language,
		FrameDuration:   l.desc.FrameDuration,
		Bandwidth:       opts.BandwidthBps,
		Container:       container,
		SegmentTemplate: opts.SegmentTemplate,
		Encrypted:       info.Encrypted || len(l.pending) > 0,
	}
	if d.TimeScale == 0 {
		d.TimeScale = info.TimeScale
	}
	if v := info.Video; v != nil {
		d.Width, d.Height = v.Width, v.Height
		d.TrickPlayFactor = v.TrickPlayFactor
	}
	if a := info.Audio; a != nil {
		d.NumChannels = a.NumChannels
		d.SamplingFrequency = a.SamplingFrequency
	}
	if opts.SingleFile() {
		d.MediaFile = opts.OutputFileName
	} else if container == media.ContainerMP4 {
		d.InitSegment = opts.OutputFileName
	}
	switch {
	case l.scheme != media.FourCCNull:
		d.ProtectionScheme = l.scheme
	case info.Encryption != nil:
		d.ProtectionScheme = info.Encryption.Scheme
	}
	return d
}

// OnSampleDurationReady records the sample duration. It reaches the notifier
// together with the final segment data in OnMediaEnd.
func (l *HLSNotifyListener) OnSampleDurationReady(duration uint32) error {
	if l.state == stateEnded {
		return l.misuse("OnSampleDurationReady", media.ErrListenerEnded)
	}
	l.desc.FrameDuration = duration
	return nil
}

func (l *HLSNotifyListener) OnNewSegment(fileName string, start, duration int64, size uint64) error {
	switch l.state {
	case stateEnded:
		return l.misuse("OnNewSegment", media.ErrListenerEnded)
	case stateCreated:
		return l.misuse("OnNewSegment", ErrMediaNotStarted)
	}
	if l.desc.SingleFile() {
		l.segments = append(l.segments, hls.SegmentRecord{
			FileName:  fileName,
			StartTime: start,
			Duration:  duration,
			Size:      size,
		})
		return nil
	}
	return errors.Wrap(l.notifier.NotifyNewSegment(l.streamID, fileName, start, duration, size), "notify new segment")
}

func (l *HLSNotifyListener) OnMediaEnd(ranges media.MediaRanges, durationSeconds float64) error {
	switch l.state {
	case stateEnded:
		return l.misuse("OnMediaEnd", media.ErrListenerEnded)
	case stateCreated:
		return l.misuse("OnMediaEnd", ErrMediaNotStarted)
	}
	l.state = stateEnded

	if sd, ok := l.notifier.(hls.SampleDurationNotifier); ok && l.desc.FrameDuration > 0 {
		if err := sd.NotifySampleDuration(l.streamID, l.desc.FrameDuration); err != nil {
			return errors.Wrap(err, "notify sample duration")
		}
	}
	segments := l.segments
	l.segments = nil
	if err := l.notifier.NotifyMediaEnd(l.streamID, ranges, durationSeconds, segments); err != nil {
		return errors.Wrap(err, "notify media end")
	}
	return nil
}

func (l *HLSNotifyListener) notifyEncryptionInfo(scheme media.FourCC, keyID, iv []byte, keySystems []media.KeySystemInfo) error {
	err := l.notifier.NotifyEncryptionInfo(l.streamID, scheme, keyID, iv, keySystems)
	return errors.Wrap(err, "notify encryption info")
}

// misuse reports a call that violates the listener contract.
func (l *HLSNotifyListener) misuse(op string, cause error) error {
	err := media.NewLogicError("hls_listener."+op, cause)
	if l.metrics != nil {
		l.metrics.IncListenerMisuse()
	}
	if l.strict {
		panic(err)
	}
	l.log.Warn("muxer listener called out of order",
		slog.String("call", op),
		slog.String("state", l.state.String()),
		slog.String("error", err.Error()))
	return err
}
