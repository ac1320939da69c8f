package media

import "fmt"

// StreamType is the kind of elementary stream described by a StreamInfo.
type StreamType int

const (
	StreamUnknown StreamType = iota
	StreamVideo
	StreamAudio
	StreamText
)

func (t StreamType) String() string {
	switch t {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamText:
		return "text"
	default:
		return "unknown"
	}
}

// Codec identifies the coding format of a stream. Values are grouped so that
// video and audio codecs occupy disjoint ranges.
type Codec int

const (
	CodecUnknown Codec = iota

	codecVideo
	CodecH264
	CodecH265
	CodecVP8
	CodecVP9
	CodecAV1
	codecVideoMaxPlusOne

	codecAudio
	CodecAAC
	CodecAC3
	CodecEAC3
	CodecOpus
	CodecVorbis
	CodecFLAC
	CodecMP3
	codecAudioMaxPlusOne

	codecText
	CodecWebVTT
	CodecTTML
	codecTextMaxPlusOne
)

var codecNames = map[Codec]string{
	CodecH264:   "h264",
	CodecH265:   "h265",
	CodecVP8:    "vp8",
	CodecVP9:    "vp9",
	CodecAV1:    "av1",
	CodecAAC:    "aac",
	CodecAC3:    "ac3",
	CodecEAC3:   "ec3",
	CodecOpus:   "opus",
	CodecVorbis: "vorbis",
	CodecFLAC:   "flac",
	CodecMP3:    "mp3",
	CodecWebVTT: "wvtt",
	CodecTTML:   "ttml",
}

func (c Codec) String() string {
	if s, ok := codecNames[c]; ok {
		return s
	}
	return "unknown"
}

func (c Codec) IsVideo() bool { return c > codecVideo && c < codecVideoMaxPlusOne }
func (c Codec) IsAudio() bool { return c > codecAudio && c < codecAudioMaxPlusOne }
func (c Codec) IsText() bool  { return c > codecText && c < codecTextMaxPlusOne }

// VideoInfo holds the video-specific part of a StreamInfo.
type VideoInfo struct {
	Width       uint32
	Height      uint32
	PixelWidth  uint32
	PixelHeight uint32

	// TrickPlayFactor is non-zero for trick play streams: only every n-th key
	// frame of the main stream is kept.
	TrickPlayFactor uint32
	PlaybackRate    uint32

	// NaluLengthSize is the size of the NAL unit length prefix, 0 for Annex B.
	NaluLengthSize uint8
}

// AudioInfo holds the audio-specific part of a StreamInfo.
type AudioInfo struct {
	SampleBits        uint8
	NumChannels       uint8
	SamplingFrequency uint32
	SeekPrerollNs     uint64
	CodecDelayNs      uint64
	MaxBitrate        uint32
	AvgBitrate        uint32
}

// StreamInfo describes one elementary stream. It is created once per stream and
// shared by pointer among every handler downstream of its producer; it must not
// be modified after it has been dispatched. Use the With* helpers to derive a
// modified copy.
type StreamInfo struct {
	Type        StreamType
	TrackID     uint32
	TimeScale   uint32
	Duration    int64
	Codec       Codec
	CodecString string
	CodecConfig []byte
	Language    string
	Encrypted   bool

	Video *VideoInfo
	Audio *AudioInfo

	// Encryption is set by an encryption stage on the copy it dispatches.
	Encryption *EncryptionConfig
}

// Clone returns a deep copy of the stream info.
func (s *StreamInfo) Clone() *StreamInfo {
	c := *s
	c.CodecConfig = cloneBytes(s.CodecConfig)
	if s.Video != nil {
		v := *s.Video
		c.Video = &v
	}
	if s.Audio != nil {
		a := *s.Audio
		c.Audio = &a
	}
	if s.Encryption != nil {
		c.Encryption = s.Encryption.Clone()
	}
	return &c
}

// WithEncryption returns a copy of s marked encrypted with the given config.
func (s *StreamInfo) WithEncryption(cfg *EncryptionConfig) *StreamInfo {
	c := s.Clone()
	c.Encrypted = cfg != nil
	c.Encryption = cfg.Clone()
	return c
}

// WithTrickPlay returns a copy of a video stream info tagged as a trick play
// stream with the given factor and playback rate.
func (s *StreamInfo) WithTrickPlay(factor, playbackRate uint32) *StreamInfo {
	c := s.Clone()
	if c.Video == nil {
		c.Video = &VideoInfo{}
	}
	c.Video.TrickPlayFactor = factor
	c.Video.PlaybackRate = playbackRate
	return c
}

// WithLanguage returns a copy of s with its language replaced.
func (s *StreamInfo) WithLanguage(lang string) *StreamInfo {
	c := s.Clone()
	c.Language = lang
	return c
}

func (s *StreamInfo) String() string {
	switch {
	case s.Video != nil:
		return fmt.Sprintf("%s track=%d codec=%s timescale=%d %dx%d encrypted=%t",
			s.Type, s.TrackID, s.Codec, s.TimeScale, s.Video.Width, s.Video.Height, s.Encrypted)
	case s.Audio != nil:
		return fmt.Sprintf("%s track=%d codec=%s timescale=%d channels=%d rate=%d encrypted=%t",
			s.Type, s.TrackID, s.Codec, s.TimeScale, s.Audio.NumChannels, s.Audio.SamplingFrequency, s.Encrypted)
	default:
		return fmt.Sprintf("%s track=%d codec=%s timescale=%d", s.Type, s.TrackID, s.Codec, s.TimeScale)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
