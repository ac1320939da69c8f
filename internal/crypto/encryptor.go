package crypto

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"media-packager/internal/media"
	"media-packager/internal/platform/logger"
)

// Params configures an EncryptionHandler. Durations are in seconds.
type Params struct {
	// Scheme is cenc, cbcs or cbc1. Zero means cenc.
	Scheme media.FourCC
	// ClearLead keeps samples starting before this offset unencrypted.
	ClearLead float64
	// CryptPeriod rotates keys every period when positive. Rotation happens at
	// the first segment boundary inside a new period.
	CryptPeriod float64
}

// EncryptionHandler has one input and one output. It encrypts every sample
// after the clear lead and describes the key material on the stream info it
// forwards, and on segment infos when the key rotates.
type EncryptionHandler struct {
	*media.Base

	params Params
	keys   KeySource
	log    *slog.Logger

	info        *media.StreamInfo
	clearLead   int64
	periodTicks int64
	naluLength  int
	nalHeader   int

	key    *Key
	cipher *sampleCipher
	period int64

	started          bool
	firstDTS         int64
	segmentOpen      bool
	segmentEncrypted bool
	rotation         *media.EncryptionConfig
}

// NewEncryptionHandler returns an encryption stage drawing keys from keys.
func NewEncryptionHandler(name string, params Params, keys KeySource, log *slog.Logger) (*EncryptionHandler, error) {
	if keys == nil {
		return nil, media.NewConfigurationError(name, errors.New("nil key source"))
	}
	if params.Scheme == media.FourCCNull {
		params.Scheme = media.FourCCCENC
	}
	switch params.Scheme {
	case media.FourCCCENC, media.FourCCCBCS, media.FourCCCBC1:
	default:
		return nil, media.NewConfigurationError(name, errors.Wrapf(ErrUnsupportedScheme, "%s", params.Scheme))
	}
	if params.ClearLead < 0 || params.CryptPeriod < 0 {
		return nil, media.NewConfigurationError(name, errors.New("negative clear lead or crypt period"))
	}
	if log == nil {
		log = logger.Discard()
	}
	h := &EncryptionHandler{params: params, keys: keys, log: log.With(slog.String("handler", name))}
	h.Base = media.NewBase(name, h, media.Ports{Inputs: 1, Outputs: 1, RequireStreamInfo: true})
	return h, nil
}

func (h *EncryptionHandler) ProcessData(data *media.StreamData) error {
	data.StreamIndex = 0
	switch data.Type {
	case media.DataStreamInfo:
		return h.onStreamInfo(data.StreamInfo)
	case media.DataMediaSample:
		return h.onSample(data.MediaSample)
	case media.DataSegmentInfo:
		return h.onSegmentInfo(data.SegmentInfo)
	default:
		return errors.Wrapf(media.ErrUnknownDataType, "%s", data.Type)
	}
}

func (h *EncryptionHandler) onStreamInfo(info *media.StreamInfo) error {
	if info.Encrypted {
		return errors.New("stream is already encrypted")
	}
	h.info = info
	ticks := func(s float64) int64 { return int64(math.Round(s * float64(info.TimeScale))) }
	h.clearLead = ticks(h.params.ClearLead)
	h.periodTicks = ticks(h.params.CryptPeriod)

	if v := info.Video; v != nil {
		h.naluLength = int(v.NaluLengthSize)
		h.nalHeader = 1
		if info.Codec == media.CodecH265 {
			h.nalHeader = 2
		}
	}

	if err := h.useKey(0); err != nil {
		return err
	}
	h.log.Debug("encrypting stream",
		slog.String("scheme", h.params.Scheme.String()),
		slog.String("key_id", h.cipher.config(h.key).KeyIDHex()))
	return h.DispatchStreamInfo(0, info.WithEncryption(h.cipher.config(h.key)))
}

func (h *EncryptionHandler) useKey(period int64) error {
	key, err := h.keys.Key(period)
	if err != nil {
		return errors.Wrapf(err, "key for period %d", period)
	}
	if err := key.Validate(); err != nil {
		return err
	}
	c, err := newSampleCipher(h.params.Scheme, key, h.info.Type == media.StreamVideo)
	if err != nil {
		return err
	}
	h.key, h.cipher, h.period = key, c, period
	return nil
}

func (h *EncryptionHandler) onSample(s *media.MediaSample) error {
	if !h.started {
		h.started = true
		h.firstDTS = s.DTS
	}
	offset := s.DTS - h.firstDTS

	if !h.segmentOpen {
		h.segmentOpen = true
		if h.periodTicks > 0 {
			if p := offset / h.periodTicks; p != h.period {
				if err := h.useKey(p); err != nil {
					return err
				}
				h.rotation = h.cipher.config(h.key)
				h.log.Debug("key rotated", slog.Int64("period", p))
			}
		}
	}

	if offset < h.clearLead {
		return h.DispatchMediaSample(0, s)
	}

	var subsamples []media.SubsampleEntry
	if h.naluLength > 0 {
		var err error
		subsamples, err = nalSubsamples(s.Data, h.naluLength, h.nalHeader, h.params.Scheme != media.FourCCCBCS)
		if err != nil {
			return err
		}
	}
	dc, err := h.cipher.encrypt(h.key.KeyID, s, subsamples)
	if err != nil {
		return err
	}
	s.DecryptConfig = dc
	h.segmentEncrypted = true
	return h.DispatchMediaSample(0, s)
}

func (h *EncryptionHandler) onSegmentInfo(seg *media.SegmentInfo) error {
	out := *seg
	out.IsEncrypted = h.segmentEncrypted
	if !seg.IsSubsegment {
		out.KeyRotation = h.rotation
		h.rotation = nil
		h.segmentOpen = false
		h.segmentEncrypted = false
	}
	return h.DispatchSegmentInfo(0, &out)
}

func (h *EncryptionHandler) OnFlushRequest(int) error { return nil }
