package hls

import (
	"log/slog"

	"github.com/pkg/errors"

	"media-packager/internal/media"
	"media-packager/internal/platform/logger"
)

// Notifier turns ordered stream, segment and encryption events into playlist
// state. A stream must be registered before anything else is reported for it.
type Notifier interface {
	// RegisterStream creates a new stream and returns its id.
	RegisterStream(desc FormatDescription) (uint32, error)

	NotifyEncryptionInfo(id uint32, scheme media.FourCC, keyID, iv []byte, keySystems []media.KeySystemInfo) error
	NotifyEncryptionStart(id uint32) error

	// NotifyNewSegment reports one segment of a segmented output. start and
	// duration are in the stream time scale.
	NotifyNewSegment(id uint32, fileName string, start, duration int64, size uint64) error

	// NotifyMediaEnd finalizes the stream. segments carries the segments of
	// single-file outputs, which are only known once the file is complete.
	NotifyMediaEnd(id uint32, ranges media.MediaRanges, durationSeconds float64, segments []SegmentRecord) error
}

// SampleDurationNotifier is implemented by notifiers that use the sample
// duration of a stream, e.g. to compute frame rates.
type SampleDurationNotifier interface {
	NotifySampleDuration(id uint32, duration uint32) error
}

// ErrMissingPlaylistName is returned when registering a stream without a
// playlist name.
var ErrMissingPlaylistName = errors.New("playlist name is required")

// PlaylistNotifier implements Notifier on top of a Repository.
type PlaylistNotifier struct {
	repo Repository
	ids  *StreamIDs
	log  *slog.Logger
}

// NewPlaylistNotifier returns a notifier that allocates ids from ids and
// records into repo.
func NewPlaylistNotifier(repo Repository, ids *StreamIDs, log *slog.Logger) *PlaylistNotifier {
	if ids == nil {
		ids = NewStreamIDs()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &PlaylistNotifier{repo: repo, ids: ids, log: log}
}

// RegisterStream implements Notifier.
func (n *PlaylistNotifier) RegisterStream(desc FormatDescription) (uint32, error) {
	if desc.PlaylistName == "" {
		return 0, ErrMissingPlaylistName
	}
	id := n.ids.Next()
	if err := n.repo.AddStream(id, desc); err != nil {
		return 0, err
	}
	n.log.Info("stream registered",
		slog.Uint64("stream_id", uint64(id)),
		slog.String("playlist", desc.PlaylistName),
		slog.String("codec", desc.CodecString),
		slog.String("container", desc.Container.String()))
	return id, nil
}

// NotifyEncryptionInfo implements Notifier.
func (n *PlaylistNotifier) NotifyEncryptionInfo(id uint32, scheme media.FourCC, keyID, iv []byte, keySystems []media.KeySystemInfo) error {
	err := n.repo.AddKey(id, KeyInfo{
		Scheme:     scheme,
		KeyID:      append([]byte(nil), keyID...),
		IV:         append([]byte(nil), iv...),
		KeySystems: media.CloneKeySystems(keySystems),
	})
	if err != nil {
		return err
	}
	n.log.Debug("encryption info", slog.Uint64("stream_id", uint64(id)), slog.String("scheme", scheme.String()))
	return nil
}

// NotifyEncryptionStart implements Notifier.
func (n *PlaylistNotifier) NotifyEncryptionStart(id uint32) error {
	return n.repo.StartEncryption(id)
}

// NotifySampleDuration implements SampleDurationNotifier.
func (n *PlaylistNotifier) NotifySampleDuration(id uint32, duration uint32) error {
	return n.repo.SetFrameDuration(id, duration)
}

// NotifyNewSegment implements Notifier.
func (n *PlaylistNotifier) NotifyNewSegment(id uint32, fileName string, start, duration int64, size uint64) error {
	err := n.repo.AddSegment(id, SegmentRecord{
		FileName:  fileName,
		StartTime: start,
		Duration:  duration,
		Size:      size,
	})
	if err != nil {
		return err
	}
	n.log.Debug("segment added",
		slog.Uint64("stream_id", uint64(id)),
		slog.String("file", fileName),
		slog.Int64("start", start),
		slog.Int64("duration", duration))
	return nil
}

// NotifyMediaEnd implements Notifier.
func (n *PlaylistNotifier) NotifyMediaEnd(id uint32, ranges media.MediaRanges, durationSeconds float64, segments []SegmentRecord) error {
	if err := n.repo.EndStream(id, ranges, durationSeconds, segments); err != nil {
		return err
	}
	n.log.Info("stream ended",
		slog.Uint64("stream_id", uint64(id)),
		slog.Float64("duration_seconds", durationSeconds))
	return nil
}
