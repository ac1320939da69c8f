package event

import (
	"media-packager/internal/media"
	"media-packager/internal/platform/metrics"
)

// MetricsListener counts muxer lifecycle events.
type MetricsListener struct {
	m *metrics.Metrics
}

func NewMetricsListener(m *metrics.Metrics) *MetricsListener {
	return &MetricsListener{m: m}
}

func (l *MetricsListener) OnEncryptionInfoReady(bool, media.FourCC, []byte, []byte, []media.KeySystemInfo) error {
	l.m.IncEncryptionEvents()
	return nil
}

func (l *MetricsListener) OnEncryptionStart() error {
	l.m.IncEncryptionEvents()
	return nil
}

func (l *MetricsListener) OnMediaStart(media.MuxerOptions, *media.StreamInfo, uint32, media.ContainerType) error {
	return nil
}

func (l *MetricsListener) OnSampleDurationReady(uint32) error { return nil }

func (l *MetricsListener) OnNewSegment(_ string, _, _ int64, size uint64) error {
	l.m.IncSegmentsWritten(size)
	return nil
}

func (l *MetricsListener) OnMediaEnd(media.MediaRanges, float64) error {
	l.m.IncStreamsEnded()
	return nil
}
