// Package event defines the lifecycle callbacks a muxer reports to and the
// listeners that turn them into playlist notifications and metrics.
package event

import (
	"media-packager/internal/media"
)

// MuxerListener receives the lifecycle events of one muxer output. Calls are
// made from the pipeline goroutine in the order the muxer observes them, which
// is not necessarily the order a playlist needs: encryption info may precede
// media start.
type MuxerListener interface {
	// OnEncryptionInfoReady announces key material. initial is false for key
	// rotations.
	OnEncryptionInfoReady(initial bool, scheme media.FourCC, keyID, iv []byte, keySystems []media.KeySystemInfo) error

	// OnEncryptionStart is called when the first encrypted sample is muxed.
	OnEncryptionStart() error

	// OnMediaStart is called once the container format of the stream is known.
	OnMediaStart(opts media.MuxerOptions, info *media.StreamInfo, timeScale uint32, container media.ContainerType) error

	// OnSampleDurationReady reports the duration of the first sample in
	// timeScale units.
	OnSampleDurationReady(duration uint32) error

	// OnNewSegment reports a finished segment. start and duration are in
	// timeScale units.
	OnNewSegment(fileName string, start, duration int64, size uint64) error

	// OnMediaEnd is the last call. ranges describes single-file outputs.
	OnMediaEnd(ranges media.MediaRanges, durationSeconds float64) error
}

// CombinedListener forwards every call to each listener in order and stops
// at the first error.
type CombinedListener struct {
	listeners []MuxerListener
}

// NewCombinedListener returns a listener fanning out to listeners. Nil
// entries are skipped.
func NewCombinedListener(listeners ...MuxerListener) *CombinedListener {
	c := &CombinedListener{}
	for _, l := range listeners {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
	return c
}

// Add appends a listener.
func (c *CombinedListener) Add(l MuxerListener) {
	if l != nil {
		c.listeners = append(c.listeners, l)
	}
}

func (c *CombinedListener) each(fn func(MuxerListener) error) error {
	for _, l := range c.listeners {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (c *CombinedListener) OnEncryptionInfoReady(initial bool, scheme media.FourCC, keyID, iv []byte, keySystems []media.KeySystemInfo) error {
	return c.each(func(l MuxerListener) error {
		return l.OnEncryptionInfoReady(initial, scheme, keyID, iv, keySystems)
	})
}

func (c *CombinedListener) OnEncryptionStart() error {
	return c.each(func(l MuxerListener) error { return l.OnEncryptionStart() })
}

func (c *CombinedListener) OnMediaStart(opts media.MuxerOptions, info *media.StreamInfo, timeScale uint32, container media.ContainerType) error {
	return c.each(func(l MuxerListener) error {
		return l.OnMediaStart(opts, info, timeScale, container)
	})
}

func (c *CombinedListener) OnSampleDurationReady(duration uint32) error {
	return c.each(func(l MuxerListener) error { return l.OnSampleDurationReady(duration) })
}

func (c *CombinedListener) OnNewSegment(fileName string, start, duration int64, size uint64) error {
	return c.each(func(l MuxerListener) error {
		return l.OnNewSegment(fileName, start, duration, size)
	})
}

func (c *CombinedListener) OnMediaEnd(ranges media.MediaRanges, durationSeconds float64) error {
	return c.each(func(l MuxerListener) error { return l.OnMediaEnd(ranges, durationSeconds) })
}
