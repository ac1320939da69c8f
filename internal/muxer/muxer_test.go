package muxer

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-packager/internal/media"
	"media-packager/internal/media/mediatest"
)

type recordingListener struct {
	calls       []string
	ranges      media.MediaRanges
	seconds     float64
	failOnStart error
}

func (r *recordingListener) OnEncryptionInfoReady(initial bool, scheme media.FourCC, keyID, _ []byte, _ []media.KeySystemInfo) error {
	r.calls = append(r.calls, fmt.Sprintf("enc_info(%t,%s,%x)", initial, scheme, keyID))
	return nil
}

func (r *recordingListener) OnEncryptionStart() error {
	r.calls = append(r.calls, "enc_start")
	return nil
}

func (r *recordingListener) OnMediaStart(_ media.MuxerOptions, _ *media.StreamInfo, timeScale uint32, container media.ContainerType) error {
	r.calls = append(r.calls, fmt.Sprintf("start(%d,%s)", timeScale, container))
	return r.failOnStart
}

func (r *recordingListener) OnSampleDurationReady(d uint32) error {
	r.calls = append(r.calls, fmt.Sprintf("duration(%d)", d))
	return nil
}

func (r *recordingListener) OnNewSegment(name string, start, duration int64, size uint64) error {
	r.calls = append(r.calls, fmt.Sprintf("segment(%s,%d,%d,%d)", name, start, duration, size))
	return nil
}

func (r *recordingListener) OnMediaEnd(ranges media.MediaRanges, seconds float64) error {
	r.calls = append(r.calls, "end")
	r.ranges = ranges
	r.seconds = seconds
	return nil
}

// byteWriter emits one byte per sample payload byte, and an init segment of
// a fixed size.
type byteWriter struct {
	initSize int
	pending  int
	streams  int
}

func (w *byteWriter) Container() media.ContainerType { return media.ContainerMP4 }

func (w *byteWriter) Init(streams []*media.StreamInfo) ([]byte, error) {
	w.streams = len(streams)
	if w.initSize == 0 {
		return nil, nil
	}
	return bytes.Repeat([]byte{'i'}, w.initSize), nil
}

func (w *byteWriter) WriteSample(stream int, s *media.MediaSample) error {
	if stream >= w.streams {
		return errors.Errorf("stream %d", stream)
	}
	w.pending += len(s.Data)
	return nil
}

func (w *byteWriter) FinishSegment() ([]byte, error) {
	if w.pending == 0 {
		return nil, nil
	}
	out := bytes.Repeat([]byte{'s'}, w.pending)
	w.pending = 0
	return out, nil
}

func segmentedOptions() media.MuxerOptions {
	return media.MuxerOptions{OutputFileName: "init.mp4", SegmentTemplate: "seg_$Number$.m4s"}
}

func newTestMuxer(t *testing.T, opts media.MuxerOptions, inputs int, w SegmentWriter) (*Muxer, *recordingListener, *MemoryOutput, *mediatest.TestGraph) {
	t.Helper()
	l := &recordingListener{}
	out := NewMemoryOutput()
	m, err := New("muxer", Config{Options: opts, Writer: w, Output: out, Listener: l, Inputs: inputs})
	require.NoError(t, err)
	g := mediatest.SetUpGraph(t, inputs, 0, m)
	return m, l, out, g
}

func encryptedAudio() *media.StreamInfo {
	return mediatest.AudioStreamInfo(1000).WithEncryption(&media.EncryptionConfig{
		Scheme: media.FourCCCENC,
		KeyID:  []byte{0xab, 0xcd},
		IV:     bytes.Repeat([]byte{1}, 16),
	})
}

func encryptedSample(ts, dur int64) *media.MediaSample {
	s := mediatest.MediaSample(ts, dur, true)
	s.DecryptConfig = &media.DecryptConfig{KeyID: []byte{0xab, 0xcd}, Scheme: media.FourCCCENC}
	return s
}

func TestMuxerSegmentedEventOrder(t *testing.T) {
	_, l, out, g := newTestMuxer(t, segmentedOptions(), 1, &byteWriter{initSize: 8})

	require.NoError(t, g.Feed(media.FromStreamInfo(0, encryptedAudio())))
	require.NoError(t, g.Feed(media.FromMediaSample(0, encryptedSample(0, 500))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, encryptedSample(500, 500))))
	require.NoError(t, g.Feed(media.FromSegmentInfo(0, mediatest.SegmentInfo(0, 1000, false))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, encryptedSample(1000, 500))))
	require.NoError(t, g.Feed(media.FlushMarker(0)))

	assert.Equal(t, []string{
		"enc_info(true,cenc,abcd)",
		"start(1000,mp4)",
		"duration(500)",
		"enc_start",
		"segment(seg_1.m4s,0,1000,12)",
		"segment(seg_2.m4s,1000,500,6)",
		"end",
	}, l.calls)
	assert.InDelta(t, 1.5, l.seconds, 1e-9)
	assert.Nil(t, l.ranges.InitRange)
	assert.Equal(t, []string{"init.mp4", "seg_1.m4s", "seg_2.m4s"}, out.Names())
}

func TestMuxerSingleFileRanges(t *testing.T) {
	opts := media.MuxerOptions{OutputFileName: "audio.mp4"}
	_, l, out, g := newTestMuxer(t, opts, 1, &byteWriter{initSize: 10})

	require.NoError(t, g.Feed(media.FromStreamInfo(0, mediatest.AudioStreamInfo(1000))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSampleWithData(0, 1000, true, []byte{1, 2, 3, 4, 5}))))
	require.NoError(t, g.Feed(media.FromSegmentInfo(0, mediatest.SegmentInfo(0, 1000, false))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSampleWithData(1000, 1000, true, []byte{1, 2, 3}))))
	require.NoError(t, g.Feed(media.FromSegmentInfo(0, mediatest.SegmentInfo(1000, 1000, false))))
	require.NoError(t, g.Feed(media.FlushMarker(0)))

	require.NotNil(t, l.ranges.InitRange)
	assert.Equal(t, media.Range{Start: 0, End: 9}, *l.ranges.InitRange)
	assert.Equal(t, []media.Range{{Start: 10, End: 14}, {Start: 15, End: 17}}, l.ranges.SubsegmentRanges)
	assert.Contains(t, l.calls, "segment(audio.mp4,0,1000,5)")
	assert.Contains(t, l.calls, "segment(audio.mp4,1000,1000,3)")
	assert.Equal(t, "end", l.calls[len(l.calls)-1])

	file, ok := out.File("audio.mp4")
	require.True(t, ok)
	assert.Len(t, file, 18)
}

func TestMuxerKeyRotationAnnouncedBeforeSegment(t *testing.T) {
	_, l, _, g := newTestMuxer(t, segmentedOptions(), 1, &byteWriter{})

	require.NoError(t, g.Feed(media.FromStreamInfo(0, encryptedAudio())))
	require.NoError(t, g.Feed(media.FromMediaSample(0, encryptedSample(0, 1000))))
	seg := mediatest.SegmentInfo(0, 1000, false)
	seg.KeyRotation = &media.EncryptionConfig{Scheme: media.FourCCCENC, KeyID: []byte{0x01}}
	require.NoError(t, g.Feed(media.FromSegmentInfo(0, seg)))

	assert.Equal(t, []string{
		"enc_info(true,cenc,abcd)",
		"start(1000,mp4)",
		"duration(1000)",
		"enc_start",
		"enc_info(false,cenc,01)",
		"segment(seg_1.m4s,0,1000,6)",
	}, l.calls)
}

func TestMuxerSubsegmentsDoNotCut(t *testing.T) {
	_, l, _, g := newTestMuxer(t, segmentedOptions(), 1, &byteWriter{})

	require.NoError(t, g.Feed(media.FromStreamInfo(0, mediatest.AudioStreamInfo(1000))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSample(0, 500, true))))
	require.NoError(t, g.Feed(media.FromSegmentInfo(0, mediatest.SegmentInfo(0, 500, true))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSample(500, 500, true))))
	require.NoError(t, g.Feed(media.FlushMarker(0)))

	assert.Equal(t, []string{
		"start(1000,mp4)",
		"duration(500)",
		"segment(seg_1.m4s,0,1000,12)",
		"end",
	}, l.calls)
}

func TestMuxerCutsOnVideoInput(t *testing.T) {
	_, l, _, g := newTestMuxer(t, segmentedOptions(), 2, &byteWriter{})

	require.NoError(t, g.Feed(media.FromStreamInfo(0, mediatest.AudioStreamInfo(1000))))
	require.NoError(t, g.Feed(media.FromStreamInfo(1, mediatest.VideoStreamInfo(90000))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSample(0, 20, true))))
	require.NoError(t, g.Feed(media.FromMediaSample(1, mediatest.MediaSample(0, 3000, true))))
	// Audio segment infos are ignored.
	require.NoError(t, g.Feed(media.FromSegmentInfo(0, mediatest.SegmentInfo(0, 20, false))))
	require.NoError(t, g.Feed(media.FromSegmentInfo(1, mediatest.SegmentInfo(0, 3000, false))))
	require.NoError(t, g.Feed(media.FlushMarker(0)))
	require.NoError(t, g.Feed(media.FlushMarker(1)))

	assert.Equal(t, []string{
		"start(90000,mp4)",
		"duration(3000)",
		"segment(seg_1.m4s,0,3000,12)",
		"end",
	}, l.calls)
}

func TestMuxerSampleBeforeAllStreamInfos(t *testing.T) {
	_, l, _, g := newTestMuxer(t, segmentedOptions(), 2, &byteWriter{})

	require.NoError(t, g.Feed(media.FromStreamInfo(0, mediatest.AudioStreamInfo(1000))))
	err := g.Feed(media.FromMediaSample(0, mediatest.MediaSample(0, 20, true)))
	require.Error(t, err)
	assert.True(t, media.IsProcessing(err))
	assert.Empty(t, l.calls)
}

func TestMuxerListenerErrorStopsStart(t *testing.T) {
	l := &recordingListener{failOnStart: errors.New("boom")}
	out := NewMemoryOutput()
	m, err := New("muxer", Config{Options: segmentedOptions(), Writer: &byteWriter{initSize: 4}, Output: out, Listener: l})
	require.NoError(t, err)
	g := mediatest.SetUpGraph(t, 1, 0, m)

	require.Error(t, g.Feed(media.FromStreamInfo(0, mediatest.AudioStreamInfo(1000))))
	assert.Empty(t, out.Names())
}

func TestMuxerFlushWithoutMedia(t *testing.T) {
	_, l, out, g := newTestMuxer(t, segmentedOptions(), 1, &byteWriter{})
	require.NoError(t, g.Feed(media.FromStreamInfo(0, mediatest.AudioStreamInfo(1000))))
	require.NoError(t, g.Feed(media.FlushMarker(0)))

	assert.Equal(t, []string{"start(1000,mp4)", "end"}, l.calls)
	assert.Zero(t, l.seconds)
	assert.Empty(t, out.Names())
}

func TestNewMuxerRejectsIncompleteConfig(t *testing.T) {
	_, err := New("muxer", Config{Options: segmentedOptions(), Output: NewMemoryOutput()})
	assert.True(t, media.IsConfiguration(err))

	_, err = New("muxer", Config{Writer: &byteWriter{}, Output: NewMemoryOutput()})
	assert.True(t, media.IsConfiguration(err))
}
