package trickplay

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-packager/internal/media"
	"media-packager/internal/media/mediatest"
)

func TestKeepsEveryNthKeyFrame(t *testing.T) {
	h, err := New("trick", 2)
	require.NoError(t, err)
	g := mediatest.SetUpGraph(t, 1, 1, h)

	require.NoError(t, g.Feed(media.FromStreamInfo(0, mediatest.VideoStreamInfo(1000))))
	// Key frame every third sample: 0, 300, 600, 900, 1200.
	for i := int64(0); i < 15; i++ {
		s := mediatest.MediaSample(i*100, 100, i%3 == 0)
		require.NoError(t, g.Feed(media.FromMediaSample(0, s)))
	}
	require.NoError(t, g.Feed(media.FlushMarker(0)))

	out := g.Outputs()
	info := out[0].StreamInfo
	require.NotNil(t, info.Video)
	assert.Equal(t, uint32(2), info.Video.TrickPlayFactor)
	assert.Equal(t, uint32(2), info.Video.PlaybackRate)

	type frame struct{ dts, dur int64 }
	var got []frame
	for _, d := range out[1:] {
		require.Equal(t, media.DataMediaSample, d.Type)
		assert.True(t, d.MediaSample.IsKeyFrame)
		got = append(got, frame{d.MediaSample.DTS, d.MediaSample.Duration})
	}
	assert.Equal(t, []frame{{0, 600}, {600, 600}, {1200, 300}}, got)
	assert.Equal(t, []int{0}, g.Output.Flushed())
}

func TestFactorOneKeepsAllKeyFrames(t *testing.T) {
	h, err := New("trick", 1)
	require.NoError(t, err)
	g := mediatest.SetUpGraph(t, 1, 1, h)

	require.NoError(t, g.Feed(media.FromStreamInfo(0, mediatest.VideoStreamInfo(1000))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSample(0, 100, true))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSample(100, 100, false))))
	require.NoError(t, g.Feed(media.FromMediaSample(0, mediatest.MediaSample(200, 100, true))))
	require.NoError(t, g.Feed(media.FromSegmentInfo(0, mediatest.SegmentInfo(0, 300, false))))
	require.NoError(t, g.Feed(media.FlushMarker(0)))

	out := g.Outputs()
	require.Len(t, out, 3)
	assert.Equal(t, int64(200), out[1].MediaSample.Duration)
	assert.Equal(t, int64(100), out[2].MediaSample.Duration)
}

func TestRejects(t *testing.T) {
	_, err := New("trick", 0)
	assert.True(t, media.IsConfiguration(err))

	h, err := New("trick", 2)
	require.NoError(t, err)
	g := mediatest.SetUpGraph(t, 1, 1, h)
	err = g.Feed(media.FromStreamInfo(0, mediatest.AudioStreamInfo(48000)))
	assert.True(t, media.IsProcessing(err))
	assert.True(t, errors.Is(err, ErrNotVideo))
}
