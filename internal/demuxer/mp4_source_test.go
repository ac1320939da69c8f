package demuxer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-packager/internal/media"
	"media-packager/internal/media/mediatest"
)

// aacConfig is AAC-LC, 44.1 kHz, stereo.
var aacConfig = []byte{0x12, 0x10}

const aacFrames = 5

// writeAACFile muxes a short AAC-only mp4 with joy4 and returns its path.
func writeAACFile(t *testing.T) string {
	t.Helper()
	cd, err := aacparser.NewCodecDataFromMPEG4AudioConfigBytes(aacConfig)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "audio.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	m := mp4.NewMuxer(f)
	require.NoError(t, m.WriteHeader([]av.CodecData{cd}))
	frame := time.Second * 1024 / 44100
	for i := 0; i < aacFrames; i++ {
		require.NoError(t, m.WritePacket(av.Packet{
			Idx:        0,
			IsKeyFrame: true,
			Time:       time.Duration(i) * frame,
			Data:       bytes.Repeat([]byte{byte(i + 1)}, 32),
		}))
	}
	require.NoError(t, m.WriteTrailer())
	return path
}

func TestMP4SourceRun(t *testing.T) {
	src, err := OpenMP4("demuxer", writeAACFile(t), nil)
	require.NoError(t, err)

	streams := src.Streams()
	require.Len(t, streams, 1)
	info := streams[0]
	assert.Equal(t, media.StreamAudio, info.Type)
	assert.Equal(t, media.CodecAAC, info.Codec)
	assert.Equal(t, uint32(44100), info.TimeScale)
	assert.Equal(t, "mp4a.40.2", info.CodecString)
	assert.Equal(t, uint8(2), info.Audio.NumChannels)
	assert.Equal(t, aacConfig, info.CodecConfig)

	g := media.NewGraph()
	out := mediatest.NewFakeHandler("out")
	g.Add(src)
	g.Add(out)
	require.NoError(t, g.Connect(src, 0, out, 0))
	require.NoError(t, g.Start())

	require.NoError(t, src.Run(context.Background()))
	require.NoError(t, g.Close())

	got := out.Received()
	require.Len(t, got, 1+aacFrames)
	assert.Equal(t, media.DataStreamInfo, got[0].Type)

	var last int64 = -1
	for i, d := range got[1:] {
		require.Equal(t, media.DataMediaSample, d.Type)
		s := d.MediaSample
		assert.True(t, s.IsKeyFrame)
		assert.Greater(t, s.DTS, last)
		assert.Positive(t, s.Duration)
		assert.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, 32), s.Data)
		last = s.DTS
	}
	assert.Equal(t, []int{0}, out.Flushed())
}

func TestMP4SourceOutputs(t *testing.T) {
	src, err := OpenMP4("demuxer", writeAACFile(t), nil)
	require.NoError(t, err)
	defer src.Close()

	assert.True(t, src.ValidateOutputIndex(0))
	assert.False(t, src.ValidateOutputIndex(1))

	err = src.Connect(1, mediatest.NewFakeHandler("out"), 0)
	assert.True(t, media.IsConfiguration(err))
}

func TestMP4SourceCancel(t *testing.T) {
	src, err := OpenMP4("demuxer", writeAACFile(t), nil)
	require.NoError(t, err)
	defer src.Close()

	out := mediatest.NewFakeHandler("out")
	require.NoError(t, src.Connect(0, out, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, src.Run(ctx), context.Canceled)

	// Stream info goes out before the first packet is read.
	require.Len(t, out.Received(), 1)
	assert.Empty(t, out.Flushed())
}

func TestMP4SourceRejectsGarbage(t *testing.T) {
	_, err := NewMP4Source("demuxer", bytes.NewReader([]byte("definitely not an mp4 file")), nil)
	assert.Error(t, err)

	_, err = OpenMP4("demuxer", filepath.Join(t.TempDir(), "missing.mp4"), nil)
	assert.Error(t, err)
}

func TestToTicks(t *testing.T) {
	assert.EqualValues(t, 1500, toTicks(1500*time.Millisecond, 1000))
	assert.EqualValues(t, 45000, toTicks(500*time.Millisecond, 90000))
	assert.EqualValues(t, int64(48*3600)*90000+9, toTicks(48*time.Hour+100*time.Microsecond, 90000))
}
