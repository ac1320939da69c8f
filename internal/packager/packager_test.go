package packager

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-packager/internal/media"
	"media-packager/internal/muxer"
	"media-packager/internal/platform/config"
	"media-packager/internal/platform/metrics"
)

// writeAACFile muxes frames of AAC-LC 44.1 kHz stereo, about 2.3 seconds
// for 100 frames.
func writeAACFile(t *testing.T, frames int) string {
	t.Helper()
	cd, err := aacparser.NewCodecDataFromMPEG4AudioConfigBytes([]byte{0x12, 0x10})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "input.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	m := mp4.NewMuxer(f)
	require.NoError(t, m.WriteHeader([]av.CodecData{cd}))
	frame := time.Second * 1024 / 44100
	for i := 0; i < frames; i++ {
		require.NoError(t, m.WritePacket(av.Packet{
			IsKeyFrame: true,
			Time:       time.Duration(i) * frame,
			Data:       bytes.Repeat([]byte{byte(i)}, 48),
		}))
	}
	require.NoError(t, m.WriteTrailer())
	return path
}

func testJob(t *testing.T) *config.Job {
	job := config.DefaultJob()
	job.Input = writeAACFile(t, 100)
	job.OutputDir = t.TempDir()
	job.SegmentDuration = 1
	return job
}

func file(t *testing.T, out *muxer.MemoryOutput, name string) string {
	t.Helper()
	b, ok := out.File(name)
	require.True(t, ok, "missing %s in %v", name, out.Names())
	return string(b)
}

func TestRunSegmentedFMP4(t *testing.T) {
	out := muxer.NewMemoryOutput()
	job, err := New(testJob(t), Options{Output: out})
	require.NoError(t, err)
	assert.NotEmpty(t, job.RunID)

	require.NoError(t, job.Run(context.Background()))

	names := out.Names()
	assert.Contains(t, names, "stream_0_init.mp4")
	assert.Contains(t, names, "stream_0_1.m4s")
	assert.Contains(t, names, "stream_0_3.m4s")
	assert.NotContains(t, names, "stream_0_4.m4s")

	playlist := file(t, out, "stream_0.m3u8")
	assert.Contains(t, playlist, `#EXT-X-MAP:URI="stream_0_init.mp4"`)
	assert.Contains(t, playlist, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Equal(t, 3, strings.Count(playlist, "#EXTINF:"))
	assert.True(t, strings.HasSuffix(playlist, "#EXT-X-ENDLIST\n"))

	master := file(t, out, "master.m3u8")
	assert.True(t, strings.HasPrefix(master, "#EXTM3U"))

	streams := job.Repository().Streams()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].Ended)
	assert.Equal(t, "audio", streams[0].Desc.GroupID)

	m3u8, ok := job.Service().MediaPlaylist("stream_0.m3u8")
	require.True(t, ok)
	assert.Equal(t, playlist, m3u8)
}

func TestRunTSToDirectory(t *testing.T) {
	cfg := testJob(t)
	cfg.Container = "ts"
	cfg.Streams = []config.StreamJob{{Track: 0, Playlist: "audio.m3u8", Name: "English", GroupID: "aac", Language: "en"}}
	m := metrics.New()

	job, err := New(cfg, Options{Metrics: m})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	seg, err := os.ReadFile(filepath.Join(cfg.OutputDir, "audio_1.ts"))
	require.NoError(t, err)
	assert.Equal(t, byte(0x47), seg[0])
	_, err = os.Stat(filepath.Join(cfg.OutputDir, "audio.ts"))
	assert.True(t, os.IsNotExist(err))

	playlist, err := os.ReadFile(filepath.Join(cfg.OutputDir, "audio.m3u8"))
	require.NoError(t, err)
	assert.Contains(t, string(playlist), "audio_1.ts")
	assert.NotContains(t, string(playlist), "#EXT-X-MAP")
	_, err = os.Stat(filepath.Join(cfg.OutputDir, "master.m3u8"))
	assert.NoError(t, err)

	st, ok := job.Repository().SnapshotByPlaylist("audio.m3u8")
	require.True(t, ok)
	assert.Equal(t, "en", st.Desc.Language)

	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "packager_segments_written_total 3")
	assert.Contains(t, rec.Body.String(), "packager_streams_ended_total 1")
}

func TestLanguageOverrideLeavesSourceInfo(t *testing.T) {
	cfg := testJob(t)
	cfg.Streams = []config.StreamJob{{Track: 0, Playlist: "audio.m3u8", Language: "fr"}}
	job, err := New(cfg, Options{Output: muxer.NewMemoryOutput()})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	assert.Empty(t, job.source.Streams()[0].Language)
	st, ok := job.Repository().SnapshotByPlaylist("audio.m3u8")
	require.True(t, ok)
	assert.Equal(t, "fr", st.Desc.Language)
}

func TestRotationPolicyFromJob(t *testing.T) {
	for _, policy := range []string{"keep_all", "keep_latest"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testJob(t)
			cfg.RotationPolicy = policy
			job, err := New(cfg, Options{Output: muxer.NewMemoryOutput()})
			require.NoError(t, err)
			defer job.graph.Close()

			require.Len(t, job.listeners, 1)
			assert.Equal(t, policy, job.listeners[0].Policy().String())
		})
	}
}

func TestRunSingleFile(t *testing.T) {
	cfg := testJob(t)
	cfg.SingleFile = true
	out := muxer.NewMemoryOutput()

	job, err := New(cfg, Options{Output: out})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	assert.NotContains(t, out.Names(), "stream_0_1.m4s")
	data := file(t, out, "stream_0.mp4")
	assert.Equal(t, "ftyp", data[4:8])

	playlist := file(t, out, "stream_0.m3u8")
	assert.Contains(t, playlist, `#EXT-X-MAP:URI="stream_0.mp4",BYTERANGE=`)
	assert.Equal(t, 3, strings.Count(playlist, "#EXT-X-BYTERANGE:"))
}

func TestRunEncrypted(t *testing.T) {
	cfg := testJob(t)
	cfg.Encryption = &config.EncryptionJob{
		Scheme: "cenc",
		KeyID:  "00112233445566778899aabbccddeeff",
		Key:    "ffeeddccbbaa99887766554433221100",
		IV:     "0102030405060708",
	}
	out := muxer.NewMemoryOutput()

	job, err := New(cfg, Options{Output: out})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	playlist := file(t, out, "stream_0.m3u8")
	assert.Contains(t, playlist, "#EXT-X-KEY:METHOD=SAMPLE-AES-CTR")
	assert.Contains(t, playlist, "KEYID=0x00112233445566778899aabbccddeeff")

	st, ok := job.Repository().SnapshotByPlaylist("stream_0.m3u8")
	require.True(t, ok)
	assert.True(t, st.Desc.Encrypted)
	assert.Equal(t, media.FourCCCENC, st.Desc.ProtectionScheme)
}

func TestRunKeyRotation(t *testing.T) {
	cfg := testJob(t)
	cfg.Encryption = &config.EncryptionJob{
		Scheme:         "cenc",
		RotationSecret: "000102030405060708090a0b0c0d0e0f",
		CryptPeriod:    1,
	}
	out := muxer.NewMemoryOutput()

	job, err := New(cfg, Options{Output: out})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	playlist := file(t, out, "stream_0.m3u8")
	assert.Greater(t, strings.Count(playlist, "#EXT-X-KEY:"), 1)
}

func TestNewRejects(t *testing.T) {
	cfg := testJob(t)
	cfg.Streams = []config.StreamJob{{Track: 3, Playlist: "x.m3u8"}}
	_, err := New(cfg, Options{Output: muxer.NewMemoryOutput()})
	require.Error(t, err)
	assert.True(t, media.IsConfiguration(err))

	cfg = testJob(t)
	cfg.Streams = []config.StreamJob{{Track: 0, Playlist: "x.m3u8", TrickPlayFactor: 2}}
	_, err = New(cfg, Options{Output: muxer.NewMemoryOutput()})
	assert.True(t, media.IsConfiguration(err))

	cfg = testJob(t)
	cfg.Input = filepath.Join(t.TempDir(), "missing.mp4")
	_, err = New(cfg, Options{Output: muxer.NewMemoryOutput()})
	assert.Error(t, err)

	cfg = testJob(t)
	cfg.Encryption = &config.EncryptionJob{KeyID: "zz", Key: "00"}
	_, err = New(cfg, Options{Output: muxer.NewMemoryOutput()})
	assert.True(t, media.IsConfiguration(err))
}

func TestRunCancelled(t *testing.T) {
	out := muxer.NewMemoryOutput()
	job, err := New(testJob(t), Options{Output: out})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, out.Names(), "master.m3u8")
}

func TestMuxerOptions(t *testing.T) {
	assert.Equal(t, media.MuxerOptions{OutputFileName: "v_init.mp4", SegmentTemplate: "v_$Number$.m4s", BandwidthBps: 5},
		muxerOptions("v", media.ContainerMP4, false, 5))
	assert.Equal(t, media.MuxerOptions{OutputFileName: "v.ts", SegmentTemplate: "v_$Number$.ts"},
		muxerOptions("v", media.ContainerMPEG2TS, false, 0))
	assert.Equal(t, media.MuxerOptions{OutputFileName: "v.mp4"},
		muxerOptions("v", media.ContainerMP4, true, 0))
	assert.Equal(t, "video_trick.m3u8", trickPlaylist("video.m3u8"))
}
