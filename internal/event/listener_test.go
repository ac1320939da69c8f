package event

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-packager/internal/media"
	"media-packager/internal/platform/metrics"
)

// traceListener appends its name and the call to a shared trace.
type traceListener struct {
	name  string
	trace *[]string
	fail  error
}

func (l *traceListener) record(call string) error {
	*l.trace = append(*l.trace, l.name+"."+call)
	return l.fail
}

func (l *traceListener) OnEncryptionInfoReady(bool, media.FourCC, []byte, []byte, []media.KeySystemInfo) error {
	return l.record("encryption_info")
}

func (l *traceListener) OnEncryptionStart() error { return l.record("encryption_start") }

func (l *traceListener) OnMediaStart(media.MuxerOptions, *media.StreamInfo, uint32, media.ContainerType) error {
	return l.record("media_start")
}

func (l *traceListener) OnSampleDurationReady(uint32) error { return l.record("sample_duration") }

func (l *traceListener) OnNewSegment(string, int64, int64, uint64) error {
	return l.record("new_segment")
}

func (l *traceListener) OnMediaEnd(media.MediaRanges, float64) error { return l.record("media_end") }

func TestCombinedListenerFansOutInOrder(t *testing.T) {
	var trace []string
	c := NewCombinedListener(&traceListener{name: "a", trace: &trace}, nil)
	c.Add(&traceListener{name: "b", trace: &trace})
	c.Add(nil)

	require.NoError(t, c.OnMediaStart(media.MuxerOptions{}, h264Info(), 90000, media.ContainerMPEG2TS))
	require.NoError(t, c.OnNewSegment("seg.ts", 0, 1, 1))
	require.NoError(t, c.OnMediaEnd(media.MediaRanges{}, 1))

	assert.Equal(t, []string{
		"a.media_start", "b.media_start",
		"a.new_segment", "b.new_segment",
		"a.media_end", "b.media_end",
	}, trace)
}

func TestCombinedListenerStopsAtFirstError(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	c := NewCombinedListener(
		&traceListener{name: "a", trace: &trace, fail: boom},
		&traceListener{name: "b", trace: &trace},
	)

	err := c.OnEncryptionStart()
	assert.Equal(t, boom, err)
	assert.Equal(t, []string{"a.encryption_start"}, trace)
}

func TestMetricsListener(t *testing.T) {
	m := metrics.New()
	l := NewMetricsListener(m)

	require.NoError(t, l.OnEncryptionInfoReady(true, media.FourCCCENC, []byte{1}, nil, nil))
	require.NoError(t, l.OnEncryptionStart())
	require.NoError(t, l.OnMediaStart(media.MuxerOptions{}, h264Info(), 90000, media.ContainerMPEG2TS))
	require.NoError(t, l.OnSampleDurationReady(3000))
	require.NoError(t, l.OnNewSegment("a.ts", 0, 90000, 100))
	require.NoError(t, l.OnNewSegment("b.ts", 90000, 90000, 50))
	require.NoError(t, l.OnMediaEnd(media.MediaRanges{}, 2))

	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "packager_encryption_events_total 2")
	assert.Contains(t, string(body), "packager_segments_written_total 2")
	assert.Contains(t, string(body), "packager_bytes_written_total 150")
	assert.Contains(t, string(body), "packager_streams_ended_total 1")
}

func TestMisuseIsCounted(t *testing.T) {
	m := metrics.New()
	l := NewHLSNotifyListener(identity, &recordingNotifier{}, WithMetrics(m))

	assert.Error(t, l.OnNewSegment("x.ts", 0, 1, 1))
	assert.Error(t, l.OnMediaEnd(media.MediaRanges{}, 1))

	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "packager_listener_misuse_total 2")
}

func TestParseRotationPolicy(t *testing.T) {
	assert.Equal(t, RotationKeepLatest, ParseRotationPolicy("keep_latest"))
	assert.Equal(t, RotationKeepAll, ParseRotationPolicy("keep_all"))
	assert.Equal(t, RotationKeepAll, ParseRotationPolicy(""))
	assert.Equal(t, "keep_latest", RotationKeepLatest.String())
	assert.Equal(t, "keep_all", RotationKeepAll.String())
}
