package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"media-packager/internal/media"
)

func segmentsOf(durations ...int64) []SegmentRecord {
	out := make([]SegmentRecord, len(durations))
	var start int64
	for i, d := range durations {
		out[i] = SegmentRecord{
			Sequence:  int64(i),
			FileName:  "seg_" + string(rune('a'+i)) + ".ts",
			StartTime: start,
			Duration:  d,
			Size:      1000,
		}
		start += d
	}
	return out
}

func TestBuildMediaPlaylist_empty(t *testing.T) {
	got := BuildMediaPlaylist(StreamState{Desc: videoDesc("v.m3u8")}, nil)
	want := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:0\n"
	if got != want {
		t.Errorf("empty playlist:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildMediaPlaylist_ts(t *testing.T) {
	st := StreamState{Desc: videoDesc("v.m3u8"), Ended: true}
	st.Segments = segmentsOf(180000, 135000)

	got := BuildMediaPlaylist(st, st.Segments)
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:2\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXT-X-PLAYLIST-TYPE:VOD\n" +
		"\n" +
		"#EXTINF:2.000,\n" +
		"seg_a.ts\n" +
		"#EXTINF:1.500,\n" +
		"seg_b.ts\n" +
		"#EXT-X-ENDLIST\n"
	assert.Equal(t, want, got)
}

func TestBuildMediaPlaylist_fmp4_keys(t *testing.T) {
	desc := videoDesc("v.m3u8")
	desc.Container = media.ContainerMP4
	desc.InitSegment = "init.mp4"
	st := StreamState{Desc: desc}
	st.Segments = segmentsOf(90000, 90000, 90000)
	st.Keys = []KeyInfo{
		{Scheme: media.FourCCCBCS, KeyID: []byte{0xaa}, IV: []byte{0xbb}, FromSegment: 1},
		{Scheme: media.FourCCCBCS, KeyID: []byte{0xcc}, FromSegment: 2},
		{Scheme: media.FourCCCBCS, KeyID: []byte{0xdd}, FromSegment: -1},
	}

	got := BuildMediaPlaylist(st, st.Segments)
	assert.Contains(t, got, "#EXT-X-VERSION:6\n")
	assert.Contains(t, got, "#EXT-X-MAP:URI=\"init.mp4\"\n")
	assert.NotContains(t, got, "#EXT-X-ENDLIST")
	assert.Equal(t, 2, strings.Count(got, "#EXT-X-KEY:"))
	assert.Contains(t, got, "#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"data:text/plain;base64,qg==\",KEYID=0xaa,IV=0xbb,KEYFORMATVERSIONS=\"1\",KEYFORMAT=\"identity\"\n")
	assert.NotContains(t, got, "KEYID=0xdd")

	// Keys appear right before the segment they start with.
	assert.Less(t, strings.Index(got, "seg_a.ts"), strings.Index(got, "KEYID=0xaa"))
	assert.Less(t, strings.Index(got, "KEYID=0xaa"), strings.Index(got, "seg_b.ts"))
	assert.Less(t, strings.Index(got, "seg_b.ts"), strings.Index(got, "KEYID=0xcc"))

	// A window starting after a rotation repeats the key in effect.
	window := BuildMediaPlaylist(st, st.Segments[2:])
	assert.Contains(t, window, "#EXT-X-MEDIA-SEQUENCE:2\n")
	assert.Contains(t, window, "KEYID=0xcc")
	assert.NotContains(t, window, "KEYID=0xaa")
}

func TestBuildMediaPlaylist_key_systems(t *testing.T) {
	st := StreamState{Desc: videoDesc("v.m3u8")}
	st.Segments = segmentsOf(90000)
	systemID := []byte{0xed, 0xef, 0x8b, 0xa9, 0x79, 0xd6, 0x4a, 0xce, 0xa3, 0xc8, 0x27, 0xdc, 0xd5, 0x1d, 0x21, 0xed}
	st.Keys = []KeyInfo{{
		Scheme:      media.FourCCCENC,
		KeyID:       []byte{0x01},
		KeySystems:  []media.KeySystemInfo{{SystemID: systemID, PSSH: []byte{0x02}}},
		FromSegment: 0,
	}}

	got := BuildMediaPlaylist(st, st.Segments)
	assert.Contains(t, got, "METHOD=SAMPLE-AES-CTR")
	assert.Contains(t, got, "KEYFORMAT=\"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed\"")
	assert.Contains(t, got, "#EXT-X-VERSION:5\n")
}

func TestBuildMediaPlaylist_single_file(t *testing.T) {
	desc := videoDesc("v.m3u8")
	desc.Container = media.ContainerMP4
	desc.SegmentTemplate = ""
	desc.MediaFile = "v.mp4"
	st := StreamState{Desc: desc, Ended: true}
	st.Ranges.InitRange = &media.Range{Start: 0, End: 99}
	st.Segments = []SegmentRecord{
		{Sequence: 0, FileName: "v.mp4", Duration: 90000, ByteRange: &media.Range{Start: 100, End: 599}},
	}

	got := BuildMediaPlaylist(st, st.Segments)
	assert.Contains(t, got, "#EXT-X-MAP:URI=\"v.mp4\",BYTERANGE=\"100@0\"\n")
	assert.Contains(t, got, "#EXT-X-BYTERANGE:500@100\nv.mp4\n")
}

func TestTargetDuration(t *testing.T) {
	st := &StreamState{Desc: FormatDescription{TimeScale: 1000}}
	tests := []struct {
		name string
		segs []SegmentRecord
		want int
	}{
		{"single_2s", []SegmentRecord{{Duration: 2000}}, 2},
		{"max_is_ceiled", []SegmentRecord{{Duration: 2000}, {Duration: 2100}}, 3},
		{"zero_duration", []SegmentRecord{{Duration: 0}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetDuration(st, tt.segs); got != tt.want {
				t.Errorf("targetDuration() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildMasterPlaylist(t *testing.T) {
	video := StreamState{ID: 1, Desc: videoDesc("video.m3u8")}
	video.Desc.Bandwidth = 1000000
	video.Desc.FrameDuration = 3000

	audio := StreamState{ID: 2, Desc: FormatDescription{
		StreamIdentity: StreamIdentity{PlaylistName: "audio_en.m3u8", GroupID: "aud", Name: "English"},
		Type:           media.StreamAudio,
		CodecString:    "mp4a.40.2",
		TimeScale:      48000,
		Language:       "en",
		NumChannels:    2,
		Bandwidth:      128000,
	}}
	trick := StreamState{ID: 3, Desc: videoDesc("trick.m3u8")}
	trick.Desc.TrickPlayFactor = 4
	trick.Desc.Bandwidth = 50000

	got := BuildMasterPlaylist([]StreamState{trick, audio, video})
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:6\n" +
		"#EXT-X-INDEPENDENT-SEGMENTS\n" +
		"\n" +
		"#EXT-X-MEDIA:TYPE=AUDIO,URI=\"audio_en.m3u8\",GROUP-ID=\"aud\",LANGUAGE=\"en\",NAME=\"English\",DEFAULT=YES,AUTOSELECT=YES,CHANNELS=\"2\"\n" +
		"\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1128000,CODECS=\"avc1.64001e,mp4a.40.2\",RESOLUTION=640x360,FRAME-RATE=30.000,AUDIO=\"aud\"\n" +
		"video.m3u8\n" +
		"#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=50000,CODECS=\"avc1.64001e\",RESOLUTION=640x360,URI=\"trick.m3u8\"\n"
	assert.Equal(t, want, got)
}

func TestBuildMasterPlaylist_audio_only(t *testing.T) {
	audio := StreamState{ID: 1, Desc: FormatDescription{
		StreamIdentity: StreamIdentity{PlaylistName: "a.m3u8"},
		Type:           media.StreamAudio,
		CodecString:    "mp4a.40.2",
		TimeScale:      44100,
	}}
	audio.Segments = []SegmentRecord{{Duration: 44100, Size: 16000}}

	got := BuildMasterPlaylist([]StreamState{audio})
	assert.Contains(t, got, "#EXT-X-MEDIA:TYPE=AUDIO,URI=\"a.m3u8\",GROUP-ID=\"audio\",NAME=\"a\",DEFAULT=YES,AUTOSELECT=YES\n")
	assert.Contains(t, got, "#EXT-X-STREAM-INF:BANDWIDTH=128000,CODECS=\"mp4a.40.2\"\na.m3u8\n")
}
