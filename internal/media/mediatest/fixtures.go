package mediatest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"media-packager/internal/media"
)

// Fixed fixture values.
const (
	TrackID           = 1
	Duration          = 10000
	CodecString       = "codec string"
	SampleBits        = 1
	NumChannels       = 2
	SamplingFrequency = 48000
	SeekPrerollNs     = 12345
	CodecDelayNs      = 56789
	MaxBitrate        = 13579
	AvgBitrate        = 13000
	Language          = "eng"
	Width             = 10
	Height            = 20
	PixelWidth        = 2
	PixelHeight       = 3
	NaluLengthSize    = 1
)

// CodecConfig is an H.264 decoder configuration record (one SPS, one PPS).
var CodecConfig = []byte{
	0x01, 0x64, 0x00, 0x1e, 0xff,
	0xe1,
	0x00, 0x19,
	0x67, 0x64, 0x00, 0x1e, 0xac, 0xd9, 0x40, 0xa0, 0x2f, 0xf9, 0x70, 0x11,
	0x00, 0x00, 0x03, 0x03, 0xe9, 0x00, 0x00, 0xea, 0x60, 0x0f, 0x16, 0x2d,
	0x96,
	0x01,
	0x00, 0x06,
	0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0,
}

// SampleData is the payload of fixture samples.
var SampleData = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

// VideoOption adjusts a fixture video stream info.
type VideoOption func(*media.StreamInfo)

// WithCodec overrides the fixture codec.
func WithCodec(c media.Codec) VideoOption {
	return func(s *media.StreamInfo) { s.Codec = c }
}

// WithSize overrides the fixture video dimensions.
func WithSize(width, height uint32) VideoOption {
	return func(s *media.StreamInfo) {
		s.Video.Width = width
		s.Video.Height = height
	}
}

// VideoStreamInfo returns an unencrypted VP9 video stream info with fixed
// values.
func VideoStreamInfo(timeScale uint32, opts ...VideoOption) *media.StreamInfo {
	s := &media.StreamInfo{
		Type:        media.StreamVideo,
		TrackID:     TrackID,
		TimeScale:   timeScale,
		Duration:    Duration,
		Codec:       media.CodecVP9,
		CodecString: CodecString,
		CodecConfig: append([]byte(nil), CodecConfig...),
		Language:    Language,
		Video: &media.VideoInfo{
			Width:          Width,
			Height:         Height,
			PixelWidth:     PixelWidth,
			PixelHeight:    PixelHeight,
			NaluLengthSize: NaluLengthSize,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AudioStreamInfo returns an unencrypted audio stream info with fixed values.
// The codec defaults to AAC.
func AudioStreamInfo(timeScale uint32, codec ...media.Codec) *media.StreamInfo {
	c := media.CodecAAC
	if len(codec) > 0 {
		c = codec[0]
	}
	return &media.StreamInfo{
		Type:        media.StreamAudio,
		TrackID:     TrackID,
		TimeScale:   timeScale,
		Duration:    Duration,
		Codec:       c,
		CodecString: CodecString,
		CodecConfig: append([]byte(nil), CodecConfig...),
		Language:    Language,
		Audio: &media.AudioInfo{
			SampleBits:        SampleBits,
			NumChannels:       NumChannels,
			SamplingFrequency: SamplingFrequency,
			SeekPrerollNs:     SeekPrerollNs,
			CodecDelayNs:      CodecDelayNs,
			MaxBitrate:        MaxBitrate,
			AvgBitrate:        AvgBitrate,
		},
	}
}

// MediaSample returns a sample carrying SampleData.
func MediaSample(timestamp, duration int64, keyFrame bool) *media.MediaSample {
	return MediaSampleWithData(timestamp, duration, keyFrame, SampleData)
}

// MediaSampleWithData returns a sample with a copy of data. DTS and PTS are
// both set to timestamp.
func MediaSampleWithData(timestamp, duration int64, keyFrame bool, data []byte) *media.MediaSample {
	return &media.MediaSample{
		Data:       append([]byte(nil), data...),
		DTS:        timestamp,
		PTS:        timestamp,
		Duration:   duration,
		IsKeyFrame: keyFrame,
	}
}

// SegmentInfo returns a segment boundary.
func SegmentInfo(start, duration int64, subsegment bool) *media.SegmentInfo {
	return &media.SegmentInfo{StartTimestamp: start, Duration: duration, IsSubsegment: subsegment}
}

// TestGraph is the graph built by SetUpGraph.
type TestGraph struct {
	*media.Graph

	// Input feeds every input of the handler under test: output i of Input is
	// connected to input i of the handler.
	Input *FakeInputHandler
	// Output receives every output of the handler: output i of the handler is
	// connected to input i of Output.
	Output *FakeHandler
}

// SetUpGraph wires h between a fake source and a recording sink and starts
// the graph.
func SetUpGraph(t testing.TB, numInputs, numOutputs int, h media.Handler) *TestGraph {
	t.Helper()
	g := &TestGraph{
		Graph:  media.NewGraph(),
		Input:  NewFakeInputHandler("input"),
		Output: NewFakeHandler("output"),
	}
	g.Add(g.Input)
	g.Add(h)
	g.Add(g.Output)
	for i := 0; i < numInputs; i++ {
		require.NoError(t, g.Connect(g.Input, i, h, i))
	}
	for i := 0; i < numOutputs; i++ {
		require.NoError(t, g.Connect(h, i, g.Output, i))
	}
	require.NoError(t, g.Start())
	return g
}

// Feed pushes data into input data.StreamIndex of the handler under test.
func (g *TestGraph) Feed(data *media.StreamData) error {
	return g.Input.Emit(data)
}

// Outputs returns what the handler under test emitted, in order.
func (g *TestGraph) Outputs() []*media.StreamData { return g.Output.Received() }
