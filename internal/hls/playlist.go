package hls

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"media-packager/internal/media"
)

// BuildMediaPlaylist renders the media playlist of st listing segments, which
// must be a run of st.Segments ordered by sequence. Ended streams are rendered
// as VOD playlists with #EXT-X-ENDLIST. An empty segments slice produces a
// minimal valid playlist with media sequence 0.
func BuildMediaPlaylist(st StreamState, segments []SegmentRecord) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", playlistVersion(st))

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if st.Ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(&st, segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", segments[0].Sequence)
	if st.Ended {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}
	if st.Desc.IsTrickPlay() {
		b.WriteString("#EXT-X-I-FRAMES-ONLY\n")
	}
	writeMap(&b, st)
	b.WriteString("\n")

	for i, seg := range segments {
		for _, key := range keysFor(st.Keys, seg.Sequence, i == 0) {
			writeKey(&b, key)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", st.seconds(seg.Duration))
		if seg.ByteRange != nil {
			fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%d@%d\n", seg.ByteRange.Size(), seg.ByteRange.Start)
		}
		b.WriteString(seg.FileName)
		b.WriteString("\n")
	}

	if st.Ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

func playlistVersion(st StreamState) int {
	switch {
	case st.Desc.Container == media.ContainerMP4:
		return 6
	case st.Desc.SingleFile() || len(st.Keys) > 0:
		return 5
	default:
		return 3
	}
}

func writeMap(b *strings.Builder, st StreamState) {
	if st.Desc.Container != media.ContainerMP4 {
		return
	}
	if st.Desc.SingleFile() {
		if r := st.Ranges.InitRange; r != nil {
			fmt.Fprintf(b, "#EXT-X-MAP:URI=%q,BYTERANGE=\"%d@%d\"\n", st.Desc.MediaFile, r.Size(), r.Start)
		}
		return
	}
	if st.Desc.InitSegment != "" {
		fmt.Fprintf(b, "#EXT-X-MAP:URI=%q\n", st.Desc.InitSegment)
	}
}

// keysFor returns the keys to announce before segment seq. The first listed
// segment also repeats the keys already in effect.
func keysFor(keys []KeyInfo, seq int64, first bool) []KeyInfo {
	from := int64(-1)
	for _, k := range keys {
		if k.FromSegment < 0 {
			continue
		}
		if k.FromSegment == seq || (first && k.FromSegment < seq && k.FromSegment > from) {
			from = max(from, k.FromSegment)
		}
	}
	if from < 0 {
		return nil
	}
	var out []KeyInfo
	for _, k := range keys {
		if k.FromSegment == from {
			out = append(out, k)
		}
	}
	return out
}

func keyMethod(scheme media.FourCC) string {
	if scheme == media.FourCCCBCS {
		return "SAMPLE-AES"
	}
	return "SAMPLE-AES-CTR"
}

func writeKey(b *strings.Builder, k KeyInfo) {
	method := keyMethod(k.Scheme)
	iv := ""
	if len(k.IV) > 0 {
		iv = ",IV=0x" + hex.EncodeToString(k.IV)
	}
	if len(k.KeySystems) == 0 {
		fmt.Fprintf(b, "#EXT-X-KEY:METHOD=%s,URI=\"data:text/plain;base64,%s\",KEYID=0x%s%s,KEYFORMATVERSIONS=\"1\",KEYFORMAT=\"identity\"\n",
			method, base64.StdEncoding.EncodeToString(k.KeyID), hex.EncodeToString(k.KeyID), iv)
		return
	}
	for _, ks := range k.KeySystems {
		fmt.Fprintf(b, "#EXT-X-KEY:METHOD=%s,URI=\"data:text/plain;base64,%s\",KEYID=0x%s%s,KEYFORMATVERSIONS=\"1\",KEYFORMAT=\"urn:uuid:%s\"\n",
			method, base64.StdEncoding.EncodeToString(ks.PSSH), hex.EncodeToString(k.KeyID), iv, formatUUID(ks.SystemID))
	}
}

func formatUUID(id []byte) string {
	h := hex.EncodeToString(id)
	if len(h) != 32 {
		return h
	}
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

// targetDuration returns the HLS #EXT-X-TARGETDURATION value:
// the ceiling of the maximum segment duration in seconds (integer).
func targetDuration(st *StreamState, segments []SegmentRecord) int {
	longest := 0.0
	for _, seg := range segments {
		if d := st.seconds(seg.Duration); d > longest {
			longest = d
		}
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}

// bandwidth returns the declared bandwidth of st, or the peak segment bitrate
// when none was declared.
func bandwidth(st StreamState) uint32 {
	if st.Desc.Bandwidth > 0 {
		return st.Desc.Bandwidth
	}
	peak := 0.0
	for _, seg := range st.Segments {
		d := st.seconds(seg.Duration)
		if d <= 0 {
			continue
		}
		if bps := float64(seg.Size) * 8 / d; bps > peak {
			peak = bps
		}
	}
	return uint32(math.Ceil(peak))
}

// BuildMasterPlaylist renders the master playlist for streams. Audio and text
// streams become EXT-X-MEDIA renditions of their group, video streams become
// variants referencing those groups and trick play streams become I-frame
// variants. Without video, every audio stream is a variant of its own.
func BuildMasterPlaylist(streams []StreamState) string {
	streams = append([]StreamState(nil), streams...)
	sort.Slice(streams, func(i, j int) bool { return streams[i].ID < streams[j].ID })

	var (
		video, trick       []StreamState
		audioGroups        = map[string][]StreamState{}
		textGroups         = map[string][]StreamState{}
		audioOrder, txtOrd []string
	)
	for _, st := range streams {
		switch st.Desc.Type {
		case media.StreamVideo:
			if st.Desc.IsTrickPlay() {
				trick = append(trick, st)
			} else {
				video = append(video, st)
			}
		case media.StreamAudio:
			g := groupID(st, "audio")
			if _, ok := audioGroups[g]; !ok {
				audioOrder = append(audioOrder, g)
			}
			audioGroups[g] = append(audioGroups[g], st)
		case media.StreamText:
			g := groupID(st, "text")
			if _, ok := textGroups[g]; !ok {
				txtOrd = append(txtOrd, g)
			}
			textGroups[g] = append(textGroups[g], st)
		}
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:6\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n\n")

	for _, g := range audioOrder {
		for i, st := range audioGroups[g] {
			writeMedia(&b, "AUDIO", g, st, i == 0)
		}
	}
	for _, g := range txtOrd {
		for i, st := range textGroups[g] {
			writeMedia(&b, "SUBTITLES", g, st, i == 0)
		}
	}
	if len(audioOrder) > 0 || len(txtOrd) > 0 {
		b.WriteString("\n")
	}

	subtitles := ""
	if len(txtOrd) > 0 {
		subtitles = txtOrd[0]
	}

	if len(video) == 0 {
		for _, g := range audioOrder {
			for _, st := range audioGroups[g] {
				writeVariant(&b, st, nil, "", subtitles)
			}
		}
	}
	for _, v := range video {
		if len(audioOrder) == 0 {
			writeVariant(&b, v, nil, "", subtitles)
			continue
		}
		for _, g := range audioOrder {
			writeVariant(&b, v, audioGroups[g], g, subtitles)
		}
	}
	for _, st := range trick {
		attrs := []string{
			fmt.Sprintf("BANDWIDTH=%d", bandwidth(st)),
			fmt.Sprintf("CODECS=%q", st.Desc.CodecString),
		}
		if st.Desc.Width > 0 && st.Desc.Height > 0 {
			attrs = append(attrs, fmt.Sprintf("RESOLUTION=%dx%d", st.Desc.Width, st.Desc.Height))
		}
		attrs = append(attrs, fmt.Sprintf("URI=%q", st.Desc.PlaylistName))
		fmt.Fprintf(&b, "#EXT-X-I-FRAME-STREAM-INF:%s\n", strings.Join(attrs, ","))
	}

	return b.String()
}

func groupID(st StreamState, fallback string) string {
	if st.Desc.GroupID != "" {
		return st.Desc.GroupID
	}
	return fallback
}

func writeMedia(b *strings.Builder, kind, group string, st StreamState, isDefault bool) {
	name := st.Desc.Name
	if name == "" {
		name = st.Desc.Language
	}
	if name == "" {
		name = strings.TrimSuffix(st.Desc.PlaylistName, ".m3u8")
	}
	attrs := []string{
		"TYPE=" + kind,
		fmt.Sprintf("URI=%q", st.Desc.PlaylistName),
		fmt.Sprintf("GROUP-ID=%q", group),
	}
	if st.Desc.Language != "" {
		attrs = append(attrs, fmt.Sprintf("LANGUAGE=%q", st.Desc.Language))
	}
	attrs = append(attrs, fmt.Sprintf("NAME=%q", name))
	if isDefault {
		attrs = append(attrs, "DEFAULT=YES", "AUTOSELECT=YES")
	}
	if kind == "AUDIO" && st.Desc.NumChannels > 0 {
		attrs = append(attrs, fmt.Sprintf("CHANNELS=\"%d\"", st.Desc.NumChannels))
	}
	fmt.Fprintf(b, "#EXT-X-MEDIA:%s\n", strings.Join(attrs, ","))
}

func writeVariant(b *strings.Builder, st StreamState, audio []StreamState, audioGroup, subtitles string) {
	bw := bandwidth(st)
	codecs := []string{st.Desc.CodecString}
	var audioBw uint32
	for _, a := range audio {
		audioBw = max(audioBw, bandwidth(a))
	}
	if len(audio) > 0 && audio[0].Desc.CodecString != "" {
		codecs = append(codecs, audio[0].Desc.CodecString)
	}

	attrs := []string{
		fmt.Sprintf("BANDWIDTH=%d", bw+audioBw),
		fmt.Sprintf("CODECS=%q", strings.Join(codecs, ",")),
	}
	if st.Desc.Width > 0 && st.Desc.Height > 0 {
		attrs = append(attrs, fmt.Sprintf("RESOLUTION=%dx%d", st.Desc.Width, st.Desc.Height))
	}
	if st.Desc.Type == media.StreamVideo && st.Desc.FrameDuration > 0 && st.Desc.TimeScale > 0 {
		attrs = append(attrs, fmt.Sprintf("FRAME-RATE=%.3f", float64(st.Desc.TimeScale)/float64(st.Desc.FrameDuration)))
	}
	if audioGroup != "" {
		attrs = append(attrs, fmt.Sprintf("AUDIO=%q", audioGroup))
	}
	if subtitles != "" {
		attrs = append(attrs, fmt.Sprintf("SUBTITLES=%q", subtitles))
	}
	fmt.Fprintf(b, "#EXT-X-STREAM-INF:%s\n%s\n", strings.Join(attrs, ","), st.Desc.PlaylistName)
}
