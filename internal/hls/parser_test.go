package hls

import (
	"bytes"
	"errors"
	"testing"
)

const testMaster = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English, Atmos",DEFAULT=YES,CHANNELS="16/JOC",URI="audio/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=6000000,AVERAGE-BANDWIDTH=5500000,RESOLUTION=1920x1080,CODECS="avc1.640028,ec-3",FRAME-RATE=23.976,AUDIO="aud"
video/1080.m3u8
#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=200000,RESOLUTION=1920x1080,URI="iframe.m3u8"
`

func TestParseMaster(t *testing.T) {
	p, err := ParseMaster([]byte(testMaster), "https://cdn.example/a/master.m3u8?token=1")
	if err != nil {
		t.Fatalf("ParseMaster() error = %v", err)
	}

	if len(p.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(p.Variants))
	}

	v := p.Variants[0]
	if v.Width != 1920 || v.Height != 1080 {
		t.Errorf("resolution = %dx%d", v.Width, v.Height)
	}
	if v.Bandwidth != 6000000 || v.AverageBandwidth != 5500000 {
		t.Errorf("bandwidth = %d/%d", v.Bandwidth, v.AverageBandwidth)
	}
	if v.Codecs != "avc1.640028,ec-3" {
		t.Errorf("codecs = %q", v.Codecs)
	}
	if v.Audio != "aud" {
		t.Errorf("audio group = %q", v.Audio)
	}
	if v.URI != "https://cdn.example/a/video/1080.m3u8" {
		t.Errorf("URI = %q", v.URI)
	}
	if v.IFrameOnly {
		t.Error("regular variant flagged as i-frame")
	}

	iframe := p.Variants[1]
	if !iframe.IFrameOnly {
		t.Error("i-frame variant not flagged")
	}
	if iframe.URI != "https://cdn.example/a/iframe.m3u8" {
		t.Errorf("i-frame URI = %q", iframe.URI)
	}

	audio := p.AudioMedia()
	if len(audio) != 1 {
		t.Fatalf("expected 1 audio media, got %d", len(audio))
	}
	if audio[0].Name != "English, Atmos" {
		t.Errorf("quoted comma not preserved: %q", audio[0].Name)
	}
	if audio[0].ChannelCount() != 16 || !audio[0].IsJOC() {
		t.Errorf("channels = %d joc=%v", audio[0].ChannelCount(), audio[0].IsJOC())
	}
	if !audio[0].Default {
		t.Error("DEFAULT=YES not parsed")
	}
}

func TestParseMaster_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", "", ErrEmptyPlaylist},
		{"no header", "#EXT-X-VERSION:3\n", ErrMissingHeader},
		{"media playlist", "#EXTM3U\n#EXTINF:10,\nseg.ts\n", ErrNotMaster},
		{"no variants", "#EXTM3U\n#EXT-X-VERSION:3\n", ErrNotMaster},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMaster([]byte(tt.data), "https://x/")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

const testMedia = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:5
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"
#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example/k1",IV=0x01
#EXTINF:6.000,
#EXT-X-BYTERANGE:1000@720
media.mp4
#EXTINF:6.000,
#EXT-X-BYTERANGE:1500
media.mp4
#EXT-X-KEY:METHOD=NONE
#EXT-X-DISCONTINUITY
#EXTINF:4.5,title
seg/last.m4s
#EXT-X-ENDLIST
`

func TestParseMedia(t *testing.T) {
	p, err := ParseMedia([]byte(testMedia), "https://cdn.example/v/720.m3u8")
	if err != nil {
		t.Fatalf("ParseMedia() error = %v", err)
	}

	if len(p.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(p.Segments))
	}
	if p.Duration() != 16.5 {
		t.Errorf("Duration() = %v, want 16.5", p.Duration())
	}
	if !p.EndList || p.MediaSequence != 5 || p.TargetDuration != 6 {
		t.Errorf("header fields not parsed: %+v", p)
	}

	first, second, last := p.Segments[0], p.Segments[1], p.Segments[2]
	if first.ByteRange == nil || first.ByteRange.Offset != 720 || first.ByteRange.Length != 1000 {
		t.Errorf("first byte range = %+v", first.ByteRange)
	}
	if second.ByteRange == nil || second.ByteRange.Offset != 1720 {
		t.Errorf("implicit offset not continued: %+v", second.ByteRange)
	}
	if first.Key == nil || first.Key.Method != "AES-128" || first.Key != second.Key {
		t.Errorf("key not shared across segments: %+v %+v", first.Key, second.Key)
	}
	if last.Key != nil {
		t.Error("METHOD=NONE should clear the key")
	}
	if !last.Discontinuity {
		t.Error("discontinuity not recorded")
	}
	if last.URI != "https://cdn.example/v/seg/last.m4s" {
		t.Errorf("URI = %q", last.URI)
	}
	if first.Map == nil || first.Map.URI != "https://cdn.example/v/init.mp4" {
		t.Errorf("map = %+v", first.Map)
	}
	if len(p.InitSections()) != 1 {
		t.Errorf("InitSections() = %d, want 1", len(p.InitSections()))
	}
}

func TestParseMedia_RejectsMaster(t *testing.T) {
	if _, err := ParseMedia([]byte(testMaster), "https://x/"); !errors.Is(err, ErrNotMedia) {
		t.Errorf("error = %v, want ErrNotMedia", err)
	}
}

func TestParseByteRange_Invalid(t *testing.T) {
	for _, v := range []string{"", "abc", "10@x", "-1"} {
		if _, err := parseByteRange(v); !errors.Is(err, ErrInvalidByteRange) {
			t.Errorf("parseByteRange(%q) error = %v", v, err)
		}
	}
}

func TestWriteMedia_RoundTrip(t *testing.T) {
	p, err := ParseMedia([]byte(testMedia), "https://cdn.example/v/720.m3u8")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteMedia(&buf, p); err != nil {
		t.Fatalf("WriteMedia() error = %v", err)
	}

	again, err := ParseMedia(buf.Bytes(), "")
	if err != nil {
		t.Fatalf("re-parse error = %v\n%s", err, buf.String())
	}
	if len(again.Segments) != len(p.Segments) {
		t.Fatalf("segments = %d, want %d", len(again.Segments), len(p.Segments))
	}
	if again.Segments[1].ByteRange.Offset != 1720 {
		t.Errorf("byte range offset lost: %+v", again.Segments[1].ByteRange)
	}
	if again.Segments[0].Key == nil || again.Segments[2].Key != nil {
		t.Error("key transitions not preserved")
	}
	if !again.EndList {
		t.Error("ENDLIST not written")
	}
}

func TestWriteMaster_RoundTrip(t *testing.T) {
	p, err := ParseMaster([]byte(testMaster), "")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteMaster(&buf, p); err != nil {
		t.Fatal(err)
	}

	again, err := ParseMaster(buf.Bytes(), "")
	if err != nil {
		t.Fatalf("re-parse error = %v\n%s", err, buf.String())
	}
	if len(again.Variants) != 2 || !again.Variants[1].IFrameOnly {
		t.Errorf("variants not preserved: %+v", again.Variants)
	}
	if len(again.Media) != 1 || again.Media[0].Channels != "16/JOC" {
		t.Errorf("media not preserved: %+v", again.Media)
	}
}

func TestResolveURI(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"https://a/b/c.m3u8", "d.ts", "https://a/b/d.ts"},
		{"https://a/b/c.m3u8", "/d.ts", "https://a/d.ts"},
		{"https://a/b/c.m3u8", "https://z/d.ts", "https://z/d.ts"},
		{"", "d.ts", "d.ts"},
	}
	for _, tt := range tests {
		if got := ResolveURI(tt.base, tt.ref); got != tt.want {
			t.Errorf("ResolveURI(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}
