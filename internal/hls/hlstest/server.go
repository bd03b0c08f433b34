// Package hlstest serves synthetic HLS manifests and segments over
// httptest for package tests.
package hlstest

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Kind selects which multivariant manifest the server publishes
type Kind int

const (
	SeparateAudioVideo Kind = iota
	MuxedVideoAudio
	VideoOnly
)

// Options configures a Server
type Options struct {
	Kind           Kind
	Segments       int
	SegmentSeconds float64

	// RequireAuth, when set, rejects requests whose Authorization header differs
	RequireAuth string
}

// Server is a fake CDN
type Server struct {
	*httptest.Server
	opts Options

	mu           sync.Mutex
	hits         map[string]int
	failSegments bool
	failMaster   bool
	segmentGate  chan struct{}
}

// Rendition bitrates by media playlist path
var bitrates = map[string]int64{
	"video/1080.m3u8":        6_000_000,
	"video/1080_low.m3u8":    5_000_000,
	"video/720.m3u8":         3_000_000,
	"video/720_thumb.m3u8":   400_000,
	"video/480.m3u8":         1_500_000,
	"video/360.m3u8":         800_000,
	"video/1080_iframe.m3u8": 200_000,
	"audio/en_stereo.m3u8":   128_000,
	"audio/en_atmos.m3u8":    768_000,
	"audio/fr_stereo.m3u8":   128_000,
	"muxed/1080.m3u8":        6_200_000,
	"muxed/720.m3u8":         3_200_000,
	"muxed/480.m3u8":         1_600_000,
}

const separateMaster = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English",DEFAULT=YES,AUTOSELECT=YES,CHANNELS="2",URI="audio/en_stereo.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English Atmos",DEFAULT=NO,AUTOSELECT=YES,CHANNELS="16/JOC",URI="audio/en_atmos.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="fr-FR",NAME="Francais",DEFAULT=NO,AUTOSELECT=YES,CHANNELS="2",URI="audio/fr_stereo.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080,CODECS="avc1.640028",AUDIO="aud"
video/1080.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028",AUDIO="aud"
video/1080_low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1280x720,CODECS="avc1.64001f",AUDIO="aud"
video/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=1280x720,CODECS="avc1.64001f",AUDIO="aud"
video/720_thumb.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=854x480,CODECS="avc1.64001e",AUDIO="aud"
video/480.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.64001e",AUDIO="aud"
video/360.m3u8
#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=200000,RESOLUTION=1920x1080,CODECS="avc1.640028",URI="video/1080_iframe.m3u8"
`

const muxedMaster = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=6200000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
muxed/1080.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3200000,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2"
muxed/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1600000,RESOLUTION=854x480,CODECS="avc1.64001e,mp4a.40.2"
muxed/480.m3u8
`

const videoOnlyMaster = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080,CODECS="avc1.640028"
video/1080.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1280x720,CODECS="avc1.64001f"
video/720.m3u8
`

// NewServer starts a fake CDN and registers its shutdown with t.Cleanup
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.Segments <= 0 {
		opts.Segments = 60
	}
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 10
	}

	s := &Server{opts: opts, hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// MasterURL returns the multivariant manifest URL
func (s *Server) MasterURL() string {
	return s.URL + "/master.m3u8"
}

// Duration returns the duration of every media playlist in seconds
func (s *Server) Duration() float64 {
	return float64(s.opts.Segments) * s.opts.SegmentSeconds
}

// SegmentSize returns the byte size of every segment of a media playlist
func (s *Server) SegmentSize(playlistPath string) int64 {
	return int64(float64(bitrates[playlistPath]) * s.opts.SegmentSeconds / 8)
}

// SetFailSegments makes every segment request return 500
func (s *Server) SetFailSegments(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSegments = fail
}

// SetFailMaster makes the master manifest return 503
func (s *Server) SetFailMaster(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failMaster = fail
}

// HoldSegments blocks segment GETs until the returned release func is called
func (s *Server) HoldSegments() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.segmentGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.segmentGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Hits returns how many requests of the given method reached path
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	s.hits[r.Method+" "+path]++
	failSegments := s.failSegments
	failMaster := s.failMaster
	gate := s.segmentGate
	s.mu.Unlock()

	if s.opts.RequireAuth != "" && r.Header.Get("Authorization") != s.opts.RequireAuth {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch {
	case path == "master.m3u8":
		if failMaster {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(s.master()))

	case strings.HasSuffix(path, ".m3u8"):
		if _, ok := bitrates[path]; !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(s.media(path)))

	default:
		if failSegments {
			http.Error(w, "segment error", http.StatusInternalServerError)
			return
		}
		size, ok := s.segmentSize(path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if r.Method == http.MethodHead {
			return
		}
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		_, _ = w.Write(bytes.Repeat([]byte{0x47}, int(size)))
	}
}

func (s *Server) master() string {
	switch s.opts.Kind {
	case MuxedVideoAudio:
		return muxedMaster
	case VideoOnly:
		return videoOnlyMaster
	default:
		return separateMaster
	}
}

func (s *Server) media(path string) string {
	name := strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], ".m3u8")
	ext := "ts"
	if strings.HasPrefix(path, "audio/") {
		ext = "aac"
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(s.opts.SegmentSeconds+0.999))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := 0; i < s.opts.Segments; i++ {
		fmt.Fprintf(&b, "#EXTINF:%s,\n%s/seg%d.%s\n",
			strconv.FormatFloat(s.opts.SegmentSeconds, 'f', -1, 64), name, i, ext)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// segmentSize maps "video/720/seg3.ts" back to "video/720.m3u8"
func (s *Server) segmentSize(path string) (int64, bool) {
	dir := path[:max(strings.LastIndex(path, "/"), 0)]
	playlist := dir + ".m3u8"
	if _, ok := bitrates[playlist]; !ok {
		return 0, false
	}
	return s.SegmentSize(playlist), true
}
