// Package hls parses and writes the subset of HLS playlists needed to
// inspect a multivariant manifest and mirror a rendition to local storage.
package hls

import "errors"

var (
	ErrEmptyPlaylist    = errors.New("empty playlist")
	ErrMissingHeader    = errors.New("invalid M3U8 format: missing #EXTM3U header")
	ErrNotMaster        = errors.New("playlist has no variant streams")
	ErrNotMedia         = errors.New("playlist has no media segments")
	ErrInvalidByteRange = errors.New("invalid byte range")
)

// Variant is one #EXT-X-STREAM-INF or #EXT-X-I-FRAME-STREAM-INF entry
type Variant struct {
	URI              string
	Bandwidth        int64
	AverageBandwidth int64
	Width            int
	Height           int
	Codecs           string
	FrameRate        float64

	// Audio is the GROUP-ID of the EXT-X-MEDIA audio group this variant uses
	Audio string

	// IFrameOnly is set for trick-play variants
	IFrameOnly bool
}

// Media is one #EXT-X-MEDIA entry
type Media struct {
	Type       string
	GroupID    string
	Language   string
	Name       string
	URI        string
	Channels   string
	Default    bool
	AutoSelect bool
}

// ChannelCount returns the leading integer of the CHANNELS attribute,
// or 0 when absent
func (m Media) ChannelCount() int {
	return parseChannelCount(m.Channels)
}

// IsJOC reports whether the CHANNELS attribute carries the JOC
// (Dolby Atmos object audio) parameter
func (m Media) IsJOC() bool {
	return hasChannelParam(m.Channels, "JOC")
}

// MasterPlaylist is a parsed multivariant playlist
type MasterPlaylist struct {
	URL                 string
	Version             int
	IndependentSegments bool
	Variants            []Variant
	Media               []Media
}

// AudioMedia returns the EXT-X-MEDIA entries of TYPE=AUDIO
func (p *MasterPlaylist) AudioMedia() []Media {
	var out []Media
	for _, m := range p.Media {
		if m.Type == "AUDIO" {
			out = append(out, m)
		}
	}
	return out
}

// ByteRange is a sub-range of a resource
type ByteRange struct {
	Length int64
	Offset int64
}

// Key is an #EXT-X-KEY entry. Keys are carried through unchanged.
type Key struct {
	Method            string
	URI               string
	IV                string
	KeyFormat         string
	KeyFormatVersions string
}

// InitSection is an #EXT-X-MAP entry
type InitSection struct {
	URI       string
	ByteRange *ByteRange
}

// Segment is one media segment
type Segment struct {
	URI           string
	Duration      float64
	Title         string
	ByteRange     *ByteRange
	Discontinuity bool

	// Key is the key in effect for this segment, nil when unencrypted
	Key *Key

	// Map is the init section in effect for this segment
	Map *InitSection
}

// MediaPlaylist is a parsed per-rendition playlist
type MediaPlaylist struct {
	URL            string
	Version        int
	TargetDuration int
	MediaSequence  int
	PlaylistType   string
	Segments       []Segment
	EndList        bool
}

// Duration returns the sum of segment durations in seconds
func (p *MediaPlaylist) Duration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// InitSections returns the distinct init sections in playlist order
func (p *MediaPlaylist) InitSections() []*InitSection {
	var out []*InitSection
	var last *InitSection
	for _, s := range p.Segments {
		if s.Map != nil && s.Map != last {
			out = append(out, s.Map)
			last = s.Map
		}
	}
	return out
}
