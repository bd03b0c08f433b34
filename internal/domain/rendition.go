package domain

import "fmt"

// Role is the media role of a rendition
type Role string

const (
	RoleVideo Role = "video"
	RoleAudio Role = "audio"
)

// StreamType describes how audio is delivered by a multivariant manifest.
// Once set for a download, every selection decision for that download
// branches on the same value.
type StreamType string

const (
	StreamTypeSeparateAudioVideo StreamType = "separate_audio_video"
	StreamTypeMuxedVideoAudio    StreamType = "muxed_video_audio"
	StreamTypeUnknown            StreamType = "unknown"
)

// ParseStreamType converts a stored string back into a StreamType.
// Unrecognised values map to StreamTypeUnknown.
func ParseStreamType(s string) StreamType {
	switch StreamType(s) {
	case StreamTypeSeparateAudioVideo, StreamTypeMuxedVideoAudio:
		return StreamType(s)
	default:
		return StreamTypeUnknown
	}
}

// Rendition is one concrete encoded variant offered by a manifest.
// Values are snapshots of a single manifest load and are never mutated
// after the inspector returns them.
type Rendition struct {
	Role         Role      `json:"role"`
	Height       int       `json:"height,omitempty"`
	Width        int       `json:"width,omitempty"`
	BitrateBps   int64     `json:"bitrate_bps"`
	Codecs       string    `json:"codecs,omitempty"`
	Language     string    `json:"language,omitempty"`
	Name         string    `json:"name,omitempty"`
	GroupID      string    `json:"group_id,omitempty"`
	ChannelCount int       `json:"channel_count,omitempty"`
	AudioType    AudioType `json:"audio_type,omitempty"`
	IsDefault    bool      `json:"is_default,omitempty"`
	IsIFrameOnly bool      `json:"is_iframe_only,omitempty"`

	// PlaylistURL is the absolute URL of the rendition's media playlist
	PlaylistURL string `json:"playlist_url"`

	// EstimatedSizeBytes is filled in for video candidates at listing time
	EstimatedSizeBytes int64 `json:"estimated_size_bytes,omitempty"`
}

// IsVideo returns true for video renditions
func (r Rendition) IsVideo() bool {
	return r.Role == RoleVideo
}

// Resolution returns the "WxH" label of a video rendition
func (r Rendition) Resolution() string {
	if r.Width == 0 && r.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// TrackListing is the result of inspecting a multivariant manifest
type TrackListing struct {
	MasterURL       string      `json:"master_url"`
	VideoCandidates []Rendition `json:"video_candidates"`
	AudioCandidates []Rendition `json:"audio_candidates"`
	StreamType      StreamType  `json:"stream_type"`
	DurationSeconds float64     `json:"duration_seconds"`
}

// VideoByHeight returns the video candidate with the given height
func (l *TrackListing) VideoByHeight(height int) (Rendition, bool) {
	if l == nil {
		return Rendition{}, false
	}
	for _, r := range l.VideoCandidates {
		if r.Height == height {
			return r, true
		}
	}
	return Rendition{}, false
}
