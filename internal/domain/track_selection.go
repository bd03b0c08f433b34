package domain

// Audio channel caps applied when the caller does or does not ask for Atmos
const (
	StereoChannelCap = 2
	AtmosChannelCap  = 16
)

// TrackRequest is what a caller hands the selector when starting a download
type TrackRequest struct {
	MasterURL        string
	DownloadID       string
	Height           int
	Width            int
	PreferDolbyAtmos bool
	StreamType       StreamType
	Headers          map[string]string
}

// ChannelCap returns the maximum audio channel count allowed by the request
func (r TrackRequest) ChannelCap() int {
	if r.PreferDolbyAtmos {
		return AtmosChannelCap
	}
	return StereoChannelCap
}

// TrackSelection is the concrete set of renditions to fetch for one download.
// It is created once at start time and stays immutable for the life of the
// download; recovery reloads it from partial-download bookkeeping.
type TrackSelection struct {
	DownloadID         string     `json:"download_id"`
	MasterURL          string     `json:"master_url"`
	StreamType         StreamType `json:"stream_type"`
	ChosenVideo        Rendition  `json:"chosen_video"`
	ChosenAudio        *Rendition `json:"chosen_audio,omitempty"`
	MaxAudioChannels   int        `json:"max_audio_channels"`
	EstimatedSizeBytes int64      `json:"estimated_size_bytes"`
}
