package domain

// AudioType classifies an audio rendition.
// Higher number = preferred when two renditions share a language.
type AudioType int

const (
	AudioTypeUnknown      AudioType = 0
	AudioTypeStereo       AudioType = 1
	AudioTypeSurround     AudioType = 2
	AudioTypeDolbyDigital AudioType = 3
	AudioTypeDolbyAtmos   AudioType = 4
)

// String returns a human-readable name for the audio type
func (t AudioType) String() string {
	switch t {
	case AudioTypeStereo:
		return "stereo"
	case AudioTypeSurround:
		return "surround"
	case AudioTypeDolbyDigital:
		return "dolby_digital"
	case AudioTypeDolbyAtmos:
		return "dolby_atmos"
	default:
		return "unknown"
	}
}

// Priority returns the dedupe priority of the audio type
func (t AudioType) Priority() int {
	return int(t)
}

// NominalBitrate returns the bitrate assumed for an audio rendition whose
// manifest entry carries no bandwidth.
func (t AudioType) NominalBitrate() int64 {
	switch t {
	case AudioTypeDolbyAtmos:
		return 768_000
	case AudioTypeDolbyDigital:
		return 640_000
	case AudioTypeSurround:
		return 384_000
	default:
		return 128_000
	}
}
