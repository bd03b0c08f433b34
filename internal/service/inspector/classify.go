package inspector

import (
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
)

// audioCodecPrefixes are the CODECS entries that identify an audio stream
var audioCodecPrefixes = []string{"mp4a", "ac-3", "ec-3", "ec+3", "opus", "flac", "alac", "dtsc", "dtse"}

// Classify determines how a manifest delivers audio
func Classify(master *hls.MasterPlaylist) domain.StreamType {
	for _, m := range master.AudioMedia() {
		if m.URI != "" {
			return domain.StreamTypeSeparateAudioVideo
		}
	}

	for _, v := range master.Variants {
		if v.IFrameOnly {
			continue
		}
		// An AUDIO group without playable URIs means audio rides in the
		// video segments
		if v.Audio != "" {
			return domain.StreamTypeMuxedVideoAudio
		}
	}

	for _, v := range master.Variants {
		if !v.IFrameOnly && audioCodec(v.Codecs) != "" {
			return domain.StreamTypeMuxedVideoAudio
		}
	}

	return domain.StreamTypeUnknown
}

// ClassifyAudio derives the AudioType of an EXT-X-MEDIA audio entry.
// codec is the audio codec advertised by variants using the entry's group.
func ClassifyAudio(m hls.Media, codec string) domain.AudioType {
	name := strings.ToLower(m.Name)
	codec = strings.ToLower(codec)
	channels := m.ChannelCount()

	switch {
	case m.IsJOC() || channels >= domain.AtmosChannelCap || strings.Contains(name, "atmos"):
		return domain.AudioTypeDolbyAtmos
	case strings.HasPrefix(codec, "ec-3") || strings.HasPrefix(codec, "ec+3") || strings.HasPrefix(codec, "ac-3"):
		return domain.AudioTypeDolbyDigital
	case channels > domain.StereoChannelCap:
		return domain.AudioTypeSurround
	default:
		return domain.AudioTypeStereo
	}
}

// VideoCandidates filters the variants of a manifest down to one rendition
// per allowed height, picking the highest bitrate at or above the height's
// minimum. The result is sorted by descending height.
func VideoCandidates(master *hls.MasterPlaylist, minBitrates map[int]int64) []domain.Rendition {
	best := make(map[int]domain.Rendition)
	for _, v := range master.Variants {
		if v.IFrameOnly {
			continue
		}
		minBitrate, ok := minBitrates[v.Height]
		if !ok || v.Bandwidth < minBitrate {
			continue
		}
		if cur, ok := best[v.Height]; ok && cur.BitrateBps >= v.Bandwidth {
			continue
		}
		best[v.Height] = videoRendition(v)
	}

	out := make([]domain.Rendition, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	return out
}

// VideoByResolution looks a variant up by raw dimensions. A zero width
// matches any width. The highest bitrate match wins.
func VideoByResolution(master *hls.MasterPlaylist, height, width int) (domain.Rendition, bool) {
	var (
		found domain.Rendition
		ok    bool
	)
	for _, v := range master.Variants {
		if v.IFrameOnly || v.Height != height || (width > 0 && v.Width != width) {
			continue
		}
		if !ok || v.Bandwidth > found.BitrateBps {
			found = videoRendition(v)
			ok = true
		}
	}
	return found, ok
}

// AudioRenditions returns every separately fetchable audio rendition
func AudioRenditions(master *hls.MasterPlaylist) []domain.Rendition {
	codecs := groupAudioCodecs(master)

	var out []domain.Rendition
	for _, m := range master.AudioMedia() {
		if m.URI == "" {
			continue
		}
		codec := codecs[m.GroupID]
		audioType := ClassifyAudio(m, codec)

		channels := m.ChannelCount()
		if channels == 0 {
			channels = defaultChannels(audioType)
		}

		out = append(out, domain.Rendition{
			Role:         domain.RoleAudio,
			Codecs:       codec,
			Language:     NormalizeLanguage(m.Language),
			Name:         m.Name,
			GroupID:      m.GroupID,
			ChannelCount: channels,
			AudioType:    audioType,
			IsDefault:    m.Default,
			PlaylistURL:  m.URI,
		})
	}
	return out
}

// DedupeByLanguage keeps one audio rendition per language, preferring the
// highest AudioType priority. Order of first appearance is preserved.
func DedupeByLanguage(audio []domain.Rendition) []domain.Rendition {
	index := make(map[string]int)
	var out []domain.Rendition
	for _, r := range audio {
		i, ok := index[r.Language]
		if !ok {
			index[r.Language] = len(out)
			out = append(out, r)
			continue
		}
		if betterAudio(r, out[i]) {
			out[i] = r
		}
	}
	return out
}

// PickAudio chooses the audio rendition to download alongside video.
// Candidates are narrowed to the video's audio group and to the language of
// the default rendition. With a cap above stereo the widest layout within
// the cap wins; otherwise a stereo rendition is preferred, default first.
func PickAudio(audio []domain.Rendition, video domain.Rendition, maxChannels int) *domain.Rendition {
	pool := audio
	if video.GroupID != "" {
		if grouped := filterAudio(audio, func(r domain.Rendition) bool { return r.GroupID == video.GroupID }); len(grouped) > 0 {
			pool = grouped
		}
	}
	if len(pool) == 0 {
		return nil
	}

	lang := pool[0].Language
	for _, r := range pool {
		if r.IsDefault {
			lang = r.Language
			break
		}
	}
	pool = filterAudio(pool, func(r domain.Rendition) bool { return r.Language == lang })

	fitting := filterAudio(pool, func(r domain.Rendition) bool { return r.ChannelCount <= maxChannels })
	if len(fitting) == 0 {
		// Nothing fits the cap: take the narrowest layout on offer
		narrowest := pool[0]
		for _, r := range pool[1:] {
			if r.ChannelCount < narrowest.ChannelCount {
				narrowest = r
			}
		}
		return &narrowest
	}

	chosen := fitting[0]
	for _, r := range fitting[1:] {
		if preferAudio(r, chosen, maxChannels > domain.StereoChannelCap) {
			chosen = r
		}
	}
	return &chosen
}

// NormalizeLanguage canonicalizes a BCP 47 tag, returning "und" when the
// tag is missing or malformed
func NormalizeLanguage(tag string) string {
	if strings.TrimSpace(tag) == "" {
		return language.Und.String()
	}
	t, err := language.Parse(tag)
	if err != nil {
		return language.Und.String()
	}
	return t.String()
}

func preferAudio(candidate, current domain.Rendition, wide bool) bool {
	if wide && candidate.ChannelCount != current.ChannelCount {
		return candidate.ChannelCount > current.ChannelCount
	}
	if candidate.IsDefault != current.IsDefault {
		return candidate.IsDefault
	}
	return candidate.AudioType.Priority() > current.AudioType.Priority()
}

func betterAudio(candidate, current domain.Rendition) bool {
	if candidate.AudioType.Priority() != current.AudioType.Priority() {
		return candidate.AudioType.Priority() > current.AudioType.Priority()
	}
	if candidate.IsDefault != current.IsDefault {
		return candidate.IsDefault
	}
	return candidate.ChannelCount > current.ChannelCount
}

func filterAudio(audio []domain.Rendition, keep func(domain.Rendition) bool) []domain.Rendition {
	var out []domain.Rendition
	for _, r := range audio {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func groupAudioCodecs(master *hls.MasterPlaylist) map[string]string {
	out := make(map[string]string)
	for _, v := range master.Variants {
		if v.Audio == "" || v.IFrameOnly {
			continue
		}
		if _, ok := out[v.Audio]; ok {
			continue
		}
		if codec := audioCodec(v.Codecs); codec != "" {
			out[v.Audio] = codec
		}
	}
	return out
}

func audioCodec(codecs string) string {
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		lower := strings.ToLower(c)
		for _, prefix := range audioCodecPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return c
			}
		}
	}
	return ""
}

func defaultChannels(t domain.AudioType) int {
	switch t {
	case domain.AudioTypeDolbyAtmos:
		return domain.AtmosChannelCap
	case domain.AudioTypeDolbyDigital:
		return 6
	default:
		return domain.StereoChannelCap
	}
}

func videoRendition(v hls.Variant) domain.Rendition {
	return domain.Rendition{
		Role:        domain.RoleVideo,
		Height:      v.Height,
		Width:       v.Width,
		BitrateBps:  v.Bandwidth,
		Codecs:      v.Codecs,
		GroupID:     v.Audio,
		PlaylistURL: v.URI,
	}
}
