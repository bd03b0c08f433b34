package transfer

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/hls"
)

// Relative layout inside an artifact directory
const (
	videoDir      = "video"
	audioDir      = "audio"
	indexPlaylist = "index.m3u8"
	audioGroupID  = "audio"
)

// item is one remote resource copied into the artifact directory
type item struct {
	url       string
	byteRange *hls.ByteRange
	rel       string // slash-separated path relative to the artifact root
}

// track is a media playlist rewritten to point at local files
type track struct {
	dir      string
	playlist *hls.MediaPlaylist
	items    []item
}

// localize rewrites a media playlist so every segment, init section and
// fetchable key resolves inside dir. Byte-range sub-resources become
// standalone files.
func localize(remote *hls.MediaPlaylist, dir string) *track {
	local := &hls.MediaPlaylist{
		Version:        remote.Version,
		TargetDuration: remote.TargetDuration,
		MediaSequence:  remote.MediaSequence,
		PlaylistType:   "VOD",
		EndList:        true,
	}
	t := &track{dir: dir, playlist: local}

	keys := make(map[*hls.Key]*hls.Key)
	maps := make(map[*hls.InitSection]*hls.InitSection)

	for i, seg := range remote.Segments {
		name := fmt.Sprintf("seg%05d%s", i, extOf(seg.URI, ".ts"))
		t.items = append(t.items, item{url: seg.URI, byteRange: seg.ByteRange, rel: dir + "/" + name})

		ls := hls.Segment{
			URI:           name,
			Duration:      seg.Duration,
			Title:         seg.Title,
			Discontinuity: seg.Discontinuity,
		}

		if seg.Map != nil {
			lm, ok := maps[seg.Map]
			if !ok {
				mapName := fmt.Sprintf("init%d%s", len(maps), extOf(seg.Map.URI, ".mp4"))
				t.items = append(t.items, item{url: seg.Map.URI, byteRange: seg.Map.ByteRange, rel: dir + "/" + mapName})
				lm = &hls.InitSection{URI: mapName}
				maps[seg.Map] = lm
			}
			ls.Map = lm
		}

		if seg.Key != nil {
			lk, ok := keys[seg.Key]
			if !ok {
				copied := *seg.Key
				lk = &copied
				if fetchableKey(seg.Key) {
					keyName := fmt.Sprintf("key%d.key", len(keys))
					t.items = append(t.items, item{url: seg.Key.URI, rel: dir + "/" + keyName})
					lk.URI = keyName
				}
				keys[seg.Key] = lk
			}
			ls.Key = lk
		}

		local.Segments = append(local.Segments, ls)
	}

	if local.TargetDuration == 0 {
		for _, s := range local.Segments {
			if d := int(s.Duration + 0.999); d > local.TargetDuration {
				local.TargetDuration = d
			}
		}
	}

	return t
}

// localMaster builds the master playlist of a bundle
func localMaster(video *domain.Rendition, audio *domain.Rendition, version int) *hls.MasterPlaylist {
	if version < 3 {
		version = 3
	}
	master := &hls.MasterPlaylist{Version: version}

	variant := hls.Variant{
		URI:       videoDir + "/" + indexPlaylist,
		Bandwidth: video.BitrateBps,
		Width:     video.Width,
		Height:    video.Height,
		Codecs:    video.Codecs,
	}

	if audio != nil {
		master.Media = append(master.Media, hls.Media{
			Type:       "AUDIO",
			GroupID:    audioGroupID,
			Language:   audio.Language,
			Name:       audio.Name,
			Channels:   channelsAttr(audio),
			URI:        audioDir + "/" + indexPlaylist,
			Default:    true,
			AutoSelect: true,
		})
		variant.Audio = audioGroupID
		variant.Bandwidth += audio.BitrateBps
		if audio.Codecs != "" && variant.Codecs != "" && !strings.Contains(variant.Codecs, audio.Codecs) {
			variant.Codecs += "," + audio.Codecs
		}
	}
	if variant.Bandwidth <= 0 {
		variant.Bandwidth = 1
	}

	master.Variants = []hls.Variant{variant}
	return master
}

func channelsAttr(r *domain.Rendition) string {
	if r.ChannelCount <= 0 {
		return ""
	}
	if r.AudioType == domain.AudioTypeDolbyAtmos {
		return fmt.Sprintf("%d/JOC", r.ChannelCount)
	}
	return fmt.Sprintf("%d", r.ChannelCount)
}

// fetchableKey reports whether a key is a clear AES-128 key served over HTTP
func fetchableKey(k *hls.Key) bool {
	if k.Method != "AES-128" {
		return false
	}
	return strings.HasPrefix(k.URI, "http://") || strings.HasPrefix(k.URI, "https://")
}

func extOf(rawURL, fallback string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := path.Ext(p)
	if ext == "" || len(ext) > 6 {
		return fallback
	}
	return ext
}
