package hls

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseMaster parses a multivariant playlist. Relative URIs are resolved
// against baseURL.
func ParseMaster(data []byte, baseURL string) (*MasterPlaylist, error) {
	playlist := &MasterPlaylist{URL: baseURL}

	scanner, err := newScanner(data)
	if err != nil {
		return nil, err
	}

	var pending *Variant
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || (strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#EXT")) {
			continue
		}

		if !strings.HasPrefix(line, "#") {
			// URI line completes the preceding STREAM-INF
			if pending != nil {
				pending.URI = resolve(baseURL, line)
				playlist.Variants = append(playlist.Variants, *pending)
				pending = nil
			}
			continue
		}

		tag, value := splitTag(line)
		switch tag {
		case "#EXT-X-VERSION":
			if v, err := strconv.Atoi(value); err == nil {
				playlist.Version = v
			}

		case "#EXT-X-INDEPENDENT-SEGMENTS":
			playlist.IndependentSegments = true

		case "#EXT-X-STREAM-INF":
			v := parseVariant(parseAttributes(value))
			pending = &v

		case "#EXT-X-I-FRAME-STREAM-INF":
			// Trick-play variants carry their URI as an attribute
			attrs := parseAttributes(value)
			v := parseVariant(attrs)
			v.IFrameOnly = true
			v.URI = resolve(baseURL, attrs["URI"])
			playlist.Variants = append(playlist.Variants, v)

		case "#EXT-X-MEDIA":
			attrs := parseAttributes(value)
			m := Media{
				Type:       attrs["TYPE"],
				GroupID:    attrs["GROUP-ID"],
				Language:   attrs["LANGUAGE"],
				Name:       attrs["NAME"],
				Channels:   attrs["CHANNELS"],
				Default:    attrs["DEFAULT"] == "YES",
				AutoSelect: attrs["AUTOSELECT"] == "YES",
			}
			if uri := attrs["URI"]; uri != "" {
				m.URI = resolve(baseURL, uri)
			}
			playlist.Media = append(playlist.Media, m)

		case "#EXTINF":
			return nil, ErrNotMaster
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading playlist: %w", err)
	}

	if len(playlist.Variants) == 0 {
		return nil, ErrNotMaster
	}

	return playlist, nil
}

// ParseMedia parses a media playlist. Relative URIs are resolved against
// baseURL.
func ParseMedia(data []byte, baseURL string) (*MediaPlaylist, error) {
	playlist := &MediaPlaylist{URL: baseURL}

	scanner, err := newScanner(data)
	if err != nil {
		return nil, err
	}

	var (
		current       *Segment
		key           *Key
		initSection   *InitSection
		discontinuity bool
		pendingRange  *ByteRange
		lastRange     = map[string]int64{} // next implicit offset per URI
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || (strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#EXT")) {
			continue
		}

		if !strings.HasPrefix(line, "#") {
			if current == nil {
				continue
			}
			current.URI = resolve(baseURL, line)
			if pendingRange != nil {
				br := *pendingRange
				if br.Offset < 0 {
					br.Offset = lastRange[current.URI]
				}
				lastRange[current.URI] = br.Offset + br.Length
				current.ByteRange = &br
				pendingRange = nil
			}
			current.Key = key
			current.Map = initSection
			current.Discontinuity = discontinuity
			discontinuity = false
			playlist.Segments = append(playlist.Segments, *current)
			current = nil
			continue
		}

		tag, value := splitTag(line)
		switch tag {
		case "#EXT-X-STREAM-INF", "#EXT-X-I-FRAME-STREAM-INF":
			return nil, ErrNotMedia

		case "#EXT-X-VERSION":
			if v, err := strconv.Atoi(value); err == nil {
				playlist.Version = v
			}

		case "#EXT-X-TARGETDURATION":
			if v, err := strconv.Atoi(value); err == nil {
				playlist.TargetDuration = v
			}

		case "#EXT-X-MEDIA-SEQUENCE":
			if v, err := strconv.Atoi(value); err == nil {
				playlist.MediaSequence = v
			}

		case "#EXT-X-PLAYLIST-TYPE":
			playlist.PlaylistType = value

		case "#EXTINF":
			current = &Segment{}
			parts := strings.SplitN(value, ",", 2)
			if d, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err == nil {
				current.Duration = d
			}
			if len(parts) > 1 {
				current.Title = parts[1]
			}

		case "#EXT-X-BYTERANGE":
			br, err := parseByteRange(value)
			if err != nil {
				return nil, err
			}
			pendingRange = br

		case "#EXT-X-DISCONTINUITY":
			discontinuity = true

		case "#EXT-X-KEY":
			attrs := parseAttributes(value)
			if attrs["METHOD"] == "NONE" {
				key = nil
				continue
			}
			key = &Key{
				Method:            attrs["METHOD"],
				IV:                attrs["IV"],
				KeyFormat:         attrs["KEYFORMAT"],
				KeyFormatVersions: attrs["KEYFORMATVERSIONS"],
			}
			if uri := attrs["URI"]; uri != "" {
				key.URI = resolve(baseURL, uri)
			}

		case "#EXT-X-MAP":
			attrs := parseAttributes(value)
			initSection = &InitSection{URI: resolve(baseURL, attrs["URI"])}
			if raw := attrs["BYTERANGE"]; raw != "" {
				br, err := parseByteRange(raw)
				if err != nil {
					return nil, err
				}
				if br.Offset < 0 {
					br.Offset = 0
				}
				initSection.ByteRange = br
			}

		case "#EXT-X-ENDLIST":
			playlist.EndList = true
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading playlist: %w", err)
	}

	if len(playlist.Segments) == 0 {
		return nil, ErrNotMedia
	}

	return playlist, nil
}

// IsMaster reports whether data looks like a multivariant playlist
func IsMaster(data []byte) bool {
	return bytes.Contains(data, []byte("#EXT-X-STREAM-INF"))
}

// ResolveURI resolves ref against base. An unparsable base leaves ref unchanged.
func ResolveURI(base, ref string) string {
	return resolve(base, ref)
}

func newScanner(data []byte) (*bufio.Scanner, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, ErrEmptyPlaylist
	}

	// First line must be #EXTM3U, tolerating a UTF-8 BOM
	firstLine := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "\ufeff")
	if firstLine != "#EXTM3U" {
		return nil, ErrMissingHeader
	}

	return scanner, nil
}

func splitTag(line string) (string, string) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) > 1 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func parseVariant(attrs map[string]string) Variant {
	v := Variant{
		Codecs: attrs["CODECS"],
		Audio:  attrs["AUDIO"],
	}
	if b, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
		v.Bandwidth = b
	}
	if b, err := strconv.ParseInt(attrs["AVERAGE-BANDWIDTH"], 10, 64); err == nil {
		v.AverageBandwidth = b
	}
	if res := attrs["RESOLUTION"]; res != "" {
		v.Width, v.Height = parseResolution(res)
	}
	if f, err := strconv.ParseFloat(attrs["FRAME-RATE"], 64); err == nil {
		v.FrameRate = f
	}
	return v
}

// parseAttributes parses attribute lists like
// 'BANDWIDTH=1280000,CODECS="avc1.42e00a,mp4a.40.2"'. Quotes are stripped.
func parseAttributes(attrString string) map[string]string {
	attrs := make(map[string]string)

	// Split by comma, but be careful with quoted values
	var parts []string
	var current strings.Builder
	inQuotes := false

	for _, char := range attrString {
		switch char {
		case '"':
			inQuotes = !inQuotes
			current.WriteRune(char)
		case ',':
			if inQuotes {
				current.WriteRune(char)
			} else {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	for _, part := range parts {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 {
			attrs[strings.ToUpper(kv[0])] = strings.Trim(kv[1], "\"")
		}
	}

	return attrs
}

func parseResolution(res string) (int, int) {
	w, h, ok := strings.Cut(strings.ToLower(res), "x")
	if !ok {
		return 0, 0
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return width, height
}

// parseByteRange parses "<n>[@<o>]". A missing offset is returned as -1.
func parseByteRange(value string) (*ByteRange, error) {
	length, offset, hasOffset := strings.Cut(strings.TrimSpace(value), "@")
	n, err := strconv.ParseInt(length, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidByteRange, value)
	}
	br := &ByteRange{Length: n, Offset: -1}
	if hasOffset {
		o, err := strconv.ParseInt(offset, 10, 64)
		if err != nil || o < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidByteRange, value)
		}
		br.Offset = o
	}
	return br, nil
}

func parseChannelCount(channels string) int {
	head, _, _ := strings.Cut(channels, "/")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return n
}

func hasChannelParam(channels, param string) bool {
	parts := strings.Split(channels, "/")
	for _, p := range parts[1:] {
		for _, item := range strings.Split(p, ",") {
			if strings.EqualFold(strings.TrimSpace(item), param) {
				return true
			}
		}
	}
	return false
}

func resolve(base, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
