package hls

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteMaster encodes a multivariant playlist. URIs are written as stored.
func WriteMaster(w io.Writer, p *MasterPlaylist) error {
	bw := bufio.NewWriter(w)

	bw.WriteString("#EXTM3U\n")
	if p.Version > 0 {
		fmt.Fprintf(bw, "#EXT-X-VERSION:%d\n", p.Version)
	}
	if p.IndependentSegments {
		bw.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	}

	for _, m := range p.Media {
		attrs := []string{
			"TYPE=" + m.Type,
			"GROUP-ID=" + quote(m.GroupID),
		}
		if m.Language != "" {
			attrs = append(attrs, "LANGUAGE="+quote(m.Language))
		}
		if m.Name != "" {
			attrs = append(attrs, "NAME="+quote(m.Name))
		}
		attrs = append(attrs, "DEFAULT="+yesNo(m.Default), "AUTOSELECT="+yesNo(m.AutoSelect))
		if m.Channels != "" {
			attrs = append(attrs, "CHANNELS="+quote(m.Channels))
		}
		if m.URI != "" {
			attrs = append(attrs, "URI="+quote(m.URI))
		}
		fmt.Fprintf(bw, "#EXT-X-MEDIA:%s\n", strings.Join(attrs, ","))
	}

	for _, v := range p.Variants {
		attrs := []string{"BANDWIDTH=" + strconv.FormatInt(v.Bandwidth, 10)}
		if v.AverageBandwidth > 0 {
			attrs = append(attrs, "AVERAGE-BANDWIDTH="+strconv.FormatInt(v.AverageBandwidth, 10))
		}
		if v.Width > 0 && v.Height > 0 {
			attrs = append(attrs, fmt.Sprintf("RESOLUTION=%dx%d", v.Width, v.Height))
		}
		if v.Codecs != "" {
			attrs = append(attrs, "CODECS="+quote(v.Codecs))
		}
		if v.FrameRate > 0 {
			attrs = append(attrs, "FRAME-RATE="+strconv.FormatFloat(v.FrameRate, 'f', 3, 64))
		}
		if v.IFrameOnly {
			attrs = append(attrs, "URI="+quote(v.URI))
			fmt.Fprintf(bw, "#EXT-X-I-FRAME-STREAM-INF:%s\n", strings.Join(attrs, ","))
			continue
		}
		if v.Audio != "" {
			attrs = append(attrs, "AUDIO="+quote(v.Audio))
		}
		fmt.Fprintf(bw, "#EXT-X-STREAM-INF:%s\n%s\n", strings.Join(attrs, ","), v.URI)
	}

	return bw.Flush()
}

// WriteMedia encodes a media playlist. URIs are written as stored; key
// and init-section tags are emitted whenever they change.
func WriteMedia(w io.Writer, p *MediaPlaylist) error {
	bw := bufio.NewWriter(w)

	bw.WriteString("#EXTM3U\n")
	if p.Version > 0 {
		fmt.Fprintf(bw, "#EXT-X-VERSION:%d\n", p.Version)
	}
	fmt.Fprintf(bw, "#EXT-X-TARGETDURATION:%d\n", p.TargetDuration)
	fmt.Fprintf(bw, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence)
	if p.PlaylistType != "" {
		fmt.Fprintf(bw, "#EXT-X-PLAYLIST-TYPE:%s\n", p.PlaylistType)
	}

	var key *Key
	var initSection *InitSection
	for _, s := range p.Segments {
		if s.Key != key {
			writeKey(bw, s.Key)
			key = s.Key
		}
		if s.Map != nil && s.Map != initSection {
			attrs := "URI=" + quote(s.Map.URI)
			if s.Map.ByteRange != nil {
				attrs += ",BYTERANGE=" + quote(formatByteRange(s.Map.ByteRange))
			}
			fmt.Fprintf(bw, "#EXT-X-MAP:%s\n", attrs)
			initSection = s.Map
		}
		if s.Discontinuity {
			bw.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(bw, "#EXTINF:%s,%s\n", strconv.FormatFloat(s.Duration, 'f', -1, 64), s.Title)
		if s.ByteRange != nil {
			fmt.Fprintf(bw, "#EXT-X-BYTERANGE:%s\n", formatByteRange(s.ByteRange))
		}
		bw.WriteString(s.URI + "\n")
	}

	if p.EndList {
		bw.WriteString("#EXT-X-ENDLIST\n")
	}

	return bw.Flush()
}

func writeKey(bw *bufio.Writer, k *Key) {
	if k == nil {
		bw.WriteString("#EXT-X-KEY:METHOD=NONE\n")
		return
	}
	attrs := []string{"METHOD=" + k.Method}
	if k.URI != "" {
		attrs = append(attrs, "URI="+quote(k.URI))
	}
	if k.IV != "" {
		attrs = append(attrs, "IV="+k.IV)
	}
	if k.KeyFormat != "" {
		attrs = append(attrs, "KEYFORMAT="+quote(k.KeyFormat))
	}
	if k.KeyFormatVersions != "" {
		attrs = append(attrs, "KEYFORMATVERSIONS="+quote(k.KeyFormatVersions))
	}
	fmt.Fprintf(bw, "#EXT-X-KEY:%s\n", strings.Join(attrs, ","))
}

func formatByteRange(br *ByteRange) string {
	return fmt.Sprintf("%d@%d", br.Length, br.Offset)
}

func quote(s string) string {
	return `"` + s + `"`
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}
