package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/service/engine"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// render writes v in the requested format. table is called for the
// table format only.
func render(w io.Writer, format string, v any, table func(tw *tabwriter.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		// Round-trip through JSON so YAML keys follow the json tags
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

func renderStatuses(w io.Writer, format string, statuses []*engine.Status) error {
	return render(w, format, statuses, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tSTATE\tPROGRESS\tSIZE\tDETAIL")
		for _, s := range statuses {
			fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\n",
				s.DownloadID, s.State, s.Percent, sizeLabel(s.BytesDownloaded, s.TotalBytes), statusDetail(s))
		}
	})
}

func renderListing(w io.Writer, format string, listing *domain.TrackListing) error {
	return render(w, format, listing, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Stream:\t%s\n", listing.StreamType)
		fmt.Fprintf(tw, "Duration:\t%.0fs\n\n", listing.DurationSeconds)

		fmt.Fprintln(tw, "ROLE\tRESOLUTION\tBITRATE\tCODECS\tLANGUAGE\tCHANNELS\tEST. SIZE")
		for _, r := range listing.VideoCandidates {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\t\t%s\n",
				r.Role, r.Resolution(), bitrateLabel(r.BitrateBps), r.Codecs, humanize.Bytes(uint64(max(r.EstimatedSizeBytes, 0))))
		}
		for _, r := range listing.AudioCandidates {
			fmt.Fprintf(tw, "%s\t\t%s\t%s\t%s\t%d\t\n",
				r.Role, bitrateLabel(r.BitrateBps), r.Codecs, r.Language, r.ChannelCount)
		}
	})
}

func renderEntries(w io.Writer, format string, entries []*domain.RegistryEntry) error {
	return render(w, format, entries, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tSIZE\tREGISTERED\tLOCATION")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				e.DownloadID, humanize.Bytes(uint64(max(e.FileSizeBytes, 0))), humanize.Time(e.RegisteredAt), e.ArtifactLocation)
		}
	})
}

func sizeLabel(done, total int64) string {
	if total <= 0 {
		return humanize.Bytes(uint64(max(done, 0)))
	}
	return humanize.Bytes(uint64(max(done, 0))) + " / " + humanize.Bytes(uint64(total))
}

func bitrateLabel(bps int64) string {
	if bps <= 0 {
		return ""
	}
	return strings.Replace(humanize.SI(float64(bps), "bps"), " ", "", 1)
}

func statusDetail(s *engine.Status) string {
	switch {
	case s.LastError != "":
		return s.LastError
	case s.Incomplete:
		return "incomplete, restart required"
	default:
		return s.ArtifactLocation
	}
}

// progressLine renders one in-place progress update
func progressLine(p event.DownloadProgress) string {
	return fmt.Sprintf("\r%s  %-11s %5.1f%%  %s", p.DownloadID, p.State, p.Progress, sizeLabel(p.BytesDownloaded, p.TotalBytes))
}
