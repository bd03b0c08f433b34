package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

var tracksHeaders map[string]string

var tracksCmd = &cobra.Command{
	Use:   "tracks [master-url]",
	Short: "List the video and audio tracks a stream offers for download",
	Long: `tracks fetches a multivariant manifest and prints the video renditions
that pass the configured resolution and bitrate rules, with an estimated
download size for each, followed by the audio tracks.`,
	Args: cobra.ExactArgs(1),
	RunE: runTracks,
}

var cachedCmd = &cobra.Command{
	Use:   "cached [uri]",
	Short: "Report whether a stream or download id is available offline",
	Args:  cobra.ExactArgs(1),
	RunE:  runCached,
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "List artifacts registered for offline playback",
	Args:  cobra.NoArgs,
	RunE:  runLibrary,
}

var removeCmd = &cobra.Command{
	Use:   "remove [download-id]",
	Short: "Remove a download or a registered artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run every maintenance task once",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(tracksCmd, cachedCmd, libraryCmd, removeCmd, cleanupCmd)

	tracksCmd.Flags().StringToStringVarP(&tracksHeaders, "header", "H", nil,
		"extra request header as name=value (repeatable)")
}

func runTracks(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.ready()

	listing, err := a.engine.ListTracks(cmd.Context(), args[0], tracksHeaders)
	if err != nil {
		return err
	}
	return renderListing(os.Stdout, outputFormat, listing)
}

type cachedResult struct {
	URI    string                `json:"uri"`
	Cached bool                  `json:"cached"`
	Entry  *domain.RegistryEntry `json:"entry,omitempty"`
}

func runCached(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.ready()

	result := cachedResult{URI: args[0]}
	result.Cached = a.registry.IsCached(cmd.Context(), args[0])
	if result.Cached {
		if result.Entry, err = a.registry.Lookup(args[0]); err != nil {
			return err
		}
	}

	return render(os.Stdout, outputFormat, result, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "URI:\t%s\n", result.URI)
		fmt.Fprintf(tw, "Cached:\t%t\n", result.Cached)
		if result.Entry != nil {
			fmt.Fprintf(tw, "Download:\t%s\n", result.Entry.DownloadID)
			fmt.Fprintf(tw, "Location:\t%s\n", result.Entry.ArtifactLocation)
			fmt.Fprintf(tw, "Size:\t%s\n", humanize.Bytes(uint64(max(result.Entry.FileSizeBytes, 0))))
		}
	})
}

func runLibrary(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.ready()

	entries, err := a.registry.List()
	if err != nil {
		return err
	}
	return renderEntries(os.Stdout, outputFormat, entries)
}

func runRemove(cmd *cobra.Command, args []string) error {
	return withRecoveredEngine(cmd, func(a *app) error {
		if err := a.engine.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "removed %s\n", args[0])
		return nil
	})
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.ready()

	a.maintenance.RunOnce()

	stats, err := a.store.GetStorageStats()
	if err != nil {
		return err
	}
	return render(os.Stdout, outputFormat, stats, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Registered:\t%d (%s)\n", stats.RegisteredEntries, humanize.Bytes(uint64(max(stats.RegisteredBytes, 0))))
		fmt.Fprintf(tw, "Active:\t%d\n", stats.ActiveRecords)
		fmt.Fprintf(tw, "Failed:\t%d\n", stats.FailedRecords)
	})
}
