package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/service/engine"
)

var (
	downloadID      string
	downloadHeight  int
	downloadWidth   int
	downloadAtmos   bool
	downloadStream  string
	downloadHeaders map[string]string
	downloadNoWait  bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [master-url]",
	Short: "Download a stream for offline playback",
	Long: `download selects the video rendition matching --height (and --width when
several renditions share a height) plus the best matching audio track, and
downloads them in the foreground. Interrupting the command pauses the
download; continue it later with "resume".

Examples:
  offline-stream download --height 720 https://cdn.example.com/movie/master.m3u8
  offline-stream download --id movie-42 --height 1080 --atmos \
      -H Authorization="Bearer token" https://cdn.example.com/movie/master.m3u8`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [download-id]",
	Short: "Resume a paused download in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var pauseCmd = &cobra.Command{
	Use:   "pause [download-id]",
	Short: "Pause a download, keeping the bytes written so far",
	Args:  cobra.ExactArgs(1),
	RunE:  runPause,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [download-id]",
	Short: "Cancel a download and discard its data",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloads that are not yet registered for offline playback",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(downloadCmd, resumeCmd, pauseCmd, cancelCmd, listCmd)

	downloadCmd.Flags().StringVar(&downloadID, "id", "",
		"download id (default is a generated UUID)")
	downloadCmd.Flags().IntVar(&downloadHeight, "height", 0,
		"video height to download, e.g. 720")
	downloadCmd.Flags().IntVar(&downloadWidth, "width", 0,
		"video width, used when several renditions share a height")
	downloadCmd.Flags().BoolVar(&downloadAtmos, "atmos", false,
		"prefer Dolby Atmos audio when available")
	downloadCmd.Flags().StringVar(&downloadStream, "stream-type", "",
		"override the detected stream type (separate_audio_video, muxed_video_audio, unknown)")
	downloadCmd.Flags().StringToStringVarP(&downloadHeaders, "header", "H", nil,
		"extra request header as name=value (repeatable)")
	downloadCmd.Flags().BoolVar(&downloadNoWait, "no-wait", false,
		"start the download and return immediately")
	_ = downloadCmd.MarkFlagRequired("height")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	id := downloadID
	if id == "" {
		id = uuid.NewString()
	}

	done := a.watch(id)
	a.ready()

	req := domain.TrackRequest{
		MasterURL:        args[0],
		DownloadID:       id,
		Height:           downloadHeight,
		Width:            downloadWidth,
		PreferDolbyAtmos: downloadAtmos,
		Headers:          downloadHeaders,
	}
	if downloadStream != "" {
		req.StreamType = domain.ParseStreamType(downloadStream)
	}

	status, err := a.engine.Start(ctx, req)
	if err != nil {
		return err
	}
	if downloadNoWait {
		return renderStatuses(os.Stdout, outputFormat, []*engine.Status{status})
	}
	return a.wait(ctx, id, done)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]
	done := a.watch(id)
	a.ready()

	if _, err := a.engine.Recover(ctx); err != nil {
		return err
	}
	if err := a.engine.Resume(ctx, id); err != nil {
		return err
	}
	return a.wait(ctx, id, done)
}

func runPause(cmd *cobra.Command, args []string) error {
	return withRecoveredEngine(cmd, func(a *app) error {
		if err := a.engine.Pause(args[0]); err != nil {
			return err
		}
		return a.printStatus(args[0])
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	return withRecoveredEngine(cmd, func(a *app) error {
		if err := a.engine.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "canceled %s\n", args[0])
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.ready()

	statuses, err := a.engine.List()
	if err != nil {
		return err
	}
	return renderStatuses(os.Stdout, outputFormat, statuses)
}

// withRecoveredEngine runs fn once persisted downloads are re-attached, so
// operations act on the same state a long-running process would see
func withRecoveredEngine(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.ready()

	if _, err := a.engine.Recover(cmd.Context()); err != nil {
		return err
	}
	return fn(a)
}

// watch subscribes to the events of one download. The returned channel
// receives the terminal event.
func (a *app) watch(downloadID string) <-chan event.DomainEvent {
	done := make(chan event.DomainEvent, 1)
	a.dispatcher.Subscribe(&event.HandlerFunc{
		Events: []string{
			event.NameDownloadProgress,
			event.NameDownloadCompleted,
			event.NameDownloadFailed,
			event.NameDownloadCanceled,
		},
		Fn: func(e event.DomainEvent) {
			switch ev := e.(type) {
			case event.DownloadProgress:
				if ev.DownloadID == downloadID {
					fmt.Fprint(os.Stderr, progressLine(ev))
				}
				return
			case event.DownloadCompleted:
				if ev.DownloadID != downloadID {
					return
				}
			case event.DownloadFailed:
				if ev.DownloadID != downloadID {
					return
				}
			case event.DownloadCanceled:
				if ev.DownloadID != downloadID {
					return
				}
			}
			select {
			case done <- e:
			default:
			}
		},
	})
	return done
}

// wait blocks until the download reaches a terminal state. An interrupt
// pauses the download instead.
func (a *app) wait(ctx context.Context, downloadID string, done <-chan event.DomainEvent) error {
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		if err := a.engine.Pause(downloadID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		fmt.Fprintf(os.Stderr, "paused %s, continue with: offline-stream resume %s\n", downloadID, downloadID)
		return nil
	case e := <-done:
		fmt.Fprintln(os.Stderr)
		switch ev := e.(type) {
		case event.DownloadFailed:
			return fmt.Errorf("download %s failed: %s", downloadID, ev.Error)
		case event.DownloadCanceled:
			return fmt.Errorf("download %s was canceled", downloadID)
		}
		return a.printStatus(downloadID)
	}
}

func (a *app) printStatus(downloadID string) error {
	status, err := a.engine.Get(downloadID)
	if err != nil {
		return err
	}
	return renderStatuses(os.Stdout, outputFormat, []*engine.Status{status})
}
