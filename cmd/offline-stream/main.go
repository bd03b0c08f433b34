package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/config"
	"github.com/vertextoedge/offline-stream/internal/logger"
)

const version = "0.3.0"

var (
	configPath   string
	outputFormat string

	// cfg is loaded once flags are parsed
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "offline-stream",
	Short: "Download HLS streams for offline playback",
	Long: `offline-stream inspects HLS multivariant manifests, downloads a chosen
video rendition with a matching audio track, and keeps an index of the
artifacts that can be played back without a network connection.

Configuration is read from a YAML file, a .env file in the working
directory, and OFFLINE_STREAM_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case formatTable, formatJSON, formatYAML:
		default:
			return fmt.Errorf("unsupported output format: %s", outputFormat)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := logger.Init(loaded.Logging.Level, loaded.Logging.Format); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded

		logger.GetZapLogger().Debug("configuration loaded",
			zap.String("version", version),
			zap.String("config", configPath),
			zap.String("command", cmd.Name()),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatTable,
		"output format (table, json, yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
