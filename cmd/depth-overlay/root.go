package main

import (
	"github.com/spf13/cobra"

	"depth-overlay-go/internal/config"
)

type flags struct {
	configPath    string
	port          int
	source        string
	endpoint      string
	fallback      bool
	rawLog        bool
	logLevel      string
	snapshotEvery int
	outputDir     string
	palette       string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "depth-overlay",
		Short:         "Overlay depth readings on a live camera stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, f, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fl.IntVar(&f.port, "port", 0, "HTTP port for the preview")
	fl.StringVar(&f.source, "source", "", "frame source: simulator or zmq")
	fl.StringVar(&f.endpoint, "endpoint", "", "ZMQ endpoint to pull frames from")
	fl.BoolVar(&f.fallback, "fallback", true, "fall back to the simulator when ingest cannot start")
	fl.BoolVar(&f.rawLog, "raw-log", false, "record raw CBOR messages to disk")
	fl.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fl.IntVar(&f.snapshotEvery, "snapshot-every", 0, "write every Nth annotated frame as PNG (0 disables)")
	fl.StringVar(&f.outputDir, "output-dir", "", "directory for PNG snapshots")
	fl.StringVar(&f.palette, "palette", "", "depth palette: jet or gray")
	return cmd
}

// applyFlags overrides file settings with the flags set on the command line.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.AppConfig) {
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("source") {
		cfg.Source.Mode = f.source
	}
	if changed("endpoint") {
		cfg.Source.Endpoint = f.endpoint
	}
	if changed("fallback") {
		cfg.Source.Fallback = f.fallback
	}
	if changed("raw-log") {
		cfg.Source.RawLog = f.rawLog
	}
	if changed("log-level") {
		cfg.Log.LogLevel = f.logLevel
	}
	if changed("snapshot-every") {
		cfg.Output.SnapshotEvery = f.snapshotEvery
	}
	if changed("output-dir") {
		cfg.Output.Dir = f.outputDir
	}
	if changed("palette") {
		cfg.Overlay.Palette = f.palette
	}
}
