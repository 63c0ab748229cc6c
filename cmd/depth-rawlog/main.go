// Command depth-rawlog prints the records of a raw CBOR log as JSON and can
// replay its frames through the annotator into PNG files.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"depth-overlay-go/internal/config"
	"depth-overlay-go/internal/ingest"
	"depth-overlay-go/internal/logging"
	"depth-overlay-go/internal/output"
	"depth-overlay-go/internal/processing"
	"depth-overlay-go/internal/types"
)

type options struct {
	limit       int
	pngDir      string
	rawCBOR     bool
	colorFormat string
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "depth-rawlog <file.bin>",
		Short:         "Dump or replay a raw depth-overlay message log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.NewLogger(config.LogSettings{LogLevel: o.logLevel})
			if err != nil {
				return err
			}
			log.SetOutput(cmd.ErrOrStderr())
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open rawlog: %w", err)
			}
			defer f.Close()
			return dump(f, cmd.OutOrStdout(), o, log)
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&o.limit, "limit", "n", 0, "number of records to process (0 for all)")
	fl.StringVar(&o.pngDir, "png-dir", "", "replay frames through the annotator and write PNG files here")
	fl.BoolVar(&o.rawCBOR, "raw", false, "print the undecoded CBOR structure instead of a frame summary")
	fl.StringVar(&o.colorFormat, "color-format", ingest.FormatBGR8, "channel order for frames that do not name one")
	fl.StringVar(&o.logLevel, "log-level", "info", "log level")
	return cmd
}

type recordSummary struct {
	Index     int              `json:"index"`
	Timestamp string           `json:"timestamp"`
	Size      int              `json:"size"`
	Type      string           `json:"type,omitempty"`
	Seq       *uint64          `json:"seq,omitempty"`
	Width     int              `json:"width,omitempty"`
	Height    int              `json:"height,omitempty"`
	Readings  []readingSummary `json:"readings,omitempty"`
	Meta      any              `json:"meta,omitempty"`
	Snapshot  string           `json:"snapshot,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type readingSummary struct {
	Label  string  `json:"label"`
	Meters float64 `json:"meters"`
}

func dump(src io.Reader, dst io.Writer, o *options, log logrus.FieldLogger) error {
	reader, err := output.NewRawLogReader(src)
	if err != nil {
		return err
	}

	var annotator *processing.Annotator
	if o.pngDir != "" {
		if err := os.MkdirAll(o.pngDir, 0o755); err != nil {
			return err
		}
		if annotator, err = processing.NewAnnotator(processing.DefaultStyle()); err != nil {
			return err
		}
	}
	points := types.DefaultSamplePoints()

	enc := json.NewEncoder(dst)
	enc.SetIndent("", "  ")
	for i := 0; o.limit <= 0 || i < o.limit; i++ {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		summary := recordSummary{
			Index:     i,
			Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
			Size:      len(rec.Payload),
		}

		if o.rawCBOR {
			var decoded any
			if err := cbor.Unmarshal(rec.Payload, &decoded); err != nil {
				summary.Error = err.Error()
			} else {
				summary.Meta = output.NormalizeJSONValue(decoded)
			}
			if err := enc.Encode(summary); err != nil {
				return err
			}
			continue
		}

		msg, err := ingest.DecodeMessageFormat(rec.Payload, o.colorFormat)
		if err != nil {
			summary.Error = err.Error()
			log.WithError(err).WithField("record", i).Warn("decode failed")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			continue
		}
		summary.Type = msg.Type
		if msg.Type != "frame" {
			summary.Meta = output.NormalizeJSONValue(msg.Meta)
		} else {
			seq := msg.Frame.Seq
			summary.Seq = &seq
			summary.Width = msg.Frame.Depth.Width
			summary.Height = msg.Frame.Depth.Height
			if annotator != nil {
				annotated, err := annotator.Annotate(msg.Frame.Color, msg.Frame.Depth, points)
				if err != nil {
					summary.Error = err.Error()
				} else {
					for _, r := range annotated.Readings {
						if r.Err == nil {
							summary.Readings = append(summary.Readings, readingSummary{Label: r.Label, Meters: r.Meters})
						}
					}
					path, err := output.WriteSnapshot(o.pngDir, "replay", seq, annotated)
					if err != nil {
						return err
					}
					summary.Snapshot = path
				}
			}
		}
		if err := enc.Encode(summary); err != nil {
			return err
		}
	}
	return nil
}
