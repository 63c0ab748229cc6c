// Command depth-sim publishes simulated color/depth frame pairs over a ZMQ
// PUSH socket in the format depth-overlay ingests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pebbe/zmq4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"depth-overlay-go/internal/config"
	"depth-overlay-go/internal/ingest"
	"depth-overlay-go/internal/logging"
	"depth-overlay-go/internal/simulator"
)

type options struct {
	configPath  string
	bind        string
	width       int
	height      int
	fps         float64
	frames      int
	format      string
	compression string
	seed        int64
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
		Use:           "depth-sim",
		Short:         "Publish simulated depth camera frames over ZMQ",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			applyCamera(cmd, o, cfg.Camera)
			log, err := logging.NewLogger(config.LogSettings{LogLevel: o.logLevel})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return publish(ctx, o, log)
		},
	}

	def := config.Default()
	fl := cmd.Flags()
	fl.StringVarP(&o.configPath, "config", "c", "", "YAML configuration; camera settings become flag defaults")
	fl.StringVar(&o.bind, "bind", "tcp://*:31001", "ZMQ endpoint to bind the PUSH socket to")
	fl.IntVar(&o.width, "width", def.Camera.Width, "frame width")
	fl.IntVar(&o.height, "height", def.Camera.Height, "frame height")
	fl.Float64Var(&o.fps, "fps", def.Camera.FPS, "frames per second")
	fl.IntVar(&o.frames, "frames", 0, "number of frames to send (0 runs until interrupted)")
	fl.StringVar(&o.format, "color-format", def.Camera.ColorFormat, "color channel order: bgr8 or rgb8")
	fl.StringVar(&o.compression, "compression", "", "payload compression: zstd, s2 or empty")
	fl.Int64Var(&o.seed, "seed", 1, "noise seed")
	fl.StringVar(&o.logLevel, "log-level", "info", "log level")
	return cmd
}

// applyCamera fills the frame settings not given on the command line from
// the camera section of the configuration.
func applyCamera(cmd *cobra.Command, o *options, camera config.CameraConfig) {
	changed := cmd.Flags().Changed
	if !changed("width") {
		o.width = camera.Width
	}
	if !changed("height") {
		o.height = camera.Height
	}
	if !changed("fps") {
		o.fps = camera.FPS
	}
	if !changed("color-format") {
		o.format = camera.ColorFormat
	}
}

func publish(ctx context.Context, o *options, log logrus.FieldLogger) error {
	if o.width < 1 || o.height < 1 {
		return fmt.Errorf("invalid frame size %dx%d", o.width, o.height)
	}
	if o.fps <= 0 {
		o.fps = 30
	}

	socket, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return err
	}
	defer socket.Close()
	if err := socket.SetLinger(0); err != nil {
		return err
	}
	if err := socket.SetSndhwm(8); err != nil {
		return err
	}
	if err := socket.Bind(o.bind); err != nil {
		return fmt.Errorf("bind %s: %w", o.bind, err)
	}

	runID := uuid.NewString()
	log = log.WithField("run", runID)
	start, err := ingest.EncodeMeta("start", map[string]any{
		"source":           "depth-sim",
		"run_id":           runID,
		"width":            o.width,
		"height":           o.height,
		"fps":              o.fps,
		"number_of_frames": o.frames,
		"compression":      o.compression,
	})
	if err != nil {
		return err
	}
	if _, err := socket.SendBytes(start, 0); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	log.WithField("bind", o.bind).Info("publishing frames")

	scene := simulator.NewScene(o.width, o.height, o.seed)
	ticker := time.NewTicker(time.Duration(float64(time.Second) / o.fps))
	defer ticker.Stop()

	began := time.Now()
	var seq uint64
	for o.frames == 0 || seq < uint64(o.frames) {
		select {
		case <-ctx.Done():
			return sendEnd(socket, seq)
		case <-ticker.C:
		}
		pair := scene.Frame(seq, time.Since(began).Seconds())
		payload, err := ingest.EncodeFrame(pair, o.format, o.compression)
		if err != nil {
			return err
		}
		if _, err := socket.SendBytes(payload, 0); err != nil {
			return fmt.Errorf("send frame %d: %w", seq, err)
		}
		seq++
		if seq%uint64(100) == 0 {
			log.WithFields(logrus.Fields{"frames": seq, "bytes": len(payload)}).Info("progress")
		}
	}
	return sendEnd(socket, seq)
}

func sendEnd(socket *zmq4.Socket, sent uint64) error {
	end, err := ingest.EncodeMeta("end", map[string]any{"frames_sent": sent})
	if err != nil {
		return err
	}
	_, err = socket.SendBytes(end, zmq4.DONTWAIT)
	if err != nil && zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
		return nil
	}
	return err
}
