package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"depth-overlay-go/internal/config"
	"depth-overlay-go/internal/ingest"
	"depth-overlay-go/internal/logging"
	"depth-overlay-go/internal/metrics"
	"depth-overlay-go/internal/output"
	"depth-overlay-go/internal/pipeline"
	"depth-overlay-go/internal/processing"
	"depth-overlay-go/internal/server"
	"depth-overlay-go/internal/simulator"
	"depth-overlay-go/internal/types"
)

func run(parent context.Context, cfg *config.AppConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	style, err := styleFromConfig(cfg.Overlay)
	if err != nil {
		return err
	}
	annotator, err := processing.NewAnnotator(style)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	agg := processing.NewAggregator(cfg.Overlay.Points)
	state := &runState{cfg: cfg, started: time.Now()}

	srv := server.New(*cfg, server.Options{
		Logger:  log,
		Metrics: m,
		StatusFn: func() map[string]any {
			return state.status(m, agg)
		},
		SnapshotFn: func() any {
			if agg.FrameCount() == 0 {
				return nil
			}
			return agg.SnapshotCopy()
		},
	})

	sink := pipeline.MultiSink{srv}
	if cfg.Output.SnapshotEvery > 0 {
		snapshots, err := output.NewSnapshotSink(cfg.Output.Dir, "overlay", cfg.Output.SnapshotEvery, func(path string) {
			m.SnapshotsWritten.Inc()
			log.WithField("path", path).Debug("snapshot written")
		})
		if err != nil {
			return fmt.Errorf("snapshot sink: %w", err)
		}
		sink = append(sink, snapshots)
	}

	var recorder ingest.RawRecorder
	if cfg.Source.RawLog && cfg.Source.Mode == "zmq" {
		writer, err := output.NewRawLogWriter(cfg.Source.RawLogDir, "raw_cbor")
		if err != nil {
			return fmt.Errorf("start raw log: %w", err)
		}
		log.WithField("path", writer.Path()).Info("recording raw messages")
		recorder = writer
		defer func() {
			if err := writer.Close(); err != nil {
				log.WithError(err).Warn("raw log close failed")
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoop := context.WithCancel(gctx)
	defer stopLoop()

	msgs := openSource(loopCtx, cfg, recorder, log)
	frames := pipeline.Frames(loopCtx, msgs, m, func(msg types.RawMessage) {
		state.onMeta(msg, agg, log)
	})

	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		defer stopLoop()
		err := pipeline.Run(loopCtx, frames, annotator, sink, pipeline.Options{
			Points:                 cfg.Overlay.Points,
			FrameTimeout:           cfg.Source.FrameTimeout,
			MaxConsecutiveFailures: cfg.Source.MaxConsecutiveFailures,
			LogEvery:               cfg.Source.LogEvery,
			Logger:                 log,
			Metrics:                m,
			Aggregator:             agg,
		})
		if err != nil {
			return err
		}
		// Returning a sentinel stops the server when the loop ends on its own.
		return errLoopDone
	})

	err = g.Wait()
	if errors.Is(err, errLoopDone) {
		err = nil
	}
	log.WithFields(logrus.Fields{
		"frames": agg.FrameCount(),
		"uptime": time.Since(state.started).Round(time.Second),
	}).Info("stopped")
	return err
}

var errLoopDone = errors.New("loop finished")

func styleFromConfig(o config.OverlayConfig) (processing.Style, error) {
	palette, err := processing.ParsePalette(o.Palette)
	if err != nil {
		return processing.Style{}, err
	}
	return processing.Style{
		OriginX:     o.OriginX,
		OriginY:     o.OriginY,
		LineSpacing: o.LineSpacing,
		FontSize:    o.FontSize,
		TextColor:   o.TextRGBA(),
		DepthAlpha:  o.DepthAlpha,
		Palette:     palette,
	}, nil
}

func openSource(ctx context.Context, cfg *config.AppConfig, recorder ingest.RawRecorder, log logrus.FieldLogger) <-chan types.RawMessage {
	simulate := func(ctx context.Context) <-chan types.RawMessage {
		return simulator.Stream(ctx, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	}
	if cfg.Source.Mode != "zmq" {
		log.WithField("fps", cfg.Camera.FPS).Info("using simulated camera")
		return simulate(ctx)
	}

	start := func(ctx context.Context) (<-chan types.RawMessage, error) {
		return ingest.Stream(ctx, cfg.Source.Endpoint, ingest.Options{
			LogEvery:    cfg.Source.LogEvery,
			Recorder:    recorder,
			Logger:      log,
			ColorFormat: cfg.Camera.ColorFormat,
		})
	}
	opts := pipeline.SuperviseOptions{Logger: log}
	if cfg.Source.Fallback {
		opts.Fallback = simulate
	}
	log.WithField("endpoint", cfg.Source.Endpoint).Info("pulling frames over ZMQ")
	return pipeline.Supervise(ctx, start, opts)
}

type runState struct {
	cfg     *config.AppConfig
	started time.Time

	mu        sync.Mutex
	startMeta map[string]any
	endMeta   map[string]any
}

func (r *runState) onMeta(msg types.RawMessage, agg *processing.Aggregator, log logrus.FieldLogger) {
	normalized, _ := output.NormalizeJSONValue(msg.Meta).(map[string]any)
	if pretty, err := json.MarshalIndent(normalized, "", "  "); err == nil {
		log.WithField("type", msg.Type).Infof("stream meta:\n%s", pretty)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg.Type {
	case "start":
		r.startMeta = normalized
		r.endMeta = nil
		agg.Reset()
	case "end":
		r.endMeta = normalized
	}
}

func (r *runState) status(m *metrics.Metrics, agg *processing.Aggregator) map[string]any {
	payload := m.Snapshot()
	payload["ingest_decode_failures_total"] = ingest.DecodeFailures()
	decodeCount, decodeNanos := ingest.DecodeTiming()
	payload["ingest_decode_total"] = decodeCount
	payload["ingest_decode_nanos_total"] = decodeNanos

	status := map[string]any{
		"source":     r.cfg.Source.Mode,
		"endpoint":   r.cfg.Source.Endpoint,
		"uptime_sec": int(time.Since(r.started).Seconds()),
		"metrics":    payload,
		"readings":   agg.SnapshotCopy(),
	}
	r.mu.Lock()
	if r.startMeta != nil {
		status["run_start"] = r.startMeta
	}
	if r.endMeta != nil {
		status["run_end"] = r.endMeta
	}
	r.mu.Unlock()
	return status
}
