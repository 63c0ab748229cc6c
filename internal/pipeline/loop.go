package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"depth-overlay-go/internal/metrics"
	"depth-overlay-go/internal/processing"
	"depth-overlay-go/internal/types"
)

var (
	ErrSourceClosed    = errors.New("frame source closed")
	ErrTooManyFailures = errors.New("too many consecutive frame failures")
)

// Sink presents annotated frames and reports whether the user asked to stop.
type Sink interface {
	Show(frame processing.AnnotatedFrame) error
	ExitRequested() bool
}

type Annotator interface {
	Annotate(colorFrame image.Image, depth types.DepthFrame, points []types.SamplePoint) (processing.AnnotatedFrame, error)
}

type Options struct {
	Points                 []types.SamplePoint
	FrameTimeout           time.Duration
	MaxConsecutiveFailures int
	LogEvery               int
	Logger                 logrus.FieldLogger
	Metrics                *metrics.Metrics
	Aggregator             *processing.Aggregator
}

// Run pulls pairs from frames until ctx is done, the sink requests exit or
// the source closes. Each pair is annotated independently; a pair that
// cannot be annotated is logged and skipped.
func Run(ctx context.Context, frames <-chan types.FramePair, annotator Annotator, sink Sink, opts Options) error {
	if len(opts.Points) == 0 {
		opts.Points = types.DefaultSamplePoints()
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 5 * time.Second
	}
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	timer := time.NewTimer(opts.FrameTimeout)
	defer timer.Stop()

	var failures int
	var skipped uint64
	for {
		if sink.ExitRequested() {
			opts.Logger.Info("exit requested by display sink")
			return nil
		}
		timer.Reset(opts.FrameTimeout)

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			opts.Metrics.FrameTimeouts.Inc()
			opts.Logger.WithField("timeout", opts.FrameTimeout).Warn("no frame available")
		case pair, ok := <-frames:
			if !ok {
				return ErrSourceClosed
			}
			err := process(pair, annotator, sink, opts)
			if err == nil {
				failures = 0
				continue
			}
			failures++
			skipped++
			if skipped%uint64(opts.LogEvery) == 0 {
				opts.Logger.WithError(err).WithFields(logrus.Fields{
					"seq":     pair.Seq,
					"skipped": skipped,
				}).Warn("frame skipped")
			}
			if opts.MaxConsecutiveFailures > 0 && failures >= opts.MaxConsecutiveFailures {
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, failures, err)
			}
		}
	}
}

func process(pair types.FramePair, annotator Annotator, sink Sink, opts Options) error {
	opts.Metrics.FramesReceived.Inc()
	if pair.Color == nil {
		opts.Metrics.FramesSkipped.WithLabelValues(metrics.ReasonEmpty).Inc()
		return processing.ErrEmptyFrame
	}

	start := time.Now()
	out, err := annotator.Annotate(pair.Color, pair.Depth, opts.Points)
	opts.Metrics.ObserveAnnotate(time.Since(start))
	if err != nil {
		opts.Metrics.FramesSkipped.WithLabelValues(skipReason(err)).Inc()
		return err
	}

	for _, r := range out.Readings {
		if r.Err != nil {
			opts.Metrics.SampleOutOfRange.WithLabelValues(r.Label).Inc()
			opts.Logger.WithError(r.Err).WithField("seq", pair.Seq).Debug("sample point omitted")
		}
	}
	if opts.Aggregator != nil {
		opts.Aggregator.AddFrame(pair.Seq, out.Readings)
	}

	if err := sink.Show(out); err != nil {
		opts.Metrics.SinkErrors.Inc()
		opts.Logger.WithError(err).WithField("seq", pair.Seq).Warn("display sink failed")
	}
	opts.Metrics.FramesAnnotated.Inc()
	return nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, processing.ErrShapeMismatch):
		return metrics.ReasonShapeMismatch
	case errors.Is(err, processing.ErrEmptyFrame), errors.Is(err, processing.ErrNoSamplePoints):
		return metrics.ReasonEmpty
	case errors.Is(err, processing.ErrMalformedDepth):
		return metrics.ReasonMalformed
	default:
		return metrics.ReasonOther
	}
}
