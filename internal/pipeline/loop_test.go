package pipeline

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-overlay-go/internal/metrics"
	"depth-overlay-go/internal/processing"
	"depth-overlay-go/internal/types"
)

type recordingSink struct {
	frames   []processing.AnnotatedFrame
	exitAt   int
	showErr  error
	exitFlag atomic.Bool
}

func (s *recordingSink) Show(frame processing.AnnotatedFrame) error {
	s.frames = append(s.frames, frame)
	if s.exitAt > 0 && len(s.frames) >= s.exitAt {
		s.exitFlag.Store(true)
	}
	return s.showErr
}

func (s *recordingSink) ExitRequested() bool {
	return s.exitFlag.Load()
}

func pair(seq uint64, w, h, dw, dh int, mm uint16) types.FramePair {
	depth := types.NewDepthFrame(dw, dh)
	depth.Fill(mm)
	return types.FramePair{
		Seq:   seq,
		Color: image.NewRGBA(image.Rect(0, 0, w, h)),
		Depth: depth,
	}
}

func quietOptions(m *metrics.Metrics) Options {
	logger, _ := test.NewNullLogger()
	return Options{
		FrameTimeout: time.Second,
		Logger:       logger,
		Metrics:      m,
	}
}

func defaultAnnotator(t *testing.T) *processing.Annotator {
	a, err := processing.NewAnnotator(processing.DefaultStyle())
	require.NoError(t, err)
	return a
}

func TestRunSkipsBadFramesAndStopsOnExit(t *testing.T) {
	frames := make(chan types.FramePair, 4)
	frames <- pair(1, 64, 48, 64, 48, 1500)
	frames <- pair(2, 64, 48, 32, 24, 1500)
	frames <- types.FramePair{Seq: 3}
	frames <- pair(4, 64, 48, 64, 48, 2500)

	m := metrics.New()
	opts := quietOptions(m)
	opts.Aggregator = processing.NewAggregator(types.DefaultSamplePoints())
	sink := &recordingSink{exitAt: 2}

	err := Run(context.Background(), frames, defaultAnnotator(t), sink, opts)
	require.NoError(t, err)

	require.Len(t, sink.frames, 2)
	assert.Equal(t, "Center: 1.50m", sink.frames[0].Readings[0].Text)
	assert.Equal(t, "Center: 2.50m", sink.frames[1].Readings[0].Text)
	assert.Equal(t, 128, sink.frames[1].Image.Bounds().Dx())

	assert.Equal(t, 4.0, testutil.ToFloat64(m.FramesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesAnnotated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSkipped.WithLabelValues(metrics.ReasonShapeMismatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSkipped.WithLabelValues(metrics.ReasonEmpty)))

	snap := opts.Aggregator.SnapshotCopy()
	assert.Equal(t, uint64(4), snap.Seq)
	assert.Equal(t, 2.5, snap.Readings[0].Max)
}

func TestRunReportsClosedSource(t *testing.T) {
	frames := make(chan types.FramePair, 1)
	frames <- pair(1, 8, 8, 8, 8, 100)
	close(frames)

	sink := &recordingSink{}
	err := Run(context.Background(), frames, defaultAnnotator(t), sink, quietOptions(metrics.New()))
	assert.ErrorIs(t, err, ErrSourceClosed)
	assert.Len(t, sink.frames, 1)
}

func TestRunStopsAfterConsecutiveFailures(t *testing.T) {
	frames := make(chan types.FramePair, 3)
	for i := 0; i < 3; i++ {
		frames <- pair(uint64(i), 8, 8, 4, 4, 100)
	}

	opts := quietOptions(metrics.New())
	opts.MaxConsecutiveFailures = 3
	err := Run(context.Background(), frames, defaultAnnotator(t), &recordingSink{}, opts)
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.ErrorContains(t, err, "shapes differ")
}

func TestRunCountsTimeoutsAndHonorsContext(t *testing.T) {
	m := metrics.New()
	opts := quietOptions(m)
	opts.FrameTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := Run(ctx, make(chan types.FramePair), defaultAnnotator(t), &recordingSink{}, opts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.FrameTimeouts), 2.0)
}

func TestRunKeepsGoingWhenSinkFails(t *testing.T) {
	frames := make(chan types.FramePair, 2)
	frames <- pair(1, 8, 8, 8, 8, 100)
	frames <- pair(2, 8, 8, 8, 8, 100)
	close(frames)

	m := metrics.New()
	logger, hook := test.NewNullLogger()
	opts := quietOptions(m)
	opts.Logger = logger
	sink := &recordingSink{showErr: errors.New("socket gone")}

	err := Run(context.Background(), frames, defaultAnnotator(t), sink, opts)
	assert.ErrorIs(t, err, ErrSourceClosed)
	assert.Len(t, sink.frames, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkErrors))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestFramesSplitsMetadata(t *testing.T) {
	msgs := make(chan types.RawMessage, 3)
	msgs <- types.RawMessage{Type: "start", Meta: map[string]any{"fps": 30}}
	msgs <- types.RawMessage{Type: "frame", Frame: types.FramePair{Seq: 9}}
	msgs <- types.RawMessage{Type: "end"}
	close(msgs)

	var meta []string
	m := metrics.New()
	frames := Frames(context.Background(), msgs, m, func(msg types.RawMessage) {
		meta = append(meta, msg.Type)
	})

	var got []uint64
	for f := range frames {
		got = append(got, f.Seq)
	}
	assert.Equal(t, []uint64{9}, got)
	assert.Equal(t, []string{"start", "end"}, meta)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RawMessages))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MetaMessages))
}

func TestMultiSink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{showErr: errors.New("disk full")}
	sinks := MultiSink{a, b}

	err := sinks.Show(processing.AnnotatedFrame{})
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, a.frames, 1)
	assert.False(t, sinks.ExitRequested())

	b.exitFlag.Store(true)
	assert.True(t, sinks.ExitRequested())
}
