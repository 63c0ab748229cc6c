package ingest

import (
	"context"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/sirupsen/logrus"

	"depth-overlay-go/internal/types"
)

// RawRecorder receives every message exactly as it came off the socket.
type RawRecorder interface {
	Record(payload []byte) error
}

type Options struct {
	LogEvery       int
	Recorder       RawRecorder
	ReceiveTimeout time.Duration
	Logger         logrus.FieldLogger
	// ColorFormat applies to frames without a "color_format" field.
	ColorFormat string
}

var (
	decodeFailures atomic.Uint64
	decodeCount    atomic.Uint64
	decodeNanos    atomic.Uint64
)

func DecodeFailures() uint64 {
	return decodeFailures.Load()
}

func DecodeTiming() (uint64, uint64) {
	return decodeCount.Load(), decodeNanos.Load()
}

// Stream connects a PULL socket to endpoint and emits decoded messages until
// ctx is done or the socket fails.
func Stream(ctx context.Context, endpoint string, opts Options) (<-chan types.RawMessage, error) {
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ColorFormat == "" {
		opts.ColorFormat = FormatBGR8
	}
	log := opts.Logger.WithField("endpoint", endpoint)

	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(opts.ReceiveTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	throttle := &logThrottle{every: uint64(opts.LogEvery), log: log}
	out := make(chan types.RawMessage, 8)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				if zmq4.AsErrno(err) == zmq4.ETERM {
					log.WithError(err).Warn("ingest context terminated")
					return
				}
				throttle.warn(err, "ingest recv error")
				continue
			}

			if opts.Recorder != nil {
				if err := opts.Recorder.Record(msg); err != nil {
					throttle.warn(err, "raw log record failed")
				}
			}

			start := time.Now()
			decoded, err := DecodeMessageFormat(msg, opts.ColorFormat)
			decodeCount.Add(1)
			decodeNanos.Add(uint64(time.Since(start).Nanoseconds()))
			if err != nil {
				decodeFailures.Add(1)
				throttle.warn(err, "ingest decode skipped message")
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- decoded:
			}
		}
	}()

	return out, nil
}

// logThrottle logs every Nth call.
type logThrottle struct {
	every   uint64
	counter atomic.Uint64
	log     logrus.FieldLogger
}

func (l *logThrottle) warn(err error, msg string) {
	n := l.counter.Add(1)
	if n%l.every == 0 {
		l.log.WithError(err).WithField("occurrences", n).Warn(msg)
	}
}
