package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"depth-overlay-go/internal/types"
)

// StartFunc opens a message stream that lives until ctx is done.
type StartFunc func(ctx context.Context) (<-chan types.RawMessage, error)

// FallbackFunc opens a stream that cannot fail to start, such as the
// simulator.
type FallbackFunc func(ctx context.Context) <-chan types.RawMessage

type SuperviseOptions struct {
	// Fallback is used when start fails. Nil makes a failed start retry
	// after RetryDelay instead.
	Fallback   FallbackFunc
	RetryDelay time.Duration
	Logger     logrus.FieldLogger
}

// Supervise keeps a message stream alive: whenever the current stream
// closes it is started again. The returned channel closes when ctx is done.
func Supervise(ctx context.Context, start StartFunc, opts SuperviseOptions) <-chan types.RawMessage {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	out := make(chan types.RawMessage, 16)

	go func() {
		defer close(out)
		var cancel context.CancelFunc = func() {}
		defer func() { cancel() }()

		open := func() <-chan types.RawMessage {
			for {
				cancel()
				var streamCtx context.Context
				streamCtx, cancel = context.WithCancel(ctx)
				msgs, err := start(streamCtx)
				if err == nil {
					return msgs
				}
				if opts.Fallback != nil {
					opts.Logger.WithError(err).Warn("failed to start ingest; falling back to simulator")
					return opts.Fallback(streamCtx)
				}
				opts.Logger.WithError(err).WithField("retry_in", opts.RetryDelay).Warn("failed to start ingest")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(opts.RetryDelay):
				}
			}
		}

		msgs := open()
		for msgs != nil {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					if ctx.Err() != nil {
						return
					}
					opts.Logger.Info("ingest stream closed; restarting")
					msgs = open()
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- msg:
				}
			}
		}
	}()
	return out
}
