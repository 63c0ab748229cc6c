package pipeline

import (
	"context"

	"depth-overlay-go/internal/metrics"
	"depth-overlay-go/internal/types"
)

// Frames forwards the frame messages of msgs and hands every other message
// to onMeta. The returned channel closes when msgs closes or ctx is done.
func Frames(ctx context.Context, msgs <-chan types.RawMessage, m *metrics.Metrics, onMeta func(types.RawMessage)) <-chan types.FramePair {
	out := make(chan types.FramePair, 2)
	go func() {
		defer close(out)
		for {
			var msg types.RawMessage
			var ok bool
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-msgs:
				if !ok {
					return
				}
			}
			if m != nil {
				m.RawMessages.Inc()
			}
			if msg.Type != "frame" {
				if m != nil {
					m.MetaMessages.Inc()
				}
				if onMeta != nil {
					onMeta(msg)
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- msg.Frame:
			}
		}
	}()
	return out
}
