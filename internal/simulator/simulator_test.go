package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSceneFrameShape(t *testing.T) {
	scene := NewScene(64, 48, 1)
	scene.Noise = 0
	pair := scene.Frame(3, 0)

	assert.Equal(t, uint64(3), pair.Seq)
	assert.Equal(t, 64, pair.Color.Bounds().Dx())
	assert.Equal(t, 48, pair.Color.Bounds().Dy())
	assert.Equal(t, 64, pair.Depth.Width)
	assert.Equal(t, 48, pair.Depth.Height)
	assert.Len(t, pair.Depth.Pix, 64*48)

	// floor gets nearer towards the bottom edge
	assert.Greater(t, pair.Depth.At(0, 0), pair.Depth.At(0, 47))
	// ball at the center at t=0
	assert.Less(t, pair.Depth.At(32, 26), uint16(1300))
}

func TestStreamEmitsStartThenFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	messages := Stream(ctx, 16, 12, 200)
	first := <-messages
	assert.Equal(t, "start", first.Type)
	assert.Equal(t, "simulator", first.Meta["source"])

	for want := uint64(0); want < 3; want++ {
		msg, ok := <-messages
		require.True(t, ok)
		assert.Equal(t, "frame", msg.Type)
		assert.Equal(t, want, msg.Frame.Seq)
	}

	cancel()
	for range messages {
	}
}
