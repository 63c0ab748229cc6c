package simulator

import (
	"context"
	"image"
	"math"
	"math/rand"
	"time"

	"depth-overlay-go/internal/types"
)

// Scene renders a synthetic camera view: a floor receding from 0.8m at the
// bottom edge to 4m at the top, with a ball sweeping left and right.
type Scene struct {
	Width  int
	Height int
	Noise  float64
	rng    *rand.Rand
}

func NewScene(width, height int, seed int64) *Scene {
	return &Scene{
		Width:  width,
		Height: height,
		Noise:  4,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Frame renders the scene at time t (seconds since stream start).
func (s *Scene) Frame(seq uint64, t float64) types.FramePair {
	w, h := s.Width, s.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	depth := types.NewDepthFrame(w, h)

	ballX := float64(w) * (0.5 + 0.35*math.Sin(t*0.8))
	ballY := float64(h) * 0.55
	radius := float64(min(w, h)) * 0.15

	for y := 0; y < h; y++ {
		floor := 4000 - 3200*float64(y)/float64(max(h-1, 1))
		shade := uint8(40 + 120*float64(y)/float64(max(h, 1)))
		for x := 0; x < w; x++ {
			dx := float64(x) - ballX
			dy := float64(y) - ballY
			dist := math.Sqrt(dx*dx + dy*dy)

			mm := floor
			i := img.PixOffset(x, y)
			if dist < radius {
				bulge := math.Sqrt(1 - (dist/radius)*(dist/radius))
				mm = 1200 - 200*bulge
				img.Pix[i+0] = 220
				img.Pix[i+1] = uint8(60 + 80*bulge)
				img.Pix[i+2] = 40
			} else {
				img.Pix[i+0] = shade / 2
				img.Pix[i+1] = shade / 2
				img.Pix[i+2] = shade
			}
			img.Pix[i+3] = 0xff

			if s.Noise > 0 {
				mm += s.rng.NormFloat64() * s.Noise
			}
			depth.Set(x, y, clampDepth(mm))
		}
	}

	return types.FramePair{
		Seq:       seq,
		Timestamp: time.Now(),
		Color:     img,
		Depth:     depth,
	}
}

func clampDepth(mm float64) uint16 {
	if mm < 0 {
		return 0
	}
	if mm > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(mm)
}

// Stream emits a "start" message and then one frame per tick at fps.
func Stream(ctx context.Context, width, height int, fps float64) <-chan types.RawMessage {
	out := make(chan types.RawMessage)
	go func() {
		defer close(out)

		if fps <= 0 {
			fps = 30
		}
		scene := NewScene(width, height, time.Now().UnixNano())
		frameInterval := time.Duration(float64(time.Second) / fps)
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()

		start := types.RawMessage{
			Type: "start",
			Meta: map[string]any{
				"source": "simulator",
				"width":  width,
				"height": height,
				"fps":    fps,
			},
		}
		select {
		case <-ctx.Done():
			return
		case out <- start:
		}

		began := time.Now()
		var seq uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := scene.Frame(seq, time.Since(began).Seconds())
				select {
				case <-ctx.Done():
					return
				case out <- types.RawMessage{Type: "frame", Frame: frame}:
				}
				seq++
			}
		}
	}()

	return out
}
