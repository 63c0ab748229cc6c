package types

import (
	"image"
	"time"
)

// DepthFrame holds row-major distances in millimeters.
type DepthFrame struct {
	Width  int
	Height int
	Pix    []uint16
}

func NewDepthFrame(width, height int) DepthFrame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return DepthFrame{
		Width:  width,
		Height: height,
		Pix:    make([]uint16, width*height),
	}
}

func (d DepthFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.Width, d.Height)
}

// At returns the raw value at (x, y); callers must stay within Bounds.
func (d DepthFrame) At(x, y int) uint16 {
	return d.Pix[y*d.Width+x]
}

func (d DepthFrame) Set(x, y int, v uint16) {
	d.Pix[y*d.Width+x] = v
}

// Fill sets every pixel to v.
func (d DepthFrame) Fill(v uint16) {
	for i := range d.Pix {
		d.Pix[i] = v
	}
}

// FramePair is one synchronized color/depth capture.
type FramePair struct {
	Seq       uint64
	Timestamp time.Time
	Color     *image.RGBA
	Depth     DepthFrame
}

// SamplePoint is a named fractional image coordinate.
type SamplePoint struct {
	Label string  `json:"label" yaml:"label"`
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
}

func DefaultSamplePoints() []SamplePoint {
	return []SamplePoint{
		{Label: "Center", X: 0.5, Y: 0.5},
		{Label: "Left", X: 0.25, Y: 0.5},
		{Label: "Right", X: 0.75, Y: 0.5},
	}
}

// RawMessage is one decoded ingest message. Frame is set for "frame"
// messages, Meta for everything else.
type RawMessage struct {
	Type  string
	Meta  map[string]any
	Frame FramePair
}
