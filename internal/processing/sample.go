package processing

import (
	"fmt"
	"image"
	"math"

	"depth-overlay-go/internal/types"
)

// ResolvePixel maps a fractional coordinate onto [0, dim-1] using
// floor(fraction*dim).
func ResolvePixel(fraction float64, dim int) (int, error) {
	if dim <= 0 {
		return 0, fmt.Errorf("%w: dimension %d", ErrSampleOutOfRange, dim)
	}
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return 0, fmt.Errorf("%w: fraction %v", ErrSampleOutOfRange, fraction)
	}
	idx := math.Floor(fraction * float64(dim))
	if idx < 0 {
		return 0, nil
	}
	if idx > float64(dim-1) {
		return dim - 1, nil
	}
	return int(idx), nil
}

// FormatReading renders the overlay text for one point.
func FormatReading(label string, meters float64) string {
	return fmt.Sprintf("%s: %.2fm", label, meters)
}

func sample(depth types.DepthFrame, point types.SamplePoint) Reading {
	reading := Reading{Label: point.Label}

	x, err := ResolvePixel(point.X, depth.Width)
	if err != nil {
		reading.Err = fmt.Errorf("%s x: %w", point.Label, err)
		return reading
	}
	y, err := ResolvePixel(point.Y, depth.Height)
	if err != nil {
		reading.Err = fmt.Errorf("%s y: %w", point.Label, err)
		return reading
	}
	reading.X = x
	reading.Y = y

	if !image.Pt(x, y).In(depth.Bounds()) || y*depth.Width+x >= len(depth.Pix) {
		reading.Err = fmt.Errorf("%w: %s at (%d,%d)", ErrSampleOutOfRange, point.Label, x, y)
		return reading
	}

	reading.Raw = depth.At(x, y)
	reading.Meters = float64(reading.Raw) / 1000.0
	reading.Text = FormatReading(point.Label, reading.Meters)
	return reading
}
