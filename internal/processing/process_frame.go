package processing

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"depth-overlay-go/internal/types"
)

var (
	ErrShapeMismatch    = errors.New("color and depth frame shapes differ")
	ErrSampleOutOfRange = errors.New("sample point out of range")
	ErrEmptyFrame       = errors.New("empty frame")
	ErrNoSamplePoints   = errors.New("no sample points")
	ErrMalformedDepth   = errors.New("depth buffer does not match frame shape")
)

// Reading is the distance sampled at one point. Err is set when the point
// was skipped; the rest of the frame is still rendered.
type Reading struct {
	Label  string
	X      int
	Y      int
	Raw    uint16
	Meters float64
	Text   string
	Err    error
}

// AnnotatedFrame is the color frame with overlays followed by the
// false-colored depth frame, side by side.
type AnnotatedFrame struct {
	Image    *image.NRGBA
	Readings []Reading
}

// Style controls overlay placement and depth rendering.
type Style struct {
	OriginX     int
	OriginY     int
	LineSpacing int
	FontSize    float64
	TextColor   color.NRGBA
	DepthAlpha  float64
	Palette     Palette
}

func DefaultStyle() Style {
	return Style{
		OriginX:     20,
		OriginY:     30,
		LineSpacing: 30,
		FontSize:    24,
		TextColor:   color.NRGBA{R: 0, G: 0xff, B: 0, A: 0xff},
		DepthAlpha:  0.03,
		Palette:     PaletteJet,
	}
}

// Annotator holds immutable rendering settings. It keeps no per-frame
// state, so one instance may serve any number of calls.
type Annotator struct {
	style Style
	font  *opentype.Font
}

var parseBold = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(gobold.TTF)
})

func NewAnnotator(style Style) (*Annotator, error) {
	f, err := parseBold()
	if err != nil {
		return nil, fmt.Errorf("parse overlay font: %w", err)
	}
	if style.FontSize <= 0 {
		style.FontSize = DefaultStyle().FontSize
	}
	if style.DepthAlpha <= 0 {
		style.DepthAlpha = DefaultStyle().DepthAlpha
	}
	if style.Palette == "" {
		style.Palette = PaletteJet
	}
	a := &Annotator{style: style, font: f}
	face, err := a.newFace()
	if err != nil {
		return nil, err
	}
	_ = face.Close()
	return a, nil
}

func (a *Annotator) Style() Style {
	return a.style
}

var defaultAnnotator = sync.OnceValues(func() (*Annotator, error) {
	return NewAnnotator(DefaultStyle())
})

// Annotate runs the default-styled annotator.
func Annotate(colorFrame image.Image, depth types.DepthFrame, points []types.SamplePoint) (AnnotatedFrame, error) {
	a, err := defaultAnnotator()
	if err != nil {
		return AnnotatedFrame{}, err
	}
	return a.Annotate(colorFrame, depth, points)
}

// Annotate samples depth at points, draws the readings onto a copy of
// colorFrame and appends the false-colored depth image on the right.
// colorFrame is never modified.
func (a *Annotator) Annotate(colorFrame image.Image, depth types.DepthFrame, points []types.SamplePoint) (AnnotatedFrame, error) {
	if isNilImage(colorFrame) {
		return AnnotatedFrame{}, ErrEmptyFrame
	}
	cb := colorFrame.Bounds()
	width, height := cb.Dx(), cb.Dy()
	if width <= 0 || height <= 0 || depth.Width <= 0 || depth.Height <= 0 {
		return AnnotatedFrame{}, ErrEmptyFrame
	}
	if width != depth.Width || height != depth.Height {
		return AnnotatedFrame{}, fmt.Errorf("%w: color %dx%d, depth %dx%d",
			ErrShapeMismatch, width, height, depth.Width, depth.Height)
	}
	if len(depth.Pix) != width*height {
		return AnnotatedFrame{}, fmt.Errorf("%w: %d values for %dx%d",
			ErrMalformedDepth, len(depth.Pix), width, height)
	}
	if len(points) == 0 {
		return AnnotatedFrame{}, ErrNoSamplePoints
	}

	readings := make([]Reading, len(points))
	for i, point := range points {
		readings[i] = sample(depth, point)
	}

	left := imaging.Clone(colorFrame)
	if err := a.drawReadings(left, readings); err != nil {
		return AnnotatedFrame{}, err
	}
	right := Colorize(depth, a.style.DepthAlpha, a.style.Palette)

	out := imaging.New(width*2, height, color.NRGBA{A: 0xff})
	out = imaging.Paste(out, left, image.Pt(0, 0))
	out = imaging.Paste(out, right, image.Pt(width, 0))

	return AnnotatedFrame{Image: out, Readings: readings}, nil
}

// isNilImage also catches typed nil pointers, whose Bounds would panic.
func isNilImage(img image.Image) bool {
	switch v := img.(type) {
	case nil:
		return true
	case *image.RGBA:
		return v == nil
	case *image.NRGBA:
		return v == nil
	case *image.Gray:
		return v == nil
	case *image.Paletted:
		return v == nil
	case *image.YCbCr:
		return v == nil
	}
	return false
}

func (a *Annotator) newFace() (font.Face, error) {
	face, err := opentype.NewFace(a.font, &opentype.FaceOptions{
		Size:    a.style.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("overlay font face: %w", err)
	}
	return face, nil
}

// drawReadings places reading i at OriginY + i*LineSpacing. Skipped points
// keep their slot so the remaining labels never move.
func (a *Annotator) drawReadings(dst draw.Image, readings []Reading) error {
	face, err := a.newFace()
	if err != nil {
		return err
	}
	defer face.Close()

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(a.style.TextColor),
		Face: face,
	}
	for i, reading := range readings {
		if reading.Err != nil {
			continue
		}
		drawer.Dot = fixed.P(a.style.OriginX, a.style.OriginY+i*a.style.LineSpacing)
		drawer.DrawString(reading.Text)
	}
	return nil
}
