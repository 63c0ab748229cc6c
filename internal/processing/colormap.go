package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"depth-overlay-go/internal/types"
)

type Palette string

const (
	PaletteJet  Palette = "jet"
	PaletteGray Palette = "gray"
)

func ParsePalette(value string) (Palette, error) {
	switch Palette(strings.ToLower(strings.TrimSpace(value))) {
	case "", PaletteJet:
		return PaletteJet, nil
	case PaletteGray, "grey":
		return PaletteGray, nil
	default:
		return "", fmt.Errorf("unsupported palette %q", value)
	}
}

var (
	jetLUT  = buildJetLUT()
	grayLUT = buildGrayLUT()
)

func buildJetLUT() [256]color.NRGBA {
	var lut [256]color.NRGBA
	for i := range lut {
		x := float64(i) / 255.0
		lut[i] = color.NRGBA{
			R: jetChannel(x, 3),
			G: jetChannel(x, 2),
			B: jetChannel(x, 1),
			A: 0xff,
		}
	}
	return lut
}

// jetChannel is a triangle of width 1.5 centered on offset/4.
func jetChannel(x, offset float64) uint8 {
	v := 1.5 - math.Abs(4*x-offset)
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math.Round(v * 255))
}

func buildGrayLUT() [256]color.NRGBA {
	var lut [256]color.NRGBA
	for i := range lut {
		v := uint8(i)
		lut[i] = color.NRGBA{R: v, G: v, B: v, A: 0xff}
	}
	return lut
}

func (p Palette) lut() *[256]color.NRGBA {
	if p == PaletteGray {
		return &grayLUT
	}
	return &jetLUT
}

// Lookup returns the palette color for a scaled 8-bit value.
func (p Palette) Lookup(v uint8) color.NRGBA {
	return p.lut()[v]
}

// ScaleAbs converts a raw depth value to 8 bits as saturate(round(|raw*alpha|)).
func ScaleAbs(raw uint16, alpha float64) uint8 {
	v := math.RoundToEven(math.Abs(float64(raw) * alpha))
	if v > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}

// Colorize renders depth through the palette after linear scaling by alpha.
func Colorize(depth types.DepthFrame, alpha float64, palette Palette) *image.NRGBA {
	out := image.NewNRGBA(depth.Bounds())
	lut := palette.lut()
	for y := 0; y < depth.Height; y++ {
		row := depth.Pix[y*depth.Width : (y+1)*depth.Width]
		dst := out.Pix[y*out.Stride : y*out.Stride+depth.Width*4]
		for x, raw := range row {
			c := lut[ScaleAbs(raw, alpha)]
			i := x * 4
			dst[i+0] = c.R
			dst[i+1] = c.G
			dst[i+2] = c.B
			dst[i+3] = c.A
		}
	}
	return out
}
