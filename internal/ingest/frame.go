package ingest

import (
	"errors"
	"fmt"
	"image"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"depth-overlay-go/internal/types"
)

const (
	FormatBGR8 = "bgr8"
	FormatRGB8 = "rgb8"
)

var ErrUnsupportedMessage = errors.New("unsupported message")

var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// DecodeMessage parses one CBOR ingest message:
// { "type": "frame", "seq": <uint>, "timestamp": <float seconds>,
//   "color_format": "bgr8", "color": <tag 40 [h,w,3] uint8>,
//   "depth": <tag 40 [h,w] uint16le> }
// Messages of any other type are returned with their payload in Meta.
func DecodeMessage(msg []byte) (types.RawMessage, error) {
	return DecodeMessageFormat(msg, FormatBGR8)
}

// DecodeMessageFormat is DecodeMessage with the color channel order to
// assume when a frame does not carry "color_format".
func DecodeMessageFormat(msg []byte, defaultFormat string) (types.RawMessage, error) {
	var payload map[string]any
	if err := decMode.Unmarshal(msg, &payload); err != nil {
		return types.RawMessage{}, fmt.Errorf("cbor decode: %w", err)
	}

	msgType, _ := payload["type"].(string)
	if msgType == "" {
		return types.RawMessage{}, fmt.Errorf("%w: missing type", ErrUnsupportedMessage)
	}
	if msgType != "frame" {
		return types.RawMessage{Type: msgType, Meta: payload}, nil
	}

	frame, err := decodeFrame(payload, defaultFormat)
	if err != nil {
		return types.RawMessage{}, err
	}
	return types.RawMessage{Type: msgType, Frame: frame}, nil
}

func decodeFrame(payload map[string]any, defaultFormat string) (types.FramePair, error) {
	var pair types.FramePair

	if raw, ok := payload["seq"]; ok {
		seq, err := toInt(raw)
		if err != nil {
			return pair, fmt.Errorf("invalid seq: %w", err)
		}
		pair.Seq = uint64(seq)
	}
	if raw, ok := payload["timestamp"]; ok {
		ts, err := toFloat(raw)
		if err != nil {
			return pair, fmt.Errorf("invalid timestamp: %w", err)
		}
		sec, frac := math.Modf(ts)
		pair.Timestamp = time.Unix(int64(sec), int64(frac*1e9))
	}

	format, _ := payload["color_format"].(string)
	if format == "" {
		format = defaultFormat
	}
	colorArr, err := decodeMultiDimArray(payload["color"])
	if err != nil {
		return pair, fmt.Errorf("color: %w", err)
	}
	pair.Color, err = colorImage(colorArr, format)
	if err != nil {
		return pair, fmt.Errorf("color: %w", err)
	}

	depthArr, err := decodeMultiDimArray(payload["depth"])
	if err != nil {
		return pair, fmt.Errorf("depth: %w", err)
	}
	pair.Depth, err = depthFrame(depthArr)
	if err != nil {
		return pair, fmt.Errorf("depth: %w", err)
	}
	return pair, nil
}

func colorImage(arr ndArray, format string) (*image.RGBA, error) {
	if len(arr.Dims) != 3 || arr.Dims[2] != 3 {
		return nil, fmt.Errorf("expected [h,w,3] array, got %v", arr.Dims)
	}
	data, ok := arr.Data.([]uint8)
	if !ok {
		return nil, fmt.Errorf("expected uint8 samples, got %T", arr.Data)
	}
	bgr := true
	switch strings.ToLower(format) {
	case "", FormatBGR8:
	case FormatRGB8:
		bgr = false
	default:
		return nil, fmt.Errorf("unsupported color format %q", format)
	}

	h, w := arr.Dims[0], arr.Dims[1]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		src := data[i*3 : i*3+3]
		dst := img.Pix[i*4 : i*4+4]
		if bgr {
			dst[0], dst[1], dst[2] = src[2], src[1], src[0]
		} else {
			dst[0], dst[1], dst[2] = src[0], src[1], src[2]
		}
		dst[3] = 0xff
	}
	return img, nil
}

func depthFrame(arr ndArray) (types.DepthFrame, error) {
	if len(arr.Dims) != 2 {
		return types.DepthFrame{}, fmt.Errorf("expected [h,w] array, got %v", arr.Dims)
	}
	data, ok := arr.Data.([]uint16)
	if !ok {
		return types.DepthFrame{}, fmt.Errorf("expected uint16 samples, got %T", arr.Data)
	}
	return types.DepthFrame{
		Width:  arr.Dims[1],
		Height: arr.Dims[0],
		Pix:    data,
	}, nil
}

// EncodeFrame is the publisher side of DecodeMessage. algorithm selects
// payload compression ("", "zstd" or "s2").
func EncodeFrame(pair types.FramePair, format string, algorithm string) ([]byte, error) {
	if pair.Color == nil {
		return nil, errors.New("missing color frame")
	}
	if format == "" {
		format = FormatBGR8
	}
	b := pair.Color.Bounds()
	w, h := b.Dx(), b.Dy()
	samples := make([]byte, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := pair.Color.RGBAAt(x, y)
			switch format {
			case FormatBGR8:
				samples = append(samples, c.B, c.G, c.R)
			case FormatRGB8:
				samples = append(samples, c.R, c.G, c.B)
			default:
				return nil, fmt.Errorf("unsupported color format %q", format)
			}
		}
	}

	colorTag, err := typedArrayTag(tagUint8, samples, algorithm)
	if err != nil {
		return nil, err
	}
	depthTag, err := typedArrayTag(tagUint16LE, uint16ToBytes(pair.Depth.Pix), algorithm)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"type":         "frame",
		"seq":          pair.Seq,
		"timestamp":    float64(pair.Timestamp.UnixNano()) / 1e9,
		"color_format": format,
		"color":        multiDimArrayTag([]int{h, w, 3}, colorTag),
		"depth":        multiDimArrayTag([]int{pair.Depth.Height, pair.Depth.Width}, depthTag),
	}
	return cbor.Marshal(payload)
}

// EncodeMeta builds a non-frame message such as "start" or "end".
func EncodeMeta(msgType string, meta map[string]any) ([]byte, error) {
	payload := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		payload[k] = v
	}
	payload["type"] = msgType
	return cbor.Marshal(payload)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("value %d overflows int", n)
		}
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
