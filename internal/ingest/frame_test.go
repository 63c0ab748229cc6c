package ingest

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-overlay-go/internal/types"
)

func testPair() types.FramePair {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.SetRGBA(1, 0, color.RGBA{R: 10, G: 20, B: 30, A: 0xff})
	img.SetRGBA(3, 1, color.RGBA{R: 200, G: 100, B: 50, A: 0xff})
	depth := types.NewDepthFrame(4, 2)
	depth.Set(2, 1, 1500)
	depth.Set(0, 0, 65535)
	return types.FramePair{
		Seq:       42,
		Timestamp: time.Unix(1700000000, 250_000_000),
		Color:     img,
		Depth:     depth,
	}
}

func TestDecodeBGRFrame(t *testing.T) {
	// 1x2 frame, BGR samples for blue then red.
	msg := map[string]any{
		"type":         "frame",
		"seq":          7,
		"timestamp":    1.25,
		"color_format": "bgr8",
		"color": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{1, 2, 3},
				cbor.Tag{Number: tagUint8, Content: []byte{255, 0, 0, 0, 0, 255}},
			},
		},
		"depth": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{1, 2},
				cbor.Tag{Number: tagUint16LE, Content: []byte{0xdc, 0x05, 0xd0, 0x07}},
			},
		},
	}
	payload, err := cbor.Marshal(msg)
	require.NoError(t, err)

	raw, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "frame", raw.Type)
	assert.Equal(t, uint64(7), raw.Frame.Seq)
	assert.Equal(t, time.Unix(1, 250_000_000), raw.Frame.Timestamp)

	require.NotNil(t, raw.Frame.Color)
	assert.Equal(t, color.RGBA{B: 255, A: 0xff}, raw.Frame.Color.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, A: 0xff}, raw.Frame.Color.RGBAAt(1, 0))

	assert.Equal(t, 2, raw.Frame.Depth.Width)
	assert.Equal(t, 1, raw.Frame.Depth.Height)
	assert.Equal(t, []uint16{1500, 2000}, raw.Frame.Depth.Pix)
}

func TestEncodeDecodeFrame(t *testing.T) {
	pair := testPair()
	for _, alg := range []string{"", "zstd", "s2"} {
		payload, err := EncodeFrame(pair, FormatBGR8, alg)
		require.NoError(t, err, alg)

		raw, err := DecodeMessage(payload)
		require.NoError(t, err, alg)
		assert.Equal(t, pair.Seq, raw.Frame.Seq, alg)
		assert.WithinDuration(t, pair.Timestamp, raw.Frame.Timestamp, time.Millisecond, alg)
		assert.Equal(t, pair.Color.Pix, raw.Frame.Color.Pix, alg)
		assert.Equal(t, pair.Depth, raw.Frame.Depth, alg)
	}
}

func TestDecodeMetaMessage(t *testing.T) {
	payload, err := EncodeMeta("start", map[string]any{
		"serial": "f1230",
		"stream": map[string]any{"width": 640, "height": 480},
	})
	require.NoError(t, err)

	raw, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "start", raw.Type)
	assert.Equal(t, "f1230", raw.Meta["serial"])
	stream, ok := raw.Meta["stream"].(map[string]any)
	require.True(t, ok, "nested maps should decode with string keys")
	assert.EqualValues(t, 640, stream["width"])
	assert.Nil(t, raw.Frame.Color)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	_, err := DecodeMessage([]byte{0xff, 0x00})
	assert.Error(t, err)

	payload, err := cbor.Marshal(map[string]any{"seq": 1})
	require.NoError(t, err)
	_, err = DecodeMessage(payload)
	assert.ErrorIs(t, err, ErrUnsupportedMessage)

	bad := map[string]any{
		"type": "frame",
		"color": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{2, 2, 3},
				cbor.Tag{Number: tagUint8, Content: []byte{1, 2, 3}},
			},
		},
	}
	payload, err = cbor.Marshal(bad)
	require.NoError(t, err)
	_, err = DecodeMessage(payload)
	assert.ErrorContains(t, err, "dimension mismatch")

	overflow := map[string]any{
		"type": "frame",
		"color": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{uint64(7), uint64(0x6DB6DB6DB6DB6DB7), uint64(3)},
				cbor.Tag{Number: tagUint8, Content: []byte{1, 2, 3}},
			},
		},
	}
	payload, err = cbor.Marshal(overflow)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		_, err = DecodeMessage(payload)
	})
	assert.ErrorContains(t, err, "overflow")

	pair := testPair()
	_, err = EncodeFrame(pair, "yuyv", "")
	assert.Error(t, err)
}

func TestDimensionLimits(t *testing.T) {
	_, err := ndArray{Dims: []int{1 << 20, 1 << 20}}.size()
	assert.ErrorContains(t, err, "exceed")

	_, err = ndArray{Dims: []int{1 << 40, 1 << 40, 3}}.size()
	assert.ErrorContains(t, err, "overflow")

	n, err := ndArray{Dims: []int{480, 640, 3}}.size()
	require.NoError(t, err)
	assert.Equal(t, 480*640*3, n)

	n, err = ndArray{Dims: []int{0, 1 << 62}}.size()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDecodeRejectsUint32Samples(t *testing.T) {
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{1, 2},
			cbor.Tag{Number: 70, Content: []byte{1, 0, 0, 0, 2, 0, 0, 0}},
		},
	}
	_, err := decodeMultiDimArray(value)
	assert.ErrorContains(t, err, "unsupported typed array tag 70")
}

func TestDecodeUsesDefaultColorFormat(t *testing.T) {
	msg := map[string]any{
		"type": "frame",
		"color": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{1, 1, 3},
				cbor.Tag{Number: tagUint8, Content: []byte{255, 0, 0}},
			},
		},
		"depth": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{1, 1},
				cbor.Tag{Number: tagUint16LE, Content: []byte{0xe8, 0x03}},
			},
		},
	}
	payload, err := cbor.Marshal(msg)
	require.NoError(t, err)

	raw, err := DecodeMessageFormat(payload, FormatRGB8)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 0xff}, raw.Frame.Color.RGBAAt(0, 0))

	raw, err = DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 255, A: 0xff}, raw.Frame.Color.RGBAAt(0, 0))

	msg["color_format"] = FormatBGR8
	payload, err = cbor.Marshal(msg)
	require.NoError(t, err)
	raw, err = DecodeMessageFormat(payload, FormatRGB8)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 255, A: 0xff}, raw.Frame.Color.RGBAAt(0, 0))
}

func TestDecodeMultiDimArrayUint16(t *testing.T) {
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{2, 2},
			cbor.Tag{Number: tagUint16LE, Content: []byte{1, 0, 2, 0, 3, 0, 4, 1}},
		},
	}

	got, err := decodeMultiDimArray(value)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, got.Dims)
	assert.Equal(t, []uint16{1, 2, 3, 260}, got.Data)
}
