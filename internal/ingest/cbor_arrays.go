package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"depth-overlay-go/internal/compression"
)

const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
	tagCompressed    = 56500

	// maxElements bounds one array; it matches the decompression limit.
	maxElements = 64 << 20
)

// ndArray is a decoded RFC 8746 multi-dimensional array in row-major order.
type ndArray struct {
	Dims []int
	Data any
}

// size is the element count of the array. Products that overflow or
// exceed maxElements are rejected.
func (a ndArray) size() (int, error) {
	if len(a.Dims) == 0 {
		return 0, nil
	}
	n := 1
	for _, d := range a.Dims {
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("dimensions %v overflow", a.Dims)
		}
		n *= d
	}
	if n > maxElements {
		return 0, fmt.Errorf("dimensions %v exceed %d elements", a.Dims, maxElements)
	}
	return n, nil
}

func decodeMultiDimArray(value any) (ndArray, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return ndArray{}, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return ndArray{}, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) < 1 || len(dimsRaw) > 3 {
		return ndArray{}, fmt.Errorf("invalid multidim dimensions")
	}
	dims := make([]int, len(dimsRaw))
	for i, raw := range dimsRaw {
		n, err := toInt(raw)
		if err != nil {
			return ndArray{}, err
		}
		if n < 0 {
			return ndArray{}, fmt.Errorf("negative dimension %d", n)
		}
		dims[i] = n
	}

	arr := ndArray{Dims: dims}
	want, err := arr.size()
	if err != nil {
		return ndArray{}, err
	}

	flat, err := decodeTypedArray(items[1])
	if err != nil {
		return ndArray{}, err
	}
	arr.Data = flat

	var length int
	switch v := flat.(type) {
	case []uint8:
		length = len(v)
	case []uint16:
		length = len(v)
	default:
		return ndArray{}, errors.New("unsupported typed array type")
	}
	if length != want {
		return ndArray{}, fmt.Errorf("dimension mismatch: %v holds %d values, got %d", dims, want, length)
	}
	return arr, nil
}

func decodeTypedArray(value any) (any, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected typed array tag")
	}

	dataBytes, err := extractBytes(tag)
	if err != nil {
		return nil, err
	}

	switch tag.Number {
	case tagUint8:
		return dataBytes, nil
	case tagUint16LE:
		return bytesToUint16(dataBytes), nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func extractBytes(tag cbor.Tag) ([]byte, error) {
	switch v := tag.Content.(type) {
	case []byte:
		if size := elemSize(tag.Number); size > 0 && len(v)%size != 0 {
			return nil, fmt.Errorf("typed array tag %d has %d bytes", tag.Number, len(v))
		}
		return v, nil
	case cbor.Tag:
		if v.Number != tagCompressed {
			return nil, fmt.Errorf("unsupported nested tag %d", v.Number)
		}
		return decompress(v)
	default:
		return nil, fmt.Errorf("unsupported typed array content %T", v)
	}
}

// decompress unpacks [algorithm, elem_size, payload].
func decompress(tag cbor.Tag) ([]byte, error) {
	items, ok := tag.Content.([]any)
	if !ok || len(items) != 3 {
		return nil, errors.New("invalid compressed tag content")
	}
	algorithm, ok := items[0].(string)
	if !ok {
		return nil, errors.New("invalid compression algorithm")
	}
	size, err := toInt(items[1])
	if err != nil {
		return nil, err
	}
	encoded, ok := items[2].([]byte)
	if !ok {
		return nil, errors.New("invalid compressed payload")
	}
	return compression.Decompress(encoded, algorithm, size)
}

func elemSize(tagNumber uint64) int {
	switch tagNumber {
	case tagUint8:
		return 1
	case tagUint16LE:
		return 2
	default:
		return 0
	}
}

func typedArrayTag(tagNumber uint64, data []byte, algorithm string) (cbor.Tag, error) {
	if algorithm == "" {
		return cbor.Tag{Number: tagNumber, Content: data}, nil
	}
	encoded, err := compression.Compress(data, algorithm)
	if err != nil {
		return cbor.Tag{}, err
	}
	return cbor.Tag{
		Number: tagNumber,
		Content: cbor.Tag{
			Number:  tagCompressed,
			Content: []any{algorithm, elemSize(tagNumber), encoded},
		},
	}, nil
}

func multiDimArrayTag(dims []int, typed cbor.Tag) cbor.Tag {
	rawDims := make([]any, len(dims))
	for i, d := range dims {
		rawDims[i] = d
	}
	return cbor.Tag{
		Number:  tagMultiDimArray,
		Content: []any{rawDims, typed},
	}
}

func bytesToUint16(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := 0; i < len(out); i++ {
		out[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
	}
	return out
}

func uint16ToBytes(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], v)
	}
	return out
}
