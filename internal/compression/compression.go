package compression

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

const maxDecodedSize = 64 << 20

var zstdDecoder, _ = zstd.NewReader(nil,
	zstd.WithDecoderConcurrency(1),
	zstd.WithDecoderMaxMemory(maxDecodedSize),
)

// Decompress expands a typed-array payload. elemSize is the width of one
// array element; the decoded length must be a multiple of it.
func Decompress(encoded []byte, algorithm string, elemSize int) ([]byte, error) {
	if elemSize <= 0 {
		return nil, fmt.Errorf("invalid element size %d", elemSize)
	}
	if len(encoded) == 0 {
		return []byte{}, nil
	}

	var (
		out []byte
		err error
	)
	switch normalize(algorithm) {
	case "zstd":
		out, err = zstdDecoder.DecodeAll(encoded, nil)
	case "s2":
		var n int
		n, err = s2.DecodedLen(encoded)
		if err == nil && n > maxDecodedSize {
			err = fmt.Errorf("decoded size %d exceeds limit", n)
		}
		if err == nil {
			out, err = s2.Decode(nil, encoded)
		}
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", normalize(algorithm), err)
	}
	if len(out)%elemSize != 0 {
		return nil, fmt.Errorf("decoded length %d is not a multiple of element size %d", len(out), elemSize)
	}
	return out, nil
}

// Compress is the inverse of Decompress, used by publishers and tests.
func Compress(raw []byte, algorithm string) ([]byte, error) {
	switch normalize(algorithm) {
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case "s2":
		return s2.Encode(nil, raw), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
}

func normalize(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "zstd", "zstandard":
		return "zstd"
	case "s2", "snappy-s2":
		return "s2"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
