package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression identifies the at-rest compression of a stored blob.
type Compression int

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// Package-level encoder/decoder, safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("store: init zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("store: init zstd decoder: %v", err))
	}
}

// compress compresses a blob for storage. Tiny payloads are stored
// uncompressed since the zstd frame overhead would outweigh the gain.
func compress(data []byte) ([]byte, Compression) {
	if len(data) < 64 {
		return data, CompressionNone
	}
	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	return compressed, CompressionZstd
}

// decompress restores a stored blob according to its compression tag.
func decompress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionZstd:
		return decoder.DecodeAll(data, nil)
	case CompressionNone:
		return data, nil
	default:
		return nil, fmt.Errorf("store: unsupported compression: %d", compression)
	}
}
