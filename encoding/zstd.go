package encoding

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() {
	zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if zstdErr != nil {
		return
	}
	zstdDecoder, zstdErr = zstd.NewReader(nil)
}

// Compress returns data as a single zstd frame.
func Compress(data []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdErr != nil {
		return nil, fmt.Errorf("zstd unavailable: %w", zstdErr)
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdErr != nil {
		return nil, fmt.Errorf("zstd unavailable: %w", zstdErr)
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
