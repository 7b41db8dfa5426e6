package publisher

import (
	"github.com/maxpert/livefeed/encoding"
)

// zstdTransformer compresses the output of another transformer
type zstdTransformer struct {
	inner Transformer
}

// WithZstd wraps t so every payload is a zstd frame
func WithZstd(t Transformer) Transformer {
	return &zstdTransformer{inner: t}
}

func (z *zstdTransformer) Transform(event RecordEvent) ([]byte, error) {
	data, err := z.inner.Transform(event)
	if err != nil {
		return nil, err
	}
	return encoding.Compress(data)
}

func (z *zstdTransformer) ContentType() string {
	return z.inner.ContentType() + "+zstd"
}
