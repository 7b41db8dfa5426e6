// Package encoding holds the binary codecs used when records leave the
// process. ALL msgpack and zstd operations go through this package so every
// sink encodes the same way.
//
// Thread Safety: every function is safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderPoolEntry struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() interface{} {
		buf := new(bytes.Buffer)
		enc := msgpack.NewEncoder(buf)
		// Struct fields are written by their msgpack tag, falling back to json.
		enc.SetCustomStructTag("json")
		return &encoderPoolEntry{buf: buf, enc: enc}
	},
}

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	entry := encoderPool.Get().(*encoderPoolEntry)
	defer encoderPool.Put(entry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, entry.buf.Len())
	copy(out, entry.buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data. When decoding into interface{}, binary
// values come back as Go strings.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
