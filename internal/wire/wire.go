// Package wire frames messages exchanged between the coordinator and worker
// processes.
//
// Protocol: [Length uint32 BE][Flags byte][Body], where Body is a msgpack
// document, zstd-compressed when Flags has FlagZstd set. Length counts the
// flags byte plus the body.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// FlagZstd marks a zstd-compressed body.
const FlagZstd byte = 1 << 0

// MaxMessageSize bounds a single frame so a corrupt length prefix cannot
// trigger a huge allocation.
const MaxMessageSize = 1 << 30

// compressThreshold is the smallest body worth compressing.
const compressThreshold = 1024

// ErrTooLarge is returned for frames above MaxMessageSize.
var ErrTooLarge = errors.New("wire: message too large")

var encoderPool = sync.Pool{
	New: func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		return enc
	},
}

var decoderPool = sync.Pool{
	New: func() interface{} {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxMessageSize))
		return dec
	},
}

// Marshal encodes v as msgpack.
func Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal decodes a msgpack document into v.
func Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// Writer writes framed messages. It is safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	compress bool
}

// NewWriter returns a Writer on w. With compress set, bodies larger than 1 KiB
// are zstd-compressed.
func NewWriter(w io.Writer, compress bool) *Writer {
	return &Writer{w: w, compress: compress}
}

// Write encodes v and writes it as one frame.
func (w *Writer) Write(v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var flags byte
	if w.compress && len(body) >= compressThreshold {
		enc := encoderPool.Get().(*zstd.Encoder)
		body = enc.EncodeAll(body, make([]byte, 0, len(body)/2))
		encoderPool.Put(enc)
		flags |= FlagZstd
	}
	if len(body)+1 > MaxMessageSize {
		return ErrTooLarge
	}

	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)+1))
	header[4] = flags

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

// Reader reads framed messages. It is not safe for concurrent use.
type Reader struct {
	r      io.Reader
	header [5]byte
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read reads one frame and decodes it into v. It returns io.EOF when the
// stream ends cleanly between frames.
func (r *Reader) Read(v interface{}) error {
	if _, err := io.ReadFull(r.r, r.header[:4]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(r.header[:4])
	if n == 0 {
		return fmt.Errorf("wire: empty frame")
	}
	if n > MaxMessageSize {
		return ErrTooLarge
	}

	if _, err := io.ReadFull(r.r, r.header[4:5]); err != nil {
		return unexpected(err)
	}
	flags := r.header[4]

	body := make([]byte, n-1)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return unexpected(err)
	}

	if flags&FlagZstd != 0 {
		dec := decoderPool.Get().(*zstd.Decoder)
		raw, err := dec.DecodeAll(body, nil)
		decoderPool.Put(dec)
		if err != nil {
			return fmt.Errorf("failed to decompress frame: %w", err)
		}
		body = raw
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}

// unexpected reports EOF inside a frame as a truncated stream.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
