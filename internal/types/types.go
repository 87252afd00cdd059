package types

import "fmt"

// Channels is the fixed number of interleaved 8-bit channels per pixel (R, G, B).
const Channels = 3

// Image is a decoded color image held as a flat row-major RGB buffer.
// Pixel (x, y) channel c lives at Pix[(y*Width+x)*Channels+c].
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// NewImage allocates a zeroed width x height RGB image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]byte, width*height*Channels)}
}

// Stride is the number of bytes in one row.
func (m *Image) Stride() int {
	return m.Width * Channels
}

// Offset returns the index of the first channel of pixel (x, y).
func (m *Image) Offset(x, y int) int {
	return (y*m.Width + x) * Channels
}

// Validate checks the dimensions against the buffer length.
func (m *Image) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", m.Width, m.Height)
	}
	if want := m.Width * m.Height * Channels; len(m.Pix) != want {
		return fmt.Errorf("pixel buffer is %d bytes, expected %d for %dx%d", len(m.Pix), want, m.Width, m.Height)
	}
	return nil
}

// Partition is the contiguous band of rows owned by one worker.
type Partition struct {
	Worker     int `msgpack:"worker"`
	StartRow   int `msgpack:"start_row"`
	RowCount   int `msgpack:"row_count"`
	ByteOffset int `msgpack:"byte_offset"`
	ByteLength int `msgpack:"byte_length"`
}

// FrameEvent reports the outcome of one assembled frame on the coordinator.
type FrameEvent struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	Err   error  `json:"-"`
}

// Skipped reports whether the frame failed to encode and was left out.
func (e FrameEvent) Skipped() bool {
	return e.Err != nil
}
