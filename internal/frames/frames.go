// Package frames computes a worker's share of the crossfade: the grayscale
// version of its band and every blended frame between color and gray.
//
// Every participant calls Generate on its own band, the coordinator included.
// The functions are pure; they never touch the network or the filesystem.
package frames

import (
	"fmt"

	"github.com/andresmejia3/crossfade/internal/types"
)

// Luma weights applied to R, G and B.
const (
	weightR = 0.30
	weightG = 0.59
	weightB = 0.11
)

// GrayValue converts one RGB pixel to its 8-bit gray level.
// The weighted sum is truncated, not rounded: (200, 100, 50) gives 124.
func GrayValue(r, g, b byte) byte {
	// Explicit conversions keep the compiler from fusing multiply-adds,
	// which would change results at truncation boundaries.
	sum := float64(weightR*float64(r)) + float64(weightG*float64(g)) + float64(weightB*float64(b))
	return byte(sum)
}

// Grayscale writes the gray version of the RGB bytes in src into dst. Both
// slices must have the same length, a multiple of 3.
func Grayscale(dst, src []byte) {
	for i := 0; i+2 < len(src); i += types.Channels {
		g := GrayValue(src[i], src[i+1], src[i+2])
		dst[i] = g
		dst[i+1] = g
		dst[i+2] = g
	}
}

// Weight is the fraction of color kept at frame f out of numFrames:
// 1 at the first frame, 0 at the last. numFrames must be >= 2.
func Weight(f, numFrames int) float32 {
	return 1 - float32(f)/float32(numFrames-1)
}

// Blend writes color*p + gray*(1-p) for every byte, truncated to 8 bits.
func Blend(dst, color, gray []byte, p float32) {
	q := 1 - p
	for i := range dst {
		dst[i] = byte(float32(float32(color[i])*p) + float32(float32(gray[i])*q))
	}
}

// Generate computes all numFrames frames for a band of rowCount rows of the
// given width. local holds the band's original RGB bytes. Frame 0 equals local
// and the last frame equals its grayscale version. A band with no rows yields
// numFrames empty slices.
func Generate(local []byte, rowCount, width, numFrames int) ([][]byte, error) {
	if numFrames < 2 {
		return nil, fmt.Errorf("%w: need at least 2 frames, got %d", types.ErrInvalidArgument, numFrames)
	}
	if rowCount < 0 || width < 1 {
		return nil, fmt.Errorf("%w: band of %d rows x %d columns", types.ErrInvalidArgument, rowCount, width)
	}
	size := rowCount * width * types.Channels
	if len(local) != size {
		return nil, fmt.Errorf("%w: band holds %d bytes, expected %d", types.ErrAllocation, len(local), size)
	}

	out := make([][]byte, numFrames)
	if size == 0 {
		for f := range out {
			out[f] = []byte{}
		}
		return out, nil
	}

	gray, err := alloc(size)
	if err != nil {
		return nil, err
	}
	Grayscale(gray, local)

	for f := range out {
		frame, err := alloc(size)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", f, err)
		}
		Blend(frame, local, gray, Weight(f, numFrames))
		out[f] = frame
	}
	return out, nil
}

// alloc turns a failed make into an error so callers can report it to the
// other participants instead of crashing mid-collective.
func alloc(n int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %d bytes: %v", types.ErrAllocation, n, r)
		}
	}()
	return make([]byte, n), nil
}
