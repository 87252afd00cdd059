// Package imageio converts between image files and packed RGB buffers.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/crossfade/internal/types"
)

var (
	// ErrFile means the input could not be opened.
	ErrFile = fmt.Errorf("%w: cannot open file", types.ErrInput)
	// ErrFormat means the input is not an image in a supported format.
	ErrFormat = fmt.Errorf("%w: unsupported image format", types.ErrInput)
	// ErrWrite means a frame could not be written.
	ErrWrite = fmt.Errorf("%w: cannot write image", types.ErrOutput)
)

// Formats lists the output formats, by file extension. Only lossless
// encoders are allowed so frame 0 and the last frame keep the exact source
// and gray bytes.
var Formats = []string{"png", "bmp", "tiff"}

// ParseFormat normalizes an output extension and checks it is a lossless
// format imaging can encode.
func ParseFormat(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "tif" {
		ext = "tiff"
	}
	if !slices.Contains(Formats, ext) {
		return "", fmt.Errorf("%w: output format %q (use one of %s)", types.ErrInvalidArgument, ext, strings.Join(Formats, ", "))
	}
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		return "", fmt.Errorf("%w: output format %q: %v", types.ErrInvalidArgument, ext, err)
	}
	return ext, nil
}

// FrameName returns the path of frame f: <prefix>_frame_<f>.<ext> with f
// zero padded to three digits.
func FrameName(prefix string, f int, ext string) string {
	return fmt.Sprintf("%s_frame_%03d.%s", prefix, f, ext)
}

// Decode loads path as packed 8-bit RGB. Alpha is dropped and any other
// channel layout is converted.
func Decode(path string) (*types.Image, error) {
	src, err := imaging.Open(path)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("%w: %w", ErrFile, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, path, err)
	}
	return FromImage(src), nil
}

// FromImage packs any image.Image into an RGB buffer.
func FromImage(src image.Image) *types.Image {
	nrgba := imaging.Clone(src)
	b := nrgba.Bounds()
	img := types.NewImage(b.Dx(), b.Dy())
	for y := 0; y < img.Height; y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		out := img.Pix[y*img.Stride():]
		for x := 0; x < img.Width; x++ {
			copy(out[x*types.Channels:x*types.Channels+types.Channels], row[x*4:x*4+3])
		}
	}
	return img
}

// ToImage wraps an RGB buffer as an opaque *image.NRGBA.
func ToImage(img *types.Image) *image.NRGBA {
	dst := imaging.New(img.Width, img.Height, color.NRGBA{A: 0xff})
	for y := 0; y < img.Height; y++ {
		in := img.Pix[y*img.Stride():]
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < img.Width; x++ {
			copy(row[x*4:x*4+3], in[x*types.Channels:x*types.Channels+types.Channels])
		}
	}
	return dst
}

// Encode writes img to path. The format follows the file extension.
func Encode(path string, img *types.Image) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	if err := imaging.Save(ToImage(img), path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	return nil
}
