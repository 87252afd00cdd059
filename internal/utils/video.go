package utils

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FramePattern is the image2 input pattern matching the frame files
// written for prefix and ext.
func FramePattern(prefix, ext string) string {
	return prefix + "_frame_%03d." + ext
}

func videoStream(pattern string, fps int, out string) *ffmpeg.Stream {
	return ffmpeg.Input(pattern, ffmpeg.KwArgs{
		"framerate":    strconv.Itoa(fps),
		"start_number": "0",
	}).
		Output(out, ffmpeg.KwArgs{
			"c:v":     "libx264",
			"pix_fmt": "yuv420p",
			// yuv420p needs even dimensions
			"vf": "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		}).
		OverWriteOutput()
}

// AssembleVideo encodes the numbered frames matching pattern into out.
func AssembleVideo(ctx context.Context, pattern string, fps int, out string) error {
	if fps < 1 {
		return fmt.Errorf("fps must be >= 1, got %d", fps)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	var stderr bytes.Buffer
	s := videoStream(pattern, fps, out).WithErrorOutput(&stderr)
	s.Context = ctx
	if err := s.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w\n%s", err, stderr.String())
	}
	return nil
}
