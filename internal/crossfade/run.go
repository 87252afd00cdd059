// Package crossfade runs the distributed color to grayscale crossfade.
//
// Every participant calls Run with its own Communicator. The coordinator
// (rank 0) additionally decodes the input, assembles each frame and encodes
// it; the frame computation itself is the same on every rank.
package crossfade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/crossfade/internal/comm"
	"github.com/andresmejia3/crossfade/internal/frames"
	"github.com/andresmejia3/crossfade/internal/types"
)

// DefaultFrames is the frame count used when none is configured.
const DefaultFrames = 96

// DecodeFunc loads the input image as packed RGB.
type DecodeFunc func(path string) (*types.Image, error)

// Options configures one participant. Input, Decode and Sink are only read
// on the coordinator; NumFrames must be the same everywhere.
type Options struct {
	Input     string
	NumFrames int
	Decode    DecodeFunc
	Sink      *Sink
}

// Report is the outcome of a run as seen by one participant. Frame counts
// are only filled in on the coordinator.
type Report struct {
	Rank       int
	Workers    int
	Width      int
	Height     int
	Partitions []types.Partition
	Elapsed    time.Duration
	Frames     int
	Written    int
	Skipped    []int
	Bytes      int64
}

// Run executes the whole pipeline for one participant: distribute, generate
// the local frames between two barriers, then collect them frame by frame.
// A failure on any participant is agreed on before anyone leaves the
// collective sequence, so all ranks return an error together.
func Run(ctx context.Context, c comm.Communicator, opts Options) (*Report, error) {
	if opts.NumFrames < 2 {
		return nil, fmt.Errorf("%w: need at least 2 frames, got %d", ErrInvalidArgument, opts.NumFrames)
	}
	if c.Size() < 1 {
		return nil, fmt.Errorf("%w: worker count must be >= 1, got %d", ErrInvalidArgument, c.Size())
	}
	rank := c.Rank()
	log := slog.With("rank", rank)

	var img *types.Image
	var decodeErr error
	if rank == comm.Root {
		if decodeErr = opts.Sink.validate(); decodeErr != nil {
			log.Error("invalid frame sink", "error", decodeErr)
		} else if img, decodeErr = decode(opts); decodeErr != nil {
			log.Error("failed to load input", "path", opts.Input, "error", decodeErr)
		}
	}

	band, err := Distribute(ctx, c, img, decodeErr)
	if err != nil {
		return nil, err
	}
	// The coordinator no longer needs the source once every band is out.
	img = nil

	self := band.Self(rank)
	log.Debug("received band", "start_row", self.StartRow, "rows", self.RowCount, "bytes", self.ByteLength)

	var local [][]byte
	var genErr error
	elapsed, err := Measure(ctx, c, func() {
		local, genErr = frames.Generate(band.Local, self.RowCount, band.Width, opts.NumFrames)
	})
	if err != nil {
		return nil, err
	}
	band.Local = nil
	if err := agree(ctx, c, genErr); err != nil {
		return nil, err
	}
	log.Debug("computed frames", "frames", len(local), "elapsed", elapsed)

	report := &Report{
		Rank:       rank,
		Workers:    c.Size(),
		Width:      band.Width,
		Height:     band.Height,
		Partitions: band.Partitions,
		Elapsed:    elapsed,
		Frames:     opts.NumFrames,
	}

	col, err := Collect(ctx, c, band, local, opts.Sink)
	if col != nil {
		report.Written, report.Skipped, report.Bytes = col.Written, col.Skipped, col.Bytes
	}
	if err != nil {
		return report, err
	}
	return report, nil
}

func decode(opts Options) (*types.Image, error) {
	if opts.Decode == nil {
		return nil, fmt.Errorf("%w: no decoder configured", ErrInvalidArgument)
	}
	img, err := opts.Decode(opts.Input)
	if err != nil {
		if classOf(err) == classOther {
			err = fmt.Errorf("%w: %w", ErrInput, err)
		}
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: decoder returned no image for %s", ErrInput, opts.Input)
	}
	return img, nil
}
