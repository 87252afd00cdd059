package crossfade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/crossfade/internal/comm"
	"github.com/andresmejia3/crossfade/internal/partition"
	"github.com/andresmejia3/crossfade/internal/types"
)

// EncodeFunc writes one assembled frame to path.
type EncodeFunc func(path string, img *types.Image) error

// Observer is notified on the coordinator after each frame is handled.
type Observer interface {
	OnFrame(ev types.FrameEvent)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(ev types.FrameEvent)

func (f ObserverFunc) OnFrame(ev types.FrameEvent) { f(ev) }

// Sink is the coordinator side of collection. Workers pass nil.
type Sink struct {
	Encode    EncodeFunc
	Path      func(frame int) string
	Policy    OutputPolicy
	Observers []Observer
}

// Collection summarizes what the coordinator wrote.
type Collection struct {
	Written int
	Skipped []int
	Bytes   int64
}

// Collect gathers the frames one at a time, in frame order, into a single
// reused image on the coordinator and hands each to the sink. Each local
// frame is released as soon as it has been sent. After every frame the
// coordinator broadcasts whether the run continues, so an encode failure
// under the abort policy stops all participants at the same frame.
func Collect(ctx context.Context, c comm.Communicator, band *Band, local [][]byte, sink *Sink) (*Collection, error) {
	isRoot := c.Rank() == comm.Root
	counts := partition.Counts(band.Partitions)
	displs := partition.Displs(band.Partitions)

	res := &Collection{}
	var assembled *types.Image
	if isRoot {
		if err := sink.validate(); err != nil {
			return nil, err
		}
		assembled = types.NewImage(band.Width, band.Height)
	}

	for f := range local {
		var recv []byte
		if isRoot {
			recv = assembled.Pix
		}
		if err := c.Gatherv(ctx, local[f], recv, counts, displs); err != nil {
			return res, err
		}
		local[f] = nil

		var v verdict
		var frameErr error
		if isRoot {
			frameErr = res.write(sink, f, assembled)
			if frameErr != nil && sink.Policy != SkipOnOutputError {
				v = abortVerdict(c.Rank(), frameErr)
			}
		}
		if err := announce(ctx, c, v, frameErr); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Sink) validate() error {
	if s == nil || s.Encode == nil || s.Path == nil {
		return fmt.Errorf("%w: coordinator needs an encoder and a frame path", ErrInvalidArgument)
	}
	return nil
}

func (res *Collection) write(sink *Sink, f int, img *types.Image) error {
	ev := types.FrameEvent{Index: f, Path: sink.Path(f), Bytes: len(img.Pix)}
	if err := sink.Encode(ev.Path, img); err != nil {
		ev.Err = fmt.Errorf("%w: frame %d: %w", ErrOutput, f, err)
		slog.Warn("failed to write frame", "frame", f, "path", ev.Path, "error", err)
		res.Skipped = append(res.Skipped, f)
	} else {
		res.Written++
		res.Bytes += int64(ev.Bytes)
	}
	for _, o := range sink.Observers {
		o.OnFrame(ev)
	}
	return ev.Err
}
