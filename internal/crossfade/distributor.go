package crossfade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/crossfade/internal/comm"
	"github.com/andresmejia3/crossfade/internal/partition"
	"github.com/andresmejia3/crossfade/internal/types"
	"github.com/andresmejia3/crossfade/internal/wire"
)

// header is the first broadcast of a run. A failed decode is carried in it
// so workers stop before any collective that depends on image metadata.
type header struct {
	OK       bool   `msgpack:"ok"`
	Class    uint8  `msgpack:"class,omitempty"`
	Reason   string `msgpack:"reason,omitempty"`
	Width    int    `msgpack:"width"`
	Height   int    `msgpack:"height"`
	Channels int    `msgpack:"channels"`
}

// Band is what one participant holds after distribution.
type Band struct {
	Width      int
	Height     int
	Partitions []types.Partition // full table, indexed by worker
	Local      []byte            // this participant's color rows
}

// Self returns the caller's own partition.
func (b *Band) Self(rank int) types.Partition {
	return b.Partitions[rank]
}

// Distribute broadcasts the image metadata and partition table from the
// coordinator and scatters each worker its rows. img and decodeErr are only
// read on the coordinator.
func Distribute(ctx context.Context, c comm.Communicator, img *types.Image, decodeErr error) (*Band, error) {
	isRoot := c.Rank() == comm.Root
	band := &Band{}

	var h header
	var payload []byte
	if isRoot {
		if decodeErr == nil {
			if img == nil {
				decodeErr = fmt.Errorf("%w: no image to distribute", ErrInput)
			} else if err := img.Validate(); err != nil {
				decodeErr = fmt.Errorf("%w: %v", ErrInput, err)
			}
		}
		if decodeErr == nil {
			band.Partitions, decodeErr = partition.ForImage(img.Width, img.Height, c.Size())
		}
		if decodeErr != nil {
			h = header{Class: classOf(decodeErr), Reason: decodeErr.Error()}
		} else {
			h = header{OK: true, Width: img.Width, Height: img.Height, Channels: types.Channels}
		}
		var err error
		if payload, err = wire.Marshal(h); err != nil {
			return nil, fmt.Errorf("failed to encode header: %w", err)
		}
	}

	payload, err := c.Bcast(ctx, payload)
	if err != nil {
		return nil, err
	}
	if !isRoot {
		if err := wire.Unmarshal(payload, &h); err != nil {
			return nil, fmt.Errorf("failed to decode header: %w", err)
		}
	}
	if !h.OK {
		if isRoot {
			return nil, decodeErr
		}
		return nil, fmt.Errorf("%w: coordinator aborted before distribution: %s", errOfClass(h.Class), h.Reason)
	}
	slog.Debug("received image header", "rank", c.Rank(), "width", h.Width, "height", h.Height)
	band.Width, band.Height = h.Width, h.Height

	// Everything after the header is collective until the agreement below,
	// so local problems are recorded and reported there instead of returned.
	var localErr error
	if h.Channels != types.Channels {
		localErr = fmt.Errorf("%w: coordinator sent %d channels, expected %d", ErrInvalidArgument, h.Channels, types.Channels)
	}

	var table []byte
	if isRoot {
		if table, err = wire.Marshal(band.Partitions); err != nil {
			localErr = fmt.Errorf("failed to encode partition table: %w", err)
		}
	}
	if table, err = c.Bcast(ctx, table); err != nil {
		return nil, err
	}
	if !isRoot && localErr == nil {
		if err := wire.Unmarshal(table, &band.Partitions); err != nil {
			localErr = fmt.Errorf("failed to decode partition table: %w", err)
		} else if err := partition.Check(band.Partitions, h.Width, h.Height); err != nil {
			localErr = err
		} else if len(band.Partitions) != c.Size() {
			localErr = fmt.Errorf("%w: partition table has %d entries for %d workers", ErrInvalidArgument, len(band.Partitions), c.Size())
		}
	}

	var counts, displs []int
	var src []byte
	if isRoot {
		counts = partition.Counts(band.Partitions)
		displs = partition.Displs(band.Partitions)
		src = img.Pix
	}
	band.Local, err = c.Scatterv(ctx, src, counts, displs)
	if err != nil {
		return nil, err
	}
	if localErr == nil {
		if self := band.Self(c.Rank()); len(band.Local) != self.ByteLength {
			localErr = fmt.Errorf("received %d bytes for partition of %d", len(band.Local), self.ByteLength)
		}
	}

	if err := agree(ctx, c, localErr); err != nil {
		return nil, err
	}
	return band, nil
}
