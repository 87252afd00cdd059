package crossfade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/crossfade/internal/comm"
	"github.com/andresmejia3/crossfade/internal/wire"
)

// verdict is the coordinator's decision, broadcast so every participant
// leaves the collective sequence at the same point.
type verdict struct {
	Abort  bool   `msgpack:"abort"`
	Rank   int    `msgpack:"rank"`
	Class  uint8  `msgpack:"class"`
	Reason string `msgpack:"reason"`
}

func abortVerdict(rank int, err error) verdict {
	return verdict{Abort: true, Rank: rank, Class: classOf(err), Reason: err.Error()}
}

// agree makes a locally detected error fatal for the whole run. Every rank
// contributes a one-byte status to the root, which broadcasts a verdict naming
// the lowest failing rank. All ranks return nil, or all return an error.
func agree(ctx context.Context, c comm.Communicator, localErr error) error {
	size := c.Size()
	counts := make([]int, size)
	displs := make([]int, size)
	for r := range counts {
		counts[r] = 1
		displs[r] = r
	}

	var statuses []byte
	if c.Rank() == comm.Root {
		statuses = make([]byte, size)
	}
	if localErr != nil {
		slog.Debug("reporting local failure", "rank", c.Rank(), "error", localErr)
	}
	if err := c.Gatherv(ctx, []byte{classOf(localErr)}, statuses, counts, displs); err != nil {
		return err
	}

	var v verdict
	if c.Rank() == comm.Root {
		for r, class := range statuses {
			if class == classNone {
				continue
			}
			v = verdict{Abort: true, Rank: r, Class: class}
			if r == comm.Root {
				v.Reason = localErr.Error()
			} else {
				v.Reason = fmt.Sprintf("rank %d reported a failure", r)
			}
			break
		}
	}
	return announce(ctx, c, v, localErr)
}

// announce broadcasts the root's verdict v. On abort, the rank that caused
// it returns its own error and the others return an error of the same class.
func announce(ctx context.Context, c comm.Communicator, v verdict, localErr error) error {
	var payload []byte
	if c.Rank() == comm.Root {
		var err error
		if payload, err = wire.Marshal(v); err != nil {
			return fmt.Errorf("failed to encode verdict: %w", err)
		}
	}
	payload, err := c.Bcast(ctx, payload)
	if err != nil {
		return err
	}
	if c.Rank() != comm.Root {
		if err := wire.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("failed to decode verdict: %w", err)
		}
	}
	if !v.Abort {
		return nil
	}
	if v.Rank == c.Rank() && localErr != nil {
		return localErr
	}
	return fmt.Errorf("%w: run aborted by rank %d: %s", errOfClass(v.Class), v.Rank, v.Reason)
}
