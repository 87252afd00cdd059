package crossfade

import (
	"context"
	"time"

	"github.com/andresmejia3/crossfade/internal/comm"
)

// Measure runs compute between two barriers and returns the time between
// them. compute must not communicate. Its own failure is left to the caller
// so every participant still reaches the closing barrier.
func Measure(ctx context.Context, c comm.Communicator, compute func()) (time.Duration, error) {
	if err := c.Barrier(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	compute()
	if err := c.Barrier(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
