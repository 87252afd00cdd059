// Package partition splits an image into contiguous row bands, one per worker.
//
// Rows that do not divide evenly go to the lowest-numbered workers first, so
// worker p owns one extra row iff p < totalRows % workers. When there are more
// workers than rows the trailing workers own zero rows.
package partition

import (
	"fmt"

	"github.com/andresmejia3/crossfade/internal/types"
)

// ErrInvalidArgument is returned when a precondition on the inputs is violated.
var ErrInvalidArgument = types.ErrInvalidArgument

// Rows maps totalRows onto workers and returns one partition per worker in
// worker order. Byte fields are left zero; see ForImage.
func Rows(totalRows, workers int) ([]types.Partition, error) {
	if totalRows < 1 {
		return nil, fmt.Errorf("%w: total rows must be >= 1, got %d", ErrInvalidArgument, totalRows)
	}
	if workers < 1 {
		return nil, fmt.Errorf("%w: worker count must be >= 1, got %d", ErrInvalidArgument, workers)
	}

	base := totalRows / workers
	extra := totalRows % workers

	parts := make([]types.Partition, workers)
	start := 0
	for p := range parts {
		n := base
		if p < extra {
			n++
		}
		parts[p] = types.Partition{Worker: p, StartRow: start, RowCount: n}
		start += n
	}
	return parts, nil
}

// ForImage partitions the rows of a width x height RGB image and fills in the
// byte offset and length of every band inside the flat pixel buffer.
func ForImage(width, height, workers int) ([]types.Partition, error) {
	if width < 1 {
		return nil, fmt.Errorf("%w: width must be >= 1, got %d", ErrInvalidArgument, width)
	}
	parts, err := Rows(height, workers)
	if err != nil {
		return nil, err
	}
	stride := width * types.Channels
	for i := range parts {
		parts[i].ByteOffset = parts[i].StartRow * stride
		parts[i].ByteLength = parts[i].RowCount * stride
	}
	return parts, nil
}

// Counts returns the byte length of every partition, indexed by worker.
func Counts(parts []types.Partition) []int {
	counts := make([]int, len(parts))
	for i, p := range parts {
		counts[i] = p.ByteLength
	}
	return counts
}

// Displs returns the byte offset of every partition, indexed by worker.
func Displs(parts []types.Partition) []int {
	displs := make([]int, len(parts))
	for i, p := range parts {
		displs[i] = p.ByteOffset
	}
	return displs
}

// Check verifies that parts is a valid layout for a width x height image split
// across len(parts) workers. Workers use it on a received partition table.
func Check(parts []types.Partition, width, height int) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: empty partition table", ErrInvalidArgument)
	}
	stride := width * types.Channels
	next := 0
	for i, p := range parts {
		switch {
		case p.Worker != i:
			return fmt.Errorf("%w: partition %d belongs to worker %d", ErrInvalidArgument, i, p.Worker)
		case p.RowCount < 0:
			return fmt.Errorf("%w: partition %d has negative row count", ErrInvalidArgument, i)
		case p.StartRow != next:
			return fmt.Errorf("%w: partition %d starts at row %d, expected %d", ErrInvalidArgument, i, p.StartRow, next)
		case p.ByteOffset != p.StartRow*stride || p.ByteLength != p.RowCount*stride:
			return fmt.Errorf("%w: partition %d byte range does not match its rows", ErrInvalidArgument, i)
		}
		next += p.RowCount
	}
	if next != height {
		return fmt.Errorf("%w: partitions cover %d rows, image has %d", ErrInvalidArgument, next, height)
	}
	return nil
}
