package partition

import (
	"errors"
	"testing"

	"github.com/andresmejia3/crossfade/internal/types"
)

func TestRows(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		workers int
		want    []int // row count per worker
	}{
		{name: "Even split", rows: 8, workers: 4, want: []int{2, 2, 2, 2}},
		{name: "Remainder goes to lowest workers", rows: 10, workers: 4, want: []int{3, 3, 2, 2}},
		{name: "Single worker", rows: 5, workers: 1, want: []int{5}},
		{name: "More workers than rows", rows: 3, workers: 5, want: []int{1, 1, 1, 0, 0}},
		{name: "Seven workers on 800 rows", rows: 800, workers: 7, want: []int{115, 115, 114, 114, 114, 114, 114}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := Rows(tt.rows, tt.workers)
			if err != nil {
				t.Fatalf("Rows() error = %v", err)
			}
			if len(parts) != len(tt.want) {
				t.Fatalf("Expected %d partitions, got %d", len(tt.want), len(parts))
			}
			start := 0
			for i, p := range parts {
				if p.Worker != i {
					t.Errorf("Partition %d has worker %d", i, p.Worker)
				}
				if p.RowCount != tt.want[i] {
					t.Errorf("Partition %d: row count %d, want %d", i, p.RowCount, tt.want[i])
				}
				if p.StartRow != start {
					t.Errorf("Partition %d: start row %d, want %d", i, p.StartRow, start)
				}
				start += p.RowCount
			}
		})
	}
}

// TestRowsProperties sweeps sizes and checks the layout invariants.
func TestRowsProperties(t *testing.T) {
	for rows := 1; rows <= 40; rows++ {
		for workers := 1; workers <= 50; workers++ {
			parts, err := Rows(rows, workers)
			if err != nil {
				t.Fatalf("Rows(%d, %d) error = %v", rows, workers, err)
			}

			sum, lo, hi := 0, rows, 0
			for p, part := range parts {
				if part.RowCount < 0 {
					t.Fatalf("Rows(%d, %d): negative count at %d", rows, workers, p)
				}
				wantExtra := p < rows%workers
				if gotExtra := part.RowCount == rows/workers+1; gotExtra != wantExtra {
					t.Fatalf("Rows(%d, %d): worker %d extra row = %v, want %v", rows, workers, p, gotExtra, wantExtra)
				}
				sum += part.RowCount
				lo = min(lo, part.RowCount)
				hi = max(hi, part.RowCount)
			}
			if sum != rows {
				t.Fatalf("Rows(%d, %d): counts sum to %d", rows, workers, sum)
			}
			if hi-lo > 1 {
				t.Fatalf("Rows(%d, %d): imbalance %d", rows, workers, hi-lo)
			}
		}
	}
}

func TestRowsInvalid(t *testing.T) {
	if _, err := Rows(0, 2); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero rows, got %v", err)
	}
	if _, err := Rows(4, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero workers, got %v", err)
	}
	if _, err := ForImage(0, 4, 2); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero width, got %v", err)
	}
}

func TestForImage(t *testing.T) {
	parts, err := ForImage(4, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	// 5 rows over 2 workers: 3 + 2 rows, 12 bytes per row
	if parts[0].ByteOffset != 0 || parts[0].ByteLength != 36 {
		t.Errorf("Unexpected first partition %+v", parts[0])
	}
	if parts[1].ByteOffset != 36 || parts[1].ByteLength != 24 {
		t.Errorf("Unexpected second partition %+v", parts[1])
	}

	counts, displs := Counts(parts), Displs(parts)
	if counts[0] != 36 || counts[1] != 24 || displs[0] != 0 || displs[1] != 36 {
		t.Errorf("Unexpected layout vectors counts=%v displs=%v", counts, displs)
	}

	if err := Check(parts, 4, 5); err != nil {
		t.Errorf("Check() rejected a valid table: %v", err)
	}
}

func TestCheck(t *testing.T) {
	valid, err := ForImage(3, 7, 3)
	if err != nil {
		t.Fatal(err)
	}

	shifted := append(valid[:0:0], valid...)
	shifted[1].StartRow++

	short := append(valid[:0:0], valid...)
	short[2].RowCount--
	short[2].ByteLength -= 9

	renumbered := append(valid[:0:0], valid...)
	renumbered[0].Worker = 2

	tests := []struct {
		name  string
		parts []types.Partition
	}{
		{name: "Gap between bands", parts: shifted},
		{name: "Rows missing at the end", parts: short},
		{name: "Worker ids out of order", parts: renumbered},
		{name: "Empty table", parts: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Check(tt.parts, 3, 7); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Check() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}
