package frames

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/andresmejia3/crossfade/internal/types"
)

func TestGrayValue(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b byte
		want    byte
	}{
		{name: "Truncates 124.5", r: 200, g: 100, b: 50, want: 124},
		{name: "Pure red", r: 255, g: 0, b: 0, want: 76},
		{name: "Pure green", r: 0, g: 255, b: 0, want: 150},
		{name: "Pure blue", r: 0, g: 0, b: 255, want: 28},
		{name: "White stays white", r: 255, g: 255, b: 255, want: 255},
		{name: "Black stays black", r: 0, g: 0, b: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GrayValue(tt.r, tt.g, tt.b); got != tt.want {
				t.Errorf("GrayValue(%d, %d, %d) = %d, want %d", tt.r, tt.g, tt.b, got, tt.want)
			}
		})
	}
}

func TestGrayscaleWritesAllChannels(t *testing.T) {
	src := []byte{200, 100, 50, 255, 0, 0}
	dst := make([]byte, len(src))
	Grayscale(dst, src)

	want := []byte{124, 124, 124, 76, 76, 76}
	if !bytes.Equal(dst, want) {
		t.Errorf("Grayscale() = %v, want %v", dst, want)
	}
}

func TestWeight(t *testing.T) {
	if w := Weight(0, 96); w != 1 {
		t.Errorf("Weight(0) = %v, want 1", w)
	}
	if w := Weight(95, 96); w != 0 {
		t.Errorf("Weight(last) = %v, want 0", w)
	}
	prev := Weight(0, 96)
	for f := 1; f < 96; f++ {
		w := Weight(f, 96)
		if w > prev {
			t.Fatalf("Weight(%d) = %v increased from %v", f, w, prev)
		}
		prev = w
	}
}

func TestGenerateEndpoints(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	width, rows := 9, 5
	local := make([]byte, width*rows*types.Channels)
	for i := range local {
		local[i] = byte(rng.IntN(256))
	}

	out, err := Generate(local, rows, width, 12)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(out) != 12 {
		t.Fatalf("Expected 12 frames, got %d", len(out))
	}

	if !bytes.Equal(out[0], local) {
		t.Error("First frame should equal the color band")
	}

	gray := make([]byte, len(local))
	Grayscale(gray, local)
	if !bytes.Equal(out[11], gray) {
		t.Error("Last frame should equal the grayscale band")
	}
}

// TestGenerateMonotonic checks that every byte walks from its color value
// toward its gray value without moving back by more than a truncation tie.
func TestGenerateMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	width, rows := 16, 4
	local := make([]byte, width*rows*types.Channels)
	for i := range local {
		local[i] = byte(rng.IntN(256))
	}

	out, err := Generate(local, rows, width, 32)
	if err != nil {
		t.Fatal(err)
	}
	gray := out[len(out)-1]

	for i := range local {
		prevDist := absDiff(out[0][i], gray[i])
		for f := 1; f < len(out); f++ {
			dist := absDiff(out[f][i], gray[i])
			if dist > prevDist+1 {
				t.Fatalf("Byte %d moved away from gray at frame %d: %d -> %d", i, f, prevDist, dist)
			}
			prevDist = dist
		}
	}
}

// TestGenerateBandInvariance compares one band against the same rows split
// into several bands, which is what the distributed run relies on.
func TestGenerateBandInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	width, rows := 7, 10
	stride := width * types.Channels
	local := make([]byte, rows*stride)
	for i := range local {
		local[i] = byte(rng.IntN(256))
	}

	whole, err := Generate(local, rows, width, 5)
	if err != nil {
		t.Fatal(err)
	}

	splits := []int{3, 3, 4}
	assembled := make([][]byte, 5)
	start := 0
	for _, n := range splits {
		part, err := Generate(local[start*stride:(start+n)*stride], n, width, 5)
		if err != nil {
			t.Fatal(err)
		}
		for f := range part {
			assembled[f] = append(assembled[f], part[f]...)
		}
		start += n
	}

	for f := range whole {
		if !bytes.Equal(whole[f], assembled[f]) {
			t.Errorf("Frame %d differs between one band and three bands", f)
		}
	}
}

func TestGenerateRedScenario(t *testing.T) {
	local := bytes.Repeat([]byte{255, 0, 0}, 4*2) // two rows of a 4-wide red image
	out, err := Generate(local, 2, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[0], local) {
		t.Errorf("Frame 0 = %v, want all red", out[0])
	}
	if want := bytes.Repeat([]byte{76}, len(local)); !bytes.Equal(out[1], want) {
		t.Errorf("Frame 1 = %v, want all 76", out[1])
	}
}

func TestGenerateEmptyBand(t *testing.T) {
	out, err := Generate(nil, 0, 12, 4)
	if err != nil {
		t.Fatalf("Generate() on an empty band error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("Expected 4 frames, got %d", len(out))
	}
	for f, frame := range out {
		if frame == nil || len(frame) != 0 {
			t.Errorf("Frame %d should be an empty non-nil slice, got %v", f, frame)
		}
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name      string
		local     []byte
		rows      int
		width     int
		numFrames int
		want      error
	}{
		{name: "One frame", local: make([]byte, 3), rows: 1, width: 1, numFrames: 1, want: types.ErrInvalidArgument},
		{name: "Zero width", local: nil, rows: 1, width: 0, numFrames: 2, want: types.ErrInvalidArgument},
		{name: "Short band", local: make([]byte, 5), rows: 1, width: 2, numFrames: 2, want: types.ErrAllocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.local, tt.rows, tt.width, tt.numFrames)
			if !errors.Is(err, tt.want) {
				t.Errorf("Generate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAllocRecoversFromBadSize(t *testing.T) {
	if _, err := alloc(-1); !errors.Is(err, types.ErrAllocation) {
		t.Errorf("alloc(-1) error = %v, want ErrAllocation", err)
	}
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
