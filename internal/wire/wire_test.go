package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

type testMessage struct {
	Op      uint8  `msgpack:"op"`
	Seq     uint64 `msgpack:"seq"`
	Payload []byte `msgpack:"payload"`
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		buf := new(bytes.Buffer)
		w := NewWriter(buf, compress)

		small := testMessage{Op: 1, Seq: 7, Payload: []byte{0xDE, 0xAD}}
		large := testMessage{Op: 2, Seq: 8, Payload: bytes.Repeat([]byte{10, 20, 30}, 4096)}
		if err := w.Write(small); err != nil {
			t.Fatalf("Write(small) error = %v", err)
		}
		if err := w.Write(large); err != nil {
			t.Fatalf("Write(large) error = %v", err)
		}

		r := NewReader(buf)
		var got testMessage
		if err := r.Read(&got); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Op != 1 || got.Seq != 7 || !bytes.Equal(got.Payload, small.Payload) {
			t.Errorf("compress=%v: got %+v, want %+v", compress, got, small)
		}
		if err := r.Read(&got); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Seq != 8 || !bytes.Equal(got.Payload, large.Payload) {
			t.Errorf("compress=%v: large payload mismatch", compress)
		}

		if err := r.Read(&got); err != io.EOF {
			t.Errorf("Expected io.EOF at end of stream, got %v", err)
		}
	}
}

func TestCompressionShrinksLargeBodies(t *testing.T) {
	plain, packed := new(bytes.Buffer), new(bytes.Buffer)
	msg := testMessage{Payload: bytes.Repeat([]byte{76}, 64*1024)}

	if err := NewWriter(plain, false).Write(msg); err != nil {
		t.Fatal(err)
	}
	if err := NewWriter(packed, true).Write(msg); err != nil {
		t.Fatal(err)
	}
	if packed.Len() >= plain.Len() {
		t.Errorf("Expected compressed frame (%d bytes) to be smaller than plain (%d bytes)", packed.Len(), plain.Len())
	}
	if flags := packed.Bytes()[4]; flags&FlagZstd == 0 {
		t.Errorf("Expected zstd flag on compressed frame, flags = %08b", flags)
	}
}

func TestReadTruncated(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := NewWriter(buf, false).Write(testMessage{Payload: []byte("frame")}); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]

	var got testMessage
	err := NewReader(bytes.NewReader(truncated)).Read(&got)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(MaxMessageSize+1))

	var got testMessage
	if err := NewReader(buf).Read(&got); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestMarshalHelpers(t *testing.T) {
	in := testMessage{Op: 3, Seq: 42, Payload: []byte{1, 2, 3}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out testMessage
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Op != in.Op || out.Seq != in.Seq || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("Unmarshal(Marshal(x)) = %+v, want %+v", out, in)
	}
}
