package emitter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/andresmejia3/crossfade/internal/types"
)

type sent struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	msgs   []sent
	fail   bool
	closed bool
}

func (f *fakePublisher) Publish(topic string, qos byte, payload []byte) error {
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, sent{topic, qos, payload})
	return nil
}

func (f *fakePublisher) Close() { f.closed = true }

func TestOnFrame(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, "crossfade/frames", 1, "run-1")

	e.OnFrame(types.FrameEvent{Index: 0, Path: "a_frame_000.png", Bytes: 48})
	e.OnFrame(types.FrameEvent{Index: 1, Path: "a_frame_001.png", Bytes: 48, Err: errors.New("disk full")})

	if len(pub.msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(pub.msgs))
	}
	for _, m := range pub.msgs {
		if m.topic != "crossfade/frames/run-1/frames" || m.qos != 1 {
			t.Errorf("Unexpected topic %q qos %d", m.topic, m.qos)
		}
	}

	var got FrameMessage
	if err := json.Unmarshal(pub.msgs[1].payload, &got); err != nil {
		t.Fatal(err)
	}
	want := FrameMessage{RunID: "run-1", Index: 1, Path: "a_frame_001.png", Bytes: 48, Skipped: true, Error: "disk full"}
	if got != want {
		t.Errorf("Published %+v, expected %+v", got, want)
	}
}

func TestSummary(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, "t", 0, "run-2")
	e.Summary(SummaryMessage{Status: "completed", Frames: 96, Written: 96})

	if len(pub.msgs) != 1 || pub.msgs[0].topic != "t/run-2/summary" {
		t.Fatalf("Unexpected messages: %+v", pub.msgs)
	}
	var got SummaryMessage
	if err := json.Unmarshal(pub.msgs[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-2" || got.Written != 96 {
		t.Errorf("Unexpected summary: %+v", got)
	}
}

func TestPublishFailuresAreCounted(t *testing.T) {
	pub := &fakePublisher{fail: true}
	e := New(pub, "t", 0, "r")
	e.OnFrame(types.FrameEvent{Index: 3})

	sent, failed := e.Stats()
	if sent != 0 || failed != 1 {
		t.Errorf("Stats() = (%d, %d), expected (0, 1)", sent, failed)
	}

	e.Close()
	if !pub.closed {
		t.Error("Close() did not close the publisher")
	}
}
