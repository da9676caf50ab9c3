package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

func TestDispatcherDeliversAndFlushesOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	d.Emit(context.Background(), Event{EventType: "lock_denied", UserID: 1, Key: "1"})
	d.Emit(context.Background(), Event{EventType: "auth_failure", UserID: 2})
	d.Close()

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sink.Events():
			got = append(got, ev.EventType)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if got[0] != "lock_denied" || got[1] != "auth_failure" {
		t.Fatalf("unexpected order %v", got)
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", ev)
	default:
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestDispatcherDropIfFullCounts(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "burst"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and a full buffer")
	}
	close(sink.release)
	d.Close()
}

func TestJSONWriterSinkOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Unix(0, 0).UTC(),
		EventType: "auth_lenient_logout",
		UserID:    9,
		SessionID: "s9",
		Metadata:  map[string]string{"reason": "token expired"},
	})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if decoded["event_type"] != "auth_lenient_logout" || decoded["session_id"] != "s9" {
		t.Fatalf("unexpected payload %v", decoded)
	}
	if _, ok := decoded["key"]; ok {
		t.Fatal("empty key should be omitted")
	}
	if _, ok := decoded["token"]; ok {
		t.Fatal("token must never be written")
	}
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) { panic("sink failure") }

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	ch := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, MultiSink{panicSink{}, ch})

	d.Emit(context.Background(), Event{EventType: "first"})
	d.Emit(context.Background(), Event{EventType: "second"})
	d.Close()

	if d.Dropped() != 2 || d.Delivered() != 0 {
		t.Fatalf("expected 2 dropped, 0 delivered; got %d, %d", d.Dropped(), d.Delivered())
	}
	if len(ch.Events()) != 0 {
		t.Fatal("sinks after a panicking one should not see the event")
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, MultiSink{a, nil, b})

	d.Emit(context.Background(), Event{EventType: "session_started", UserID: 4})
	d.Close()

	if d.Delivered() != 1 {
		t.Fatalf("expected one delivery, got %d", d.Delivered())
	}
	for _, s := range []*ChannelSink{a, b} {
		if ev := <-s.Events(); ev.UserID != 4 {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), Event{EventType: "session_started", UserID: 1, Success: true})
	sink.Emit(context.Background(), Event{
		EventType: "lock_denied",
		UserID:    1,
		Key:       "1",
		Error:     "request_in_progress",
		Metadata:  map[string]string{"held_by": "req-1"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(lines), buf.String())
	}

	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["level"] != "INFO" || first["msg"] != "session_started" || first["component"] != "audit" {
		t.Fatalf("unexpected success record %v", first)
	}
	if second["level"] != "WARN" || second["held_by"] != "req-1" || second["key"] != "1" {
		t.Fatalf("unexpected failure record %v", second)
	}
	if _, ok := first["session_id"]; ok {
		t.Fatal("empty session id should be omitted")
	}
}
