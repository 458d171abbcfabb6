package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/missionctl/model"
	"github.com/signalsfoundry/missionctl/timectrl"
)

type captureWriter struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (c *captureWriter) Write(_ context.Context, ev model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestRecorderStampsIdentityAndTime(t *testing.T) {
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := timectrl.NewManual(start)
	sink := &captureWriter{}
	rec := NewRecorder(sink, clock, nil)

	rec.CommandTransition(context.Background(), "cmd1", "PENDING", "VALIDATED", "safety checks passed")

	if len(sink.events) != 1 {
		t.Fatalf("wrote %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.ID == "" {
		t.Error("event ID not stamped")
	}
	if !ev.Timestamp.Equal(start) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, start)
	}
	if ev.Kind != model.EventCommandTransition || ev.PrevState != "PENDING" || ev.NewState != "VALIDATED" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	clock := timectrl.NewManual(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	sink := &captureWriter{err: errors.New("broker down")}
	rec := NewRecorder(sink, clock, nil)

	// Must not panic or propagate.
	rec.PlanTransition(context.Background(), "plan1", "SCHEDULED", "ABORTED", "retries exhausted")
}

func TestFileWriterAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}

	want := model.Event{
		ID:        "ev1",
		Kind:      model.EventAnomalyRaised,
		Timestamp: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		EntityID:  "anomaly1",
		NewState:  "ACTIVE",
		Reason:    "thermal",
	}
	if err := w.Write(context.Background(), want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got model.Event
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != want.ID || got.Kind != want.Kind || got.Reason != want.Reason {
		t.Fatalf("round-tripped event = %+v, want %+v", got, want)
	}
}

func TestMultiWriterFanOut(t *testing.T) {
	a := &captureWriter{}
	b := &captureWriter{err: errors.New("sink b down")}
	c := &captureWriter{}
	m := NewMultiWriter(a, b, nil, c)

	err := m.Write(context.Background(), model.Event{ID: "ev1"})
	if err == nil {
		t.Fatal("Write() = nil, want first sink error")
	}
	if len(a.events) != 1 || len(c.events) != 1 {
		t.Fatalf("healthy sinks got %d and %d events, want 1 and 1", len(a.events), len(c.events))
	}
}
