// ABOUTME: Tests for the counter set and emitters
// ABOUTME: Validates ordering, header emission and the interval reporter

package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNamesAndValuesAlign(t *testing.T) {
	m := New()
	m.Memory.YoungObjects.Add(3)
	m.Lock.Timeouts.Add(7)

	names := m.Names()
	values := m.Values()
	if len(names) != len(values) {
		t.Fatalf("names/values length mismatch: %d vs %d", len(names), len(values))
	}

	byName := make(map[string]uint64)
	for i, n := range names {
		byName[n] = values[i]
	}
	if byName["memory.young.objects"] != 3 {
		t.Errorf("memory.young.objects = %d, want 3", byName["memory.young.objects"])
	}
	if byName["lock.timeouts"] != 7 {
		t.Errorf("lock.timeouts = %d, want 7", byName["lock.timeouts"])
	}
}

func TestWriterEmitterHeaderOnce(t *testing.T) {
	m := New()
	var buf bytes.Buffer
	e := NewWriterEmitter(&buf)

	if err := e.Emit(m); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}
	m.GC.YoungCount.Add(1)
	if err := e.Emit(m); err != nil {
		t.Fatalf("second Emit failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus two readings", len(lines))
	}
	if !strings.Contains(lines[0], "gc.young.count") {
		t.Errorf("header line missing counter name: %q", lines[0])
	}
	if strings.Contains(lines[1], ",") {
		t.Errorf("value line should be space separated: %q", lines[1])
	}
	if len(strings.Fields(lines[1])) != len(m.Names()) {
		t.Errorf("value count = %d, want %d", len(strings.Fields(lines[1])), len(m.Names()))
	}
}

func TestReporterEmitsAndStops(t *testing.T) {
	m := New()
	var buf bytes.Buffer
	e := NewWriterEmitter(&buf)

	r := NewReporter(m, e, 10*time.Millisecond)
	r.Start()
	time.Sleep(35 * time.Millisecond)
	r.Stop()
	// Stop is idempotent.
	r.Stop()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// Header plus at least the final reading.
	if len(lines) < 2 {
		t.Errorf("got %d lines, want at least 2", len(lines))
	}
}

func TestSummaryString(t *testing.T) {
	m := New()
	m.Memory.YoungBytes.Add(2048)
	s := m.String()
	if !strings.Contains(s, "young=0") || !strings.Contains(s, "heap=") {
		t.Errorf("summary missing fields: %q", s)
	}
}
