package steno

import (
	"testing"

	"github.com/sutraworks/sutra/pkg/core"
)

func testDict(t *testing.T) *Dictionary {
	t.Helper()
	return DefaultDictionary()
}

func TestSingleStrokeImmediate(t *testing.T) {
	sq := NewSequencer(testDict(t), 0, 0)

	// STAT has no extensions: emits immediately.
	out := sq.OnStroke(mustStroke(t, "STAT"), 1000)
	if len(out) != 1 || out[0].Concept != core.ConceptStatus {
		t.Fatalf("Expected immediate STATUS emission, got %+v", out)
	}
	if sq.Pending() != 0 {
		t.Error("Buffer should be empty after emission")
	}
}

func TestDeferredEmissionOnTimeout(t *testing.T) {
	sq := NewSequencer(testDict(t), DefaultMultiStrokeTimeoutMicros, 0)

	// RAOE hits REFRESH exactly but RAOE/PWAOT extends it: defer.
	out := sq.OnStroke(mustStroke(t, "RAOE"), 0)
	if len(out) != 0 {
		t.Fatalf("Expected deferral, got %+v", out)
	}

	// Ticks inside the timeout emit nothing.
	if out := sq.Tick(400_000); len(out) != 0 {
		t.Fatalf("Early tick must not emit, got %+v", out)
	}

	// The 100-ms tick after the timeout flushes the deferred hit.
	out = sq.Tick(500_100)
	if len(out) != 1 || out[0].Concept != core.ConceptRefresh {
		t.Fatalf("Expected exactly one REFRESH emission, got %+v", out)
	}
	if sq.Pending() != 0 {
		t.Error("Sequencer must return to empty state")
	}
}

func TestMultiStrokeResolution(t *testing.T) {
	sq := NewSequencer(testDict(t), DefaultMultiStrokeTimeoutMicros, 0)

	out := sq.OnStroke(mustStroke(t, "RAOE"), 0)
	out = append(out, sq.OnStroke(mustStroke(t, "PWAOT"), 100_000)...)

	if len(out) != 1 || out[0].Concept != core.ConceptReboot {
		t.Fatalf("Expected REBOOT, got %+v", out)
	}
}

func TestTimeoutBetweenStrokesFlushes(t *testing.T) {
	sq := NewSequencer(testDict(t), DefaultMultiStrokeTimeoutMicros, 0)

	sq.OnStroke(mustStroke(t, "RAOE"), 0)
	// Second stroke arrives after the timeout: the deferred REFRESH
	// flushes first, then the new stroke starts fresh.
	out := sq.OnStroke(mustStroke(t, "STAT"), 600_000)

	if len(out) != 2 {
		t.Fatalf("Expected flush + fresh emission, got %+v", out)
	}
	if out[0].Concept != core.ConceptRefresh || out[1].Concept != core.ConceptStatus {
		t.Fatalf("Expected [REFRESH STATUS], got %+v", out)
	}
}

func TestUnmatchedSingleStrokeEmitsUnknown(t *testing.T) {
	sq := NewSequencer(testDict(t), DefaultMultiStrokeTimeoutMicros, 0)

	out := sq.OnStroke(mustStroke(t, "-Z"), 0)
	if len(out) != 1 || out[0].Concept != core.ConceptUnknown {
		t.Fatalf("Expected UNKNOWN, got %+v", out)
	}
}

func TestFlushRulePopsNewest(t *testing.T) {
	sq := NewSequencer(testDict(t), DefaultMultiStrokeTimeoutMicros, 0)

	// RAOE defers; a stroke that extends nothing triggers the flush
	// rule: resolve RAOE (REFRESH), restart with the popped stroke
	// (STAT resolves immediately).
	sq.OnStroke(mustStroke(t, "RAOE"), 0)
	out := sq.OnStroke(mustStroke(t, "STAT"), 100_000)

	if len(out) != 2 {
		t.Fatalf("Expected two emissions, got %+v", out)
	}
	if out[0].Concept != core.ConceptRefresh {
		t.Errorf("First emission should resolve the prefix, got %+v", out[0])
	}
	if out[1].Concept != core.ConceptStatus {
		t.Errorf("Popped stroke should restart and resolve, got %+v", out[1])
	}
}

func TestSequencerProgress(t *testing.T) {
	// Any finite sequence with gaps above the timeout emits a bounded
	// number of concepts and returns to empty.
	sq := NewSequencer(testDict(t), DefaultMultiStrokeTimeoutMicros, 0)

	strokes := []string{"RAOE", "STAT", "-Z", "HEP", "RAOE"}
	now := uint64(0)
	total := 0
	for _, s := range strokes {
		now += 600_000
		total += len(sq.OnStroke(mustStroke(t, s), now))
	}
	total += len(sq.Tick(now + 600_000))

	if total != len(strokes) {
		t.Errorf("Expected %d emissions, got %d", len(strokes), total)
	}
	if sq.Pending() != 0 {
		t.Error("Sequencer must return to empty state")
	}
}

func TestBufferOverflowFlushes(t *testing.T) {
	d := NewDictionary()
	// A long chain where every prefix extends: the sequencer defers
	// until the buffer limit forces a flush.
	if err := d.AddText("S/S/S/S", core.ConceptFromName("long chain"), "long chain"); err != nil {
		t.Fatal(err)
	}
	sq := NewSequencer(d, DefaultMultiStrokeTimeoutMicros, 2)

	s := mustStroke(t, "S")
	var out []Emission
	for i := 0; i < 3; i++ {
		out = append(out, sq.OnStroke(s, uint64(i*1000))...)
	}
	if len(out) == 0 {
		t.Error("Overflow must force emissions")
	}
	if sq.Pending() > 2 {
		t.Errorf("Buffer exceeded its bound: %d", sq.Pending())
	}
}

func TestDictionaryQueries(t *testing.T) {
	d := testDict(t)

	raoe := MustSequence(mustStroke(t, "RAOE"))
	exact, ext := d.Prefix(raoe)
	if !exact || !ext {
		t.Errorf("RAOE should be exact with extension, got exact=%v ext=%v", exact, ext)
	}

	full := MustSequence(mustStroke(t, "RAOE"), mustStroke(t, "PWAOT"))
	exact, ext = d.Prefix(full)
	if !exact || ext {
		t.Errorf("RAOE/PWAOT should be exact without extension, got exact=%v ext=%v", exact, ext)
	}

	if s, ok := d.Reverse("refresh"); !ok || s != mustStroke(t, "RAOE") {
		t.Error("Reverse lookup of refresh failed")
	}

	if _, ok := d.Lookup(MustSequence(mustStroke(t, "-Z"))); ok {
		t.Error("Unregistered sequence should miss")
	}
}

func TestDictionaryConflict(t *testing.T) {
	d := NewDictionary()
	if err := d.AddText("STAT", core.ConceptStatus, "status"); err != nil {
		t.Fatal(err)
	}
	// Identical re-add is a no-op.
	if err := d.AddText("STAT", core.ConceptStatus, "status"); err != nil {
		t.Errorf("Identical re-add should succeed: %v", err)
	}
	// Conflicting re-bind fails.
	if err := d.AddText("STAT", core.ConceptReboot, "reboot"); err == nil {
		t.Error("Conflicting re-bind should fail")
	}
}
