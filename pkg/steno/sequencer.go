package steno

import (
	"sync"

	"github.com/sutraworks/sutra/pkg/core"
)

// Sequencer default constants.
const (
	DefaultMultiStrokeTimeoutMicros uint64 = 500_000
	DefaultMaxBufferStrokes                = MaxSequenceStrokes
)

// Emission is one resolved concept leaving the sequencer.
type Emission struct {
	Concept   core.ConceptID
	Sequence  Sequence
	Timestamp uint64
}

// Sequencer accumulates strokes into sequences and resolves them
// against the dictionary with prefix matching and a silence timeout.
//
// The decision table on each stroke:
//
//	exact ∧ ¬extension  → emit, clear
//	exact ∧ extension   → defer (remember the hit, wait for more or timeout)
//	¬exact ∧ extension  → defer
//	¬exact ∧ ¬extension → flush
//
// Timer collaborators must call Tick at least every 100 ms to service
// deferred emissions.
type Sequencer struct {
	mu sync.Mutex

	dict           *Dictionary
	timeoutMicros  uint64
	maxStrokes     int
	buf            Sequence
	lastStrokeTime uint64

	// deferred holds the exact hit remembered while an extension is
	// still possible. Zero-value concept means no deferred hit.
	deferred    core.ConceptID
	hasDeferred bool
}

// NewSequencer creates a sequencer over a dictionary.
func NewSequencer(dict *Dictionary, timeoutMicros uint64, maxStrokes int) *Sequencer {
	if timeoutMicros == 0 {
		timeoutMicros = DefaultMultiStrokeTimeoutMicros
	}
	if maxStrokes <= 0 || maxStrokes > MaxSequenceStrokes {
		maxStrokes = DefaultMaxBufferStrokes
	}
	return &Sequencer{
		dict:          dict,
		timeoutMicros: timeoutMicros,
		maxStrokes:    maxStrokes,
	}
}

// OnStroke feeds one stroke at time now and returns zero or more
// emissions. For any finite input with inter-stroke gaps above the
// timeout, the sequencer emits a bounded number of concepts and returns
// to the empty state.
func (sq *Sequencer) OnStroke(s Stroke, now uint64) []Emission {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	var out []Emission

	// Silence before this stroke flushes whatever was pending.
	if sq.buf.Len() > 0 && now-sq.lastStrokeTime > sq.timeoutMicros {
		out = append(out, sq.flushLocked(now)...)
	}

	out = append(out, sq.consumeLocked(s, now)...)
	sq.lastStrokeTime = now
	return out
}

// consumeLocked appends one stroke and runs the decision table. May
// recurse once via the flush rule's popped-stroke restart; recursion
// depth is bounded by the buffer length.
func (sq *Sequencer) consumeLocked(s Stroke, now uint64) []Emission {
	var out []Emission

	next, ok := sq.buf.Append(s)
	if !ok || next.Len() > sq.maxStrokes {
		// Buffer length exceeded: flush unconditionally, then restart
		// with the incoming stroke.
		out = append(out, sq.flushLocked(now)...)
		next, _ = sq.buf.Append(s)
	}
	sq.buf = next

	exact, hasExt := sq.dict.Prefix(sq.buf)
	switch {
	case exact && !hasExt:
		if e, ok := sq.dict.Lookup(sq.buf); ok {
			out = append(out, Emission{Concept: e.Concept, Sequence: sq.buf, Timestamp: now})
		}
		sq.clearLocked()

	case exact && hasExt:
		if e, ok := sq.dict.Lookup(sq.buf); ok {
			sq.deferred = e.Concept
			sq.hasDeferred = true
		}

	case hasExt:
		// Wait for the extension; keep whatever exact hit was already
		// remembered.

	default:
		out = append(out, sq.flushUnmatchedLocked(now)...)
	}
	return out
}

// flushLocked resolves and clears the buffer: a remembered deferred hit
// wins; otherwise an exact lookup; otherwise the unmatched flush rule.
func (sq *Sequencer) flushLocked(now uint64) []Emission {
	if sq.buf.Len() == 0 {
		return nil
	}
	if sq.hasDeferred {
		e := Emission{Concept: sq.deferred, Sequence: sq.buf, Timestamp: now}
		sq.clearLocked()
		return []Emission{e}
	}
	if e, ok := sq.dict.Lookup(sq.buf); ok {
		em := Emission{Concept: e.Concept, Sequence: sq.buf, Timestamp: now}
		sq.clearLocked()
		return []Emission{em}
	}
	return sq.flushUnmatchedLocked(now)
}

// flushUnmatchedLocked is the flush rule for a buffer with no match: if
// longer than one stroke, pop the newest, resolve the remaining prefix,
// emit the resolution (or Unknown), then restart with the popped stroke.
// A single unmatched stroke emits Unknown.
func (sq *Sequencer) flushUnmatchedLocked(now uint64) []Emission {
	if sq.buf.Len() <= 1 {
		seq := sq.buf
		sq.clearLocked()
		return []Emission{{Concept: core.ConceptUnknown, Sequence: seq, Timestamp: now}}
	}

	prefix, popped := sq.buf.DropLast()
	var out []Emission
	if e, ok := sq.dict.Lookup(prefix); ok {
		out = append(out, Emission{Concept: e.Concept, Sequence: prefix, Timestamp: now})
	} else {
		out = append(out, Emission{Concept: core.ConceptUnknown, Sequence: prefix, Timestamp: now})
	}
	sq.clearLocked()

	// Restart with the popped stroke.
	out = append(out, sq.consumeLocked(popped, now)...)
	return out
}

func (sq *Sequencer) clearLocked() {
	sq.buf = Sequence{}
	sq.deferred = 0
	sq.hasDeferred = false
}

// Tick services deferred emissions. Call at least every 100 ms.
func (sq *Sequencer) Tick(now uint64) []Emission {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	if sq.buf.Len() == 0 || now-sq.lastStrokeTime <= sq.timeoutMicros {
		return nil
	}
	return sq.flushLocked(now)
}

// Pending reports the current buffer depth.
func (sq *Sequencer) Pending() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.buf.Len()
}
