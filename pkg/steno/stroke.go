// Package steno decodes stenographic chords and resolves multi-stroke
// sequences to concepts. A stroke is a 23-bit chord over the standard
// key layout; its canonical text encoding is RTFCRE.
package steno

import (
	"fmt"
	"strings"

	"github.com/sutraworks/sutra/pkg/core"
)

// Stroke is a 23-bit chord of the standard steno key layout
// (#STKPWHRAO*EUFRPBLGTSDZ). Order-independent within a stroke,
// order-significant across strokes.
type Stroke uint32

// StrokeMask keeps the low 23 bits.
const StrokeMask Stroke = (1 << 23) - 1

// keyOrder is the strict left-to-right RTFCRE key order. Bit i of a
// Stroke corresponds to keyOrder[i].
var keyOrder = [23]byte{
	'#',
	'S', 'T', 'K', 'P', 'W', 'H', 'R', // left bank
	'A', 'O', '*', 'E', 'U', // middle
	'F', 'R', 'P', 'B', 'L', 'G', 'T', 'S', 'D', 'Z', // right bank
}

const (
	middleStart = 8  // index of A
	rightStart  = 13 // index of -F
)

// FromRaw masks a raw chord to the 23 defined key bits.
func FromRaw(bits uint32) Stroke {
	return Stroke(bits) & StrokeMask
}

// Has reports whether key bit i is pressed.
func (s Stroke) Has(i int) bool {
	return s&(1<<uint(i)) != 0
}

// IsEmpty reports whether no keys are pressed.
func (s Stroke) IsEmpty() bool { return s&StrokeMask == 0 }

// hasMiddle reports whether any vowel or star key is pressed.
func (s Stroke) hasMiddle() bool {
	for i := middleStart; i < rightStart; i++ {
		if s.Has(i) {
			return true
		}
	}
	return false
}

// hasRight reports whether any right-bank key is pressed.
func (s Stroke) hasRight() bool {
	for i := rightStart; i < len(keyOrder); i++ {
		if s.Has(i) {
			return true
		}
	}
	return false
}

// RTFCRE renders the stroke in canonical text form. A hyphen separates
// the banks when right-bank keys are pressed with no middle keys.
func (s Stroke) RTFCRE() string {
	var b strings.Builder
	for i := 0; i < rightStart; i++ {
		if s.Has(i) {
			b.WriteByte(keyOrder[i])
		}
	}
	if s.hasRight() && !s.hasMiddle() {
		b.WriteByte('-')
	}
	for i := rightStart; i < len(keyOrder); i++ {
		if s.Has(i) {
			b.WriteByte(keyOrder[i])
		}
	}
	return b.String()
}

// String is the RTFCRE rendering.
func (s Stroke) String() string { return s.RTFCRE() }

// FromRTFCRE parses a canonical stroke. Keys must appear in strict
// left-to-right order; an optional '-' jumps to the right bank and is
// only meaningful when no middle key is pressed. Duplicate or
// out-of-order keys are malformed.
func FromRTFCRE(text string) (Stroke, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: empty stroke", core.ErrMalformedStroke)
	}

	var s Stroke
	pos := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '-' {
			if pos > rightStart {
				return 0, fmt.Errorf("%w: misplaced hyphen in %q", core.ErrMalformedStroke, text)
			}
			pos = rightStart
			continue
		}
		idx := -1
		for k := pos; k < len(keyOrder); k++ {
			if keyOrder[k] == ch {
				idx = k
				break
			}
		}
		if idx < 0 {
			return 0, fmt.Errorf("%w: key %q out of order or unknown in %q", core.ErrMalformedStroke, string(ch), text)
		}
		s |= 1 << uint(idx)
		pos = idx + 1
	}
	if s.IsEmpty() {
		return 0, fmt.Errorf("%w: no keys in %q", core.ErrMalformedStroke, text)
	}
	return s, nil
}

// MaxSequenceStrokes bounds a stroke sequence.
const MaxSequenceStrokes = 8

// Sequence is a bounded ordered sequence of strokes. Equality and
// prefix relations are element-wise.
type Sequence struct {
	strokes [MaxSequenceStrokes]Stroke
	n       int
}

// NewSequence builds a sequence from strokes. Input beyond the capacity
// is an error.
func NewSequence(strokes ...Stroke) (Sequence, error) {
	var seq Sequence
	if len(strokes) > MaxSequenceStrokes {
		return seq, fmt.Errorf("%w: sequence of %d strokes exceeds %d", core.ErrResourceExhausted, len(strokes), MaxSequenceStrokes)
	}
	copy(seq.strokes[:], strokes)
	seq.n = len(strokes)
	return seq, nil
}

// MustSequence is NewSequence for compiled-in dictionary tables.
func MustSequence(strokes ...Stroke) Sequence {
	seq, err := NewSequence(strokes...)
	if err != nil {
		panic(err)
	}
	return seq
}

// ParseSequence parses slash-separated RTFCRE ("RAOE/PWAOT").
func ParseSequence(text string) (Sequence, error) {
	var seq Sequence
	parts := strings.Split(text, "/")
	if len(parts) > MaxSequenceStrokes {
		return seq, fmt.Errorf("%w: %d strokes exceeds %d", core.ErrResourceExhausted, len(parts), MaxSequenceStrokes)
	}
	for _, p := range parts {
		s, err := FromRTFCRE(p)
		if err != nil {
			return Sequence{}, err
		}
		seq.strokes[seq.n] = s
		seq.n++
	}
	return seq, nil
}

// Len returns the number of strokes.
func (q Sequence) Len() int { return q.n }

// At returns stroke i.
func (q Sequence) At(i int) Stroke { return q.strokes[i] }

// Full reports whether the sequence is at capacity.
func (q Sequence) Full() bool { return q.n >= MaxSequenceStrokes }

// Append returns a copy with s appended; ok=false at capacity.
func (q Sequence) Append(s Stroke) (Sequence, bool) {
	if q.Full() {
		return q, false
	}
	q.strokes[q.n] = s
	q.n++
	return q, true
}

// DropLast returns a copy without the newest stroke plus that stroke.
func (q Sequence) DropLast() (Sequence, Stroke) {
	if q.n == 0 {
		return q, 0
	}
	last := q.strokes[q.n-1]
	q.n--
	q.strokes[q.n] = 0
	return q, last
}

// Equal reports element-wise equality.
func (q Sequence) Equal(o Sequence) bool {
	if q.n != o.n {
		return false
	}
	for i := 0; i < q.n; i++ {
		if q.strokes[i] != o.strokes[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether q is a proper or improper prefix of o.
func (q Sequence) IsPrefixOf(o Sequence) bool {
	if q.n > o.n {
		return false
	}
	for i := 0; i < q.n; i++ {
		if q.strokes[i] != o.strokes[i] {
			return false
		}
	}
	return true
}

// Key returns the canonical slash-joined RTFCRE text, used as the
// dictionary map key.
func (q Sequence) Key() string {
	var b strings.Builder
	for i := 0; i < q.n; i++ {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(q.strokes[i].RTFCRE())
	}
	return b.String()
}

// String is the slash-joined RTFCRE text.
func (q Sequence) String() string { return q.Key() }
