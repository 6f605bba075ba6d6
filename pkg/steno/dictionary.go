package steno

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sutraworks/sutra/pkg/core"
)

// Entry binds a stroke sequence to a concept.
type Entry struct {
	Sequence      Sequence       `msgpack:"-"`
	SequenceText  string         `msgpack:"sequence"` // slash-joined RTFCRE, for snapshots
	Concept       core.ConceptID `msgpack:"concept"`
	CanonicalName string         `msgpack:"name"`
}

// Dictionary maps stroke sequences to concepts. It answers three
// queries: exact, prefix (exact hit + any-extension-exists), and
// reverse (canonical name → first stroke).
type Dictionary struct {
	mu       sync.RWMutex
	entries  map[string]*Entry // key = Sequence.Key()
	prefixes map[string]int    // proper-prefix key → extension count
	reverse  map[string]Stroke // canonical name → first stroke of shortest sequence
	revLen   map[string]int    // sequence length backing the reverse entry
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{
		entries:  make(map[string]*Entry),
		prefixes: make(map[string]int),
		reverse:  make(map[string]Stroke),
		revLen:   make(map[string]int),
	}
}

// Add registers an entry. Re-adding the same sequence with a different
// concept is an error; identical re-adds are no-ops.
func (d *Dictionary) Add(seq Sequence, concept core.ConceptID, name string) error {
	if seq.Len() == 0 {
		return fmt.Errorf("%w: empty sequence for %q", core.ErrInvalidInput, name)
	}
	key := seq.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[key]; ok {
		if existing.Concept == concept {
			return nil
		}
		return fmt.Errorf("%w: sequence %s already bound to %q", core.ErrInvalidInput, key, existing.CanonicalName)
	}

	d.entries[key] = &Entry{
		Sequence:      seq,
		SequenceText:  key,
		Concept:       concept,
		CanonicalName: name,
	}

	// Index every proper prefix so the sequencer's has-extension query
	// stays O(1).
	for n := 1; n < seq.Len(); n++ {
		sub, _ := NewSequence(seqPrefix(seq, n)...)
		d.prefixes[sub.Key()]++
	}

	if cur, ok := d.revLen[name]; !ok || seq.Len() < cur {
		d.reverse[name] = seq.At(0)
		d.revLen[name] = seq.Len()
	}
	return nil
}

// AddText registers a slash-separated RTFCRE sequence.
func (d *Dictionary) AddText(text string, concept core.ConceptID, name string) error {
	seq, err := ParseSequence(text)
	if err != nil {
		return err
	}
	return d.Add(seq, concept, name)
}

func seqPrefix(seq Sequence, n int) []Stroke {
	out := make([]Stroke, n)
	for i := 0; i < n; i++ {
		out[i] = seq.At(i)
	}
	return out
}

// Lookup is the exact query.
func (d *Dictionary) Lookup(seq Sequence) (*Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[seq.Key()]
	return e, ok
}

// Prefix reports whether seq hits an entry exactly and whether any
// longer entry extends it.
func (d *Dictionary) Prefix(seq Sequence) (exact bool, hasExtension bool) {
	key := seq.Key()
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exact = d.entries[key]
	hasExtension = d.prefixes[key] > 0
	return exact, hasExtension
}

// Reverse returns the first stroke of the shortest sequence registered
// for a canonical name.
func (d *Dictionary) Reverse(name string) (Stroke, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.reverse[name]
	return s, ok
}

// Len returns the entry count.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Entries returns a snapshot of all entries, for the snapshotter.
func (d *Dictionary) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	return out
}

// defaultEntries is the compiled-in dictionary: canonical strokes for
// the curated kernel concepts plus a starter command vocabulary.
var defaultEntries = []struct {
	text    string
	concept core.ConceptID
	name    string
}{
	{"STAT", core.ConceptStatus, "status"},
	{"RAOE", core.ConceptRefresh, "refresh"},
	{"RAOE/PWAOT", core.ConceptReboot, "reboot"},
	{"SHUT", core.ConceptShutdown, "shutdown"},
	{"HEP", core.ConceptHelp, "help"},
	{"TAOEUPL", core.ConceptTime, "time"},
	{"PHEPL", core.ConceptMemory, "memory"},
	{"SRERGS", core.ConceptVersion, "version"},
	{"KHRAOER", core.ConceptClear, "clear"},
	{"UPB", core.ConceptUndo, "undo"},
	{"RED", core.ConceptRedo, "redo"},
	{"TEPL", core.ConceptTemp, "temperature"},
}

// DefaultDictionary builds the compiled-in dictionary.
func DefaultDictionary() *Dictionary {
	d := NewDictionary()
	for _, e := range defaultEntries {
		if err := d.AddText(e.text, e.concept, e.name); err != nil {
			// Compiled-in tables are asserted at boot, like concept
			// registration.
			panic(fmt.Sprintf("default dictionary entry %q: %v", e.text, err))
		}
	}
	return d
}

// Stats returns dictionary statistics.
func (d *Dictionary) Stats() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	multi := 0
	for _, e := range d.entries {
		if strings.Contains(e.SequenceText, "/") {
			multi++
		}
	}
	return map[string]any{
		"entries":      len(d.entries),
		"multi_stroke": multi,
		"prefix_nodes": len(d.prefixes),
	}
}
