package scheduler

import (
	"math"
	"sync"

	"github.com/sutraworks/sutra/pkg/core"
)

// Urgency accumulator defaults.
const (
	DefaultUrgencyThreshold float32 = 0.6
	DefaultTonicInhibition  float32 = 0.1
	DefaultDopamineGain     float32 = 1.0
	DefaultUrgencyTauMicros uint64  = 500_000
	MaxUrgencyEntries               = 16
)

// UrgencyConfig tunes the accumulator.
type UrgencyConfig struct {
	Threshold  float32 // θ
	Tonic      float32 // tonic inhibition subtracted from θ
	Gain       float32 // dopamine gain on increments
	TauMicros  uint64  // leak time constant
}

// urgencyEntry tracks one concept's accumulated urgency.
type urgencyEntry struct {
	concept     core.ConceptID
	urgency     float32
	lastTouched uint64
}

// Accumulator implements the basal-ganglia-style winner-take-all
// selector: urgency accumulates per concept, leaks over time, and at
// most one concept crosses threshold per selection tick.
type Accumulator struct {
	mu      sync.Mutex
	entries []urgencyEntry
	cfg     UrgencyConfig

	selections uint64
	evictions  uint64
}

// NewAccumulator creates an accumulator; zero config fields fall back
// to defaults.
func NewAccumulator(cfg UrgencyConfig) *Accumulator {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultUrgencyThreshold
	}
	if cfg.Tonic == 0 {
		cfg.Tonic = DefaultTonicInhibition
	}
	if cfg.Gain == 0 {
		cfg.Gain = DefaultDopamineGain
	}
	if cfg.TauMicros == 0 {
		cfg.TauMicros = DefaultUrgencyTauMicros
	}
	return &Accumulator{cfg: cfg}
}

// Accumulate adds gain-scaled urgency to a concept, after leaking the
// entry's prior value. The entry table is bounded; the stalest entry
// gives way when full.
func (a *Accumulator) Accumulate(c core.ConceptID, delta float32, now uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.entries {
		if a.entries[i].concept == c {
			a.leakLocked(&a.entries[i], now)
			a.entries[i].urgency += delta * a.cfg.Gain
			return
		}
	}

	e := urgencyEntry{concept: c, urgency: delta * a.cfg.Gain, lastTouched: now}
	if len(a.entries) < MaxUrgencyEntries {
		a.entries = append(a.entries, e)
		return
	}
	stalest := 0
	for i := range a.entries {
		if a.entries[i].lastTouched < a.entries[stalest].lastTouched {
			stalest = i
		}
	}
	a.entries[stalest] = e
	a.evictions++
}

// leakLocked applies exponential decay since the last touch.
func (a *Accumulator) leakLocked(e *urgencyEntry, now uint64) {
	if now > e.lastTouched {
		e.urgency *= float32(math.Exp(-float64(now-e.lastTouched) / float64(a.cfg.TauMicros)))
		e.lastTouched = now
	}
}

// SelectWinner runs one winner-take-all pass: the highest urgency above
// θ − tonic wins, is reset, and is returned. At most one concept wins
// per tick.
func (a *Accumulator) SelectWinner(now uint64) (core.ConceptID, float32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	gate := a.cfg.Threshold - a.cfg.Tonic
	winner := -1
	var winnerU float32
	for i := range a.entries {
		a.leakLocked(&a.entries[i], now)
		if a.entries[i].urgency > gate && a.entries[i].urgency > winnerU {
			winner = i
			winnerU = a.entries[i].urgency
		}
	}
	if winner < 0 {
		return 0, 0, false
	}

	c := a.entries[winner].concept
	a.entries[winner].urgency = 0
	a.selections++
	return c, winnerU, true
}

// Urgency returns the leaked urgency of a concept at now.
func (a *Accumulator) Urgency(c core.ConceptID, now uint64) float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.entries {
		if a.entries[i].concept == c {
			a.leakLocked(&a.entries[i], now)
			return a.entries[i].urgency
		}
	}
	return 0
}

// Stats returns accumulator statistics.
func (a *Accumulator) Stats() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"entries":    len(a.entries),
		"selections": a.selections,
		"evictions":  a.evictions,
	}
}
