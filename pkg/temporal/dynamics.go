// Package temporal implements the activation dynamics attached to
// concepts: exponential decay, temporal summation of sub-threshold
// input, Hebbian sequence learning, and predictive priming. Activation
// rises on stimulation and decays in time; associations form between
// concepts that fire in sequence.
package temporal

import (
	"math"
	"sync"

	"github.com/sutraworks/sutra/pkg/core"
)

// Default constants. The literature across the subsystem designs cites
// these most often; the config layer exposes them as tunables.
const (
	DefaultTauMicros          uint64  = 200_000 // decay time constant
	DefaultSummationWindow    uint64  = 100_000
	DefaultSummationThreshold float32 = 0.5
	DefaultSpreadFactor       float32 = 0.3
	DefaultHebbianRate        float32 = 0.1
	DefaultPrimingFactor      float32 = 0.2
	DefaultPrimingTTLMicros   uint64  = 250_000
	DefaultCapacity                   = 1024

	// MaxAssociations bounds the per-record association list.
	MaxAssociations = 8

	// activationFloor drops records during decay ticks.
	activationFloor float32 = 0.01
)

// Association is a weighted link from one concept to another.
type Association struct {
	Concept core.ConceptID `msgpack:"concept"`
	Weight  float32        `msgpack:"weight"`
}

// record is the per-concept activation state. Owned exclusively by
// Dynamics.
type record struct {
	activation     float32
	lastUpdate     uint64
	sumAccumulator float32
	sumWindowStart uint64
	associations   []Association
	primedUntil    uint64
}

// Config tunes the dynamics.
type Config struct {
	TauMicros          uint64
	SummationWindow    uint64
	SummationThreshold float32
	SpreadFactor       float32
	HebbianRate        float32
	PrimingFactor      float32
	PrimingTTLMicros   uint64
	Capacity           int
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		TauMicros:          DefaultTauMicros,
		SummationWindow:    DefaultSummationWindow,
		SummationThreshold: DefaultSummationThreshold,
		SpreadFactor:       DefaultSpreadFactor,
		HebbianRate:        DefaultHebbianRate,
		PrimingFactor:      DefaultPrimingFactor,
		PrimingTTLMicros:   DefaultPrimingTTLMicros,
		Capacity:           DefaultCapacity,
	}
}

// Dynamics owns all activation records. A single map lock serializes
// access; every operation is a short closed-form update.
type Dynamics struct {
	mu      sync.Mutex
	records map[core.ConceptID]*record
	cfg     Config
}

// New creates a Dynamics with the given config; zero fields fall back
// to defaults.
func New(cfg Config) *Dynamics {
	def := DefaultConfig()
	if cfg.TauMicros == 0 {
		cfg.TauMicros = def.TauMicros
	}
	if cfg.SummationWindow == 0 {
		cfg.SummationWindow = def.SummationWindow
	}
	if cfg.SummationThreshold == 0 {
		cfg.SummationThreshold = def.SummationThreshold
	}
	if cfg.SpreadFactor == 0 {
		cfg.SpreadFactor = def.SpreadFactor
	}
	if cfg.HebbianRate == 0 {
		cfg.HebbianRate = def.HebbianRate
	}
	if cfg.PrimingFactor == 0 {
		cfg.PrimingFactor = def.PrimingFactor
	}
	if cfg.PrimingTTLMicros == 0 {
		cfg.PrimingTTLMicros = def.PrimingTTLMicros
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	return &Dynamics{
		records: make(map[core.ConceptID]*record),
		cfg:     cfg,
	}
}

// decayFactor is exp(−Δt/τ).
func (d *Dynamics) decayFactor(elapsed uint64) float32 {
	return float32(math.Exp(-float64(elapsed) / float64(d.cfg.TauMicros)))
}

// Activate stimulates a concept: decay-then-add, capped at 1.0, with a
// single hop of associative spread (no recursion beyond depth 1).
func (d *Dynamics) Activate(c core.ConceptID, strength float32, now uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activateLocked(c, strength, now, true)
}

func (d *Dynamics) activateLocked(c core.ConceptID, strength float32, now uint64, spread bool) {
	rec := d.getOrCreateLocked(c, now)

	if now > rec.lastUpdate {
		rec.activation *= d.decayFactor(now - rec.lastUpdate)
	}
	rec.activation = core.Clamp01(rec.activation + strength)
	rec.lastUpdate = now

	if spread {
		for _, a := range rec.associations {
			d.activateLocked(a.Concept, d.cfg.SpreadFactor*strength*a.Weight, now, false)
		}
	}
}

// Summate accumulates sub-threshold input inside a sliding window; when
// the accumulator crosses the threshold it converts to activation and
// resets.
func (d *Dynamics) Summate(c core.ConceptID, strength float32, now uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := d.getOrCreateLocked(c, now)
	if now-rec.sumWindowStart > d.cfg.SummationWindow {
		rec.sumAccumulator = 0
		rec.sumWindowStart = now
	}
	rec.sumAccumulator += strength

	if rec.sumAccumulator >= d.cfg.SummationThreshold {
		acc := rec.sumAccumulator
		rec.sumAccumulator = 0
		rec.sumWindowStart = now
		d.activateLocked(c, acc, now, true)
	}
}

// DecayTick applies exponential decay to every record and drops those
// that fall below the floor. Must run every 100 ms, driven by the
// kernel timer.
func (d *Dynamics) DecayTick(now uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for c, rec := range d.records {
		if now > rec.lastUpdate {
			rec.activation *= d.decayFactor(now - rec.lastUpdate)
			rec.lastUpdate = now
		}
		if rec.activation < activationFloor && len(rec.associations) == 0 {
			delete(d.records, c)
		}
	}
}

// RecordSequence strengthens the association a→b when b follows a
// within maxGap of a's last record update (Hebbian, capped at 1.0).
// Stimulation, decay ticks and priming all move that update time.
func (d *Dynamics) RecordSequence(a, b core.ConceptID, now uint64, maxGapMicros uint64) {
	if a == b || a == core.Wildcard || b == core.Wildcard {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[a]
	if !ok || rec.activation <= 0 || now-rec.lastUpdate > maxGapMicros {
		return
	}

	for i := range rec.associations {
		if rec.associations[i].Concept == b {
			w := rec.associations[i].Weight + d.cfg.HebbianRate
			if w > 1.0 {
				w = 1.0
			}
			rec.associations[i].Weight = w
			return
		}
	}

	assoc := Association{Concept: b, Weight: d.cfg.HebbianRate}
	if len(rec.associations) < MaxAssociations {
		rec.associations = append(rec.associations, assoc)
		return
	}
	// At capacity: the weakest link gives way, but only to a stronger
	// start.
	weakest := 0
	for i := range rec.associations {
		if rec.associations[i].Weight < rec.associations[weakest].Weight {
			weakest = i
		}
	}
	if rec.associations[weakest].Weight < assoc.Weight {
		rec.associations[weakest] = assoc
	}
}

// ApplyPredictivePriming raises the activation floor of every concept
// associated with a and flags it primed.
func (d *Dynamics) ApplyPredictivePriming(a core.ConceptID, now uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[a]
	if !ok {
		return
	}
	for _, assoc := range rec.associations {
		target := d.getOrCreateLocked(assoc.Concept, now)
		primed := d.cfg.PrimingFactor * assoc.Weight
		if now > target.lastUpdate {
			target.activation *= d.decayFactor(now - target.lastUpdate)
			target.lastUpdate = now
		}
		if primed > target.activation {
			target.activation = primed
		}
		target.primedUntil = now + d.cfg.PrimingTTLMicros
	}
}

// Activation returns the decayed activation of a concept at now.
func (d *Dynamics) Activation(c core.ConceptID, now uint64) float32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[c]
	if !ok {
		return 0
	}
	act := rec.activation
	if now > rec.lastUpdate {
		act *= d.decayFactor(now - rec.lastUpdate)
	}
	return act
}

// Primed reports whether a concept's priming flag is live at now.
func (d *Dynamics) Primed(c core.ConceptID, now uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[c]
	return ok && rec.primedUntil > now
}

// AssociationsOf returns a copy of a concept's association list.
func (d *Dynamics) AssociationsOf(c core.ConceptID) []Association {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[c]
	if !ok {
		return nil
	}
	return append([]Association(nil), rec.associations...)
}

// ExportAssociations snapshots all learned associations, for the
// snapshotter.
func (d *Dynamics) ExportAssociations() map[core.ConceptID][]Association {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[core.ConceptID][]Association)
	for c, rec := range d.records {
		if len(rec.associations) > 0 {
			out[c] = append([]Association(nil), rec.associations...)
		}
	}
	return out
}

// ImportAssociations restores learned associations at boot.
func (d *Dynamics) ImportAssociations(assocs map[core.ConceptID][]Association, now uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for c, list := range assocs {
		rec := d.getOrCreateLocked(c, now)
		if len(list) > MaxAssociations {
			list = list[:MaxAssociations]
		}
		rec.associations = append([]Association(nil), list...)
	}
}

// getOrCreateLocked fetches or creates a record, evicting the least
// recently updated one at capacity.
func (d *Dynamics) getOrCreateLocked(c core.ConceptID, now uint64) *record {
	if rec, ok := d.records[c]; ok {
		return rec
	}
	if len(d.records) >= d.cfg.Capacity {
		var oldest core.ConceptID
		oldestAt := uint64(math.MaxUint64)
		for id, rec := range d.records {
			if rec.lastUpdate < oldestAt {
				oldest, oldestAt = id, rec.lastUpdate
			}
		}
		delete(d.records, oldest)
	}
	rec := &record{lastUpdate: now, sumWindowStart: now}
	d.records[c] = rec
	return rec
}

// Len returns the live record count.
func (d *Dynamics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Stats returns dynamics statistics.
func (d *Dynamics) Stats() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	assocs := 0
	for _, rec := range d.records {
		assocs += len(rec.associations)
	}
	return map[string]any{
		"records":      len(d.records),
		"associations": assocs,
		"capacity":     d.cfg.Capacity,
	}
}
