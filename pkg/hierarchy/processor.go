// Package hierarchy routes intents through the five processing layers
// (Raw → Feature → Object → Semantic → Action) with attention and goal
// modulation. All structures are fixed-capacity; overflow drops the
// oldest lowest-activation intent in the affected layer.
package hierarchy

import (
	"sort"
	"sync"

	"github.com/sutraworks/sutra/pkg/core"
)

// Defaults.
const (
	DefaultLayerCapacity   = 32
	DefaultAttentionGain   = 0.5
	DefaultSuppression     = 0.3
	MaxAttended            = 8
)

// Config tunes the processor.
type Config struct {
	LayerCapacity int
	AttentionGain float32
	Suppression   float32
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		LayerCapacity: DefaultLayerCapacity,
		AttentionGain: DefaultAttentionGain,
		Suppression:   DefaultSuppression,
	}
}

// Processor owns the five layer buffers, the layer-transition table,
// the attention set and the active goal set.
type Processor struct {
	mu sync.Mutex

	cfg    Config
	layers [core.NumLevels][]core.Intent

	// transitions maps a concept to the concepts it derives at the
	// next level up.
	transitions map[core.ConceptID][]core.ConceptID

	attended map[core.ConceptID]struct{}
	goals    map[core.ConceptID]float32

	propagated uint64
	dropped    uint64
}

// New creates a processor.
func New(cfg Config) *Processor {
	if cfg.LayerCapacity < 16 {
		cfg.LayerCapacity = DefaultLayerCapacity
	}
	if cfg.AttentionGain == 0 {
		cfg.AttentionGain = DefaultAttentionGain
	}
	if cfg.Suppression == 0 {
		cfg.Suppression = DefaultSuppression
	}
	return &Processor{
		cfg:         cfg,
		transitions: make(map[core.ConceptID][]core.ConceptID),
		attended:    make(map[core.ConceptID]struct{}),
		goals:       make(map[core.ConceptID]float32),
	}
}

// RegisterTransition declares that an intent carrying `from` derives an
// intent carrying `to` one level up (e.g. a Feature concept
// EdgeDetected emitting an Object concept PersonLikely).
func (p *Processor) RegisterTransition(from, to core.ConceptID) {
	p.mu.Lock()
	p.transitions[from] = append(p.transitions[from], to)
	p.mu.Unlock()
}

// InputIntent places an intent into the buffer of its level.
func (p *Processor) InputIntent(intent core.Intent) {
	if intent.Level >= core.NumLevels {
		return
	}
	p.mu.Lock()
	p.insertLocked(int(intent.Level), intent)
	p.mu.Unlock()
}

// insertLocked appends with the overflow policy: at capacity, the
// weakest (oldest among ties) of buffer ∪ {incoming} is dropped.
func (p *Processor) insertLocked(level int, intent core.Intent) {
	buf := p.layers[level]
	if len(buf) < p.cfg.LayerCapacity {
		p.layers[level] = append(buf, intent)
		return
	}

	weakest := -1
	weakestAct := intent.Activation
	for i := range buf {
		if buf[i].Activation <= weakestAct {
			// <= keeps the earliest (oldest) candidate on ties.
			if weakest == -1 || buf[i].Activation < weakestAct || buf[i].Timestamp <= buf[weakest].Timestamp {
				weakest = i
				weakestAct = buf[i].Activation
			}
		}
	}
	p.dropped++
	if weakest == -1 {
		// Incoming is the weakest: drop it.
		return
	}
	buf[weakest] = intent
}

// PropagateAll runs one bottom-up pass: each non-Action layer is
// drained, each intent modulated and routed through the transition
// table into the next layer. Runs every 50 ms under the tick worker.
func (p *Processor) PropagateAll(now uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Every layer is drained up front, so an intent derived in this pass
	// waits in its new layer for the next pass.
	var pending [core.NumLevels - 1][]core.Intent
	for level := range pending {
		pending[level] = p.layers[level]
		p.layers[level] = nil
	}

	for level := 0; level < core.NumLevels-1; level++ {
		for _, intent := range pending[level] {
			intent.Activation = p.modulateLocked(intent)
			if intent.Activation <= 0 {
				continue
			}

			targets := p.transitions[intent.Concept]
			if len(targets) == 0 {
				// Semantic intents promote unchanged so a parsed
				// command always reaches the action layer; lower
				// layers need an explicit transition.
				if core.Level(level) == core.LevelSemantic {
					derived := intent
					derived.Level = core.LevelAction
					derived.Source = intent.Concept
					derived.Timestamp = now
					p.insertLocked(int(core.LevelAction), derived)
					p.propagated++
				}
				continue
			}
			for _, target := range targets {
				derived := intent
				derived.Concept = target
				derived.Level = core.Level(level + 1)
				derived.Source = intent.Concept
				derived.Timestamp = now
				p.insertLocked(level+1, derived)
				p.propagated++
			}
		}
	}
}

// modulateLocked applies attention and goal modulation to an intent's
// activation.
func (p *Processor) modulateLocked(intent core.Intent) float32 {
	act := intent.Activation

	if len(p.attended) > 0 {
		if _, ok := p.attended[intent.Concept]; ok {
			act *= 1 + p.cfg.AttentionGain
		} else {
			act *= 1 - p.cfg.Suppression
		}
	}
	if strength, ok := p.goals[intent.Concept]; ok {
		act *= 1 + strength
	}
	return core.Clamp01(act)
}

// Attend adds a concept to the bounded attention set. Returns false
// when the set is full.
func (p *Processor) Attend(c core.ConceptID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.attended[c]; ok {
		return true
	}
	if len(p.attended) >= MaxAttended {
		return false
	}
	p.attended[c] = struct{}{}
	return true
}

// Unattend removes a concept from the attention set.
func (p *Processor) Unattend(c core.ConceptID) {
	p.mu.Lock()
	delete(p.attended, c)
	p.mu.Unlock()
}

// SetGoal activates goal modulation for a concept.
func (p *Processor) SetGoal(c core.ConceptID, strength float32) {
	p.mu.Lock()
	p.goals[c] = strength
	p.mu.Unlock()
}

// ClearGoal removes a goal.
func (p *Processor) ClearGoal(c core.ConceptID) {
	p.mu.Lock()
	delete(p.goals, c)
	p.mu.Unlock()
}

// Actions drains the Action-layer buffer in activation-priority order.
func (p *Processor) Actions() []core.Intent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.layers[core.LevelAction]
	p.layers[core.LevelAction] = nil

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Activation != out[j].Activation {
			return out[i].Activation > out[j].Activation
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Depth returns the buffer depth of a layer.
func (p *Processor) Depth(level core.Level) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level >= core.NumLevels {
		return 0
	}
	return len(p.layers[level])
}

// Stats returns processor statistics.
func (p *Processor) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	depths := make([]int, core.NumLevels)
	for i := range p.layers {
		depths[i] = len(p.layers[i])
	}
	return map[string]any{
		"depths":      depths,
		"transitions": len(p.transitions),
		"attended":    len(p.attended),
		"goals":       len(p.goals),
		"propagated":  p.propagated,
		"dropped":     p.dropped,
	}
}
