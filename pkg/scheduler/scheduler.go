// Package scheduler implements the urgency-accumulation action
// selector: per-core run queues with priority ordering, concept
// affinity, work stealing, and load-based graceful degradation.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sutraworks/sutra/pkg/core"
)

// LoadLevel classifies system load.
type LoadLevel uint8

const (
	LoadNormal LoadLevel = iota // < 0.8
	LoadHigh                    // < 0.95
	LoadCritical
)

// String returns the level name.
func (l LoadLevel) String() string {
	switch l {
	case LoadNormal:
		return "normal"
	case LoadHigh:
		return "high"
	default:
		return "critical"
	}
}

// Load thresholds and EMA smoothing.
const (
	loadHighWater     = 0.8
	loadCriticalWater = 0.95
	loadEMAAlpha      = 0.2

	// criticalFloor is the minimum effective priority dispatched under
	// critical load.
	criticalFloor float32 = 128
)

// Config tunes the scheduler.
type Config struct {
	// Cores is the requested run-queue count; New clamps it to 1 or 4.
	Cores int

	// QueueCapacity bounds each core queue.
	QueueCapacity int

	// Urgency carries the accumulator tuning.
	Urgency UrgencyConfig
}

// Scheduler owns the per-core queues and the urgency accumulator.
type Scheduler struct {
	cores []*coreQueue
	seq   atomic.Uint64

	loadMu    sync.Mutex
	loadLevel LoadLevel
	loadEMA   float32

	urgency *Accumulator

	// boost supplies the surprise boost applied at submit; nil means
	// no boost.
	boost func() float32

	// preempt signals a core that a higher-priority intent arrived
	// (the IPI analog). Never called under a queue lock.
	preempt func(coreID int)

	// diag receives DeadlineExceeded / LoadShed diagnostics.
	diag func(core.Intent)
}

// New creates a scheduler. Core count is clamped to {1, 4}: a probe
// result of 0 or anything below 4 collapses to 1.
func New(cfg Config) *Scheduler {
	n := cfg.Cores
	if n != 1 && n != 4 {
		if n >= 4 {
			n = 4
		} else {
			n = 1
		}
	}
	cap := cfg.QueueCapacity
	if cap <= 0 {
		cap = 256
	}

	s := &Scheduler{
		cores:   make([]*coreQueue, n),
		urgency: NewAccumulator(cfg.Urgency),
	}
	for i := range s.cores {
		s.cores[i] = &coreQueue{capacity: cap}
	}
	return s
}

// SetSurpriseBoost wires the feedback detector in.
func (s *Scheduler) SetSurpriseBoost(fn func() float32) { s.boost = fn }

// SetPreemptSignal wires the cross-core preemption signal.
func (s *Scheduler) SetPreemptSignal(fn func(coreID int)) { s.preempt = fn }

// SetDiagnosticSink wires the diagnostic intent channel.
func (s *Scheduler) SetDiagnosticSink(fn func(core.Intent)) { s.diag = fn }

// Cores returns the run-queue count.
func (s *Scheduler) Cores() int { return len(s.cores) }

// Submit enqueues a request. The surprise boost is sampled here, the
// effective priority computed, and the target core chosen by hint,
// concept category, or least load.
func (s *Scheduler) Submit(req QueuedIntent) error {
	if s.boost != nil && req.SurpriseBoost == 0 {
		req.SurpriseBoost = s.boost()
	}
	req.Sequence = s.seq.Add(1)
	req.effective = req.EffectivePriority()

	target := s.routeCore(&req)
	cq := s.cores[target]

	cq.mu.Lock()
	ok := cq.insertLocked(&req)
	var currentEff float32 = -1
	if cq.current != nil {
		currentEff = cq.current.effective
	}
	cq.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: core %d queue full", core.ErrResourceExhausted, target)
	}

	// Preemption is permitted for everything except background-class
	// concepts.
	if s.preempt != nil && currentEff >= 0 && req.effective > currentEff && !isBackground(req.Intent.Concept) {
		s.preempt(target)
	}
	return nil
}

// routeCore picks the target queue: an unsaturated hint wins; otherwise
// the concept category routes input→0, compute→1, output→2; background
// and everything else go to the least-loaded queue.
func (s *Scheduler) routeCore(req *QueuedIntent) int {
	n := len(s.cores)
	if req.CoreHint >= 0 && req.CoreHint < n && !s.cores[req.CoreHint].saturated() {
		return req.CoreHint
	}

	var target int
	switch req.Intent.Concept.Domain() {
	case core.DomainInput, core.DomainInterrupt:
		target = 0
	case core.DomainSystem, core.DomainMemory:
		target = 1 % n
	case core.DomainUI, core.DomainMedia, core.DomainDevice:
		target = 2 % n
	default:
		return s.leastLoaded()
	}
	if s.cores[target].saturated() {
		return s.leastLoaded()
	}
	return target
}

// leastLoaded returns the index of the shallowest queue.
func (s *Scheduler) leastLoaded() int {
	best, bestDepth := 0, int(^uint(0)>>1)
	for i, cq := range s.cores {
		if d := cq.depth(); d < bestDepth {
			best, bestDepth = i, d
		}
	}
	return best
}

// isBackground reports whether a concept belongs to the background
// class (experimental domain).
func isBackground(c core.ConceptID) bool {
	return c.Domain() == core.DomainExperimental
}

// NextForCore returns the next intent for a core, honoring deadlines
// and load shedding, stealing from the busiest peer when local work
// runs dry. Returns ok=false when the core should idle.
func (s *Scheduler) NextForCore(coreID int, now uint64) (*QueuedIntent, bool) {
	if coreID < 0 || coreID >= len(s.cores) {
		return nil, false
	}
	cq := s.cores[coreID]
	level := s.LoadLevel()

	cq.mu.Lock()
	for {
		head := cq.peekLocked()
		if head == nil {
			break
		}

		// Expired intents are discarded with a diagnostic.
		if head.Deadline != 0 && now > head.Deadline {
			cq.popLocked()
			cq.dropped++
			cq.mu.Unlock()
			s.emitDiag(core.ConceptDiagDeadline, head.Intent.Concept, now)
			cq.mu.Lock()
			continue
		}

		// Critical load sheds everything below the floor.
		if level == LoadCritical && head.effective < criticalFloor {
			cq.popLocked()
			cq.dropped++
			cq.mu.Unlock()
			s.emitDiag(core.ConceptDiagLoadShed, head.Intent.Concept, now)
			cq.mu.Lock()
			continue
		}

		// High load skips background work but keeps it queued.
		if level == LoadHigh && isBackground(head.Intent.Concept) {
			cq.mu.Unlock()
			return nil, false
		}

		q := cq.popLocked()
		cq.current = q
		cq.dispatched++
		cq.mu.Unlock()
		return q, true
	}
	cq.idleSince = now
	cq.mu.Unlock()

	// Local queue is empty: steal half the lower-priority tail of the
	// busiest peer, try-lock only.
	if stolen := s.steal(coreID); len(stolen) > 0 {
		cq.mu.Lock()
		for _, q := range stolen {
			cq.insertLocked(q)
		}
		cq.mu.Unlock()
		return s.NextForCore(coreID, now)
	}
	return nil, false
}

// Done marks a core's current intent complete.
func (s *Scheduler) Done(coreID int) {
	if coreID < 0 || coreID >= len(s.cores) {
		return
	}
	cq := s.cores[coreID]
	cq.mu.Lock()
	cq.current = nil
	cq.mu.Unlock()
}

// steal takes work from the busiest peer holding at least two entries.
// The victim's lock is only ever try-locked; stealing never blocks.
func (s *Scheduler) steal(thief int) []*QueuedIntent {
	victim, victimDepth := -1, 1
	for i, cq := range s.cores {
		if i == thief {
			continue
		}
		if d := cq.depth(); d > victimDepth {
			victim, victimDepth = i, d
		}
	}
	if victim < 0 {
		return nil
	}

	vq := s.cores[victim]
	if !vq.mu.TryLock() {
		return nil
	}
	defer vq.mu.Unlock()
	if len(vq.entries) < 2 {
		return nil
	}
	return vq.stealTailLocked()
}

// UpdateLoad folds a load sample in [0,1] into the EMA and derives the
// load level.
func (s *Scheduler) UpdateLoad(load float32) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.loadEMA = (1-loadEMAAlpha)*s.loadEMA + loadEMAAlpha*load
	switch {
	case load >= loadCriticalWater:
		s.loadLevel = LoadCritical
	case load >= loadHighWater:
		s.loadLevel = LoadHigh
	default:
		s.loadLevel = LoadNormal
	}
}

// LoadLevel returns the current load classification.
func (s *Scheduler) LoadLevel() LoadLevel {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.loadLevel
}

// Accumulate feeds the urgency accumulator for a concept.
func (s *Scheduler) Accumulate(c core.ConceptID, delta float32, now uint64) {
	s.urgency.Accumulate(c, delta, now)
}

// UrgencyTick runs one winner-take-all selection and submits the
// winner, if any. Driven every 10 ms by the tick worker.
func (s *Scheduler) UrgencyTick(now uint64, level core.Level) {
	c, u, ok := s.urgency.SelectWinner(now)
	if !ok {
		return
	}
	_ = s.Submit(QueuedIntent{
		Intent:         core.NewIntent(c, level, core.Payload{}, now),
		StaticPriority: 128,
		Urgency:        u,
		CoreHint:       -1,
	})
}

// emitDiag reports a drop on the diagnostic channel.
func (s *Scheduler) emitDiag(diagConcept, subject core.ConceptID, now uint64) {
	if s.diag == nil {
		return
	}
	intent := core.NewIntent(diagConcept, core.LevelSemantic, core.Payload{
		Kind:  core.PayloadValue,
		Value: uint64(subject),
	}, now)
	s.diag(intent)
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() map[string]any {
	s.loadMu.Lock()
	level, ema := s.loadLevel, s.loadEMA
	s.loadMu.Unlock()

	perCore := make([]map[string]any, len(s.cores))
	for i, cq := range s.cores {
		cq.mu.Lock()
		perCore[i] = map[string]any{
			"depth":      len(cq.entries),
			"dispatched": cq.dispatched,
			"dropped":    cq.dropped,
			"stolen":     cq.stolen,
		}
		cq.mu.Unlock()
	}
	return map[string]any{
		"cores":      len(s.cores),
		"load_level": level.String(),
		"load_ema":   ema,
		"queues":     perCore,
		"urgency":    s.urgency.Stats(),
	}
}
