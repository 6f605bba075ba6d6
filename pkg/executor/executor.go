// Package executor is the end-to-end glue: decoded inputs become
// concepts, concepts become intents, intents flow through the temporal
// and hierarchical layers into the scheduler, and scheduled intents are
// broadcast to handlers under the caller's capability set.
package executor

import (
	"fmt"
	"sync"

	"github.com/sutraworks/sutra/pkg/affect"
	"github.com/sutraworks/sutra/pkg/broadcast"
	"github.com/sutraworks/sutra/pkg/capability"
	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/feedback"
	"github.com/sutraworks/sutra/pkg/hierarchy"
	"github.com/sutraworks/sutra/pkg/parser"
	"github.com/sutraworks/sutra/pkg/scheduler"
	"github.com/sutraworks/sutra/pkg/steno"
	"github.com/sutraworks/sutra/pkg/temporal"
)

const (
	// historyCapacity bounds the stroke-history ring.
	historyCapacity = 64

	// defaultStaticPriority is the scheduling priority of user-originated
	// commands.
	defaultStaticPriority uint8 = 128

	// sequenceGapMicros bounds how far apart two commands may be and
	// still form a Hebbian association.
	sequenceGapMicros uint64 = 5_000_000
)

// HistoryEntry is one slot of the stroke-history ring.
type HistoryEntry struct {
	Stroke    steno.Stroke
	Concept   core.ConceptID
	Timestamp uint64
	Undone    bool
}

// Outcalls are the driver functions the core calls out to. Every call
// is gated by capability validation; a missing function reports
// NotFound.
type Outcalls struct {
	WriteConsole    func(s string) error
	SetGPIO         func(pin uint32, high bool) error
	ReadTemperature func() (uint32, bool)
}

// Executor wires the core subsystems together.
type Executor struct {
	parser    *parser.Parser
	sequencer *steno.Sequencer
	dynamics  *temporal.Dynamics
	hierarchy *hierarchy.Processor
	detector  *feedback.Detector
	sched     *scheduler.Scheduler
	registry  *broadcast.Registry
	caps      *capability.Set
	affect    *affect.Analyzer
	outcalls  Outcalls

	maxTextBytes int

	mu          sync.Mutex
	lastConcept core.ConceptID
	history     [historyCapacity]HistoryEntry
	histLen     int
	histNext    int

	irqMu       sync.RWMutex
	irqConcepts map[uint32]core.ConceptID

	intents uint64
}

// Deps collects the executor's collaborators.
type Deps struct {
	Parser    *parser.Parser
	Sequencer *steno.Sequencer
	Dynamics  *temporal.Dynamics
	Hierarchy *hierarchy.Processor
	Detector  *feedback.Detector
	Scheduler *scheduler.Scheduler
	Registry  *broadcast.Registry
	Caps      *capability.Set
	Affect    *affect.Analyzer
	Outcalls  Outcalls

	MaxTextBytes int
}

// New creates an executor and wires the cross-subsystem callbacks:
// the scheduler samples the surprise boost on every submit, the
// broadcast engine resolves activations for HighestActivation ordering,
// and both report through the diagnostic channel.
func New(d Deps) (*Executor, error) {
	if d.Parser == nil || d.Sequencer == nil || d.Dynamics == nil ||
		d.Hierarchy == nil || d.Detector == nil || d.Scheduler == nil || d.Registry == nil {
		return nil, fmt.Errorf("%w: all core subsystems are required", core.ErrInvalidInput)
	}
	if d.MaxTextBytes <= 0 {
		d.MaxTextBytes = 4096
	}

	e := &Executor{
		parser:       d.Parser,
		sequencer:    d.Sequencer,
		dynamics:     d.Dynamics,
		hierarchy:    d.Hierarchy,
		detector:     d.Detector,
		sched:        d.Scheduler,
		registry:     d.Registry,
		caps:         d.Caps,
		affect:       d.Affect,
		outcalls:     d.Outcalls,
		maxTextBytes: d.MaxTextBytes,
		irqConcepts:  make(map[uint32]core.ConceptID),
	}

	d.Scheduler.SetSurpriseBoost(d.Detector.PriorityBoost)
	d.Scheduler.SetDiagnosticSink(e.emitDiagnostic)
	d.Registry.SetDiagnosticSink(e.emitDiagnostic)
	d.Registry.SetActivationLookup(func(c core.ConceptID) float32 {
		return d.Dynamics.Activation(c, 0)
	})
	return e, nil
}

// ---------------------------------------------------------------------------
// Intake from drivers
// ---------------------------------------------------------------------------

// OnRawStroke accepts a raw 23-bit chord from the HID driver.
func (e *Executor) OnRawStroke(bits uint32, now uint64) {
	s := steno.FromRaw(bits)
	if s.IsEmpty() {
		return
	}
	for _, em := range e.sequencer.OnStroke(s, now) {
		e.recordHistory(s, em.Concept, em.Timestamp)
		e.ingest(em.Concept, 1.0, core.LevelSemantic, core.StrokePayload(bits), em.Timestamp, 0)
	}
}

// OnTextInput accepts a line of text from the shell driver. The parse
// result's confidence carries through; affect analysis adds a bounded
// activation boost for emotionally loaded input.
func (e *Executor) OnTextInput(text string, now uint64) error {
	if len(text) > e.maxTextBytes {
		return fmt.Errorf("%w: text input of %d bytes exceeds %d", core.ErrResourceExhausted, len(text), e.maxTextBytes)
	}

	res := e.parser.Parse(text)
	if res.Concept == core.ConceptUnknown {
		e.emitDiagnostic(core.NewIntent(core.ConceptDiagParserMiss, core.LevelSemantic,
			core.TextPayload(res.Normalized), now))
	}

	var boost float32
	if e.affect != nil {
		boost = e.affect.Score(text).ActivationBoost()
	}
	e.ingest(res.Concept, res.Confidence, core.LevelSemantic, core.TextPayload(text), now, boost)
	return nil
}

// OnSensorDetection accepts a fused detection from a perception driver.
// Detections enter at the Feature level and climb the hierarchy through
// registered transitions.
func (e *Executor) OnSensorDetection(classID uint32, confidence float32, now uint64) {
	c := core.ConceptID(uint64(core.DomainDevice)<<56 | uint64(classID))
	e.ingest(c, confidence, core.LevelFeature, core.SensorPayload(classID, confidence), now, 0)
}

// RegisterIRQ binds an IRQ number to a concept.
func (e *Executor) RegisterIRQ(irq uint32, c core.ConceptID) {
	e.irqMu.Lock()
	e.irqConcepts[irq] = c
	e.irqMu.Unlock()
}

// OnIRQ routes a hardware interrupt through the broadcast engine like
// any other intent; interrupts do not bypass dispatch.
func (e *Executor) OnIRQ(irq uint32, now uint64) {
	e.irqMu.RLock()
	c, ok := e.irqConcepts[irq]
	e.irqMu.RUnlock()
	if !ok {
		c = core.ConceptID(uint64(core.DomainInterrupt)<<56 | uint64(irq))
	}
	e.ingest(c, 1.0, core.LevelSemantic, core.Payload{Kind: core.PayloadValue, Value: uint64(irq)}, now, 0)
}

// OnTimerTick drives the 100-ms obligations: activation decay, deferred
// sequencer emissions, and prediction omission checks.
func (e *Executor) OnTimerTick(now uint64) {
	e.dynamics.DecayTick(now)
	e.detector.OmissionCheck(now)
	for _, em := range e.sequencer.Tick(now) {
		e.recordHistory(0, em.Concept, em.Timestamp)
		e.ingest(em.Concept, 1.0, core.LevelSemantic, core.Payload{}, em.Timestamp, 0)
	}
}

// PropagateTick drives one 50-ms hierarchy pass and schedules the
// resulting actions.
func (e *Executor) PropagateTick(now uint64) {
	e.hierarchy.PropagateAll(now)
	for _, action := range e.hierarchy.Actions() {
		e.submit(action, now)
	}
}

// UrgencyTick drives one 10-ms winner-take-all selection.
func (e *Executor) UrgencyTick(now uint64) {
	e.sched.UrgencyTick(now, core.LevelAction)
}

// UpdateLoad forwards a load sample to the scheduler's governor.
func (e *Executor) UpdateLoad(load float32) {
	e.sched.UpdateLoad(load)
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// ingest is the common input path: stimulate the temporal layer, apply
// priming, and hand the intent to the hierarchy.
func (e *Executor) ingest(c core.ConceptID, confidence float32, level core.Level, payload core.Payload, now uint64, activationBoost float32) {
	e.dynamics.Activate(c, confidence, now)
	e.dynamics.ApplyPredictivePriming(c, now)

	intent := core.NewIntent(c, level, payload, now)
	intent.Confidence = confidence
	intent.Activation = core.Clamp01(e.dynamics.Activation(c, now) + activationBoost)

	e.mu.Lock()
	e.intents++
	e.mu.Unlock()

	e.hierarchy.InputIntent(intent)
}

// submit wraps an action intent for the scheduler.
func (e *Executor) submit(intent core.Intent, now uint64) {
	prio := defaultStaticPriority
	if intent.Concept.Domain() == core.DomainExperimental {
		prio = 64
	}
	_ = e.sched.Submit(scheduler.QueuedIntent{
		Intent:         intent,
		StaticPriority: prio,
		Urgency:        1.0,
		CoreHint:       -1,
	})
}

// ExecuteText is the synchronous foreground path used by the shell and
// API surfaces: parse, stimulate, broadcast, observe, all in-line. The
// run queues are for background and derived work; an interactive
// command answers on the calling thread.
func (e *Executor) ExecuteText(text string, now uint64) (parser.Result, broadcast.Outcome, error) {
	if len(text) > e.maxTextBytes {
		return parser.Result{}, broadcast.Outcome{}, fmt.Errorf("%w: text input of %d bytes exceeds %d", core.ErrResourceExhausted, len(text), e.maxTextBytes)
	}

	res := e.parser.Parse(text)
	if res.Concept == core.ConceptUnknown {
		e.emitDiagnostic(core.NewIntent(core.ConceptDiagParserMiss, core.LevelSemantic,
			core.TextPayload(res.Normalized), now))
	}

	e.dynamics.Activate(res.Concept, res.Confidence, now)
	e.dynamics.ApplyPredictivePriming(res.Concept, now)

	intent := core.NewIntent(res.Concept, core.LevelSemantic, core.TextPayload(text), now)
	intent.Confidence = res.Confidence
	var boost float32
	if e.affect != nil {
		boost = e.affect.Score(text).ActivationBoost()
	}
	intent.Activation = core.Clamp01(e.dynamics.Activation(res.Concept, now) + boost)

	out := e.registry.Broadcast(intent, now, e.hasCap(now))
	e.detector.Observe(res.Concept, now)

	e.mu.Lock()
	e.intents++
	prev := e.lastConcept
	e.lastConcept = res.Concept
	e.mu.Unlock()

	if prev != core.Wildcard {
		e.dynamics.RecordSequence(prev, res.Concept, now, sequenceGapMicros)
	}
	return res, out, nil
}

// PublishIntent broadcasts a pre-formed intent under the executor's
// capability set — the IPC send path. The temporal layer sees the
// stimulation like any other input.
func (e *Executor) PublishIntent(c core.ConceptID, payload core.Payload, now uint64) broadcast.Outcome {
	e.dynamics.Activate(c, 1.0, now)
	e.dynamics.ApplyPredictivePriming(c, now)

	intent := core.NewIntent(c, core.LevelSemantic, payload, now)
	intent.Activation = e.dynamics.Activation(c, now)

	out := e.registry.Broadcast(intent, now, e.hasCap(now))
	e.detector.Observe(c, now)
	return out
}

// Registry exposes the handler registry for surfaces that register
// handlers on behalf of external agents.
func (e *Executor) Registry() *broadcast.Registry { return e.registry }

// RunCore drains one scheduled intent for a core and broadcasts it
// under the executor's capability set. Returns the broadcast outcome
// and whether any work was done.
func (e *Executor) RunCore(coreID int, now uint64) (broadcast.Outcome, bool) {
	q, ok := e.sched.NextForCore(coreID, now)
	if !ok {
		return broadcast.Outcome{}, false
	}
	defer e.sched.Done(coreID)

	out := e.registry.Broadcast(q.Intent, now, e.hasCap(now))

	// Close the loop: the observation feeds surprise, and the command
	// sequence feeds Hebbian learning.
	e.detector.Observe(q.Intent.Concept, now)

	e.mu.Lock()
	prev := e.lastConcept
	e.lastConcept = q.Intent.Concept
	e.mu.Unlock()

	if prev != core.Wildcard {
		e.dynamics.RecordSequence(prev, q.Intent.Concept, now, sequenceGapMicros)
	}
	return out, true
}

// hasCap binds the executor's capability set into a broadcast gate.
func (e *Executor) hasCap(now uint64) func(capability.Kind) bool {
	if e.caps == nil {
		return func(capability.Kind) bool { return false }
	}
	return func(k capability.Kind) bool { return e.caps.Has(k, now) }
}

// emitDiagnostic reports a condition as a broadcast on the diagnostic
// channel. Diagnostics dispatch synchronously and never re-enter the
// scheduler, so load shedding cannot amplify itself.
func (e *Executor) emitDiagnostic(intent core.Intent) {
	e.registry.Broadcast(intent, intent.Timestamp, e.hasCap(intent.Timestamp))
}

// ---------------------------------------------------------------------------
// Outcalls (capability-gated)
// ---------------------------------------------------------------------------

// WriteConsole writes to the console driver.
func (e *Executor) WriteConsole(s string, now uint64) error {
	if e.caps == nil || !e.caps.Has(capability.KindConsole, now) {
		return fmt.Errorf("%w: console", core.ErrPermissionDenied)
	}
	if e.outcalls.WriteConsole == nil {
		return fmt.Errorf("%w: console driver", core.ErrNotFound)
	}
	return e.outcalls.WriteConsole(s)
}

// SetGPIO drives a GPIO pin.
func (e *Executor) SetGPIO(pin uint32, high bool, now uint64) error {
	if e.caps == nil || !e.caps.Has(capability.KindGPIO, now) {
		return fmt.Errorf("%w: gpio", core.ErrPermissionDenied)
	}
	if e.outcalls.SetGPIO == nil {
		return fmt.Errorf("%w: gpio driver", core.ErrNotFound)
	}
	return e.outcalls.SetGPIO(pin, high)
}

// ReadTemperature reads the board temperature.
func (e *Executor) ReadTemperature(now uint64) (uint32, error) {
	if e.caps == nil || !e.caps.Has(capability.KindTemperature, now) {
		return 0, fmt.Errorf("%w: temperature", core.ErrPermissionDenied)
	}
	if e.outcalls.ReadTemperature == nil {
		return 0, fmt.Errorf("%w: temperature driver", core.ErrNotFound)
	}
	v, ok := e.outcalls.ReadTemperature()
	if !ok {
		return 0, fmt.Errorf("%w: temperature reading unavailable", core.ErrNotFound)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Stroke history, undo/redo
// ---------------------------------------------------------------------------

// recordHistory appends to the ring.
func (e *Executor) recordHistory(s steno.Stroke, c core.ConceptID, now uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history[e.histNext] = HistoryEntry{Stroke: s, Concept: c, Timestamp: now}
	e.histNext = (e.histNext + 1) % historyCapacity
	if e.histLen < historyCapacity {
		e.histLen++
	}
}

// History returns the ring newest-first.
func (e *Executor) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]HistoryEntry, 0, e.histLen)
	for i := 1; i <= e.histLen; i++ {
		idx := (e.histNext - i + historyCapacity) % historyCapacity
		out = append(out, e.history[idx])
	}
	return out
}

// Undo flags the most recent non-undone entry and re-emits an inverse
// intent referencing the original concept.
func (e *Executor) Undo(now uint64) (core.ConceptID, bool) {
	e.mu.Lock()
	var target *HistoryEntry
	for i := 1; i <= e.histLen; i++ {
		idx := (e.histNext - i + historyCapacity) % historyCapacity
		if !e.history[idx].Undone {
			target = &e.history[idx]
			break
		}
	}
	if target == nil {
		e.mu.Unlock()
		return 0, false
	}
	target.Undone = true
	c := target.Concept
	e.mu.Unlock()

	inverse := core.NewIntent(core.ConceptUndo, core.LevelSemantic, core.Payload{
		Kind:  core.PayloadValue,
		Value: uint64(c),
	}, now).WithSource(c)
	e.hierarchy.InputIntent(inverse)
	return c, true
}

// Redo clears the most recently undone flag and re-emits the original
// intent.
func (e *Executor) Redo(now uint64) (core.ConceptID, bool) {
	e.mu.Lock()
	var target *HistoryEntry
	for i := 1; i <= e.histLen; i++ {
		idx := (e.histNext - i + historyCapacity) % historyCapacity
		if e.history[idx].Undone {
			target = &e.history[idx]
			break
		}
	}
	if target == nil {
		e.mu.Unlock()
		return 0, false
	}
	target.Undone = false
	c := target.Concept
	e.mu.Unlock()

	redone := core.NewIntent(c, core.LevelSemantic, core.Payload{}, now).WithSource(core.ConceptRedo)
	e.hierarchy.InputIntent(redone)
	return c, true
}

// Stats aggregates subsystem statistics.
func (e *Executor) Stats() map[string]any {
	e.mu.Lock()
	intents := e.intents
	histLen := e.histLen
	e.mu.Unlock()

	return map[string]any{
		"intents":   intents,
		"history":   histLen,
		"scheduler": e.sched.Stats(),
		"registry":  e.registry.Stats(),
		"temporal":  e.dynamics.Stats(),
		"hierarchy": e.hierarchy.Stats(),
		"feedback":  e.detector.Stats(),
	}
}
