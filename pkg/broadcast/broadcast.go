package broadcast

import (
	"fmt"
	"sort"

	"github.com/sutraworks/sutra/pkg/capability"
	"github.com/sutraworks/sutra/pkg/core"
)

// Outcome summarizes one broadcast cycle.
type Outcome struct {
	// Handled reports whether the intent found at least one handler
	// under the active resolution policy (all of them, for Consensus).
	Handled bool

	// Outputs collects user-visible handler output in fire order.
	Outputs []string

	// Fired lists handler names that were invoked, in order.
	Fired []string

	// Faulted lists handlers that panicked and were quarantined.
	Faulted []string
}

// Output joins the collected outputs.
func (o Outcome) Output() string {
	switch len(o.Outputs) {
	case 0:
		return ""
	case 1:
		return o.Outputs[0]
	}
	out := o.Outputs[0]
	for _, s := range o.Outputs[1:] {
		out += "\n" + s
	}
	return out
}

// Broadcast dispatches one intent to every matching handler, subject to
// scope, refractory, capability gating, and lateral inhibition. The
// candidate snapshot is taken under a short read lock and released
// before any handler runs. Broadcast itself never fails fatally: a
// panicking handler is isolated, quarantined, and reported on the
// diagnostic channel while the broadcast continues.
func (r *Registry) Broadcast(intent core.Intent, now uint64, hasCap func(capability.Kind) bool) Outcome {
	candidates, resolution, activation, diag := r.snapshot(intent, now, hasCap)

	if len(candidates) == 0 {
		return Outcome{}
	}

	// Static lateral inhibition pre-pass: a candidate's declared
	// inhibition list removes matching competitors for this broadcast
	// only.
	candidates = applyInhibition(candidates)

	orderCandidates(candidates, resolution, activation)

	var (
		out        Outcome
		handledAll = true
		stopped    bool
		inhibited  = map[core.ConceptID]bool{}
	)

	for _, c := range candidates {
		if stopped {
			break
		}
		if inhibited[c.concept] {
			continue
		}

		res, panicked := r.invoke(c, intent)
		if panicked {
			out.Faulted = append(out.Faulted, c.name)
			handledAll = false
			if diag != nil {
				diag(core.NewIntent(core.ConceptDiagHandlerFault, core.LevelSemantic,
					core.TextPayload(c.name), now))
			}
			continue
		}

		out.Fired = append(out.Fired, c.name)
		r.markFired(c, now)

		switch res.Kind {
		case Handled:
			out.Handled = true
			if res.Output != "" {
				out.Outputs = append(out.Outputs, res.Output)
			}
			if resolution == FirstClaims {
				stopped = true
			}
		case StopPropagation:
			// Halts all further handlers, wildcards included.
			out.Handled = true
			if res.Output != "" {
				out.Outputs = append(out.Outputs, res.Output)
			}
			stopped = true
		case InhibitResult:
			inhibited[res.Inhibit] = true
			handledAll = false
		case ModulateResult:
			// Modulation scales the intent for handlers further down
			// the chain.
			intent.Activation = core.Clamp01(intent.Activation * res.Modulate)
			handledAll = false
		case HandlerError:
			handledAll = false
			if diag != nil {
				diag(core.NewIntent(core.ConceptDiagHandlerFault, core.LevelSemantic,
					core.TextPayload(fmt.Sprintf("%s: %v", c.name, res.Err)), now))
			}
		default:
			handledAll = false
		}
	}

	// Consensus requires unanimity among invoked handlers.
	if resolution == Consensus && !handledAll {
		out.Handled = false
	}
	return out
}

// snapshot builds the candidate set under the read lock and returns the
// policy fields alongside so invocation proceeds lock-free.
func (r *Registry) snapshot(intent core.Intent, now uint64, hasCap func(capability.Kind) bool) ([]*entry, ConflictResolution, func(core.ConceptID) float32, func(core.Intent)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*entry

	add := func(e *entry) {
		if e.quarantined {
			return
		}
		// Refractory window.
		if e.refractory > 0 && e.lastFired != 0 && e.lastFired+uint64(e.refractory) > now {
			return
		}
		// Capability gate.
		if e.requiredCap != capability.KindNone && (hasCap == nil || !hasCap(e.requiredCap)) {
			return
		}
		candidates = append(candidates, e)
	}

	for _, e := range r.byConcept[intent.Concept] {
		add(e)
	}
	// Subsystem-scoped entries match any concept sharing the high 16
	// bits.
	if intent.Concept != core.Wildcard {
		sub := intent.Concept.Subsystem()
		for concept, list := range r.byConcept {
			if concept == intent.Concept || concept.Subsystem() != sub {
				continue
			}
			for _, e := range list {
				if e.scope == ScopeSubsystem {
					add(e)
				}
			}
		}
	}
	for _, e := range r.wildcards {
		add(e)
	}

	return candidates, r.resolution, r.activation, r.diag
}

// applyInhibition removes candidates named in any other candidate's
// static inhibition list.
func applyInhibition(candidates []*entry) []*entry {
	suppressed := map[core.ConceptID]bool{}
	for _, c := range candidates {
		for _, target := range c.inhibits {
			suppressed[target] = true
		}
	}
	if len(suppressed) == 0 {
		return candidates
	}

	out := candidates[:0]
	for _, c := range candidates {
		// An entry never suppresses itself.
		if suppressed[c.concept] && !inhibitsSelf(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func inhibitsSelf(e *entry) bool {
	for _, t := range e.inhibits {
		if t == e.concept {
			return true
		}
	}
	return false
}

// orderCandidates sorts per the resolution policy. Ordering is
// deterministic: ties always fall back to registration order.
func orderCandidates(candidates []*entry, resolution ConflictResolution, activation func(core.ConceptID) float32) {
	switch resolution {
	case FirstClaims:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].order < candidates[j].order
		})
	case HighestActivation:
		if activation != nil {
			sort.SliceStable(candidates, func(i, j int) bool {
				ai, aj := activation(candidates[i].concept), activation(candidates[j].concept)
				if ai != aj {
					return ai > aj
				}
				if candidates[i].priority != candidates[j].priority {
					return candidates[i].priority > candidates[j].priority
				}
				return candidates[i].order < candidates[j].order
			})
			return
		}
		fallthrough
	default: // HighestPriority, Consensus
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].priority != candidates[j].priority {
				return candidates[i].priority > candidates[j].priority
			}
			return candidates[i].order < candidates[j].order
		})
	}
}

// invoke runs one handler with panic isolation. A panic quarantines the
// entry: it is skipped on all subsequent broadcasts.
func (r *Registry) invoke(e *entry, intent core.Intent) (res Result, panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			r.mu.Lock()
			e.quarantined = true
			r.faults++
			r.mu.Unlock()
		}
	}()
	return e.fn(intent), false
}

// markFired stamps the refractory clock and fire counter.
func (r *Registry) markFired(e *entry, now uint64) {
	r.mu.Lock()
	e.lastFired = now
	e.fireCount++
	r.mu.Unlock()
}
