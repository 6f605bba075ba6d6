// Package broadcast implements the intent broadcast engine: 1-to-N
// handler dispatch with lateral inhibition, refractory periods, scope
// filtering, capability gating, and configurable conflict resolution.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/sutraworks/sutra/pkg/capability"
	"github.com/sutraworks/sutra/pkg/core"
)

// ResultKind is the tagged variant a handler returns. Broadcast control
// flow reads it as a small state machine rather than dispatching on
// handler types.
type ResultKind uint8

const (
	NotHandled ResultKind = iota
	Handled
	HandlerError
	StopPropagation
	InhibitResult
	ModulateResult
)

// Result is a handler's verdict on one intent.
type Result struct {
	Kind     ResultKind
	Output   string         // optional user-visible output
	Inhibit  core.ConceptID // for InhibitResult
	Modulate float32        // for ModulateResult
	Err      error          // for HandlerError
}

// Handle is the common success result.
func Handle(output string) Result { return Result{Kind: Handled, Output: output} }

// Pass declines the intent.
func Pass() Result { return Result{Kind: NotHandled} }

// Stop handles the intent and halts propagation, wildcards included.
func Stop(output string) Result { return Result{Kind: StopPropagation, Output: output} }

// Inhibit suppresses competing handlers for this broadcast only.
func Inhibit(target core.ConceptID) Result {
	return Result{Kind: InhibitResult, Inhibit: target}
}

// Fn is a handler function.
type Fn func(intent core.Intent) Result

// Scope bounds which intents an entry can observe.
type Scope uint8

const (
	// ScopeLocal matches the registered concept exactly.
	ScopeLocal Scope = iota

	// ScopeSubsystem also matches concepts sharing the high 16 bits.
	ScopeSubsystem

	// ScopeGlobal is reserved for wildcard entries, which require the
	// system handler-ring capability.
	ScopeGlobal
)

// ConflictResolution selects the invocation policy when several
// handlers match.
type ConflictResolution uint8

const (
	// HighestPriority invokes by priority desc, registration order.
	HighestPriority ConflictResolution = iota

	// FirstClaims invokes in registration order, stops at first Handled.
	FirstClaims

	// HighestActivation orders by current activation of each handler's
	// concept (requires an activation lookup), then priority.
	HighestActivation

	// Consensus invokes every candidate; the aggregate is Handled only
	// if every invoked handler handled.
	Consensus
)

// MaxInhibits bounds an entry's static inhibition list.
const MaxInhibits = 4

// entry is a registered handler. Owned exclusively by the Registry.
type entry struct {
	concept     core.ConceptID
	fn          Fn
	priority    uint8
	scope       Scope
	name        string
	inhibits    []core.ConceptID
	refractory  uint16 // µs
	lastFired   uint64
	requiredCap capability.Kind
	order       uint64
	fireCount   uint64
	quarantined bool
}

// Options carries the optional registration fields.
type Options struct {
	Priority    uint8
	Scope       Scope
	Inhibits    []core.ConceptID
	RefractoryMicros uint16
	RequiredCap capability.Kind
}

// Registry owns all handler entries. Mutations take the write lock;
// broadcasts snapshot the relevant candidates under a short read lock
// and release it before invoking anything.
type Registry struct {
	mu         sync.RWMutex
	byConcept  map[core.ConceptID][]*entry
	wildcards  []*entry
	byName     map[string]*entry
	nextOrder  uint64
	resolution ConflictResolution

	// activation supplies per-concept activation for the
	// HighestActivation policy. Nil falls back to priority order.
	activation func(core.ConceptID) float32

	// diag receives diagnostic intents (handler faults, quarantines).
	// Never invoked under a registry lock.
	diag func(core.Intent)

	faults uint64
}

// NewRegistry creates an empty registry with the default conflict
// resolution (HighestPriority).
func NewRegistry() *Registry {
	return &Registry{
		byConcept: make(map[core.ConceptID][]*entry),
		byName:    make(map[string]*entry),
	}
}

// SetConflictResolution selects the invocation policy.
func (r *Registry) SetConflictResolution(cr ConflictResolution) {
	r.mu.Lock()
	r.resolution = cr
	r.mu.Unlock()
}

// SetActivationLookup wires the temporal layer in for the
// HighestActivation policy.
func (r *Registry) SetActivationLookup(fn func(core.ConceptID) float32) {
	r.mu.Lock()
	r.activation = fn
	r.mu.Unlock()
}

// SetDiagnosticSink wires the diagnostic intent channel.
func (r *Registry) SetDiagnosticSink(fn func(core.Intent)) {
	r.mu.Lock()
	r.diag = fn
	r.mu.Unlock()
}

// Register adds a handler for a concept. Wildcard registration must go
// through RegisterWildcard; a zero concept here is rejected.
func (r *Registry) Register(concept core.ConceptID, fn Fn, name string, opts Options) error {
	if concept == core.Wildcard {
		return fmt.Errorf("%w: wildcard registration requires the system handler ring", core.ErrPermissionDenied)
	}
	if fn == nil || name == "" {
		return fmt.Errorf("%w: handler fn and name are required", core.ErrInvalidInput)
	}
	if len(opts.Inhibits) > MaxInhibits {
		return fmt.Errorf("%w: inhibition list exceeds %d", core.ErrResourceExhausted, MaxInhibits)
	}
	if opts.Scope == ScopeGlobal {
		return fmt.Errorf("%w: global scope is wildcard-only", core.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("%w: handler %q already registered", core.ErrInvalidInput, name)
	}

	e := &entry{
		concept:     concept,
		fn:          fn,
		priority:    opts.Priority,
		scope:       opts.Scope,
		name:        name,
		inhibits:    append([]core.ConceptID(nil), opts.Inhibits...),
		refractory:  opts.RefractoryMicros,
		requiredCap: opts.RequiredCap,
		order:       r.nextOrder,
	}
	r.nextOrder++
	r.byConcept[concept] = append(r.byConcept[concept], e)
	r.byName[name] = e
	return nil
}

// RegisterWildcard adds a handler observing every broadcast. The caller
// must hold a system handler-ring capability; no other path can snoop
// intents it was not registered for.
func (r *Registry) RegisterWildcard(fn Fn, priority uint8, name string, hasCap func(capability.Kind) bool) error {
	if hasCap == nil || !hasCap(capability.KindSystemHandlerRing) {
		return fmt.Errorf("%w: wildcard registration requires the system handler ring", core.ErrPermissionDenied)
	}
	if fn == nil || name == "" {
		return fmt.Errorf("%w: handler fn and name are required", core.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("%w: handler %q already registered", core.ErrInvalidInput, name)
	}

	e := &entry{
		concept:  core.Wildcard,
		fn:       fn,
		priority: priority,
		scope:    ScopeGlobal,
		name:     name,
		order:    r.nextOrder,
	}
	r.nextOrder++
	r.wildcards = append(r.wildcards, e)
	r.byName[name] = e
	return nil
}

// Unregister removes a handler by name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[name]
	if !ok {
		return false
	}
	delete(r.byName, name)

	if e.concept == core.Wildcard {
		r.wildcards = removeEntry(r.wildcards, e)
		return true
	}
	r.byConcept[e.concept] = removeEntry(r.byConcept[e.concept], e)
	if len(r.byConcept[e.concept]) == 0 {
		delete(r.byConcept, e.concept)
	}
	return true
}

func removeEntry(list []*entry, e *entry) []*entry {
	out := list[:0]
	for _, x := range list {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}

// Quarantined reports whether a named handler is quarantined.
func (r *Registry) Quarantined(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return ok && e.quarantined
}

// FireCount returns a handler's fire counter, for load statistics.
func (r *Registry) FireCount(name string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byName[name]; ok {
		return e.fireCount
	}
	return 0
}

// Stats returns registry statistics.
func (r *Registry) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	quarantined := 0
	for _, e := range r.byName {
		if e.quarantined {
			quarantined++
		}
	}
	return map[string]any{
		"handlers":    len(r.byName),
		"wildcards":   len(r.wildcards),
		"concepts":    len(r.byConcept),
		"quarantined": quarantined,
		"faults":      r.faults,
	}
}
