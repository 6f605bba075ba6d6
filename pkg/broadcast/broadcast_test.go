package broadcast

import (
	"errors"
	"testing"

	"github.com/sutraworks/sutra/pkg/capability"
	"github.com/sutraworks/sutra/pkg/core"
)

var (
	conceptA = core.ConceptFromName("broadcast test a")
	conceptB = core.ConceptFromName("broadcast test b")
)

func allCaps(capability.Kind) bool  { return true }
func noCaps(capability.Kind) bool   { return false }

func TestBroadcastInvokesMatchingHandler(t *testing.T) {
	r := NewRegistry()
	err := r.Register(core.ConceptStatus, func(core.Intent) Result {
		return Handle("CPU 45%, RAM 29%")
	}, "status-reporter", Options{Priority: 128})
	if err != nil {
		t.Fatal(err)
	}

	out := r.Broadcast(core.NewIntent(core.ConceptStatus, core.LevelSemantic, core.Payload{}, 1000), 1000, allCaps)
	if !out.Handled {
		t.Fatal("Expected handled")
	}
	if out.Output() != "CPU 45%, RAM 29%" {
		t.Errorf("Output = %q", out.Output())
	}
	if len(out.Fired) != 1 || out.Fired[0] != "status-reporter" {
		t.Errorf("Fired = %v", out.Fired)
	}
	if r.FireCount("status-reporter") != 1 {
		t.Error("Fire counter not updated")
	}
}

func TestBroadcastDeterministicOrder(t *testing.T) {
	r := NewRegistry()
	for _, h := range []struct {
		name string
		prio uint8
	}{{"low", 10}, {"high", 200}, {"mid", 100}, {"mid2", 100}} {
		name := h.name
		if err := r.Register(conceptA, func(core.Intent) Result { return Handle(name) }, name, Options{Priority: h.prio}); err != nil {
			t.Fatal(err)
		}
	}

	intent := core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1)
	first := r.Broadcast(intent, 1, allCaps)
	want := []string{"high", "mid", "mid2", "low"}
	for i, name := range want {
		if first.Fired[i] != name {
			t.Fatalf("Fire order %v, want %v", first.Fired, want)
		}
	}

	// Identical registry, intent, clock → identical handler sequence.
	second := r.Broadcast(intent, 1, allCaps)
	for i := range want {
		if second.Fired[i] != first.Fired[i] {
			t.Fatal("Broadcast must be deterministic")
		}
	}
}

func TestRefractoryPeriod(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(conceptA, func(core.Intent) Result { return Handle("x") },
		"refractory", Options{Priority: 1, RefractoryMicros: 1000}); err != nil {
		t.Fatal(err)
	}

	intent := core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 0)

	if out := r.Broadcast(intent, 100, allCaps); !out.Handled {
		t.Fatal("First broadcast should fire")
	}
	if out := r.Broadcast(intent, 600, allCaps); out.Handled {
		t.Error("Handler inside refractory window must be filtered")
	}
	if out := r.Broadcast(intent, 1200, allCaps); !out.Handled {
		t.Error("Handler past refractory window should fire again")
	}
}

func TestLateralInhibition(t *testing.T) {
	r := NewRegistry()

	// H_A (priority 200) inhibits concept B; H_B (priority 100) is
	// registered for B. An intent matching both via subsystem scope
	// fires only H_A.
	subA := core.ConceptID(0x4001_0000_0000_0001)
	subB := core.ConceptID(0x4001_0000_0000_0002)

	if err := r.Register(subA, func(core.Intent) Result { return Handle("A") },
		"handler-a", Options{Priority: 200, Scope: ScopeSubsystem, Inhibits: []core.ConceptID{subB}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(subB, func(core.Intent) Result { return Handle("B") },
		"handler-b", Options{Priority: 100, Scope: ScopeSubsystem}); err != nil {
		t.Fatal(err)
	}

	out := r.Broadcast(core.NewIntent(subA, core.LevelSemantic, core.Payload{}, 1), 1, allCaps)
	if !out.Handled || out.Output() != "A" {
		t.Fatalf("Expected only H_A to fire, got %+v", out)
	}
	for _, name := range out.Fired {
		if name == "handler-b" {
			t.Error("Inhibited handler must not fire")
		}
	}
}

func TestWildcardRequiresSystemRing(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterWildcard(func(core.Intent) Result { return Pass() }, 1, "snoop", noCaps)
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("Wildcard without ring capability must fail, got %v", err)
	}
	err = r.Register(core.Wildcard, func(core.Intent) Result { return Pass() }, "sneaky", Options{})
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("Register with concept 0 must fail, got %v", err)
	}

	// With the ring capability the wildcard observes everything.
	seen := 0
	err = r.RegisterWildcard(func(core.Intent) Result { seen++; return Pass() }, 1, "ring-observer",
		func(k capability.Kind) bool { return k == capability.KindSystemHandlerRing })
	if err != nil {
		t.Fatal(err)
	}
	r.Broadcast(core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1), 1, allCaps)
	r.Broadcast(core.NewIntent(conceptB, core.LevelSemantic, core.Payload{}, 2), 2, allCaps)
	if seen != 2 {
		t.Errorf("Wildcard should observe every broadcast, saw %d", seen)
	}
}

func TestStopPropagationHaltsWildcards(t *testing.T) {
	r := NewRegistry()
	wildcardSaw := false

	if err := r.Register(conceptA, func(core.Intent) Result { return Stop("stopped") },
		"stopper", Options{Priority: 255}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterWildcard(func(core.Intent) Result { wildcardSaw = true; return Pass() },
		0, "late-wildcard", allCaps); err != nil {
		t.Fatal(err)
	}

	out := r.Broadcast(core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1), 1, allCaps)
	if !out.Handled {
		t.Fatal("StopPropagation counts as handled")
	}
	if wildcardSaw {
		t.Error("StopPropagation must halt wildcard snoopers too")
	}
}

func TestCapabilityGating(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(conceptA, func(core.Intent) Result { return Handle("gpio") },
		"gpio-actor", Options{Priority: 1, RequiredCap: capability.KindGPIO}); err != nil {
		t.Fatal(err)
	}

	intent := core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1)
	if out := r.Broadcast(intent, 1, noCaps); out.Handled {
		t.Error("Handler must be filtered without its required capability")
	}
	if out := r.Broadcast(intent, 2, func(k capability.Kind) bool { return k == capability.KindGPIO }); !out.Handled {
		t.Error("Handler should fire with its required capability")
	}
}

func TestPanicQuarantine(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(conceptA, func(core.Intent) Result { panic("boom") },
		"faulty", Options{Priority: 200}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(conceptA, func(core.Intent) Result { return Handle("survivor") },
		"healthy", Options{Priority: 100}); err != nil {
		t.Fatal(err)
	}

	var diags []core.Intent
	r.SetDiagnosticSink(func(i core.Intent) { diags = append(diags, i) })

	intent := core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1)
	out := r.Broadcast(intent, 1, allCaps)

	// The fault is isolated; the broadcast continues.
	if !out.Handled || out.Output() != "survivor" {
		t.Fatalf("Broadcast must continue past a fault, got %+v", out)
	}
	if len(out.Faulted) != 1 || out.Faulted[0] != "faulty" {
		t.Errorf("Faulted = %v", out.Faulted)
	}
	if len(diags) != 1 || diags[0].Concept != core.ConceptDiagHandlerFault {
		t.Errorf("Expected a HandlerFault diagnostic, got %+v", diags)
	}
	if !r.Quarantined("faulty") {
		t.Error("Faulting handler must be quarantined")
	}

	// Quarantined handlers are skipped on subsequent broadcasts.
	out = r.Broadcast(intent, 2, allCaps)
	for _, name := range out.Fired {
		if name == "faulty" {
			t.Error("Quarantined handler must be skipped")
		}
	}
	if len(out.Faulted) != 0 {
		t.Error("No new faults expected")
	}
}

func TestFirstClaims(t *testing.T) {
	r := NewRegistry()
	r.SetConflictResolution(FirstClaims)

	fired := []string{}
	if err := r.Register(conceptA, func(core.Intent) Result {
		fired = append(fired, "first")
		return Handle("first")
	}, "first", Options{Priority: 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(conceptA, func(core.Intent) Result {
		fired = append(fired, "second")
		return Handle("second")
	}, "second", Options{Priority: 255}); err != nil {
		t.Fatal(err)
	}

	out := r.Broadcast(core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1), 1, allCaps)
	// Registration order wins under FirstClaims, and the claim stops
	// the chain.
	if len(fired) != 1 || fired[0] != "first" {
		t.Errorf("FirstClaims fired %v", fired)
	}
	if out.Output() != "first" {
		t.Errorf("Output = %q", out.Output())
	}
}

func TestConsensus(t *testing.T) {
	r := NewRegistry()
	r.SetConflictResolution(Consensus)

	if err := r.Register(conceptA, func(core.Intent) Result { return Handle("yes") },
		"agree", Options{Priority: 2}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(conceptA, func(core.Intent) Result { return Pass() },
		"abstain", Options{Priority: 1}); err != nil {
		t.Fatal(err)
	}

	out := r.Broadcast(core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1), 1, allCaps)
	if out.Handled {
		t.Error("Consensus requires every handler to handle")
	}

	if !r.Unregister("abstain") {
		t.Fatal("Unregister failed")
	}
	out = r.Broadcast(core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 2), 2, allCaps)
	if !out.Handled {
		t.Error("Unanimous consensus should be handled")
	}
}

func TestModulateScalesDownstream(t *testing.T) {
	r := NewRegistry()

	var seen float32
	if err := r.Register(conceptA, func(core.Intent) Result {
		return Result{Kind: ModulateResult, Modulate: 0.5}
	}, "modulator", Options{Priority: 200}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(conceptA, func(i core.Intent) Result {
		seen = i.Activation
		return Handle("")
	}, "observer", Options{Priority: 100}); err != nil {
		t.Fatal(err)
	}

	intent := core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1)
	r.Broadcast(intent, 1, allCaps)
	if seen != 0.5 {
		t.Errorf("Downstream handler saw activation %v, want 0.5", seen)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	if r.Unregister("ghost") {
		t.Error("Unregistering an unknown handler must return false")
	}
}
