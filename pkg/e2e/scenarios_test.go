// Package e2e exercises the core end to end: decoded input through
// parsing, activation, scheduling, and broadcast, using only public
// APIs the way the daemon wires them.
package e2e

import (
	"testing"

	"github.com/sutraworks/sutra/pkg/broadcast"
	"github.com/sutraworks/sutra/pkg/capability"
	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/executor"
	"github.com/sutraworks/sutra/pkg/feedback"
	"github.com/sutraworks/sutra/pkg/hierarchy"
	"github.com/sutraworks/sutra/pkg/parser"
	"github.com/sutraworks/sutra/pkg/scheduler"
	"github.com/sutraworks/sutra/pkg/steno"
	"github.com/sutraworks/sutra/pkg/temporal"
)

type stack struct {
	exec     *executor.Executor
	registry *broadcast.Registry
	detector *feedback.Detector
	sched    *scheduler.Scheduler
	table    *capability.Table
	token    *capability.RootMintToken
}

func newStack(t *testing.T) *stack {
	t.Helper()

	dict := steno.DefaultDictionary()
	table, token := capability.NewTable()
	caps := capability.NewSet(table)
	registry := broadcast.NewRegistry()
	detector := feedback.New(0, 0)
	sched := scheduler.New(scheduler.Config{Cores: 1})

	exec, err := executor.New(executor.Deps{
		Parser:    parser.New(dict),
		Sequencer: steno.NewSequencer(dict, 0, 0),
		Dynamics:  temporal.New(temporal.Config{}),
		Hierarchy: hierarchy.New(hierarchy.Config{}),
		Detector:  detector,
		Scheduler: sched,
		Registry:  registry,
		Caps:      caps,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &stack{exec: exec, registry: registry, detector: detector, sched: sched, table: table, token: token}
}

// drain pushes pending hierarchy output through the scheduler and
// broadcasts everything queued for core 0.
func (s *stack) drain(now uint64) []broadcast.Outcome {
	s.exec.PropagateTick(now)
	var outs []broadcast.Outcome
	for {
		out, ok := s.exec.RunCore(0, now)
		if !ok {
			return outs
		}
		outs = append(outs, out)
	}
}

// Scenario 1: English → action.
func TestEnglishToAction(t *testing.T) {
	s := newStack(t)

	invoked := 0
	err := s.registry.Register(core.ConceptStatus, func(core.Intent) broadcast.Result {
		invoked++
		return broadcast.Handle("CPU 45%, RAM 29%")
	}, "status-reporter", broadcast.Options{Priority: 128})
	if err != nil {
		t.Fatal(err)
	}

	_, out, err := s.exec.ExecuteText("show me system status", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if invoked != 1 {
		t.Errorf("Exactly the STATUS handler fires, invoked=%d", invoked)
	}
	if out.Output() != "CPU 45%, RAM 29%" {
		t.Errorf("Output = %q", out.Output())
	}
}

// Scenario 2: multi-stroke with deferred emission.
func TestDeferredMultiStroke(t *testing.T) {
	s := newStack(t)

	var seen []core.ConceptID
	for _, c := range []core.ConceptID{core.ConceptRefresh, core.ConceptReboot} {
		concept := c
		if err := s.registry.Register(concept, func(i core.Intent) broadcast.Result {
			seen = append(seen, i.Concept)
			return broadcast.Handle("")
		}, "watch-"+core.ConceptName(concept), broadcast.Options{}); err != nil {
			t.Fatal(err)
		}
	}

	raoe, err := steno.FromRTFCRE("RAOE")
	if err != nil {
		t.Fatal(err)
	}

	// RAOE at t=0: dictionary has both RAOE → REFRESH (exact) and
	// RAOE/PWAOT → REBOOT, so the sequencer defers.
	s.exec.OnRawStroke(uint32(raoe), 0)
	s.drain(100)
	if len(seen) != 0 {
		t.Fatalf("Nothing may emit while the extension is pending, saw %v", seen)
	}

	// The 100-ms tick past the timeout emits exactly one REFRESH.
	s.exec.OnTimerTick(500_100)
	s.drain(500_200)

	if len(seen) != 1 || seen[0] != core.ConceptRefresh {
		t.Errorf("Expected exactly one REFRESH, saw %v", seen)
	}
}

// Scenario 3: lateral inhibition.
func TestLateralInhibition(t *testing.T) {
	s := newStack(t)

	subsystem := uint64(0x5001) << 48
	conceptA := core.ConceptID(subsystem | 1)
	conceptB := core.ConceptID(subsystem | 2)

	var fired []string
	if err := s.registry.Register(conceptA, func(core.Intent) broadcast.Result {
		fired = append(fired, "H_A")
		return broadcast.Handle("A wins")
	}, "H_A", broadcast.Options{Priority: 200, Scope: broadcast.ScopeSubsystem, Inhibits: []core.ConceptID{conceptB}}); err != nil {
		t.Fatal(err)
	}
	if err := s.registry.Register(conceptB, func(core.Intent) broadcast.Result {
		fired = append(fired, "H_B")
		return broadcast.Handle("B wins")
	}, "H_B", broadcast.Options{Priority: 100, Scope: broadcast.ScopeSubsystem}); err != nil {
		t.Fatal(err)
	}

	out := s.registry.Broadcast(core.NewIntent(conceptA, core.LevelSemantic, core.Payload{}, 1), 1,
		func(capability.Kind) bool { return true })

	if len(fired) != 1 || fired[0] != "H_A" {
		t.Errorf("Only H_A may fire, got %v", fired)
	}
	if out.Output() != "A wins" {
		t.Errorf("Only H_A's return is reported, got %q", out.Output())
	}
}

// Scenario 4: capability cascade revocation.
func TestCapabilityCascade(t *testing.T) {
	s := newStack(t)

	root, err := s.table.MintRoot(s.token, 0xBEEF, capability.KindGPIO, capability.PermAll, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	c1, err := s.table.Derive(root, capability.PermRead|capability.PermWrite|capability.PermDerive, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := s.table.Derive(c1, capability.PermRead, 0, 20)
	if err != nil {
		t.Fatal(err)
	}

	before := s.table.Stats()
	s.table.Revoke(root)
	after := s.table.Stats()

	for i, h := range []capability.Handle{root, c1, c2} {
		if s.table.Validate(h, capability.PermRead, 30) {
			t.Errorf("Handle %d must be dead after cascade revocation", i)
		}
		if err := s.table.ValidateErr(h, capability.PermRead, 30); err == nil {
			t.Errorf("Handle %d must report Unforgeable", i)
		}
	}
	if before["minted"] != after["minted"] || before["derived"] != after["derived"] {
		t.Error("Mint counters must be unchanged by revocation")
	}
}

// Scenario 5: surprise-boosted scheduling.
func TestSurpriseBoostedScheduling(t *testing.T) {
	s := newStack(t)

	predicted := core.ConceptFromName("expected event")
	observed := core.ConceptFromName("unexpected event")

	s.detector.Predict(core.ConceptStatus, predicted, 0.9, 0, 100_000)

	// 150 ms later something else entirely arrives.
	obs := s.detector.Observe(observed, 150_000)
	if obs.WasPredicted {
		t.Fatal("Mismatch cannot count as predicted")
	}
	if cum := s.detector.CumulativeSurprise(); cum < 0.089 || cum > 0.091 {
		t.Errorf("Cumulative surprise = %v, want ≈ 0.09", cum)
	}

	// The next submit picks the boost up: effective priority rises by
	// ≥ 18% over the unboosted value, up to float32 rounding.
	if err := s.sched.Submit(scheduler.QueuedIntent{
		Intent:         core.NewIntent(observed, core.LevelAction, core.Payload{}, 160_000),
		StaticPriority: 50,
		Urgency:        1.0,
		CoreHint:       -1,
	}); err != nil {
		t.Fatal(err)
	}
	q, ok := s.sched.NextForCore(0, 170_000)
	if !ok {
		t.Fatal("Submitted intent must dispatch")
	}
	if q.EffectivePriority() < 50*(1.18-1e-6) {
		t.Errorf("Effective priority %v, want ≥ %v", q.EffectivePriority(), 50*(1.18-1e-6))
	}
}

// Scenario 6: graceful degradation under critical load.
func TestGracefulDegradation(t *testing.T) {
	s := newStack(t)

	var shed []core.Intent
	if err := s.registry.Register(core.ConceptDiagLoadShed, func(i core.Intent) broadcast.Result {
		shed = append(shed, i)
		return broadcast.Handle("")
	}, "shed-watch", broadcast.Options{}); err != nil {
		t.Fatal(err)
	}

	s.sched.UpdateLoad(0.97)

	submit := func(prio uint8) {
		if err := s.sched.Submit(scheduler.QueuedIntent{
			Intent:         core.NewIntent(core.ConceptFromName("degradation probe"), core.LevelAction, core.Payload{}, 0),
			StaticPriority: prio,
			Urgency:        1.0,
			CoreHint:       -1,
		}); err != nil {
			t.Fatal(err)
		}
	}
	submit(100)
	submit(200)

	q, ok := s.sched.NextForCore(0, 10)
	if !ok || q.StaticPriority != 200 {
		t.Fatalf("Only the priority-200 intent survives, got %+v ok=%v", q, ok)
	}
	s.sched.Done(0)

	if _, ok := s.sched.NextForCore(0, 20); ok {
		t.Fatal("The priority-100 intent must have been shed")
	}
	if len(shed) != 1 {
		t.Errorf("Expected one LoadShed diagnostic broadcast, got %d", len(shed))
	}
}
