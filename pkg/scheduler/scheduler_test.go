package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutraworks/sutra/pkg/core"
)

func inputConcept(low uint32) core.ConceptID {
	return core.ConceptID(uint64(core.DomainInput)<<56 | uint64(low))
}

func backgroundConcept(low uint32) core.ConceptID {
	return core.ConceptID(uint64(core.DomainExperimental)<<56 | uint64(low))
}

func req(c core.ConceptID, prio uint8) QueuedIntent {
	return QueuedIntent{
		Intent:         core.NewIntent(c, core.LevelAction, core.Payload{}, 0),
		StaticPriority: prio,
		Urgency:        1.0,
		CoreHint:       -1,
	}
}

func TestEffectivePriorityFormula(t *testing.T) {
	q := QueuedIntent{StaticPriority: 100, Urgency: 0.5, SurpriseBoost: 0.2}
	assert.InDelta(t, 100*0.5*1.2, q.EffectivePriority(), 0.001)

	// Urgency floors at 0.01.
	q = QueuedIntent{StaticPriority: 100, Urgency: 0}
	assert.InDelta(t, 1.0, q.EffectivePriority(), 0.001)

	// Clamped to 255.
	q = QueuedIntent{StaticPriority: 255, Urgency: 1, SurpriseBoost: 1}
	assert.Equal(t, float32(255), q.EffectivePriority())
}

func TestPriorityRespect(t *testing.T) {
	s := New(Config{Cores: 1})

	require.NoError(t, s.Submit(req(inputConcept(1), 50)))
	require.NoError(t, s.Submit(req(inputConcept(2), 200)))
	require.NoError(t, s.Submit(req(inputConcept(3), 100)))

	// The scheduler never returns a lower-priority intent while a
	// higher one is ready on the same core.
	var got []uint8
	for {
		q, ok := s.NextForCore(0, 1000)
		if !ok {
			break
		}
		got = append(got, q.StaticPriority)
		s.Done(0)
	}
	assert.Equal(t, []uint8{200, 100, 50}, got)
}

func TestFIFOWithinEqualPriority(t *testing.T) {
	s := New(Config{Cores: 1})

	a, b := req(inputConcept(1), 100), req(inputConcept(2), 100)
	require.NoError(t, s.Submit(a))
	require.NoError(t, s.Submit(b))

	q1, ok := s.NextForCore(0, 10)
	require.True(t, ok)
	q2, ok := s.NextForCore(0, 20)
	require.True(t, ok)
	// Same source, same core, tied priority → submit order.
	assert.Less(t, q1.Sequence, q2.Sequence)
}

func TestConceptAffinityRouting(t *testing.T) {
	s := New(Config{Cores: 4})

	require.NoError(t, s.Submit(req(inputConcept(1), 10)))
	q, ok := s.NextForCore(0, 10)
	require.True(t, ok)
	assert.Equal(t, inputConcept(1), q.Intent.Concept, "input routes to core 0")

	sys := core.ConceptStatus // system domain → compute core
	require.NoError(t, s.Submit(req(sys, 10)))
	q, ok = s.NextForCore(1, 20)
	require.True(t, ok)
	assert.Equal(t, sys, q.Intent.Concept)
}

func TestCoreHint(t *testing.T) {
	s := New(Config{Cores: 4})

	r := req(inputConcept(1), 10)
	r.CoreHint = 3
	require.NoError(t, s.Submit(r))

	q, ok := s.NextForCore(3, 10)
	require.True(t, ok)
	assert.Equal(t, inputConcept(1), q.Intent.Concept)
}

func TestWorkStealing(t *testing.T) {
	s := New(Config{Cores: 4})

	// Load core 0 with four entries; core 3 is idle and must steal
	// the lower-priority tail.
	for i := 0; i < 4; i++ {
		r := req(inputConcept(uint32(i)), uint8(100+i))
		r.CoreHint = 0
		require.NoError(t, s.Submit(r))
	}

	q, ok := s.NextForCore(3, 10)
	require.True(t, ok, "idle core must steal from the busiest peer")
	assert.NotNil(t, q)

	// The victim keeps its higher-priority head.
	q0, ok := s.NextForCore(0, 20)
	require.True(t, ok)
	assert.GreaterOrEqual(t, q0.effective, q.effective)
}

func TestDeadlineExceededDropped(t *testing.T) {
	s := New(Config{Cores: 1})
	var diags []core.Intent
	s.SetDiagnosticSink(func(i core.Intent) { diags = append(diags, i) })

	r := req(inputConcept(1), 100)
	r.Deadline = 500
	require.NoError(t, s.Submit(r))

	_, ok := s.NextForCore(0, 1000)
	assert.False(t, ok, "expired intent must not dispatch")
	require.Len(t, diags, 1)
	assert.Equal(t, core.ConceptDiagDeadline, diags[0].Concept)
}

func TestGracefulDegradationCritical(t *testing.T) {
	s := New(Config{Cores: 1})
	var diags []core.Intent
	s.SetDiagnosticSink(func(i core.Intent) { diags = append(diags, i) })

	s.UpdateLoad(0.97)
	require.Equal(t, LoadCritical, s.LoadLevel())

	require.NoError(t, s.Submit(req(inputConcept(1), 100)))
	require.NoError(t, s.Submit(req(inputConcept(2), 200)))

	// Only the priority-200 intent survives critical load.
	q, ok := s.NextForCore(0, 10)
	require.True(t, ok)
	assert.Equal(t, uint8(200), q.StaticPriority)
	s.Done(0)

	_, ok = s.NextForCore(0, 20)
	assert.False(t, ok)
	require.Len(t, diags, 1)
	assert.Equal(t, core.ConceptDiagLoadShed, diags[0].Concept)
}

func TestHighLoadSkipsBackground(t *testing.T) {
	s := New(Config{Cores: 1})
	s.UpdateLoad(0.85)
	require.Equal(t, LoadHigh, s.LoadLevel())

	require.NoError(t, s.Submit(req(backgroundConcept(1), 100)))

	_, ok := s.NextForCore(0, 10)
	assert.False(t, ok, "background work is skipped under high load")

	// Recovery dispatches the queued background intent.
	s.UpdateLoad(0.1)
	// EMA keeps history but the level follows the sample.
	require.Equal(t, LoadNormal, s.LoadLevel())
	q, ok := s.NextForCore(0, 20)
	require.True(t, ok)
	assert.Equal(t, backgroundConcept(1), q.Intent.Concept)
}

func TestSurpriseBoostSampledAtSubmit(t *testing.T) {
	s := New(Config{Cores: 1})
	s.SetSurpriseBoost(func() float32 { return 0.5 })

	require.NoError(t, s.Submit(req(inputConcept(1), 100)))
	q, ok := s.NextForCore(0, 10)
	require.True(t, ok)
	assert.InDelta(t, 150, q.effective, 0.001)
}

func TestPreemptSignal(t *testing.T) {
	s := New(Config{Cores: 1})
	preempted := 0
	s.SetPreemptSignal(func(coreID int) { preempted++ })

	require.NoError(t, s.Submit(req(inputConcept(1), 50)))
	q, ok := s.NextForCore(0, 10)
	require.True(t, ok)
	_ = q

	// A higher-priority submit while core 0 is busy signals preemption.
	require.NoError(t, s.Submit(req(inputConcept(2), 200)))
	assert.Equal(t, 1, preempted)

	// Background concepts never preempt.
	require.NoError(t, s.Submit(req(backgroundConcept(3), 255)))
	assert.Equal(t, 1, preempted)
}

func TestQueueCapacity(t *testing.T) {
	s := New(Config{Cores: 1, QueueCapacity: 2})

	require.NoError(t, s.Submit(req(inputConcept(1), 1)))
	require.NoError(t, s.Submit(req(inputConcept(2), 1)))
	err := s.Submit(req(inputConcept(3), 1))
	assert.ErrorIs(t, err, core.ErrResourceExhausted)
}

func TestCoreCountClamping(t *testing.T) {
	assert.Equal(t, 1, New(Config{Cores: 0}).Cores())
	assert.Equal(t, 1, New(Config{Cores: 2}).Cores())
	assert.Equal(t, 4, New(Config{Cores: 4}).Cores())
	assert.Equal(t, 4, New(Config{Cores: 8}).Cores())
}
