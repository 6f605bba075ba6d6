// Package daemon owns the periodic obligations the core assigns to the
// kernel timer: the 100-ms temporal tick (decay, deferred sequencer
// emissions, omission checks), the 50-ms hierarchy propagation, the
// 10-ms urgency winner-take-all, per-core dispatch loops, and the
// snapshot cadence.
package daemon

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/executor"
	"github.com/sutraworks/sutra/pkg/snapshot"
	"github.com/sutraworks/sutra/pkg/temporal"
)

// Intervals groups the tick cadences.
type Intervals struct {
	Temporal  time.Duration // decay + sequencer + omission
	Propagate time.Duration // hierarchy pass
	Urgency   time.Duration // winner-take-all
	Snapshot  time.Duration // learned-state persistence; 0 disables
	Load      time.Duration // load sampling
}

// DefaultIntervals returns the spec cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		Temporal:  100 * time.Millisecond,
		Propagate: 50 * time.Millisecond,
		Urgency:   10 * time.Millisecond,
		Snapshot:  time.Minute,
		Load:      time.Second,
	}
}

// Manager runs the tick workers and the per-core dispatch loops.
type Manager struct {
	exec      *executor.Executor
	clock     core.Clock
	intervals Intervals
	cores     int
	store     *snapshot.Store
	dynamics  *temporal.Dynamics
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a daemon manager. The snapshot store and dynamics may be
// nil when persistence is disabled.
func New(exec *executor.Executor, clock core.Clock, cores int, intervals Intervals, store *snapshot.Store, dyn *temporal.Dynamics, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultIntervals()
	if intervals.Temporal <= 0 {
		intervals.Temporal = def.Temporal
	}
	if intervals.Propagate <= 0 {
		intervals.Propagate = def.Propagate
	}
	if intervals.Urgency <= 0 {
		intervals.Urgency = def.Urgency
	}
	if intervals.Load <= 0 {
		intervals.Load = def.Load
	}
	if cores <= 0 {
		cores = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		exec:      exec,
		clock:     clock,
		intervals: intervals,
		cores:     cores,
		store:     store,
		dynamics:  dyn,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.spawn(func() { m.tickLoop(m.intervals.Temporal, m.temporalTick) })
		m.spawn(func() { m.tickLoop(m.intervals.Propagate, m.exec.PropagateTick) })
		m.spawn(func() { m.tickLoop(m.intervals.Urgency, m.exec.UrgencyTick) })
		m.spawn(func() { m.tickLoop(m.intervals.Load, m.loadTick) })
		if m.store != nil && m.dynamics != nil && m.intervals.Snapshot > 0 {
			m.spawn(func() { m.tickLoop(m.intervals.Snapshot, m.snapshotTick) })
		}
		for i := 0; i < m.cores; i++ {
			coreID := i
			m.spawn(func() { m.dispatchLoop(coreID) })
		}
		m.log.Info("daemon manager started",
			zap.Int("cores", m.cores),
			zap.Duration("temporal", m.intervals.Temporal),
			zap.Duration("propagate", m.intervals.Propagate),
			zap.Duration("urgency", m.intervals.Urgency))
	})
}

// Stop cancels the workers and waits for them to drain. A final
// snapshot is taken when persistence is enabled.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		if m.store != nil && m.dynamics != nil {
			m.snapshotTick(m.clock.NowMicros())
		}
		m.log.Info("daemon manager stopped")
	})
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// tickLoop drives fn at the given cadence until shutdown.
func (m *Manager) tickLoop(interval time.Duration, fn func(now uint64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			fn(m.clock.NowMicros())
		}
	}
}

func (m *Manager) temporalTick(now uint64) {
	m.exec.OnTimerTick(now)
}

// loadTick samples goroutine pressure as the load signal. On the target
// hardware this reads the per-core run-queue depth; in the portable
// daemon runnable goroutines stand in for it.
func (m *Manager) loadTick(now uint64) {
	n := runtime.NumGoroutine()
	load := float32(n) / 256
	if load > 1 {
		load = 1
	}
	m.exec.UpdateLoad(load)
}

func (m *Manager) snapshotTick(now uint64) {
	if err := m.store.SaveAssociations(m.dynamics.ExportAssociations()); err != nil {
		m.log.Warn("snapshot failed", zap.Error(err))
	}
}

// dispatchLoop drains one core's run queue. An empty queue parks the
// loop briefly — the portable analog of wait-for-interrupt.
func (m *Manager) dispatchLoop(coreID int) {
	idle := time.NewTimer(time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if _, ok := m.exec.RunCore(coreID, m.clock.NowMicros()); ok {
			continue
		}

		idle.Reset(time.Millisecond)
		select {
		case <-m.ctx.Done():
			return
		case <-idle.C:
		}
	}
}
