package scheduler

import (
	"sort"
	"sync"

	"github.com/sutraworks/sutra/pkg/core"
)

// QueuedIntent is one scheduling request.
type QueuedIntent struct {
	Intent         core.Intent
	StaticPriority uint8
	Urgency        float32
	SurpriseBoost  float32
	Deadline       uint64 // µs; 0 = none
	Sequence       uint64 // assigned by Submit
	CoreHint       int    // -1 = none

	effective float32
}

// EffectivePriority computes
// clamp(static · max(urgency, 0.01) · (1 + surpriseBoost), 0, 255).
func (q *QueuedIntent) EffectivePriority() float32 {
	u := q.Urgency
	if u < 0.01 {
		u = 0.01
	}
	p := float32(q.StaticPriority) * u * (1 + q.SurpriseBoost)
	if p < 0 {
		return 0
	}
	if p > 255 {
		return 255
	}
	return p
}

// coreQueue is one CPU's run queue: ordered by effective priority desc,
// then sequence asc. Owned exclusively by the scheduler; all access
// goes through its own lock so stealing can try-lock a victim.
type coreQueue struct {
	mu        sync.Mutex
	entries   []*QueuedIntent
	current   *QueuedIntent
	idleSince uint64
	loadEMA   float32
	capacity  int

	dispatched uint64
	dropped    uint64
	stolen     uint64
}

// insertLocked places an entry in order. Caller holds the lock.
func (cq *coreQueue) insertLocked(q *QueuedIntent) bool {
	if len(cq.entries) >= cq.capacity {
		return false
	}
	idx := sort.Search(len(cq.entries), func(i int) bool {
		e := cq.entries[i]
		if e.effective != q.effective {
			return e.effective < q.effective
		}
		return e.Sequence > q.Sequence
	})
	cq.entries = append(cq.entries, nil)
	copy(cq.entries[idx+1:], cq.entries[idx:])
	cq.entries[idx] = q
	return true
}

// popLocked removes and returns the head.
func (cq *coreQueue) popLocked() *QueuedIntent {
	if len(cq.entries) == 0 {
		return nil
	}
	head := cq.entries[0]
	copy(cq.entries, cq.entries[1:])
	cq.entries = cq.entries[:len(cq.entries)-1]
	return head
}

// peekLocked returns the head without removing it.
func (cq *coreQueue) peekLocked() *QueuedIntent {
	if len(cq.entries) == 0 {
		return nil
	}
	return cq.entries[0]
}

// saturated reports whether the queue is at ≥90% capacity.
func (cq *coreQueue) saturated() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.entries)*10 >= cq.capacity*9
}

// depth returns the queue depth.
func (cq *coreQueue) depth() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.entries)
}

// stealTailLocked removes the lower-priority half of the queue and
// returns it. Caller holds the lock.
func (cq *coreQueue) stealTailLocked() []*QueuedIntent {
	n := len(cq.entries)
	if n < 2 {
		return nil
	}
	cut := n - n/2
	tail := append([]*QueuedIntent(nil), cq.entries[cut:]...)
	cq.entries = cq.entries[:cut]
	cq.stolen += uint64(len(tail))
	return tail
}
