// Package feedback records predictions and matches them against
// observed intents. Deviation between the two is surprise; its running
// average boosts scheduling priority so the unexpected preempts the
// routine.
package feedback

import (
	"sync"

	"github.com/sutraworks/sutra/pkg/core"
)

// Defaults.
const (
	DefaultCapacity = 64
	DefaultEMAAlpha = 0.1
)

// Prediction is one expected future intent.
type Prediction struct {
	Source     core.ConceptID
	Predicted  core.ConceptID
	Confidence float32
	ExpiresAt  uint64
}

// Observation is the verdict on one observed intent.
type Observation struct {
	WasPredicted bool
	Surprise     float32
}

// Detector owns the prediction window and the surprise accumulator.
type Detector struct {
	mu         sync.Mutex
	preds      []Prediction
	capacity   int
	alpha      float32
	cumulative float32

	observed  uint64
	predicted uint64
	omissions uint64
}

// New creates a detector. Zero values fall back to defaults.
func New(capacity int, alpha float32) *Detector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultEMAAlpha
	}
	return &Detector{capacity: capacity, alpha: alpha}
}

// Predict inserts a prediction. At capacity the oldest is evicted
// (FIFO).
func (d *Detector) Predict(source, predicted core.ConceptID, confidence float32, now, ttlMicros uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.preds) >= d.capacity {
		d.preds = d.preds[1:]
	}
	d.preds = append(d.preds, Prediction{
		Source:     source,
		Predicted:  predicted,
		Confidence: confidence,
		ExpiresAt:  now + ttlMicros,
	})
}

// Observe matches an observed concept against active predictions.
// Expired unmatched predictions are settled first (omission raises
// surprise by their confidence). A match consumes its prediction and
// records zero surprise; a miss against live predictions records
// 1 − max confidence among them. With no predictions outstanding the
// observation is neutral and the accumulator is untouched.
func (d *Detector) Observe(c core.ConceptID, now uint64) Observation {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.observed++
	d.settleExpiredLocked(now)

	matched := -1
	var maxConf float32
	for i := range d.preds {
		if d.preds[i].Predicted == c {
			matched = i
			break
		}
		if d.preds[i].Confidence > maxConf {
			maxConf = d.preds[i].Confidence
		}
	}

	if matched >= 0 {
		d.preds = append(d.preds[:matched], d.preds[matched+1:]...)
		d.predicted++
		d.recordLocked(0)
		return Observation{WasPredicted: true, Surprise: 0}
	}

	if len(d.preds) == 0 {
		return Observation{}
	}

	surprise := 1 - maxConf
	d.recordLocked(surprise)
	return Observation{Surprise: surprise}
}

// OmissionCheck settles predictions that expired without a matching
// observation: each raises surprise by its confidence and is removed.
// Driven by the temporal tick.
func (d *Detector) OmissionCheck(now uint64) {
	d.mu.Lock()
	d.settleExpiredLocked(now)
	d.mu.Unlock()
}

func (d *Detector) settleExpiredLocked(now uint64) {
	kept := d.preds[:0]
	for _, p := range d.preds {
		if p.ExpiresAt < now {
			d.omissions++
			d.recordLocked(p.Confidence)
			continue
		}
		kept = append(kept, p)
	}
	d.preds = kept
}

// recordLocked folds one surprise sample into the EMA.
func (d *Detector) recordLocked(sample float32) {
	d.cumulative = (1-d.alpha)*d.cumulative + d.alpha*sample
}

// CumulativeSurprise returns the EMA of surprise samples.
func (d *Detector) CumulativeSurprise() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cumulative
}

// PriorityBoost maps cumulative surprise to a scheduling boost in
// [0, 1]. The scheduler queries this on every submit.
func (d *Detector) PriorityBoost() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	boost := d.cumulative * 2
	if boost > 1 {
		boost = 1
	}
	return boost
}

// Pending returns the live prediction count.
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.preds)
}

// Stats returns detector statistics.
func (d *Detector) Stats() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]any{
		"pending":             len(d.preds),
		"observed":            d.observed,
		"predicted":           d.predicted,
		"omissions":           d.omissions,
		"cumulative_surprise": d.cumulative,
	}
}
