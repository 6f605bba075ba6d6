package feedback

import (
	"testing"

	"github.com/sutraworks/sutra/pkg/core"
)

var (
	srcA = core.ConceptFromName("feedback source")
	prdB = core.ConceptFromName("feedback predicted")
	obsC = core.ConceptFromName("feedback unexpected")
)

func TestPredictedObservation(t *testing.T) {
	d := New(0, 0)

	d.Predict(srcA, prdB, 0.9, 0, 100_000)
	obs := d.Observe(prdB, 50_000)

	if !obs.WasPredicted || obs.Surprise != 0 {
		t.Errorf("Fulfilled prediction must be surprise-free, got %+v", obs)
	}
	if d.Pending() != 0 {
		t.Error("A match consumes its prediction")
	}
}

func TestUnexpectedObservation(t *testing.T) {
	d := New(0, 0)

	d.Predict(srcA, prdB, 0.7, 0, 100_000)
	obs := d.Observe(obsC, 50_000)

	if obs.WasPredicted {
		t.Error("Mismatch must not count as predicted")
	}
	want := float32(1 - 0.7)
	if obs.Surprise != want {
		t.Errorf("Surprise = %v, want %v", obs.Surprise, want)
	}
}

func TestNeutralWithoutPredictions(t *testing.T) {
	d := New(0, 0)

	obs := d.Observe(obsC, 1000)
	if obs.Surprise != 0 || d.CumulativeSurprise() != 0 {
		t.Error("Observations with no outstanding predictions are neutral")
	}
}

func TestOmissionRaisesSurprise(t *testing.T) {
	d := New(0, 0)

	// Scenario: predict B at conf 0.9 with 100 ms TTL; at t+150 ms an
	// unrelated intent is observed. The expired prediction settles as
	// an omission first.
	d.Predict(srcA, prdB, 0.9, 0, 100_000)
	obs := d.Observe(obsC, 150_000)

	if obs.WasPredicted {
		t.Error("Expired prediction cannot match")
	}
	// One omission sample of 0.9 through the α=0.1 EMA.
	cum := d.CumulativeSurprise()
	if cum < 0.089 || cum > 0.091 {
		t.Errorf("Cumulative surprise = %v, want ≈ 0.09", cum)
	}
	// Boost = min(1, cum·2) ≥ 18%, up to float32 rounding of the 0.9
	// and 0.1 inputs (the float32 result is 0.17999999).
	if boost := d.PriorityBoost(); boost < 0.18-1e-6 {
		t.Errorf("PriorityBoost = %v, want ≥ 0.18", boost)
	}
}

func TestOmissionCheckStandalone(t *testing.T) {
	d := New(0, 0)

	d.Predict(srcA, prdB, 0.5, 0, 10_000)
	d.OmissionCheck(20_000)

	if d.Pending() != 0 {
		t.Error("Expired predictions must be removed")
	}
	if d.CumulativeSurprise() <= 0 {
		t.Error("Omission must raise cumulative surprise")
	}
}

func TestFIFOEviction(t *testing.T) {
	d := New(4, 0)

	for i := 0; i < 6; i++ {
		d.Predict(srcA, core.ConceptFromName(string(rune('a'+i))+" pred"), 0.5, 0, 1_000_000)
	}
	if d.Pending() != 4 {
		t.Errorf("Capacity must bound predictions, got %d", d.Pending())
	}
}

func TestBoostCapsAtOne(t *testing.T) {
	d := New(0, 0.9)

	// Hammer the EMA toward 1 with repeated maximal omissions.
	for i := 0; i < 20; i++ {
		d.Predict(srcA, prdB, 1.0, uint64(i*1000), 1)
		d.OmissionCheck(uint64(i*1000) + 5000)
	}
	if boost := d.PriorityBoost(); boost != 1 {
		t.Errorf("Boost must cap at 1, got %v", boost)
	}
}

func TestCorrectPredictionLowersEMA(t *testing.T) {
	d := New(0, 0)

	d.Predict(srcA, prdB, 0.9, 0, 100_000)
	d.Observe(obsC, 150_000) // omission → EMA 0.09

	before := d.CumulativeSurprise()
	d.Predict(srcA, prdB, 0.9, 200_000, 100_000)
	d.Observe(prdB, 250_000) // fulfilled → zero sample
	if after := d.CumulativeSurprise(); after >= before {
		t.Errorf("Fulfilled predictions must pull the EMA down: %v → %v", before, after)
	}
}
