// Package affect scores the emotional charge of input text. Arousal
// feeds the temporal layer: emotionally loaded commands start with a
// higher initial activation, mirroring salience weighting in biological
// attention.
package affect

import (
	"math"
	"sync"

	"github.com/jonreiter/govader"
)

// MaxActivationBoost bounds the activation contribution of affect.
const MaxActivationBoost = 0.2

// Result holds the affect analysis of a piece of text.
type Result struct {
	// Compound is the VADER compound score in [-1, 1].
	Compound float64

	// Arousal is the absolute emotional charge in [0, 1]; direction is
	// irrelevant for salience.
	Arousal float64
}

// ActivationBoost maps arousal to a bounded activation increment.
func (r Result) ActivationBoost() float32 {
	return float32(r.Arousal * MaxActivationBoost)
}

// Analyzer wraps govader's intensity analyzer. Safe for concurrent use.
type Analyzer struct {
	sia *govader.SentimentIntensityAnalyzer
	mu  sync.Mutex
}

var (
	defaultAnalyzer *Analyzer
	once            sync.Once
)

// Default returns the package-level singleton Analyzer.
func Default() *Analyzer {
	once.Do(func() {
		defaultAnalyzer = New()
	})
	return defaultAnalyzer
}

// New creates an Analyzer.
func New() *Analyzer {
	return &Analyzer{sia: govader.NewSentimentIntensityAnalyzer()}
}

// Score analyzes text. Empty input is neutral.
func (a *Analyzer) Score(text string) Result {
	if text == "" {
		return Result{}
	}

	// govader's analyzer is not documented as goroutine-safe; scoring
	// is cheap enough to serialize.
	a.mu.Lock()
	s := a.sia.PolarityScores(text)
	a.mu.Unlock()

	return Result{
		Compound: s.Compound,
		Arousal:  math.Min(1, math.Abs(s.Compound)),
	}
}
