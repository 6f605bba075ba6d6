package parser

import (
	"testing"

	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/steno"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	return New(steno.DefaultDictionary())
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  Show   Me  SYSTEM Status ", "show me system status"},
		{"What's up?", "what's up"},
		{"reboot!!!", "reboot"},
		{"\tclear\nthe screen.", "clear the screen"},
		{"", ""},
		{"?!.", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExactPhraseMatch(t *testing.T) {
	p := newTestParser(t)

	r := p.Parse("show me system status")
	if r.Concept != core.ConceptStatus {
		t.Errorf("Expected STATUS, got %#x", uint64(r.Concept))
	}
	if r.Confidence != 1.0 || r.Stage != StagePhrase {
		t.Errorf("Expected phrase stage at confidence 1.0, got %+v", r)
	}
}

func TestSynonymRetry(t *testing.T) {
	p := newTestParser(t)

	// "system info" → synonym info→status → "system status" exact hit.
	r := p.Parse("system info")
	if r.Concept != core.ConceptStatus || r.Stage != StageSynonym {
		t.Errorf("Expected synonym-stage STATUS, got %+v", r)
	}
	if r.Confidence != 1.0 {
		t.Errorf("Synonym hits keep confidence 1.0, got %v", r.Confidence)
	}
}

func TestKeywordExtraction(t *testing.T) {
	p := newTestParser(t)

	r := p.Parse("could you maybe check the memory for me")
	if r.Concept != core.ConceptMemory || r.Stage != StageKeyword {
		t.Errorf("Expected keyword-stage MEMORY, got %+v", r)
	}
	if r.Confidence != 0.9 {
		t.Errorf("Keyword hits carry confidence 0.9, got %v", r.Confidence)
	}
}

func TestKeywordPriorityThenLeftmost(t *testing.T) {
	p := newTestParser(t)

	// shutdown (200) outranks status (160) regardless of position.
	r := p.Parse("status report before shutdown")
	if r.Concept != core.ConceptShutdown {
		t.Errorf("Priority must win, got %+v", r)
	}

	// Equal priority: leftmost wins (undo and redo are both 180).
	r = p.Parse("first undo then redo everything")
	if r.Concept != core.ConceptUndo {
		t.Errorf("Leftmost must break ties, got %+v", r)
	}
}

func TestRTFCREFallback(t *testing.T) {
	p := newTestParser(t)

	r := p.Parse("RAOE/PWAOT")
	if r.Concept != core.ConceptReboot || r.Stage != StageRTFCRE {
		t.Errorf("Expected RTFCRE-stage REBOOT, got %+v", r)
	}
}

func TestUnknownFallthrough(t *testing.T) {
	p := newTestParser(t)

	r := p.Parse("florble the gronkulator")
	if r.Concept != core.ConceptUnknown {
		t.Errorf("Expected UNKNOWN, got %+v", r)
	}
	if r.Confidence != 0 {
		t.Errorf("UNKNOWN carries confidence 0, got %v", r.Confidence)
	}
}

func TestParseIsPure(t *testing.T) {
	p := newTestParser(t)
	a := p.Parse("show me system status")
	b := p.Parse("show me system status")
	if a != b {
		t.Error("Parse must be deterministic for identical input")
	}
}
