// Package parser normalizes English input text into concepts. The
// pipeline short-circuits on the first matching stage:
//
//	1. normalize (ASCII lowercase, collapse whitespace, trim punctuation)
//	2. exact phrase match                        → confidence 1.0
//	3. synonym substitution, retry phrase match  → confidence 1.0
//	4. salient keyword extraction                → confidence 0.9
//	5. RTFCRE fallback through the steno decoder
//	6. UNKNOWN                                   → confidence 0
//
// The parser is a pure function of (input, tables): no mutable state.
package parser

import (
	"strings"

	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/steno"
)

// Stage identifies which pipeline stage produced a result.
type Stage uint8

const (
	StageNone Stage = iota
	StagePhrase
	StageSynonym
	StageKeyword
	StageRTFCRE
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StagePhrase:
		return "phrase"
	case StageSynonym:
		return "synonym"
	case StageKeyword:
		return "keyword"
	case StageRTFCRE:
		return "rtfcre"
	default:
		return "none"
	}
}

// Result is a parse outcome.
type Result struct {
	Concept    core.ConceptID
	Confidence float32
	Stage      Stage
	Normalized string
}

// Parser resolves text against the compiled-in tables and, as a last
// resort, the steno dictionary.
type Parser struct {
	dict *steno.Dictionary
}

// New creates a parser backed by a steno dictionary for the RTFCRE
// fallback stage.
func New(dict *steno.Dictionary) *Parser {
	return &Parser{dict: dict}
}

// Parse runs the pipeline.
func (p *Parser) Parse(input string) Result {
	norm := Normalize(input)
	if norm == "" {
		return Result{Concept: core.ConceptUnknown, Stage: StageNone, Normalized: norm}
	}

	// Stage 2: exact phrase.
	if c, ok := phraseTable[norm]; ok {
		return Result{Concept: c, Confidence: 1.0, Stage: StagePhrase, Normalized: norm}
	}

	// Stage 3: synonym rewrite, one retry.
	tokens := strings.Fields(norm)
	rewritten, changed := applySynonyms(tokens)
	if changed {
		if c, ok := phraseTable[strings.Join(rewritten, " ")]; ok {
			return Result{Concept: c, Confidence: 1.0, Stage: StageSynonym, Normalized: norm}
		}
	}

	// Stage 4: salient keyword. Search the rewritten token stream so
	// synonyms count (info → status).
	if c, ok := extractKeyword(rewritten); ok {
		return Result{Concept: c, Confidence: 0.9, Stage: StageKeyword, Normalized: norm}
	}

	// Stage 5: the whole string as RTFCRE.
	if p.dict != nil {
		if c, ok := p.tryRTFCRE(input); ok {
			return Result{Concept: c, Confidence: 0.8, Stage: StageRTFCRE, Normalized: norm}
		}
	}

	return Result{Concept: core.ConceptUnknown, Confidence: 0, Stage: StageNone, Normalized: norm}
}

// Normalize lowercases ASCII, collapses whitespace, and trims
// punctuation from token edges.
func Normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	lastSpace := true
	for i := 0; i < len(input); i++ {
		ch := input[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
			b.WriteByte(ch + ('a' - 'A'))
			lastSpace = false
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			b.WriteByte(ch)
			lastSpace = false
		}
	}

	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// applySynonyms rewrites tokens through the synonym table.
func applySynonyms(tokens []string) ([]string, bool) {
	out := make([]string, 0, len(tokens))
	changed := false
	for _, tok := range tokens {
		if repl, ok := synonymTable[tok]; ok {
			out = append(out, repl...)
			changed = true
			continue
		}
		out = append(out, tok)
	}
	return out, changed
}

// extractKeyword finds the most salient registered token: highest
// registry priority wins, leftmost breaks ties.
func extractKeyword(tokens []string) (core.ConceptID, bool) {
	best := keywordEntry{}
	found := false
	for _, tok := range tokens {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		e, ok := keywordTable[tok]
		if !ok {
			continue
		}
		// Leftmost wins ties because later equal-priority entries do
		// not replace the current best.
		if !found || e.priority > best.priority {
			best = e
			found = true
		}
	}
	return best.concept, found
}

// tryRTFCRE interprets the raw input as a slash-separated stroke
// sequence and resolves it against the dictionary.
func (p *Parser) tryRTFCRE(input string) (core.ConceptID, bool) {
	seq, err := steno.ParseSequence(strings.TrimSpace(input))
	if err != nil {
		return 0, false
	}
	if e, ok := p.dict.Lookup(seq); ok {
		return e.Concept, true
	}
	return 0, false
}
