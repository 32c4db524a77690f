// Package phonetic aligns words in a transcript with vocabulary terms that
// sound alike. Candidates are found by overlapping Double Metaphone codes and
// ranked by Jaro-Winkler similarity; when no term shares a code, a stricter
// pure Jaro-Winkler pass still catches plain misspellings.
//
// Multi-word terms ("Priya Raman", "Project Bluebird") are matched against
// n-gram windows of the same or similar length.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold      = 0.85
	defaultFuzzyThreshold = 0.93
	defaultMinLength      = 3
)

// stopwords never get replaced, however close they sound to a term
// ("the" vs. "Theo", "and" vs. "Andy").
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"can": {}, "do": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "he": {},
	"her": {}, "his": {}, "i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {},
	"my": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "she": {}, "so": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "then": {}, "there": {}, "they": {},
	"this": {}, "to": {}, "too": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"which": {}, "who": {}, "will": {}, "with": {}, "would": {}, "yes": {}, "you": {}, "your": {},
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score for a term that shares a
// phonetic code with the input. Default: 0.85.
func WithThreshold(v float64) Option {
	return func(m *Matcher) { m.threshold = v }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term with no
// phonetic overlap. Default: 0.93.
func WithFuzzyThreshold(v float64) Option {
	return func(m *Matcher) { m.fuzzy = v }
}

// WithMinLength sets the minimum letter count of a single-word input before
// it is considered at all. Default: 3.
func WithMinLength(n int) Option {
	return func(m *Matcher) { m.minLength = n }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	fuzzy     float64
	minLength int
}

// New returns a Matcher with the given options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold: defaultThreshold,
		fuzzy:     defaultFuzzyThreshold,
		minLength: defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ── index ────────────────────────────────────────────────────────────────────

type entry struct {
	text   string
	lower  string
	tokens []string
	joined string
	codes  map[string]struct{}
}

// Index is a vocabulary with its phonetic codes precomputed. Build one per
// correction run with [NewIndex].
type Index struct {
	entries  []entry
	maxWords int
}

// NewIndex prepares terms for matching. Blank terms are ignored.
func NewIndex(terms []string) *Index {
	ix := &Index{}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		ix.entries = append(ix.entries, entry{
			text:   strings.TrimSpace(t),
			lower:  lower,
			tokens: tokens,
			joined: strings.Join(tokens, ""),
			codes:  codes(tokens),
		})
		ix.maxWords = max(ix.maxWords, len(tokens))
	}
	return ix
}

// Len returns the number of indexed terms.
func (ix *Index) Len() int { return len(ix.entries) }

// MaxWords returns the word count of the longest term.
func (ix *Index) MaxWords() int { return ix.maxWords }

// ── matching ─────────────────────────────────────────────────────────────────

// Match returns the term closest to phrase. When nothing is close enough
// the phrase is returned unchanged with confidence 0 and matched false.
// phrase should carry no surrounding punctuation.
func (m *Matcher) Match(phrase string, ix *Index) (term string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if ix == nil || ix.Len() == 0 || lower == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	if m.skip(tokens) {
		return phrase, 0, false
	}
	in := codes(tokens)
	joined := strings.Join(tokens, "")

	var (
		best      *entry
		bestScore float64
		bestPhon  bool
	)
	for i := range ix.entries {
		e := &ix.entries[i]
		if !wordCountCompatible(len(tokens), len(e.tokens)) || !lengthCompatible(joined, e.joined) {
			continue
		}
		score := similarity(lower, joined, e)
		phon := overlaps(in, e.codes)

		switch {
		case phon && score >= m.threshold:
			if !bestPhon || score > bestScore {
				best, bestScore, bestPhon = e, score, true
			}
		case !phon && !bestPhon && score >= m.fuzzy && score > bestScore:
			best, bestScore = e, score
		}
	}
	if best == nil {
		return phrase, 0, false
	}
	return best.text, bestScore, true
}

// skip rejects inputs made only of stopwords and single words too short to
// be a term.
func (m *Matcher) skip(tokens []string) bool {
	allStop := true
	for _, t := range tokens {
		if _, ok := stopwords[t]; !ok {
			allStop = false
			break
		}
	}
	if allStop {
		return true
	}
	if len(tokens) == 1 {
		n := 0
		for _, r := range tokens[0] {
			if unicode.IsLetter(r) {
				n++
			}
		}
		return n < m.minLength
	}
	return false
}

// wordCountCompatible allows a spoken phrase to differ from the term by one
// word ("elder nacks" for "Eldrinax", "pria" for "Priya Raman" is refused).
func wordCountCompatible(in, term int) bool {
	d := in - term
	if term == 1 {
		return in <= 2
	}
	return d >= -1 && d <= 1
}

// lengthCompatible keeps "grafana dashboards" from matching "Grafana":
// the shorter spelling must be at least 70% of the longer one.
func lengthCompatible(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la > lb {
		la, lb = lb, la
	}
	return lb == 0 || float64(la)/float64(lb) >= 0.7
}

// similarity is the best Jaro-Winkler score between the input and the
// term, compared both with and without spaces.
func similarity(lower, joined string, e *entry) float64 {
	score := matchr.JaroWinkler(lower, e.lower, false)
	if s := matchr.JaroWinkler(joined, e.joined, false); s > score {
		score = s
	}
	return score
}

func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
