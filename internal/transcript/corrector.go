package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/minutes/internal/transcript/llmcorrect"
	"github.com/MrWong99/minutes/internal/transcript/phonetic"
	"github.com/MrWong99/minutes/internal/vocab"
)

const (
	defaultLowConfidence     = 0.6
	defaultUncertainPhonetic = 0.92
)

// Option configures a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// WithVerifier enables the LLM verification stage.
func WithVerifier(v *llmcorrect.Verifier) Option {
	return func(c *Corrector) { c.verifier = v }
}

// WithLowConfidence sets the span confidence below which recognised text is
// sent to the verifier. Default: 0.6.
func WithLowConfidence(v float64) Option {
	return func(c *Corrector) { c.lowConfidence = v }
}

// WithUncertainPhonetic sets the phonetic score below which a phonetic
// correction is also sent to the verifier. Default: 0.92.
func WithUncertainPhonetic(v float64) Option {
	return func(c *Corrector) { c.uncertainPhonetic = v }
}

// Corrector is safe for concurrent use. The vocabulary is read on every call
// so hot-reloaded terms take effect on the next transcript.
type Corrector struct {
	vocab             *vocab.Store
	matcher           *phonetic.Matcher
	verifier          *llmcorrect.Verifier
	lowConfidence     float64
	uncertainPhonetic float64
}

// NewCorrector returns a Corrector over the terms in v.
func NewCorrector(v *vocab.Store, opts ...Option) *Corrector {
	c := &Corrector{
		vocab:             v,
		matcher:           phonetic.New(),
		lowConfidence:     defaultLowConfidence,
		uncertainPhonetic: defaultUncertainPhonetic,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct applies the configured stages to text. spans carry per-segment
// recogniser confidence and may be nil. A verifier failure other than
// context cancellation is logged and the phonetic result is returned.
func (c *Corrector) Correct(ctx context.Context, text string, spans []Span) (*Result, error) {
	res := &Result{Original: text, Text: text, Corrections: []Correction{}}
	if c.vocab == nil || c.vocab.Len() == 0 || strings.TrimSpace(text) == "" {
		return res, nil
	}
	terms := c.vocab.Terms()
	words := make([]string, len(terms))
	for i, t := range terms {
		words[i] = t.Text
	}

	ix := phonetic.NewIndex(words)
	res.Text, res.Corrections = c.alignPhonetic(text, ix)

	if c.verifier == nil {
		return res, nil
	}
	flagged := c.flagged(spans, res.Corrections, ix)
	if len(flagged) == 0 {
		return res, nil
	}

	hints := make([]string, len(terms))
	for i, t := range terms {
		hints[i] = hint(t)
	}
	fixed, llmCorr, err := c.verifier.Verify(ctx, res.Text, hints, flagged)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transcript: verify: %w", err)
		}
		slog.Warn("transcript: llm verification failed, keeping phonetic result", "err", err)
		return res, nil
	}
	res.Text = fixed
	for _, lc := range llmCorr {
		res.Corrections = append(res.Corrections, Correction{
			Original:   lc.Original,
			Corrected:  lc.Corrected,
			Confidence: lc.Confidence,
			Method:     MethodLLM,
		})
	}
	slog.Debug("transcript: corrected", "phonetic", len(res.Corrections)-len(llmCorr), "llm", len(llmCorr))
	return res, nil
}

// alignPhonetic slides over the tokens and replaces the best matching window
// starting at each position. Punctuation around a window is preserved.
func (c *Corrector) alignPhonetic(text string, ix *phonetic.Index) (string, []Correction) {
	tokens := strings.Fields(text)
	maxN := ix.MaxWords() + 1
	var (
		out  []string
		corr []Correction
	)
	for i := 0; i < len(tokens); {
		n, term, conf := c.bestMatch(tokens[i:], ix, maxN)
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		lead, _, _ := splitPunct(tokens[i])
		_, _, trail := splitPunct(tokens[i+n-1])
		heard := windowText(tokens[i : i+n])
		out = append(out, lead+term+trail)
		if heard != term {
			corr = append(corr, Correction{Original: heard, Corrected: term, Confidence: conf, Method: MethodPhonetic})
		}
		i += n
	}
	return strings.Join(out, " "), corr
}

// bestMatch returns the window length with the highest score. Ties go to
// the longer window so "pria raman" is not split into two matches.
func (c *Corrector) bestMatch(tokens []string, ix *phonetic.Index, maxN int) (int, string, float64) {
	var (
		bestN    int
		bestTerm string
		bestConf float64
	)
	for n := min(maxN, len(tokens)); n >= 1; n-- {
		window := windowText(tokens[:n])
		if window == "" {
			continue
		}
		// A window must not swallow sentence punctuation in its middle.
		if n > 1 && hasInnerPunct(tokens[:n]) {
			continue
		}
		if term, conf, ok := c.matcher.Match(window, ix); ok && conf > bestConf {
			bestN, bestTerm, bestConf = n, term, conf
		}
	}
	return bestN, bestTerm, bestConf
}

// flagged collects the text the verifier should look at: low-confidence
// spans and phonetic corrections it should confirm. Spans are phonetically
// aligned too so they can still be found in the corrected text.
func (c *Corrector) flagged(spans []Span, phon []Correction, ix *phonetic.Index) []string {
	var out []string
	for _, s := range spans {
		if s.Confidence > 0 && s.Confidence < c.lowConfidence && strings.TrimSpace(s.Text) != "" {
			fixed, _ := c.alignPhonetic(strings.TrimSpace(s.Text), ix)
			out = append(out, fixed)
		}
	}
	for _, pc := range phon {
		if pc.Confidence < c.uncertainPhonetic {
			out = append(out, pc.Corrected)
		}
	}
	return out
}

func hint(t vocab.Term) string {
	switch {
	case t.Note != "":
		return fmt.Sprintf("%s (%s, %s)", t.Text, t.Kind, t.Note)
	case t.Kind != "" && t.Kind != vocab.KindOther:
		return fmt.Sprintf("%s (%s)", t.Text, t.Kind)
	}
	return t.Text
}

// ── token helpers ────────────────────────────────────────────────────────────

const punct = ".,;:!?\"'()[]"

// splitPunct splits a token into leading punctuation, core and trailing
// punctuation.
func splitPunct(tok string) (lead, core, trail string) {
	core = strings.TrimLeft(tok, punct)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRight(core, punct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

func windowText(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, core, _ := splitPunct(t); core != "" {
			parts = append(parts, core)
		}
	}
	return strings.Join(parts, " ")
}

func hasInnerPunct(tokens []string) bool {
	for i, t := range tokens {
		lead, _, trail := splitPunct(t)
		if (i > 0 && lead != "") || (i < len(tokens)-1 && trail != "") {
			return true
		}
	}
	return false
}
