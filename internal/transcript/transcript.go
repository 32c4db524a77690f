// Package transcript corrects final meeting transcripts against the meeting
// vocabulary. Speech recognition reliably mangles attendee names and
// in-house product names; the [Corrector] fixes them in two stages:
//
//  1. Phonetic alignment ([phonetic.Matcher]): every n-gram window of the
//     transcript is compared with the vocabulary in process.
//  2. LLM verification ([llmcorrect.Verifier], optional): blocks that hold
//     low-confidence recognition spans or uncertain phonetic matches are sent
//     to a language model, and only declared substitutions are kept.
//
// Every [Correction] records the stage that produced it so callers can show
// or roll back changes.
package transcript

// Method names the correction stage.
type Method string

const (
	MethodPhonetic Method = "phonetic"
	MethodLLM      Method = "llm"
)

// Correction is one substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
	Method     Method
}

// Span is a piece of recognised text with the recogniser's confidence,
// typically one batch-transcription segment. A zero Confidence means the
// recogniser did not report one.
type Span struct {
	Text       string
	Confidence float64
}

// Result is the outcome of [Corrector.Correct].
type Result struct {
	Original string
	Text     string

	// Corrections is non-nil, possibly empty.
	Corrections []Correction
}

// Changed reports whether any correction was applied.
func (r *Result) Changed() bool { return len(r.Corrections) > 0 }
