// Package transcript defines the transcript correction pipeline used by
// DykScribe to fix STT errors in equipment vocabulary.
//
// Raw speech-to-text output is rarely perfect for technical proper nouns:
// manufacturer names, equipment types, and model designations are frequently
// misheard ("seamens" for "Siemens", "flo meter" for "flow meter"). The
// [Pipeline] aligns transcript words against the catalog vocabulary selected
// for the submission using phonetic matching ([PhoneticMatcher]): fast,
// dictionary-free alignment based on pronunciation similarity. It runs
// in-process with no network calls.
//
// An optional second stage ([EntityCorrector]) resolves misspellings the
// phonetic matcher cannot catch by asking a language model; it is polish on
// top of the phonetic result, never a gate.
//
// Each [Correction] records which method produced the substitution and its
// confidence, so callers can audit, display, or selectively roll back changes.
//
// Implementations of all interfaces must be safe for concurrent use.
package transcript

import "context"

// Correction captures a single word-level substitution made by the pipeline.
type Correction struct {
	// Original is the word as produced by the STT provider.
	Original string

	// Corrected is the replacement selected by the pipeline.
	Corrected string

	// Confidence is the pipeline's confidence in this substitution (0.0-1.0).
	// Values above 0.9 are considered high-confidence; values below 0.5
	// indicate the correction is speculative.
	Confidence float64

	// Method describes which correction stage produced this substitution.
	// Well-known values are "phonetic", produced by a [PhoneticMatcher],
	// and "llm", produced by an [EntityCorrector].
	Method string
}

// CorrectedTranscript is the output of a [Pipeline.Correct] call.
// It pairs the original transcript text with the fully corrected text and
// an itemised record of every substitution that was applied.
type CorrectedTranscript struct {
	// Original is the raw transcript text as received from the STT provider.
	Original string

	// Corrected is the full corrected transcript text with all substitutions
	// applied. Suitable for downstream processing (Q&A structuring, storage).
	Corrected string

	// Corrections is the ordered list of word-level substitutions applied to
	// produce Corrected. An empty (non-nil) slice means no corrections were
	// necessary.
	Corrections []Correction
}

// Pipeline applies corrections to raw transcript text, resolving STT errors
// for equipment-specific vocabulary.
//
// Implementations must be safe for concurrent use.
type Pipeline interface {
	// Correct processes text using the provided vocabulary and returns a
	// [CorrectedTranscript] containing the corrected text and an itemised
	// record of every substitution made.
	//
	// vocabulary is the list of known terms the pipeline should recognise
	// within the transcript text. For a submission it is typically drawn from
	// the catalog: manufacturer names, equipment types, model designations,
	// and specification labels.
	//
	// Returns a non-nil *CorrectedTranscript on success.
	// When no corrections are needed, Corrected equals text and Corrections
	// is an empty (non-nil) slice.
	Correct(ctx context.Context, text string, vocabulary []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher resolves a single word or phrase to a known vocabulary term
// based on pronunciation similarity. It is designed to be fast enough to run
// on every submission without adding noticeable latency: no network calls,
// no model round-trips.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match attempts to find the term from vocabulary that is most
	// phonetically similar to word.
	//
	// Return values:
	//   corrected  - the best-matching term from vocabulary.
	//   confidence - similarity score in [0.0, 1.0] where 1.0 is a perfect match.
	//   matched    - true when a sufficiently similar term was found.
	//
	// When matched is false, corrected must equal word unchanged and confidence
	// must be 0. Implementations define their own similarity threshold for
	// deciding when a match is "sufficient".
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// EntityCorrector resolves vocabulary-term misspellings that phonetic
// matching cannot catch, typically by asking a language model. It runs after
// the phonetic stage on the already phonetically-corrected text.
//
// Implementations must be safe for concurrent use.
type EntityCorrector interface {
	// CorrectEntities fixes misspelled vocabulary terms in text.
	//
	// uncertain lists spans the previous stage substituted with low
	// confidence; implementations may use them as hints for where to look.
	//
	// Returned corrections must carry Method "llm". When nothing needs
	// fixing, implementations return text unchanged with an empty (or nil)
	// corrections slice.
	CorrectEntities(ctx context.Context, text string, vocabulary []string, uncertain []string) (string, []Correction, error)
}
