package transcript

import (
	"context"
	"log/slog"
	"strings"
)

// highConfidence is the threshold above which a phonetic substitution is
// considered settled; substitutions below it are offered to the entity
// corrector as uncertain spans.
const highConfidence = 0.9

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithPhoneticMatcher attaches a [PhoneticMatcher] as the first correction
// stage. When nil (the default), the stage is skipped and the input text
// passes through unchanged.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.phonetic = m
	}
}

// WithEntityCorrector attaches an [EntityCorrector] as the second correction
// stage, applied to the output of the phonetic stage. When nil (the default)
// the stage is skipped.
func WithEntityCorrector(ec EntityCorrector) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.entity = ec
	}
}

// CorrectionPipeline is the vocabulary-driven implementation of [Pipeline].
// It aligns transcript tokens against catalog terms using a [PhoneticMatcher]
// and optionally polishes the result with an [EntityCorrector].
//
// CorrectionPipeline is safe for concurrent use.
type CorrectionPipeline struct {
	phonetic PhoneticMatcher
	entity   EntityCorrector
}

// Ensure CorrectionPipeline satisfies the Pipeline interface at compile time.
var _ Pipeline = (*CorrectionPipeline)(nil)

// NewPipeline constructs a [CorrectionPipeline] with the supplied options.
// By default the phonetic stage is disabled (nil); use [WithPhoneticMatcher]
// to activate it.
func NewPipeline(opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct applies the configured stages to text and returns a
// [CorrectedTranscript].
//
// Pipeline flow:
//  1. The transcript text is tokenised into whitespace-separated word tokens.
//  2. When a [PhoneticMatcher] is configured, n-gram windows (up to the
//     maximum vocabulary term word count) are tested at each position so that
//     multi-word terms such as "infusion pump" can be recognised even when
//     the STT provider split or misheard them.
//  3. The longest matching window wins; the cursor advances past the tokens
//     it consumed.
//  4. When an [EntityCorrector] is configured, it runs on the phonetic
//     result. A corrector failure keeps the phonetic result; only context
//     cancellation propagates as an error.
func (p *CorrectionPipeline) Correct(
	ctx context.Context,
	text string,
	vocabulary []string,
) (*CorrectedTranscript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &CorrectedTranscript{
		Original:    text,
		Corrected:   text,
		Corrections: []Correction{},
	}

	if len(vocabulary) == 0 {
		return result, nil
	}

	var uncertain []string
	if p.phonetic != nil {
		correctedText, corrections := p.applyPhonetic(text, vocabulary)
		result.Corrected = correctedText
		result.Corrections = append(result.Corrections, corrections...)
		for _, c := range corrections {
			if c.Confidence < highConfidence {
				uncertain = append(uncertain, c.Corrected)
			}
		}
	}

	if p.entity != nil {
		corrected, corrections, err := p.entity.CorrectEntities(ctx, result.Corrected, vocabulary, uncertain)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			slog.Warn("entity correction failed, keeping phonetic result", "error", err)
		default:
			result.Corrected = corrected
			result.Corrections = append(result.Corrections, corrections...)
		}
	}

	return result, nil
}

// applyPhonetic runs the phonetic matching stage over the transcript text.
// It returns the corrected text and the list of corrections applied.
//
// The algorithm:
//  1. Tokenise the text into words.
//  2. Determine the maximum number of words in any vocabulary term.
//  3. At each token position, try n-gram windows from maxTermWords down to 1.
//     Accept the longest n-gram match so that multi-word terms take
//     precedence over partial single-word matches.
//  4. Append matched (or unmatched) tokens to the output and advance the
//     cursor by the number of tokens consumed.
func (p *CorrectionPipeline) applyPhonetic(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	maxTermWords := maxWordCount(vocabulary)

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		// Clamp window size to remaining tokens.
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := p.phonetic.Match(window, vocabulary)
			if !ok {
				continue
			}

			// Record a correction only when the emitted text differs from the
			// window; an identical match still consumes its tokens.
			if window != term {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
					Method:     "phonetic",
				})
			}
			output = append(output, strings.Fields(term)...)
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any vocabulary term. Returns 1 when vocabulary is empty.
func maxWordCount(vocabulary []string) int {
	max := 1
	for _, term := range vocabulary {
		n := len(strings.Fields(term))
		if n > max {
			max = n
		}
	}
	return max
}
