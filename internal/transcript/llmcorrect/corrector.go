// Package llmcorrect implements a language-model-based transcript correction
// stage that resolves equipment-name misspellings not caught by the phonetic
// matcher.
//
// The [Corrector] sends the transcript text to an [llm.Provider] along with
// the catalog vocabulary for the submission: manufacturer names, equipment
// types, and model designations. The model is instructed (via a conservative
// system prompt) to fix only words that look like misspelled vocabulary terms
// and to return a structured JSON response containing the corrected text and
// an itemised list of substitutions.
//
// Model output is not trusted blindly: every token-level change in the reply
// is cross-checked against the declared substitution list, and undeclared
// rewrites are reverted. When the response cannot be parsed at all, the
// corrector returns the input text unchanged rather than surfacing an error,
// so the pipeline keeps its phonetic result.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vdrs/dykscribe/internal/transcript"
	"github.com/vdrs/dykscribe/pkg/provider/llm"
)

const (
	defaultTemperature = 0.1
)

// systemPromptTemplate is the base system prompt. The vocabulary list is
// appended at call time so each request carries the terms selected for the
// submission.
const systemPromptTemplate = `You are a transcript correction assistant for field service records of technical equipment.

Your task: fix misspelled equipment terms in the provided transcript text.

Rules:
- ONLY correct words that appear to be misheard or misspelled versions of the known terms listed below.
- Do NOT change ordinary words, grammar, punctuation, numbers, or sentence structure.
- Be conservative: if you are not confident a word is a misspelled equipment term, leave it unchanged.
- Preserve the original capitalisation style of the surrounding text where possible.
- Corrected terms must match the canonical spelling from the list exactly.

Known terms:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original word>", "corrected": "<corrected word>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// llmResponse is the expected JSON structure returned by the model.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the LLM sampling temperature. Lower values produce
// more deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// Corrector uses an [llm.Provider] to correct equipment-term misspellings in
// transcript text. It implements [transcript.EntityCorrector] and is safe for
// concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model for correction, construct the [llm.Provider] with that
// model configured, rather than overriding per-request.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

var _ transcript.EntityCorrector = (*Corrector)(nil)

// New returns a new [Corrector] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CorrectEntities sends text to the model with the vocabulary as context and
// asks it to fix misspelled terms. uncertain spans are highlighted in the
// user message as candidates that may still be misheard.
//
// Undeclared rewrites in the reply are reverted before the result is
// returned. When the reply is unparseable, CorrectEntities returns the input
// text unchanged with a nil corrections slice and a nil error; only context
// cancellation and transport failures surface as errors.
func (c *Corrector) CorrectEntities(
	ctx context.Context,
	text string,
	vocabulary []string,
	uncertain []string,
) (string, []transcript.Correction, error) {
	if len(vocabulary) == 0 {
		return text, nil, nil
	}

	userMsg := text
	if len(uncertain) > 0 {
		userMsg = fmt.Sprintf(
			"Transcript: %s\n\nUncertain spans that may be misheard: %s",
			text,
			strings.Join(uncertain, ", "),
		)
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(vocabulary),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			llm.User(userMsg),
		},
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return text, nil, fmt.Errorf("llm corrector: complete: %w", err)
	}

	corrected, corrections, parseErr := parseResponse(resp.Content, text)
	if parseErr != nil {
		// Unparseable response: keep the input, no error.
		return text, nil, nil
	}

	corrected, corrections = verifyCorrectedText(text, corrected, corrections)
	return corrected, corrections, nil
}

// buildSystemPrompt formats the system prompt template with the vocabulary list.
func buildSystemPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, term := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(term)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse attempts to unmarshal the model output into an [llmResponse].
// It strips markdown code fences before parsing.
func parseResponse(content, originalText string) (string, []transcript.Correction, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("llm corrector: parse response: %w", err)
	}

	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]transcript.Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == c.Corrected || c.Original == "" {
			continue
		}
		corrections = append(corrections, transcript.Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
			Method:     "llm",
		})
	}

	return r.CorrectedText, corrections, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
