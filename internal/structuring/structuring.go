// Package structuring reshapes free text into Q:/A: pairs via an LLM.
//
// The [Client] supports two modes: [ModeFromTranscript] distills a raw
// spoken-note transcript down to its technically relevant question and
// answer pairs, and [ModeFromTypedText] reformats text the technician typed
// directly. Either way the output is the line-oriented Q&A text that the
// marker validator counts and the store persists.
//
// Structuring is never retried here. A failed call surfaces
// [ErrStructuringFailed] and the submission rolls back with its transcript
// intact, so retrying costs one LLM call rather than a re-transcription.
package structuring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vdrs/dykscribe/pkg/provider/llm"
)

// ErrStructuringFailed is returned for any provider failure or malformed
// completion.
var ErrStructuringFailed = errors.New("structuring failed")

// Mode selects the prompt used to structure the source text.
type Mode int

const (
	// ModeFromTranscript structures a raw speech transcript, discarding
	// small talk and filler.
	ModeFromTranscript Mode = iota

	// ModeFromTypedText reformats manually typed free text, inferring
	// questions when none are explicit.
	ModeFromTypedText
)

func (m Mode) String() string {
	switch m {
	case ModeFromTranscript:
		return "from-transcript"
	case ModeFromTypedText:
		return "from-typed-text"
	default:
		return "unknown"
	}
}

const systemPrompt = "You are a helpful assistant that formats transcripts as Q&A."

const typedTextInstructions = "Format the following transcript as a list of " +
	"Question and Answer pairs. If there are no clear questions, try to infer " +
	"them. Use the format:\nQ: ...\nA: ...\n\nTranscript:\n"

const transcriptInstructions = "The following is a raw transcript of a field " +
	"service technician's spoken notes. Extract only the clear, technically " +
	"relevant question and answer pairs about the equipment and the work " +
	"performed; discard greetings, small talk, and filler. Emit each pair as " +
	"two lines using numbered markers, with no surrounding commentary:\n" +
	"Q1: ...\nA1: ...\nQ2: ...\nA2: ...\n" +
	"If the transcript contains no valid question and answer pairs, reply " +
	"exactly: No valid Q&A pairs found.\n\nTranscript:\n"

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 1024
)

// Option configures a Client.
type Option func(*Client)

// WithTemperature overrides the default sampling temperature of 0.2.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// WithMaxTokens overrides the default completion cap of 1024 tokens.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// WithCallTimeout bounds each provider call. Zero leaves calls bounded only
// by the caller's context.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// Client structures source text into Q&A form. Safe for concurrent use when
// the underlying provider is.
type Client struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	callTimeout time.Duration
}

// New creates a structuring client around the given provider.
func New(provider llm.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("structuring: provider must not be nil")
	}
	c := &Client{
		provider:    provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Structure sends sourceText through the mode's prompt and returns the Q&A
// text with response artifacts (code fences, padding) stripped.
func (c *Client) Structure(ctx context.Context, sourceText string, mode Mode) (string, error) {
	if strings.TrimSpace(sourceText) == "" {
		return "", fmt.Errorf("structuring: empty source text")
	}

	var instructions string
	switch mode {
	case ModeFromTranscript:
		instructions = transcriptInstructions
	case ModeFromTypedText:
		instructions = typedTextInstructions
	default:
		return "", fmt.Errorf("structuring: unknown mode %d", int(mode))
	}

	req := llm.CompletionRequest{
		Messages:     []llm.Message{llm.User(instructions + sourceText)},
		SystemPrompt: systemPrompt,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	}

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	resp, err := c.provider.Complete(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStructuringFailed, err)
	}

	text := cleanResponse(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrStructuringFailed)
	}

	slog.Debug("structured text",
		"mode", mode.String(),
		"model", c.provider.ModelID(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return text, nil
}

// cleanResponse strips a surrounding markdown code fence and outer
// whitespace. Models occasionally wrap the Q&A block in ``` despite the
// prompt asking for bare lines.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	if j := strings.LastIndex(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}
