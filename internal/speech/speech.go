// Package speech turns uploaded recordings into plain-text transcripts.
//
// The [Client] wraps an [stt.Provider] with the retry policy applied to
// transcription calls, a recognition hint biasing the model toward
// technical service vocabulary, and an optional correction pass that aligns
// misheard equipment terms with their catalog spelling. It produces the raw
// transcript only; imposing Q&A structure is the structuring client's job.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vdrs/dykscribe/internal/resilience"
	"github.com/vdrs/dykscribe/internal/transcript"
	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

// ErrTranscriptionFailed is returned when the attempt budget is exhausted.
// The last underlying provider error is carried in the message.
var ErrTranscriptionFailed = errors.New("transcription failed")

// defaultPrompt biases recognition toward the vocabulary technicians use in
// service notes. Providers without prompt support ignore it.
const defaultPrompt = "Field service notes about medical equipment maintenance: " +
	"manufacturer names, model numbers, error codes, calibration values, repair steps."

// Option configures a Client.
type Option func(*Client)

// WithRetry replaces the default retry policy.
func WithRetry(r resilience.Retry) Option {
	return func(c *Client) {
		c.retry = r
	}
}

// WithLanguage sets the BCP-47 language hint passed to the provider.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithPrompt replaces the default recognition hint.
func WithPrompt(prompt string) Option {
	return func(c *Client) {
		c.prompt = prompt
	}
}

// WithCallTimeout bounds each individual provider call. Zero leaves calls
// bounded only by the caller's context.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithCorrector enables transcript correction. The vocabulary function is
// called per transcription so a refreshed catalog takes effect without
// rebuilding the client.
func WithCorrector(pipeline transcript.Pipeline, vocabulary func() []string) Option {
	return func(c *Client) {
		c.corrector = pipeline
		c.vocabulary = vocabulary
	}
}

// Client transcribes complete recordings. Safe for concurrent use when the
// underlying provider is.
type Client struct {
	provider stt.Provider
	retry    resilience.Retry

	language    string
	prompt      string
	callTimeout time.Duration

	corrector  transcript.Pipeline
	vocabulary func() []string
}

// New creates a transcription client around the given provider.
func New(provider stt.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("speech: provider must not be nil")
	}
	c := &Client{
		provider: provider,
		prompt:   defaultPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transcribe converts the recording to plain text. The audio lives only in
// memory; nothing is written to disk. Failed calls are retried per the
// client's policy, and exhausting the budget returns
// [ErrTranscriptionFailed] carrying the last provider error.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("speech: empty audio")
	}

	req := stt.Request{
		Audio:    audio,
		Filename: filename,
		Language: c.language,
		Prompt:   c.prompt,
	}

	var result *stt.Result
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
		res, err := c.provider.Transcribe(callCtx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := result.Text
	if c.corrector != nil {
		text = c.correct(ctx, text)
	}

	slog.Debug("transcribed recording",
		"model", c.provider.ModelID(),
		"audio_bytes", len(audio),
		"transcript_chars", len(text))
	return text, nil
}

// correct runs the vocabulary pass. Correction is best effort; on error the
// raw transcript is kept.
func (c *Client) correct(ctx context.Context, text string) string {
	var vocab []string
	if c.vocabulary != nil {
		vocab = c.vocabulary()
	}
	corrected, err := c.corrector.Correct(ctx, text, vocab)
	if err != nil {
		slog.Warn("transcript correction failed, keeping raw transcript", "error", err)
		return text
	}
	if n := len(corrected.Corrections); n > 0 {
		slog.Debug("corrected transcript terms", "corrections", n)
	}
	return corrected.Corrected
}
