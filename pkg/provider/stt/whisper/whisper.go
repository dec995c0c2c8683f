// Package whisper provides local whisper.cpp-backed STT providers.
//
// Two implementations are available:
//
//   - [Provider] talks to a running whisper-server binary, which exposes a
//     REST API at POST /inference and accepts WAV uploads.
//   - [NativeProvider] links whisper.cpp directly through its Go bindings and
//     runs inference in-process, eliminating the HTTP hop.
//
// Both transcribe one complete recording per call. Uploads that already carry
// a RIFF/WAV header are used as-is; bare byte blobs are assumed to be raw
// 16-bit mono PCM at 16 kHz and are wrapped in a WAV container first.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, stt.Request{Audio: wavBytes, Filename: "account.wav"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// defaultRequestTimeout bounds a single inference request. Batch inference
	// on a long recording can take a while, so this is deliberately generous.
	defaultRequestTimeout = 5 * time.Minute
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr") when the request does not carry one. Defaults
// to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
// It is stateless between calls and safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. The recording is submitted to the
// whisper-server /inference endpoint as a multipart WAV upload and the full
// transcript is returned in one call.
//
// Result.Duration is derived from the WAV header; req.Prompt is ignored
// because whisper-server has no vocabulary hint parameter.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("whisper: audio must not be empty")
	}

	wav, dur, err := toWAV(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	text, err := p.infer(ctx, wav, lang)
	if err != nil {
		return nil, err
	}

	return &stt.Result{
		Text:     strings.TrimSpace(text),
		Language: lang,
		Duration: dur,
	}, nil
}

// ModelID implements stt.Provider. When no model override is configured the
// server-side default model is in use, which the server does not report.
func (p *Provider) ModelID() string {
	if p.model != "" {
		return p.model
	}
	return "server-default"
}

// toWAV normalises an uploaded recording into WAV bytes and reports its
// playback duration. RIFF/WAV input passes through unchanged; anything else
// is treated as raw 16-bit mono PCM at 16 kHz.
func toWAV(audio []byte) ([]byte, time.Duration, error) {
	if isWAV(audio) {
		info, err := decodeWAV(audio)
		if err != nil {
			return nil, 0, fmt.Errorf("decode wav: %w", err)
		}
		return audio, info.duration(), nil
	}
	wav := encodeWAV(audio, defaultSampleRate, 1)
	info, err := decodeWAV(wav)
	if err != nil {
		return nil, 0, fmt.Errorf("encode pcm as wav: %w", err)
	}
	return wav, info.duration(), nil
}

// infer POSTs wav to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (p *Provider) infer(ctx context.Context, wav []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Primary audio field.
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Optional hint fields.
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.Text, nil
}
