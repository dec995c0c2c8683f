// Package openai provides an STT provider backed by the OpenAI audio API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// defaultFilename is used when a request does not carry an upload name. The
// extension matters: the API infers the container format from it.
const defaultFilename = "audio.wav"

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Transcribe implements stt.Provider. The complete recording is uploaded in
// one request and the full transcript is returned.
//
// The API accepts WAV, MP3, M4A, WebM, and several other containers; it
// infers the format from the filename extension, so requests should carry the
// original upload name. Result.Duration is not reported by the plain JSON
// response and is left zero.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("openai stt: audio must not be empty")
	}

	filename := req.Filename
	if filename == "" {
		filename = defaultFilename
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Audio), filename, ""),
		Model: p.model,
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = param.NewOpt(req.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	return &stt.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: req.Language,
	}, nil
}

// ModelID implements stt.Provider.
func (p *Provider) ModelID() string {
	return p.model
}
