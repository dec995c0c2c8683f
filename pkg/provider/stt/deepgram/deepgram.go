// Package deepgram provides an STT provider backed by the Deepgram
// prerecorded audio API. It implements the stt.Provider interface.
//
// Recordings are sent as a single POST to /v1/listen with the raw audio as
// the request body; Deepgram detects the container format from the
// Content-Type header and the audio itself. Domain vocabulary can be boosted
// with per-term keyword weights via [WithKeywords].
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	listenPath      = "/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// maxErrorBody caps how much of an error response is read into the
	// returned error message.
	maxErrorBody = 4096
)

// KeywordBoost pairs a vocabulary term with its recognition boost. A zero
// Boost sends the keyword without an explicit weight and lets Deepgram apply
// its default.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en",
// "de-DE"). A non-empty Request.Language overrides it per call.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets vocabulary terms to boost during recognition. Deepgram
// encodes them as repeated keywords query parameters in word:boost form.
func WithKeywords(keywords ...KeywordBoost) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// WithBaseURL overrides the default API base URL. Useful for tests and for
// self-hosted Deepgram deployments.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider backed by the Deepgram prerecorded API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	keywords   []KeywordBoost
	baseURL    string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// listenResponse is the JSON structure returned by the prerecorded endpoint.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Transcript string  `json:"transcript"`
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
		} `json:"utterances"`
	} `json:"results"`
}

// Transcribe implements stt.Provider. The complete recording is uploaded in
// one request and the full transcript is returned.
//
// Deepgram has no free-text prompt parameter, so Request.Prompt is ignored;
// use [WithKeywords] to boost domain vocabulary instead.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("deepgram: audio must not be empty")
	}

	reqURL, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(req.Audio))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", contentTypeFor(req.Filename))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("deepgram: transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}

	return p.buildResult(req, &lr), nil
}

// ModelID implements stt.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// buildURL constructs the prerecorded endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.baseURL + listenPath)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("utterances", "true")

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "Infusomat:5")
		val := kw.Keyword
		if kw.Boost != 0 {
			val = fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		}
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildResult maps a decoded API response onto an stt.Result.
func (p *Provider) buildResult(req stt.Request, lr *listenResponse) *stt.Result {
	result := &stt.Result{
		Language: req.Language,
		Duration: time.Duration(lr.Metadata.Duration * float64(time.Second)),
	}
	if result.Language == "" {
		result.Language = p.language
	}

	if len(lr.Results.Channels) > 0 {
		ch := lr.Results.Channels[0]
		if ch.DetectedLanguage != "" {
			result.Language = ch.DetectedLanguage
		}
		if len(ch.Alternatives) > 0 {
			result.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
		}
	}

	for _, utt := range lr.Results.Utterances {
		result.Segments = append(result.Segments, stt.Segment{
			Text:  strings.TrimSpace(utt.Transcript),
			Start: time.Duration(utt.Start * float64(time.Second)),
			End:   time.Duration(utt.End * float64(time.Second)),
		})
	}

	return result
}

// contentTypeFor maps an upload filename to the Content-Type sent to the API.
// Unknown extensions fall back to application/octet-stream; Deepgram then
// detects the container from the audio itself.
func contentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
