// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

// nativeSampleRate is the only sample rate whisper.cpp accepts for inference.
const nativeSampleRate = 16000

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all transcriptions.
type NativeProvider struct {
	model     whisperlib.Model
	modelName string
	language  string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code used when the request does
// not carry one (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent transcriptions. The caller must call Close when the provider is
// no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:     model,
		modelName: strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider by running whisper.cpp inference
// in-process over the complete recording.
//
// WAV input must be 16-bit PCM at 16 kHz (mono or multi-channel; multi-channel
// audio is down-mixed). Non-WAV input is treated as raw 16-bit mono PCM at
// 16 kHz. req.Prompt is ignored.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("whisper: audio must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	samples, dur, err := toSamples(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	// Each whisper context is single-use and NOT thread-safe, but the model
	// can be shared across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts    []string
		segments []stt.Segment
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		segments = append(segments, stt.Segment{
			Text:  text,
			Start: segment.Start,
			End:   segment.End,
		})
	}

	return &stt.Result{
		Text:     strings.Join(parts, " "),
		Language: lang,
		Duration: dur,
		Segments: segments,
	}, nil
}

// ModelID implements stt.Provider by returning the base name of the loaded
// model file (e.g., "ggml-base.en" for "/models/ggml-base.en.bin").
func (p *NativeProvider) ModelID() string {
	return p.modelName
}

// toSamples converts an uploaded recording into float32 mono samples at the
// 16 kHz rate whisper.cpp requires, along with the playback duration.
func toSamples(audio []byte) ([]float32, time.Duration, error) {
	if !isWAV(audio) {
		// Raw PCM path: assume 16-bit mono at 16 kHz.
		samples := pcmToFloat32(audio)
		dur := time.Duration(len(samples)) * time.Second / nativeSampleRate
		return samples, dur, nil
	}

	info, err := decodeWAV(audio)
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if info.sampleRate != nativeSampleRate {
		return nil, 0, fmt.Errorf("unsupported sample rate %d Hz (whisper.cpp requires %d Hz)", info.sampleRate, nativeSampleRate)
	}
	return pcmToFloat32Mono(info.pcm, info.channels), info.duration(), nil
}
