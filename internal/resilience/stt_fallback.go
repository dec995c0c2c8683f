package resilience

import (
	"context"

	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across multiple
// transcription backends, each behind its own breaker. A local whisper
// server outage then falls through to the hosted API instead of failing the
// submission.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the recording to the first healthy backend and returns
// its transcript.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return DoWithResult(f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// ModelID reports the primary backend's model identifier. Static metadata
// does not participate in failover.
func (f *STTFallback) ModelID() string {
	return f.group.primary().ModelID()
}
