package resilience

import (
	"context"

	"github.com/vdrs/dykscribe/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across multiple chat
// backends, each behind its own breaker. The structuring step keeps working
// through a primary-model outage as long as one fallback stays healthy.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional chat backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy backend and returns its
// response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return DoWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ModelID reports the primary backend's model identifier. Static metadata
// does not participate in failover.
func (f *LLMFallback) ModelID() string {
	return f.group.primary().ModelID()
}
