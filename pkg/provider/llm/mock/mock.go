// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. Set Response for a fixed reply, or queue per-call outcomes in
// Responses to script sequences such as failure-then-success.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &llm.CompletionResponse{Content: "Q: What?\nA: That."},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/vdrs/dykscribe/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Outcome is one scripted result for a single Complete call.
type Outcome struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause Complete to return an empty response and nil error.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses is a queue of per-call outcomes consumed front to back.
	// When non-empty it takes precedence over Response and Err.
	Responses []Outcome

	// Response is returned by every Complete call once Responses is drained.
	Response *llm.CompletionResponse

	// Err, if non-nil, is returned by every Complete call once Responses is
	// drained.
	Err error

	// Model is returned by ModelID. Defaults to "mock" when empty.
	Model string

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted outcome.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if len(p.Responses) > 0 {
		next := p.Responses[0]
		p.Responses = p.Responses[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		if next.Response != nil {
			return next.Response, nil
		}
		return &llm.CompletionResponse{}, nil
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Response != nil {
		return p.Response, nil
	}
	return &llm.CompletionResponse{}, nil
}

// ModelID returns Model, or "mock" when unset.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Model != "" {
		return p.Model
	}
	return "mock"
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastCall returns the most recent Complete call, or nil if none were made.
func (p *Provider) LastCall() *CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return nil
	}
	c := p.CompleteCalls[len(p.CompleteCalls)-1]
	return &c
}

// Reset clears all recorded calls and scripted outcomes. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.Responses = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
