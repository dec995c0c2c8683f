// Package mock provides a test double for the stt.Provider interface.
//
// Pre-populate Results (consumed in order) or Result (returned on every call)
// and inspect TranscribeCalls to verify what the caller submitted.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Result{Text: "Q: works? A: yes"}}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: blob})
package mock

import (
	"context"
	"sync"

	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. Audio is not copied; tests
	// must not mutate it after the call.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call when Results is empty.
	// If both are nil and Err is nil, Transcribe returns an empty Result.
	Result *stt.Result

	// Results is a queue of per-call outcomes consumed front to back. Each
	// entry may carry a result or an error; this lets a test script a failure
	// followed by a success to exercise retry behaviour.
	Results []Outcome

	// Err, if non-nil, is returned by every Transcribe call when Results is
	// empty.
	Err error

	// Model is returned by ModelID. Defaults to "mock" when empty.
	Model string

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Outcome is one scripted Transcribe result.
type Outcome struct {
	Result *stt.Result
	Err    error
}

// Transcribe records the call and returns the next scripted outcome.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: req})

	if len(p.Results) > 0 {
		next := p.Results[0]
		p.Results = p.Results[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		if next.Result != nil {
			return next.Result, nil
		}
		return &stt.Result{}, nil
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &stt.Result{}, nil
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

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls and scripted outcomes. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.Results = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
