// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI audio API or
// a local whisper.cpp instance) behind a batch interface: the caller hands
// over one complete recording and receives the full transcript in a single
// call. Submissions are recorded offline by a technician and uploaded as a
// finished file, so there is no streaming surface here.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any batch transcription backend.
//
// Implementations must be safe for concurrent use; a single Provider instance
// may serve transcriptions for multiple submission sessions.
type Provider interface {
	// Transcribe converts one complete recording into text. The request's Audio
	// holds the full encoded file; implementations must not assume any
	// particular container format beyond what their documentation states.
	//
	// Returns an error if the backend rejects the audio, the request fails, or
	// ctx is cancelled. An empty transcript with a nil error is a valid result
	// for a silent recording.
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// ModelID returns the provider-specific model identifier used for
	// transcription (e.g., "whisper-1", "base.en"). Useful for logging and for
	// recording which model produced a stored transcript.
	ModelID() string
}
