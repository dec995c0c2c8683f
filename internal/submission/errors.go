package submission

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is wrapped by every [StateError]. Callers that only
	// care that an operation was rejected for being out of order can match on
	// this sentinel.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStoreFailed is wrapped by store implementations around any insert
	// failure other than duplicate suppression. A persist that fails with it
	// may be retried without recomputing the draft.
	ErrStoreFailed = errors.New("store failed")

	// ErrNotFound is returned by store lookups for unknown submission IDs.
	ErrNotFound = errors.New("submission not found")

	// ErrSimilarityUnsupported is returned by stores that cannot run vector
	// similarity search (SQLite) and by [SearchSimilarText] when no embeddings
	// provider is configured.
	ErrSimilarityUnsupported = errors.New("similarity search not supported")

	// ErrNoTranscriber is returned by Submit on the audio path when the engine
	// was built without a transcription client.
	ErrNoTranscriber = errors.New("no transcription client configured")
)

// ExclusivityError reports a violated submit guard: a draft must carry exactly
// one of a validated recording or typed text in structured Q&A form. It is
// guidance rather than a failure; the draft stays in its current state and the
// user resolves it by removing one channel or completing the missing one.
type ExclusivityError struct {
	// HasAudio reports whether a validated recording was attached.
	HasAudio bool

	// HasTyped reports whether the typed text passed the structured Q&A check.
	HasTyped bool
}

// Error implements the error interface with a message suitable for direct
// display to the technician.
func (e *ExclusivityError) Error() string {
	if e.HasAudio && e.HasTyped {
		return "both a recording and typed Q&A text are present: remove one before submitting"
	}
	return "provide either a recording or typed Q&A text (lines starting with Q: and A:) before submitting"
}

// StateError reports an operation invoked while the draft was in a state that
// does not allow it, such as a second submit while one is already processing.
type StateError struct {
	// Op names the rejected operation ("submit", "persist", "set audio", ...).
	Op string

	// State is the draft state at the time of the call.
	State State
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not allowed while the draft is %s", e.Op, e.State)
}

// Unwrap makes every StateError match [ErrInvalidTransition].
func (e *StateError) Unwrap() error { return ErrInvalidTransition }
