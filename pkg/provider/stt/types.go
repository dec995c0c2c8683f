package stt

import "time"

// Request carries one complete recording to a transcription backend.
type Request struct {
	// Audio is the full encoded recording (e.g., WAV, MP3, M4A). Providers
	// document which containers they accept; WAV is universally supported.
	Audio []byte

	// Filename is the original upload name. Providers that infer the container
	// format from the extension use it; it may be empty, in which case
	// implementations fall back to a generic name.
	Filename string

	// Language is a BCP-47 language hint (e.g., "en", "de"). Empty lets the
	// backend auto-detect, if supported.
	Language string

	// Prompt is an optional free-text hint with domain vocabulary (equipment
	// names, manufacturer terms) for backends that accept one. Backends without
	// prompt support ignore it.
	Prompt string
}

// Result is the outcome of transcribing one recording.
type Result struct {
	// Text is the full transcript with leading and trailing whitespace trimmed.
	Text string

	// Language is the language the backend detected or was told to use.
	// May be empty when the backend does not report it.
	Language string

	// Duration is the length of the recording when the backend (or the audio
	// container) reports it. Zero when unknown.
	Duration time.Duration

	// Segments contains time-aligned transcript slices for backends that
	// report them. May be nil.
	Segments []Segment
}

// Segment is a time-aligned slice of a transcript.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}
