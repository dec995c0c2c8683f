// Package validate implements the acceptance rules for technician-supplied
// inputs: recorded audio blobs, equipment manual PDFs, and typed Q&A text.
//
// The size and format limits mirror what the submission store is willing to
// persist; anything rejected here never reaches a provider or the database.
package validate

import (
	"bytes"
	"fmt"
	"regexp"

	pdf "github.com/ledongthuc/pdf"
)

const (
	// MaxAudioBytes is the upper bound for an uploaded audio blob (200 MiB).
	MaxAudioBytes = 200 << 20

	// MinAudioBytes is the lower bound for an uploaded audio blob. Recordings
	// below this size cannot contain usable speech and are rejected early
	// instead of being sent to a transcription provider.
	MinAudioBytes = 1000

	// MaxManualBytes is the upper bound for an uploaded manual PDF (25 MiB).
	MaxManualBytes = 25 << 20
)

// pdfMagic is the signature every PDF file starts with.
var pdfMagic = []byte("%PDF")

// Reason classifies why an input was rejected.
type Reason string

const (
	TooLarge      Reason = "too_large"
	TooShort      Reason = "too_short"
	InvalidFormat Reason = "invalid_format"
)

// Error describes a rejected input. Size and Limit are in bytes; Limit is zero
// for reasons that are not size-related.
type Error struct {
	// Field names the rejected input ("audio" or "manual").
	Field string

	// Reason classifies the rejection.
	Reason Reason

	// Size is the actual size of the supplied data.
	Size int64

	// Limit is the bound that was violated, when Reason is size-related.
	Limit int64
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Reason {
	case TooLarge:
		return fmt.Sprintf("%s is too large: %d bytes exceeds limit of %d", e.Field, e.Size, e.Limit)
	case TooShort:
		return fmt.Sprintf("%s is too short: %d bytes is below minimum of %d", e.Field, e.Size, e.Limit)
	case InvalidFormat:
		return fmt.Sprintf("%s has an invalid format", e.Field)
	default:
		return fmt.Sprintf("%s rejected: %s", e.Field, e.Reason)
	}
}

// Audio checks an uploaded audio blob against the size bounds.
//
// Rules:
//   - At most [MaxAudioBytes].
//   - At least [MinAudioBytes]; an empty or near-empty recording is treated
//     the same as a missing one.
func Audio(data []byte) error {
	size := int64(len(data))
	if size > MaxAudioBytes {
		return &Error{Field: "audio", Reason: TooLarge, Size: size, Limit: MaxAudioBytes}
	}
	if size < MinAudioBytes {
		return &Error{Field: "audio", Reason: TooShort, Size: size, Limit: MinAudioBytes}
	}
	return nil
}

// Manual checks an uploaded equipment manual against the size bound and the
// PDF signature. Only the leading magic bytes are inspected; use [ManualInfo]
// for a full structural parse.
func Manual(data []byte) error {
	size := int64(len(data))
	if size > MaxManualBytes {
		return &Error{Field: "manual", Reason: TooLarge, Size: size, Limit: MaxManualBytes}
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return &Error{Field: "manual", Reason: InvalidFormat, Size: size}
	}
	return nil
}

// questionMarker and answerMarker match Q&A line markers anchored at the start
// of a line: "Q:", "Q1:", "Q12:", and the A equivalents. Mid-line occurrences
// do not count.
var (
	questionMarker = regexp.MustCompile(`(?m)^Q\d*:`)
	answerMarker   = regexp.MustCompile(`(?m)^A\d*:`)
)

// IsStructuredQA reports whether text is already in structured Q&A form,
// meaning it contains at least one question marker and at least one answer
// marker, each at the start of a line. Typed answers must pass this check
// before a draft built on them can be submitted.
func IsStructuredQA(text string) bool {
	return questionMarker.MatchString(text) && answerMarker.MatchString(text)
}

// CountMarkers returns the number of question and answer line markers in text.
// The question count drives the points awarded for a submission.
func CountMarkers(text string) (questions, answers int) {
	questions = len(questionMarker.FindAllStringIndex(text, -1))
	answers = len(answerMarker.FindAllStringIndex(text, -1))
	return questions, answers
}

// Info describes the structure of a parsed manual PDF.
type Info struct {
	// Pages is the page count from the document's page tree.
	Pages int
}

// ManualInfo performs a full structural parse of a manual PDF and returns its
// page count. Unlike [Manual], which only checks the signature, this catches
// truncated and corrupt files. Parse failures are reported to the caller but
// callers may choose to accept the upload anyway; the signature check is the
// authoritative gate.
func ManualInfo(data []byte) (Info, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("validate: parse manual pdf: %w", err)
	}
	return Info{Pages: doc.NumPage()}, nil
}
