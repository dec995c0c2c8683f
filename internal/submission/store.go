package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vdrs/dykscribe/pkg/provider/embeddings"
)

// Record is the flat, fully-materialized form of a finalized draft as the
// store persists it. Field names follow the QA form schema.
type Record struct {
	// SubmissionID is the duplicate-suppression key. Inserting the same ID
	// twice must leave exactly one row behind.
	SubmissionID uuid.UUID

	UserName      string
	Role          string
	EntryDateTime time.Time

	Manufacturer    string
	EquipmentType   string
	Model           string
	Specifications2 string
	Specifications3 string

	Notes string

	NumQuestions  int
	NumAnswers    int
	PointsAwarded int

	// QAText is the structured Q&A block. Transcript is empty for typed
	// submissions.
	QAText     string
	Transcript string

	// Binary attachments. Either may be nil.
	AudioBlob []byte
	ManualPDF []byte

	// Embedding is the optional vector over QAText used for similarity
	// search. Stores without vector support ignore it.
	Embedding []float32
}

// Summary is the blob-free projection of a stored record used by listings and
// search results. Attachment sizes stand in for the payloads.
type Summary struct {
	SubmissionID  uuid.UUID
	UserName      string
	Role          string
	EntryDateTime time.Time

	Manufacturer  string
	EquipmentType string
	Model         string

	NumQuestions  int
	NumAnswers    int
	PointsAwarded int

	AudioBytes  int64
	ManualBytes int64
}

// Store persists finalized submissions and serves read queries over them.
// Implementations live in internal/store; the engine only ever calls Insert,
// the HTTP and MCP surfaces use the read side.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert writes rec atomically: all fields including blobs land in one
	// transaction or none do. Re-inserting an already-stored SubmissionID is
	// a no-op success. Any other failure is reported wrapping [ErrStoreFailed].
	Insert(ctx context.Context, rec *Record) error

	// Get returns the full record for id, or an error wrapping [ErrNotFound].
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// List returns the most recent submissions, newest first. limit caps the
	// result; non-positive limits fall back to a store-chosen default.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Search returns submissions whose Q&A text, transcript or notes match
	// the query, newest first.
	Search(ctx context.Context, query string, limit int) ([]Summary, error)

	// SearchSimilar returns the k stored submissions whose Q&A embedding is
	// nearest to the given vector. Stores without vector support return an
	// error wrapping [ErrSimilarityUnsupported].
	SearchSimilar(ctx context.Context, embedding []float32, k int) ([]Summary, error)

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// SearchSimilarText embeds query with the given provider and runs a vector
// similarity search against the store. It is the shared text-level entry
// point for the HTTP search endpoint and the MCP search tool.
func SearchSimilarText(ctx context.Context, st Store, emb embeddings.Provider, query string, k int) ([]Summary, error) {
	if emb == nil {
		return nil, fmt.Errorf("%w: no embeddings provider configured", ErrSimilarityUnsupported)
	}
	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return st.SearchSimilar(ctx, vec, k)
}
