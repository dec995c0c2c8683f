// Package postgres implements the submission store on PostgreSQL.
//
// Records live in a single submissions table; the pgvector extension provides
// the vector column and HNSW index behind similarity search. [Open] runs the
// embedded migrations, so a fresh database only needs the extension to be
// installable.
//
// Pool sizing is controlled through DSN parameters (pool_max_conns and
// friends), the same way pgxpool itself is configured.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vdrs/dykscribe/internal/submission"
)

var _ submission.Store = (*Store)(nil)

// defaultListLimit caps List and Search results when the caller passes a
// non-positive limit.
const defaultListLimit = 50

// Store is the PostgreSQL-backed submission store. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Option configures [Open].
type Option func(*openConfig)

type openConfig struct {
	migrate bool
}

// WithAutoMigrate controls whether Open applies pending schema migrations
// before returning. Enabled by default; disable when migrations are applied
// separately via `dykscribe migrate`.
func WithAutoMigrate(enabled bool) Option {
	return func(c *openConfig) { c.migrate = enabled }
}

// Open connects to the database at dsn, registers pgvector types on every
// connection, and (unless disabled) migrates the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	oc := openConfig{migrate: true}
	for _, opt := range opts {
		opt(&oc)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so embedding columns
	// scan into and insert from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if oc.migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &Store{pool: pool}, nil
}

// Insert implements [submission.Store]. The record lands in one statement, so
// either every column including the blobs is stored or nothing is. Inserting
// an already-stored submission ID is a no-op success.
func (s *Store) Insert(ctx context.Context, rec *submission.Record) error {
	const q = `
		INSERT INTO submissions
		    (submission_id, user_name, role, entry_datetime,
		     manufacturer, equipment_type, model, specifications2, specifications3,
		     notes, num_questions, num_answers, points_awarded,
		     qa_text, transcript, audio_blob, manual_pdf, qa_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (submission_id) DO NOTHING`

	var embedding any
	if len(rec.Embedding) > 0 {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	_, err := s.pool.Exec(ctx, q,
		rec.SubmissionID,
		rec.UserName,
		rec.Role,
		rec.EntryDateTime,
		rec.Manufacturer,
		rec.EquipmentType,
		rec.Model,
		rec.Specifications2,
		rec.Specifications3,
		rec.Notes,
		rec.NumQuestions,
		rec.NumAnswers,
		rec.PointsAwarded,
		rec.QAText,
		rec.Transcript,
		rec.AudioBlob,
		rec.ManualPDF,
		embedding,
	)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", submission.ErrStoreFailed, err)
	}
	return nil
}

// Get implements [submission.Store].
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*submission.Record, error) {
	const q = `
		SELECT submission_id, user_name, role, entry_datetime,
		       manufacturer, equipment_type, model, specifications2, specifications3,
		       notes, num_questions, num_answers, points_awarded,
		       qa_text, transcript, audio_blob, manual_pdf, qa_embedding
		FROM   submissions
		WHERE  submission_id = $1`

	var (
		rec submission.Record
		vec *pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&rec.SubmissionID,
		&rec.UserName,
		&rec.Role,
		&rec.EntryDateTime,
		&rec.Manufacturer,
		&rec.EquipmentType,
		&rec.Model,
		&rec.Specifications2,
		&rec.Specifications3,
		&rec.Notes,
		&rec.NumQuestions,
		&rec.NumAnswers,
		&rec.PointsAwarded,
		&rec.QAText,
		&rec.Transcript,
		&rec.AudioBlob,
		&rec.ManualPDF,
		&vec,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", submission.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get submission: %w", err)
	}
	if vec != nil {
		rec.Embedding = vec.Slice()
	}
	return &rec, nil
}

// summaryColumns is the SELECT list shared by List, Search and SearchSimilar.
// Blob payloads stay in the database; only their sizes travel.
const summaryColumns = `
		submission_id, user_name, role, entry_datetime,
		manufacturer, equipment_type, model,
		num_questions, num_answers, points_awarded,
		COALESCE(octet_length(audio_blob), 0),
		COALESCE(octet_length(manual_pdf), 0)`

// List implements [submission.Store].
func (s *Store) List(ctx context.Context, limit int) ([]submission.Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := `
		SELECT ` + summaryColumns + `
		FROM   submissions
		ORDER  BY entry_datetime DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list submissions: %w", err)
	}
	return collectSummaries(rows)
}

// Search implements [submission.Store]. Matching is a case-insensitive
// substring match over the Q&A text, the transcript and the notes, the same
// contract the SQLite store fulfils.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]submission.Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := `
		SELECT ` + summaryColumns + `
		FROM   submissions
		WHERE  qa_text    ILIKE '%' || $1 || '%'
		   OR  transcript ILIKE '%' || $1 || '%'
		   OR  notes      ILIKE '%' || $1 || '%'
		ORDER  BY entry_datetime DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search submissions: %w", err)
	}
	return collectSummaries(rows)
}

// SearchSimilar implements [submission.Store]. It orders by cosine distance
// against the stored Q&A embeddings; records stored without a vector do not
// participate.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, k int) ([]submission.Summary, error) {
	if k <= 0 {
		k = defaultListLimit
	}
	q := `
		SELECT ` + summaryColumns + `
		FROM   submissions
		WHERE  qa_embedding IS NOT NULL
		ORDER  BY qa_embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: similarity search: %w", err)
	}
	return collectSummaries(rows)
}

// Ping implements [submission.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [submission.Store]. It releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collectSummaries scans pgx rows into summaries.
func collectSummaries(rows pgx.Rows) ([]submission.Summary, error) {
	sums, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (submission.Summary, error) {
		var sum submission.Summary
		err := row.Scan(
			&sum.SubmissionID,
			&sum.UserName,
			&sum.Role,
			&sum.EntryDateTime,
			&sum.Manufacturer,
			&sum.EquipmentType,
			&sum.Model,
			&sum.NumQuestions,
			&sum.NumAnswers,
			&sum.PointsAwarded,
			&sum.AudioBytes,
			&sum.ManualBytes,
		)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rows: %w", err)
	}
	if sums == nil {
		sums = []submission.Summary{}
	}
	return sums, nil
}
