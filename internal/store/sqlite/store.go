// Package sqlite implements the submission store on a single SQLite file via
// the pure-Go modernc.org/sqlite driver, so small deployments run without a
// database server.
//
// The schema is created idempotently on every [Open]. Similarity search is
// not available on this backend; [Store.SearchSimilar] reports
// [submission.ErrSimilarityUnsupported] and callers fall back to keyword
// search.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vdrs/dykscribe/internal/submission"
)

var _ submission.Store = (*Store)(nil)

// defaultListLimit caps List and Search results when the caller passes a
// non-positive limit.
const defaultListLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
    submission_id    TEXT     PRIMARY KEY,
    user_name        TEXT     NOT NULL,
    role             TEXT     NOT NULL DEFAULT '',
    entry_datetime   TEXT     NOT NULL,
    manufacturer     TEXT     NOT NULL DEFAULT '',
    equipment_type   TEXT     NOT NULL DEFAULT '',
    model            TEXT     NOT NULL DEFAULT '',
    specifications2  TEXT     NOT NULL DEFAULT '',
    specifications3  TEXT     NOT NULL DEFAULT '',
    notes            TEXT     NOT NULL DEFAULT '',
    num_questions    INTEGER  NOT NULL DEFAULT 0,
    num_answers      INTEGER  NOT NULL DEFAULT 0,
    points_awarded   INTEGER  NOT NULL DEFAULT 0,
    qa_text          TEXT     NOT NULL DEFAULT '',
    transcript       TEXT     NOT NULL DEFAULT '',
    audio_blob       BLOB,
    manual_pdf       BLOB
);

CREATE INDEX IF NOT EXISTS idx_submissions_entry_datetime
    ON submissions (entry_datetime DESC);
`

// Store is the SQLite-backed submission store. Safe for concurrent use; WAL
// mode and a busy timeout let readers proceed alongside the single writer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert implements [submission.Store]. One INSERT OR IGNORE statement, so
// the whole record including the blobs lands atomically and re-inserting an
// already-stored submission ID is a no-op success.
func (s *Store) Insert(ctx context.Context, rec *submission.Record) error {
	const q = `
		INSERT OR IGNORE INTO submissions
		    (submission_id, user_name, role, entry_datetime,
		     manufacturer, equipment_type, model, specifications2, specifications3,
		     notes, num_questions, num_answers, points_awarded,
		     qa_text, transcript, audio_blob, manual_pdf)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		rec.SubmissionID.String(),
		rec.UserName,
		rec.Role,
		rec.EntryDateTime.UTC().Format(time.RFC3339Nano),
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
		       qa_text, transcript, audio_blob, manual_pdf
		FROM   submissions
		WHERE  submission_id = ?`

	var (
		rec     submission.Record
		rawID   string
		rawTime string
	)
	err := s.db.QueryRowContext(ctx, q, id.String()).Scan(
		&rawID,
		&rec.UserName,
		&rec.Role,
		&rawTime,
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
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", submission.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get submission: %w", err)
	}
	if rec.SubmissionID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("sqlite: stored submission id %q: %w", rawID, err)
	}
	if rec.EntryDateTime, err = time.Parse(time.RFC3339Nano, rawTime); err != nil {
		return nil, fmt.Errorf("sqlite: stored entry time %q: %w", rawTime, err)
	}
	return &rec, nil
}

// summaryColumns is the SELECT list shared by List and Search. Blob payloads
// stay in the database; only their sizes travel.
const summaryColumns = `
		submission_id, user_name, role, entry_datetime,
		manufacturer, equipment_type, model,
		num_questions, num_answers, points_awarded,
		COALESCE(length(audio_blob), 0),
		COALESCE(length(manual_pdf), 0)`

// List implements [submission.Store].
func (s *Store) List(ctx context.Context, limit int) ([]submission.Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := `
		SELECT ` + summaryColumns + `
		FROM   submissions
		ORDER  BY entry_datetime DESC
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list submissions: %w", err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// Search implements [submission.Store]. SQLite's LIKE is case-insensitive
// for ASCII, matching the Postgres store's ILIKE behaviour.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]submission.Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := `
		SELECT ` + summaryColumns + `
		FROM   submissions
		WHERE  qa_text    LIKE '%' || ? || '%'
		   OR  transcript LIKE '%' || ? || '%'
		   OR  notes      LIKE '%' || ? || '%'
		ORDER  BY entry_datetime DESC
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, query, query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search submissions: %w", err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// SearchSimilar implements [submission.Store]. SQLite has no vector index,
// so the similarity mode is unavailable on this backend.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, k int) ([]submission.Summary, error) {
	return nil, fmt.Errorf("%w: sqlite backend", submission.ErrSimilarityUnsupported)
}

// Ping implements [submission.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [submission.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

// collectSummaries scans summary rows.
func collectSummaries(rows *sql.Rows) ([]submission.Summary, error) {
	sums := []submission.Summary{}
	for rows.Next() {
		var (
			sum     submission.Summary
			rawID   string
			rawTime string
		)
		if err := rows.Scan(
			&rawID,
			&sum.UserName,
			&sum.Role,
			&rawTime,
			&sum.Manufacturer,
			&sum.EquipmentType,
			&sum.Model,
			&sum.NumQuestions,
			&sum.NumAnswers,
			&sum.PointsAwarded,
			&sum.AudioBytes,
			&sum.ManualBytes,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan summary: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: stored submission id %q: %w", rawID, err)
		}
		sum.SubmissionID = id
		if sum.EntryDateTime, err = time.Parse(time.RFC3339Nano, rawTime); err != nil {
			return nil, fmt.Errorf("sqlite: stored entry time %q: %w", rawTime, err)
		}
		sums = append(sums, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate rows: %w", err)
	}
	return sums, nil
}
