// Package storetest provides an in-memory test double for the
// submission.Store interface.
//
// The Store keeps inserted records in a map keyed by submission ID, mirrors
// the duplicate suppression of the real stores (re-inserting a known ID is a
// no-op success), and supports scripting insert failures to exercise the
// engine's persist rollback.
//
// Example:
//
//	st := storetest.New()
//	st.ScriptInsert(fmt.Errorf("%w: connection reset", submission.ErrStoreFailed))
//	// first Insert fails, later ones succeed
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vdrs/dykscribe/internal/submission"
)

// Store is an in-memory implementation of submission.Store.
type Store struct {
	mu sync.Mutex

	// insertScript holds errors returned by successive Insert calls, consumed
	// front to back. A nil entry (or an exhausted script) means success.
	insertScript []error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	records map[uuid.UUID]*submission.Record
	order   []uuid.UUID

	insertCalls int
	closed      bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[uuid.UUID]*submission.Record)}
}

// ScriptInsert queues errors for the next Insert calls. A nil entry scripts a
// success, letting a test express fail-then-succeed sequences.
func (s *Store) ScriptInsert(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertScript = append(s.insertScript, errs...)
}

// InsertCount returns the number of Insert calls, including failed and
// duplicate-suppressed ones.
func (s *Store) InsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Insert stores rec unless a scripted error is pending. Re-inserting an
// already-stored submission ID is a no-op success, like the real stores.
func (s *Store) Insert(ctx context.Context, rec *submission.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertCalls++
	if len(s.insertScript) > 0 {
		next := s.insertScript[0]
		s.insertScript = s.insertScript[1:]
		if next != nil {
			return next
		}
	}

	if _, dup := s.records[rec.SubmissionID]; dup {
		return nil
	}
	cp := *rec
	s.records[rec.SubmissionID] = &cp
	s.order = append(s.order, rec.SubmissionID)
	return nil
}

// Get returns the stored record for id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*submission.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, submission.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List returns summaries of the stored records, newest insertion first.
func (s *Store) List(ctx context.Context, limit int) ([]submission.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(limit, func(*submission.Record) bool { return true }), nil
}

// Search returns summaries of records whose Q&A text, transcript or notes
// contain query, case-insensitively.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]submission.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(limit, func(rec *submission.Record) bool {
		return strings.Contains(strings.ToLower(rec.QAText), q) ||
			strings.Contains(strings.ToLower(rec.Transcript), q) ||
			strings.Contains(strings.ToLower(rec.Notes), q)
	}), nil
}

// SearchSimilar ranks records carrying an embedding by dot product against
// the query vector and returns the top k.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, k int) ([]submission.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		sum   submission.Summary
		score float64
	}
	var hits []scored
	for _, id := range s.order {
		rec := s.records[id]
		if len(rec.Embedding) == 0 || len(rec.Embedding) != len(embedding) {
			continue
		}
		var dot float64
		for i, v := range embedding {
			dot += float64(v) * float64(rec.Embedding[i])
		}
		hits = append(hits, scored{sum: summarize(rec), score: dot})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	out := make([]submission.Summary, len(hits))
	for i, h := range hits {
		out[i] = h.sum
	}
	return out, nil
}

// Ping returns PingErr.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close marks the store closed. It never fails.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// collect walks the insertion order backwards and gathers summaries of
// matching records up to limit. Callers must hold s.mu.
func (s *Store) collect(limit int, match func(*submission.Record) bool) []submission.Summary {
	var out []submission.Summary
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if !match(rec) {
			continue
		}
		out = append(out, summarize(rec))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func summarize(rec *submission.Record) submission.Summary {
	return submission.Summary{
		SubmissionID:  rec.SubmissionID,
		UserName:      rec.UserName,
		Role:          rec.Role,
		EntryDateTime: rec.EntryDateTime,
		Manufacturer:  rec.Manufacturer,
		EquipmentType: rec.EquipmentType,
		Model:         rec.Model,
		NumQuestions:  rec.NumQuestions,
		NumAnswers:    rec.NumAnswers,
		PointsAwarded: rec.PointsAwarded,
		AudioBytes:    int64(len(rec.AudioBlob)),
		ManualBytes:   int64(len(rec.ManualPDF)),
	}
}

// Ensure Store implements submission.Store at compile time.
var _ submission.Store = (*Store)(nil)
