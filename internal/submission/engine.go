// Package submission implements the reconciliation engine that turns raw
// technician input into a scored, persisted Q&A record.
//
// The engine is an explicit state machine over a [Draft]: input mutators
// collect and validate form data, Submit runs the processing pipeline
// (transcription for recordings, then language-model structuring into Q:/A:
// lines, marker counting and scoring), and Persist writes the finalized
// record through a [Store] in one atomic insert. Failures never move a draft
// forward: a processing failure rolls back to collecting with all entered
// input intact, a store failure rolls back to finalized so only the insert is
// retried.
//
// Exactly one of a validated recording or typed text in structured Q&A form
// may drive a submission; the guard surfaces an [ExclusivityError] as
// guidance instead of processing an ambiguous draft.
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vdrs/dykscribe/internal/observe"
	"github.com/vdrs/dykscribe/internal/structuring"
	"github.com/vdrs/dykscribe/internal/validate"
	"github.com/vdrs/dykscribe/pkg/provider/embeddings"
)

// Transcriber converts one complete recording into plain text. It is
// implemented by [github.com/vdrs/dykscribe/internal/speech.Client], which
// owns retry, fallback and vocabulary correction; the engine treats the call
// as a single attempt.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Structurer reshapes source text into structured Q:/A: lines. It is
// implemented by [github.com/vdrs/dykscribe/internal/structuring.Client].
type Structurer interface {
	Structure(ctx context.Context, sourceText string, mode structuring.Mode) (string, error)
}

// Option configures an [Engine].
type Option func(*Engine)

// WithTranscriber attaches the transcription client used on the audio path.
// Without one, submitting a draft that carries audio fails with
// [ErrNoTranscriber].
func WithTranscriber(t Transcriber) Option {
	return func(e *Engine) {
		e.transcriber = t
	}
}

// WithEmbedder enables best-effort embedding of the structured Q&A text
// before each insert. Embedding failures are logged and the record is stored
// without a vector; they never fail a persist.
func WithEmbedder(p embeddings.Provider) Option {
	return func(e *Engine) {
		e.embedder = p
	}
}

// WithTransitionHook installs fn to be called synchronously after every state
// change, including rollbacks. The hook runs on the calling goroutine while
// the session still holds its draft, so it must not block.
func WithTransitionHook(fn func(Transition)) Option {
	return func(e *Engine) {
		e.hook = fn
	}
}

// WithMetrics attaches metric instruments for pipeline stage durations and
// submission counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides the time source used for draft and transition
// timestamps. Tests inject a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine drives drafts through the submission lifecycle. One Engine instance
// serves all sessions of a process; it keeps no per-draft state of its own
// and is safe for concurrent use as long as each individual draft is accessed
// by one goroutine at a time.
type Engine struct {
	transcriber Transcriber
	structurer  Structurer
	store       Store
	embedder    embeddings.Provider

	hook    func(Transition)
	metrics *observe.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine constructs an Engine over the given structuring client and store.
// The transcription client is optional ([WithTranscriber]); a typed-text-only
// deployment can run without one.
func NewEngine(structurer Structurer, store Store, opts ...Option) (*Engine, error) {
	if structurer == nil {
		return nil, fmt.Errorf("submission: structurer must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("submission: store must not be nil")
	}
	e := &Engine{
		structurer: structurer,
		store:      store,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewDraft returns a fresh Idle draft stamped with the current time.
func (e *Engine) NewDraft() *Draft {
	return &Draft{
		id:        uuid.NewString(),
		state:     StateIdle,
		enteredAt: e.now(),
	}
}

// ─── Input mutators ──────────────────────────────────────────────────────────

// SetIdentity records the submitting technician. The catalog-backed check
// that the user exists and the role matches happens in the presentation
// layer; the engine stores what it is given.
func (e *Engine) SetIdentity(d *Draft, userName, role string) error {
	if err := e.editGuard(d, "set identity"); err != nil {
		return err
	}
	e.markEdited(d)
	d.UserName = userName
	d.Role = role
	return nil
}

// SetSelection records the equipment metadata chosen from the catalog.
func (e *Engine) SetSelection(d *Draft, sel Selection) error {
	if err := e.editGuard(d, "set selection"); err != nil {
		return err
	}
	e.markEdited(d)
	d.Selection = sel
	return nil
}

// SetNotes records the free-form notes field.
func (e *Engine) SetNotes(d *Draft, notes string) error {
	if err := e.editGuard(d, "set notes"); err != nil {
		return err
	}
	e.markEdited(d)
	d.Notes = notes
	return nil
}

// SetAudio validates and attaches a recording, replacing any previous one.
// A stale transcript from earlier audio is discarded. A rejected upload
// changes nothing, not even the draft's state.
func (e *Engine) SetAudio(d *Draft, data []byte, filename string) error {
	if err := e.editGuard(d, "set audio"); err != nil {
		return err
	}
	if err := validate.Audio(data); err != nil {
		return err
	}
	e.markEdited(d)
	d.Audio = data
	d.AudioFilename = filename
	d.Transcript = ""
	return nil
}

// ClearAudio detaches the recording and its transcript.
func (e *Engine) ClearAudio(d *Draft) error {
	if err := e.editGuard(d, "clear audio"); err != nil {
		return err
	}
	e.markEdited(d)
	d.Audio = nil
	d.AudioFilename = ""
	d.Transcript = ""
	return nil
}

// SetManual validates and attaches an equipment manual PDF.
func (e *Engine) SetManual(d *Draft, data []byte) error {
	if err := e.editGuard(d, "set manual"); err != nil {
		return err
	}
	if err := validate.Manual(data); err != nil {
		return err
	}
	e.markEdited(d)
	d.Manual = data
	return nil
}

// ClearManual detaches the manual PDF.
func (e *Engine) ClearManual(d *Draft) error {
	if err := e.editGuard(d, "clear manual"); err != nil {
		return err
	}
	e.markEdited(d)
	d.Manual = nil
	return nil
}

// SetTypedQA records the typed answer text verbatim. Whether it passes the
// structured Q&A check is decided at submit time, so a technician can save
// half-typed text without being rejected. An empty string clears the channel.
func (e *Engine) SetTypedQA(d *Draft, text string) error {
	if err := e.editGuard(d, "set typed text"); err != nil {
		return err
	}
	e.markEdited(d)
	d.TypedQA = text
	return nil
}

// editGuard rejects mutators outside the editable states. It changes
// nothing; markEdited performs the associated transitions once the new value
// has also passed validation.
func (e *Engine) editGuard(d *Draft, op string) error {
	switch d.state {
	case StateIdle, StateCollecting, StateFinalized:
		return nil
	default:
		return &StateError{Op: op, State: d.state}
	}
}

// markEdited moves an Idle draft into collecting on its first edit, and
// rolls a finalized draft back to collecting: its results describe input
// that is about to change, so they are discarded along with the assigned
// submission ID.
func (e *Engine) markEdited(d *Draft) {
	switch d.state {
	case StateIdle:
		e.transition(d, StateCollecting, "")
	case StateFinalized:
		d.clearResults()
		e.transition(d, StateCollecting, "draft edited after finalize")
	}
}

// ─── Submit ──────────────────────────────────────────────────────────────────

// CanSubmit reports whether the draft satisfies the mutual-exclusivity guard.
// The presentation layer uses it to enable the submit action.
func (e *Engine) CanSubmit(d *Draft) bool {
	return e.exclusivity(d) == nil
}

// exclusivity returns nil when exactly one input channel is ready: a
// validated recording, or typed text that passes the structured Q&A check.
func (e *Engine) exclusivity(d *Draft) *ExclusivityError {
	hasAudio := d.HasAudio()
	hasTyped := validate.IsStructuredQA(d.TypedQA)
	if hasAudio != hasTyped {
		return nil
	}
	return &ExclusivityError{HasAudio: hasAudio, HasTyped: hasTyped}
}

// Submit runs the processing pipeline on the draft's authoritative input
// channel and finalizes the draft with structured text, marker counts, the
// derived score and a fresh submission ID.
//
// The audio path transcribes first, then structures the transcript; the
// typed path structures the typed text directly. Marker counting treats each
// line-start question marker as one point regardless of whether a matching
// answer exists.
//
// On any failure the draft rolls back to CollectingInput with all entered
// input intact and the failure summary recorded; a transcript that was
// already produced before a structuring failure is kept, so the retry only
// repeats the structuring call.
func (e *Engine) Submit(ctx context.Context, d *Draft) error {
	switch d.state {
	case StateIdle, StateCollecting:
	default:
		return &StateError{Op: "submit", State: d.state}
	}
	if exc := e.exclusivity(d); exc != nil {
		return exc
	}

	e.transition(d, StateProcessing, "")

	var source string
	var mode structuring.Mode
	path := "typed"

	if d.HasAudio() {
		path = "audio"
		mode = structuring.ModeFromTranscript
		if d.Transcript == "" {
			text, err := e.transcribe(ctx, d)
			if err != nil {
				e.fail(d, StateCollecting, err)
				e.recordSubmission(ctx, path, "error")
				return err
			}
			d.Transcript = text
		}
		source = d.Transcript
	} else {
		mode = structuring.ModeFromTypedText
		source = d.TypedQA
		d.Transcript = ""
	}

	qa, err := e.structure(ctx, source, mode)
	if err != nil {
		e.fail(d, StateCollecting, err)
		e.recordSubmission(ctx, path, "error")
		return err
	}

	d.QAText = qa
	d.NumQuestions, d.NumAnswers = validate.CountMarkers(qa)
	d.Score = d.NumQuestions
	d.SubmissionID = uuid.New()
	d.LastError = ""
	e.transition(d, StateFinalized, "")
	e.recordSubmission(ctx, path, "ok")

	observe.Logger(ctx).Info("submission finalized",
		slog.String("draft_id", d.id),
		slog.String("submission_id", d.SubmissionID.String()),
		slog.String("path", path),
		slog.Int("questions", d.NumQuestions),
		slog.Int("answers", d.NumAnswers),
		slog.Int("score", d.Score))
	return nil
}

// transcribe runs the transcription stage with a span and a duration metric.
func (e *Engine) transcribe(ctx context.Context, d *Draft) (string, error) {
	if e.transcriber == nil {
		return "", ErrNoTranscriber
	}
	ctx, span := observe.StartSpan(ctx, "submission.transcribe")
	defer span.End()

	start := time.Now()
	text, err := e.transcriber.Transcribe(ctx, d.Audio, d.AudioFilename)
	e.metrics.ObserveTranscription(ctx, time.Since(start), status(err))
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return text, nil
}

// structure runs the structuring stage with a span and a duration metric.
func (e *Engine) structure(ctx context.Context, source string, mode structuring.Mode) (string, error) {
	ctx, span := observe.StartSpan(ctx, "submission.structure")
	defer span.End()

	start := time.Now()
	qa, err := e.structurer.Structure(ctx, source, mode)
	e.metrics.ObserveStructuring(ctx, time.Since(start), status(err))
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return qa, nil
}

// ─── Persist ─────────────────────────────────────────────────────────────────

// Persist writes the finalized draft through the store in one atomic insert
// and, on success, returns a fresh Idle draft for the session to adopt. The
// submission ID assigned at finalization makes a repeated insert of the same
// draft a no-op in the store.
//
// On a store failure the draft rolls back to Finalized: the processing
// results are kept and only the insert needs to be retried.
func (e *Engine) Persist(ctx context.Context, d *Draft) (*Draft, error) {
	if d.state != StateFinalized {
		return nil, &StateError{Op: "persist", State: d.state}
	}

	e.transition(d, StatePersisting, "")

	ctx, span := observe.StartSpan(ctx, "submission.persist")
	defer span.End()

	rec := e.record(d)
	e.embed(ctx, rec)

	start := time.Now()
	err := e.store.Insert(ctx, rec)
	e.metrics.ObservePersist(ctx, time.Since(start), status(err))
	if err != nil {
		span.RecordError(err)
		e.fail(d, StateFinalized, err)
		return nil, err
	}

	d.LastError = ""
	e.transition(d, StatePersisted, "")

	observe.Logger(ctx).Info("submission persisted",
		slog.String("submission_id", rec.SubmissionID.String()),
		slog.String("user", rec.UserName),
		slog.Int("score", rec.PointsAwarded),
		slog.Int("audio_bytes", len(rec.AudioBlob)),
		slog.Int("manual_bytes", len(rec.ManualPDF)))
	return e.NewDraft(), nil
}

// record flattens the draft into the store schema.
func (e *Engine) record(d *Draft) *Record {
	return &Record{
		SubmissionID:    d.SubmissionID,
		UserName:        d.UserName,
		Role:            d.Role,
		EntryDateTime:   d.enteredAt,
		Manufacturer:    d.Selection.Manufacturer,
		EquipmentType:   d.Selection.EquipmentType,
		Model:           d.Selection.Model,
		Specifications2: d.Selection.Specifications2,
		Specifications3: d.Selection.Specifications3,
		Notes:           d.Notes,
		NumQuestions:    d.NumQuestions,
		NumAnswers:      d.NumAnswers,
		PointsAwarded:   d.Score,
		QAText:          d.QAText,
		Transcript:      d.Transcript,
		AudioBlob:       d.Audio,
		ManualPDF:       d.Manual,
	}
}

// embed computes the Q&A embedding when a provider is configured. A failure
// only costs the vector, never the persist.
func (e *Engine) embed(ctx context.Context, rec *Record) {
	if e.embedder == nil || rec.QAText == "" {
		return
	}
	start := time.Now()
	vec, err := e.embedder.Embed(ctx, rec.QAText)
	e.metrics.ObserveEmbedding(ctx, time.Since(start), status(err))
	if err != nil {
		observe.Logger(ctx).Warn("embedding failed, storing record without vector",
			slog.String("submission_id", rec.SubmissionID.String()),
			slog.String("model", e.embedder.ModelID()),
			slog.String("error", err.Error()))
		return
	}
	rec.Embedding = vec
}

// ─── State plumbing ──────────────────────────────────────────────────────────

// transition moves the draft to the new state and publishes the change.
func (e *Engine) transition(d *Draft, to State, reason string) {
	from := d.state
	d.state = to
	e.metrics.RecordTransition(context.Background(), from.String(), to.String())
	if e.hook != nil {
		e.hook(Transition{
			DraftID: d.id,
			From:    from,
			To:      to,
			Reason:  reason,
			At:      e.now(),
		})
	}
}

// fail records the failure on the draft and rolls it back to the given state.
func (e *Engine) fail(d *Draft, to State, err error) {
	d.LastError = err.Error()
	e.transition(d, to, err.Error())
}

// clearResults drops everything Submit produced. The transcript is kept;
// SetAudio and ClearAudio own its lifetime.
func (d *Draft) clearResults() {
	d.QAText = ""
	d.NumQuestions = 0
	d.NumAnswers = 0
	d.Score = 0
	d.SubmissionID = uuid.Nil
}

// recordSubmission increments the submissions counter for one pipeline run.
func (e *Engine) recordSubmission(ctx context.Context, path, outcome string) {
	e.metrics.RecordSubmission(ctx, path, outcome)
}

// status maps an error to the metric status attribute value.
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
