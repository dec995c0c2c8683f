package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/vdrs/dykscribe/internal/api"
	"github.com/vdrs/dykscribe/internal/validate"
	"github.com/vdrs/dykscribe/pkg/provider/llm"
	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

func sessionPath(s sessionJSON, suffix string) string {
	return "/api/v1/sessions/" + s.SessionID + suffix
}

// ---- draft patches ----

func TestPatchDraft_IdentityFromCatalog(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"),
		map[string]any{"user_name": "jkramer"})
	wantStatus(t, rec, http.StatusOK)

	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.UserName != "jkramer" {
		t.Errorf("user_name = %q", got.Draft.UserName)
	}
	if got.Draft.Role != "technician" {
		t.Errorf("role = %q, want the catalog row's role", got.Draft.Role)
	}
	if got.Draft.State != "collecting_input" {
		t.Errorf("state = %q, want collecting_input", got.Draft.State)
	}
}

func TestPatchDraft_UnknownUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"),
		map[string]any{"user_name": "nobody"})
	wantErrorCode(t, rec, http.StatusUnprocessableEntity, "unknown_user")

	// The draft is untouched.
	rec = e.do(t, http.MethodGet, sessionPath(s, ""), nil)
	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.UserName != "" || got.Draft.State != "idle" {
		t.Errorf("draft after rejected patch: user %q state %q", got.Draft.UserName, got.Draft.State)
	}
}

func TestPatchDraft_SelectionFillsDefaultSpecs(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{
		"selection": map[string]any{
			"manufacturer":   "Dräger",
			"equipment_type": "Ventilator",
			"model":          "Evita V800",
		},
	})
	wantStatus(t, rec, http.StatusOK)

	var got sessionJSON
	decodeJSON(t, rec, &got)
	sel := got.Draft.Selection
	if sel.Specifications2 != "230V" || sel.Specifications3 != "Software 2.1" {
		t.Errorf("default specs = %q/%q, want 230V/Software 2.1",
			sel.Specifications2, sel.Specifications3)
	}
}

func TestPatchDraft_SelectionKeepsExplicitSpecs(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{
		"selection": map[string]any{
			"manufacturer":    "Dräger",
			"equipment_type":  "Ventilator",
			"model":           "Evita V800",
			"specifications2": "110V",
		},
	})
	wantStatus(t, rec, http.StatusOK)

	var got sessionJSON
	decodeJSON(t, rec, &got)
	sel := got.Draft.Selection
	if sel.Specifications2 != "110V" {
		t.Errorf("specifications2 = %q, explicit value must win", sel.Specifications2)
	}
	if sel.Specifications3 != "" {
		t.Errorf("specifications3 = %q, defaults only fill a fully empty pair", sel.Specifications3)
	}
}

func TestPatchDraft_SelectionCascade(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	tests := []struct {
		name string
		sel  map[string]any
	}{
		{"model without manufacturer", map[string]any{"model": "Evita V800"}},
		{"unknown manufacturer", map[string]any{"manufacturer": "Acme"}},
		{"equipment type under wrong manufacturer", map[string]any{
			"manufacturer": "B. Braun", "equipment_type": "Ventilator"}},
		{"model without equipment type", map[string]any{
			"manufacturer": "Dräger", "model": "Evita V800"}},
		{"unknown model", map[string]any{
			"manufacturer": "Dräger", "equipment_type": "Ventilator", "model": "Evita 9000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.createSession(t)
			rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"),
				map[string]any{"selection": tt.sel})
			wantErrorCode(t, rec, http.StatusUnprocessableEntity, "invalid_selection")
		})
	}
}

func TestPatchDraft_MalformedBody(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	req := httptest.NewRequest(http.MethodPatch, sessionPath(s, "/draft"),
		strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	wantErrorCode(t, rec, http.StatusBadRequest, "bad_request")
}

// ---- uploads ----

func TestUploadAudio_RoundTrip(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.upload(t, sessionPath(s, "/audio"), "audio", "visit.wav", validAudio())
	wantStatus(t, rec, http.StatusOK)

	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.AudioBytes != validate.MinAudioBytes {
		t.Errorf("audio_bytes = %d, want %d", got.Draft.AudioBytes, validate.MinAudioBytes)
	}
	if got.Draft.AudioFilename != "visit.wav" {
		t.Errorf("audio_filename = %q", got.Draft.AudioFilename)
	}
	if !got.Draft.CanSubmit {
		t.Error("draft with a recording should be submittable")
	}

	rec = e.do(t, http.MethodDelete, sessionPath(s, "/audio"), nil)
	wantStatus(t, rec, http.StatusOK)
	got = sessionJSON{}
	decodeJSON(t, rec, &got)
	if got.Draft.AudioBytes != 0 || got.Draft.AudioFilename != "" {
		t.Errorf("after removal: %d bytes, filename %q",
			got.Draft.AudioBytes, got.Draft.AudioFilename)
	}
	if got.Draft.CanSubmit {
		t.Error("empty draft reports can_submit after audio removal")
	}
}

func TestUploadAudio_FilenameFollowsSniffedFormat(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	// An Ogg container uploaded under a stale .wav name; the stored filename
	// follows the actual bytes so providers pick the right decoder.
	ogg := append([]byte("OggS\x00\x02"), bytes.Repeat([]byte{0x2a}, validate.MinAudioBytes)...)
	rec := e.upload(t, sessionPath(s, "/audio"), "audio", "visit.wav", ogg)
	wantStatus(t, rec, http.StatusOK)

	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.AudioFilename != "visit.ogg" {
		t.Errorf("audio_filename = %q, want %q", got.Draft.AudioFilename, "visit.ogg")
	}
}

func TestUploadAudio_RejectedByValidator(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.upload(t, sessionPath(s, "/audio"), "audio", "clip.wav", []byte("tiny"))
	wantErrorCode(t, rec, http.StatusUnprocessableEntity, "validation_error")

	var body errorJSON
	decodeJSON(t, rec, &body)
	var details struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body.Error.Details, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if details.Field != "audio" || details.Reason != "too_short" {
		t.Errorf("details = %+v", details)
	}
}

func TestUploadAudio_TransportCap(t *testing.T) {
	t.Parallel()
	e := newEnv(t, api.WithLimits(api.Limits{MaxAudioBytes: 2048, MaxManualBytes: 4096}))
	s := e.createSession(t)

	rec := e.upload(t, sessionPath(s, "/audio"), "audio", "visit.wav", make([]byte, 8192))
	wantErrorCode(t, rec, http.StatusRequestEntityTooLarge, "too_large")
}

func TestUploadAudio_MissingFilePart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.upload(t, sessionPath(s, "/audio"), "attachment", "visit.wav", validAudio())
	wantErrorCode(t, rec, http.StatusBadRequest, "bad_request")
}

func TestUploadAudio_NotMultipart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodPost, sessionPath(s, "/audio"), map[string]any{"audio": "zzz"})
	wantErrorCode(t, rec, http.StatusBadRequest, "bad_request")
}

func TestUploadManual_RoundTrip(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	manual := validManual()
	rec := e.upload(t, sessionPath(s, "/manual"), "manual", "evita-v800.pdf", manual)
	wantStatus(t, rec, http.StatusOK)

	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.ManualBytes != len(manual) {
		t.Errorf("manual_bytes = %d, want %d", got.Draft.ManualBytes, len(manual))
	}

	rec = e.do(t, http.MethodDelete, sessionPath(s, "/manual"), nil)
	wantStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec, &got)
	if got.Draft.ManualBytes != 0 {
		t.Errorf("manual_bytes = %d after removal", got.Draft.ManualBytes)
	}
}

func TestUploadManual_NotAPDF(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.upload(t, sessionPath(s, "/manual"), "manual", "notes.txt", []byte("plain text, no signature"))
	wantErrorCode(t, rec, http.StatusUnprocessableEntity, "validation_error")
}

// ---- processing and persistence ----

func TestTypedSubmissionFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.Response = &llm.CompletionResponse{Content: structuredReply}
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{
		"user_name": "jkramer",
		"notes":     "routine maintenance visit",
		"typed_qa":  typedQA,
		"selection": map[string]any{
			"manufacturer":   "Dräger",
			"equipment_type": "Ventilator",
			"model":          "Evita V800",
		},
	})
	wantStatus(t, rec, http.StatusOK)
	var patched sessionJSON
	decodeJSON(t, rec, &patched)
	if !patched.Draft.CanSubmit {
		t.Fatal("typed draft should be submittable")
	}

	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantStatus(t, rec, http.StatusOK)
	var processed sessionJSON
	decodeJSON(t, rec, &processed)
	if processed.Draft.State != "finalized" {
		t.Fatalf("state = %q, want finalized", processed.Draft.State)
	}
	if processed.Draft.QAText != structuredReply {
		t.Errorf("qa_text = %q", processed.Draft.QAText)
	}
	if processed.Draft.NumQuestions != 1 || processed.Draft.NumAnswers != 1 || processed.Draft.Score != 1 {
		t.Errorf("counts = %d/%d score %d, want 1/1 score 1",
			processed.Draft.NumQuestions, processed.Draft.NumAnswers, processed.Draft.Score)
	}
	if processed.Draft.SubmissionID == "" {
		t.Fatal("finalized draft has no submission_id")
	}
	if processed.Draft.Transcript != "" {
		t.Errorf("typed path produced a transcript: %q", processed.Draft.Transcript)
	}

	rec = e.do(t, http.MethodPost, sessionPath(s, "/persist"), nil)
	wantStatus(t, rec, http.StatusOK)
	var persisted persistJSON
	decodeJSON(t, rec, &persisted)
	if persisted.Receipt.SubmissionID != processed.Draft.SubmissionID {
		t.Errorf("receipt submission_id = %q, want %q",
			persisted.Receipt.SubmissionID, processed.Draft.SubmissionID)
	}
	if persisted.Receipt.Score != 1 {
		t.Errorf("receipt score = %d", persisted.Receipt.Score)
	}
	if persisted.Draft.State != "idle" {
		t.Errorf("post-persist draft state = %q, want idle", persisted.Draft.State)
	}
	if persisted.Draft.DraftID == processed.Draft.DraftID {
		t.Error("persist did not hand the session a fresh draft")
	}

	if e.store.Len() != 1 {
		t.Fatalf("store holds %d records, want 1", e.store.Len())
	}
	id, err := uuid.Parse(persisted.Receipt.SubmissionID)
	if err != nil {
		t.Fatalf("receipt submission_id %q: %v", persisted.Receipt.SubmissionID, err)
	}
	stored, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("stored record: %v", err)
	}
	if stored.UserName != "jkramer" || stored.Role != "technician" {
		t.Errorf("stored identity = %q/%q", stored.UserName, stored.Role)
	}
	if stored.QAText != structuredReply || stored.PointsAwarded != 1 {
		t.Errorf("stored qa = %q points %d", stored.QAText, stored.PointsAwarded)
	}
	if stored.Specifications2 != "230V" {
		t.Errorf("stored specifications2 = %q, want the default fill", stored.Specifications2)
	}

	// The session keeps working on the fresh draft.
	rec = e.do(t, http.MethodGet, sessionPath(s, ""), nil)
	wantStatus(t, rec, http.StatusOK)
	var after sessionJSON
	decodeJSON(t, rec, &after)
	if after.Draft.State != "idle" || after.Draft.DraftID != persisted.Draft.DraftID {
		t.Errorf("session draft after persist: state %q id %q", after.Draft.State, after.Draft.DraftID)
	}
}

func TestAudioSubmissionFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.stt.Result = &stt.Result{Text: "spoken service notes", Language: "en"}
	e.llm.Response = &llm.CompletionResponse{Content: structuredReply}
	s := e.createSession(t)

	rec := e.upload(t, sessionPath(s, "/audio"), "audio", "visit.wav", validAudio())
	wantStatus(t, rec, http.StatusOK)

	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantStatus(t, rec, http.StatusOK)
	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.State != "finalized" {
		t.Fatalf("state = %q, want finalized", got.Draft.State)
	}
	if got.Draft.Transcript != "spoken service notes" {
		t.Errorf("transcript = %q", got.Draft.Transcript)
	}
	if got.Draft.QAText != structuredReply {
		t.Errorf("qa_text = %q", got.Draft.QAText)
	}
	if n := len(e.stt.TranscribeCalls); n != 1 {
		t.Errorf("transcription called %d times, want 1", n)
	}
}

func TestProcessDraft_EmptyDraft(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantErrorCode(t, rec, http.StatusUnprocessableEntity, "input_exclusivity")
}

func TestProcessDraft_BothChannels(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.upload(t, sessionPath(s, "/audio"), "audio", "visit.wav", validAudio())
	wantStatus(t, rec, http.StatusOK)
	rec = e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{"typed_qa": typedQA})
	wantStatus(t, rec, http.StatusOK)

	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantErrorCode(t, rec, http.StatusUnprocessableEntity, "input_exclusivity")

	var body errorJSON
	decodeJSON(t, rec, &body)
	var details struct {
		HasAudio bool `json:"has_audio"`
		HasTyped bool `json:"has_typed"`
	}
	if err := json.Unmarshal(body.Error.Details, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if !details.HasAudio || !details.HasTyped {
		t.Errorf("details = %+v, want both channels flagged", details)
	}
}

func TestProcessDraft_StructuringFailureRollsBack(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.Err = errors.New("model overloaded")
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{"typed_qa": typedQA})
	wantStatus(t, rec, http.StatusOK)

	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantErrorCode(t, rec, http.StatusBadGateway, "structuring_failed")

	rec = e.do(t, http.MethodGet, sessionPath(s, ""), nil)
	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.State != "collecting_input" {
		t.Errorf("state = %q, want collecting_input after rollback", got.Draft.State)
	}
	if got.Draft.TypedQA != typedQA {
		t.Error("rollback lost the typed text")
	}
	if got.Draft.LastError == "" {
		t.Error("rollback recorded no failure summary")
	}
}

func TestPatchDraft_AfterFinalizeClearsResults(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.Response = &llm.CompletionResponse{Content: structuredReply}
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{"typed_qa": typedQA})
	wantStatus(t, rec, http.StatusOK)
	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantStatus(t, rec, http.StatusOK)

	rec = e.do(t, http.MethodPatch, sessionPath(s, "/draft"),
		map[string]any{"notes": "corrected visit notes"})
	wantStatus(t, rec, http.StatusOK)

	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.State != "collecting_input" {
		t.Errorf("state = %q, want collecting_input after an edit", got.Draft.State)
	}
	if got.Draft.QAText != "" || got.Draft.SubmissionID != "" {
		t.Errorf("edit kept stale results: qa %q id %q", got.Draft.QAText, got.Draft.SubmissionID)
	}
	if got.Draft.TypedQA != typedQA {
		t.Error("edit lost the typed input")
	}
}

func TestPersistDraft_BeforeFinalize(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodPost, sessionPath(s, "/persist"), nil)
	wantErrorCode(t, rec, http.StatusConflict, "state_conflict")
}

func TestPersistDraft_StoreFailureRetried(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.llm.Response = &llm.CompletionResponse{Content: structuredReply}
	e.store.ScriptInsert(fmt.Errorf("%w: connection reset", submission.ErrStoreFailed))
	s := e.createSession(t)

	rec := e.do(t, http.MethodPatch, sessionPath(s, "/draft"), map[string]any{"typed_qa": typedQA})
	wantStatus(t, rec, http.StatusOK)
	rec = e.do(t, http.MethodPost, sessionPath(s, "/process"), nil)
	wantStatus(t, rec, http.StatusOK)

	rec = e.do(t, http.MethodPost, sessionPath(s, "/persist"), nil)
	wantErrorCode(t, rec, http.StatusServiceUnavailable, "store_failed")

	// The draft stays finalized, so the client can simply retry.
	rec = e.do(t, http.MethodGet, sessionPath(s, ""), nil)
	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.State != "finalized" {
		t.Fatalf("state = %q, want finalized after a store failure", got.Draft.State)
	}

	rec = e.do(t, http.MethodPost, sessionPath(s, "/persist"), nil)
	wantStatus(t, rec, http.StatusOK)
	if e.store.Len() != 1 {
		t.Errorf("store holds %d records after retry, want 1", e.store.Len())
	}
}
