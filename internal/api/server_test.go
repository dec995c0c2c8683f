package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vdrs/dykscribe/internal/api"
	"github.com/vdrs/dykscribe/internal/catalog"
	"github.com/vdrs/dykscribe/internal/resilience"
	"github.com/vdrs/dykscribe/internal/speech"
	"github.com/vdrs/dykscribe/internal/store/storetest"
	"github.com/vdrs/dykscribe/internal/structuring"
	"github.com/vdrs/dykscribe/internal/submission"
	"github.com/vdrs/dykscribe/internal/validate"
	llmmock "github.com/vdrs/dykscribe/pkg/provider/llm/mock"
	sttmock "github.com/vdrs/dykscribe/pkg/provider/stt/mock"
)

const typedQA = "Q: Does the compressor hold pressure after service?\n" +
	"A: Yes, 6.2 bar held for ten minutes."

const structuredReply = "Q1: Does the compressor hold pressure after service?\n" +
	"A1: Yes, 6.2 bar held for ten minutes."

// noSleep is a retry policy that skips backoff waits.
var noSleep = resilience.Retry{
	Sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
}

func validAudio() []byte {
	return bytes.Repeat([]byte{0x2a}, validate.MinAudioBytes)
}

func validManual() []byte {
	return append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{0x20}, 64)...)
}

// testCatalog returns a small fixed snapshot with one full cascade per
// manufacturer.
func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Users: []catalog.User{
			{Name: "jkramer", Role: "technician"},
			{Name: "mbauer", Role: "senior technician"},
		},
		Manufacturers: []string{"B. Braun", "Dräger"},
		EquipmentTypes: []catalog.EquipmentType{
			{Manufacturer: "Dräger", Name: "Ventilator"},
			{Manufacturer: "B. Braun", Name: "Infusion Pump"},
		},
		Models: []catalog.ModelSpec{
			{Manufacturer: "Dräger", EquipmentType: "Ventilator", Model: "Evita V800", Spec2: "230V", Spec3: "Software 2.1"},
			{Manufacturer: "B. Braun", EquipmentType: "Infusion Pump", Model: "Infusomat Space", Spec2: "24V", Spec3: "Rev C"},
		},
		SpecLabels: []catalog.SpecLabels{
			{EquipmentType: "Ventilator", Label2: "Voltage", Label3: "Software"},
		},
	}
}

// env bundles a server with its doubles so tests can drive the HTTP surface
// and inspect the store and provider calls behind it.
type env struct {
	srv    *api.Server
	router http.Handler
	store  *storetest.Store
	stt    *sttmock.Provider
	llm    *llmmock.Provider
}

// newEnv assembles a server over mock providers, an in-memory store and a
// fixed catalog. Extra options are applied after the defaults.
func newEnv(t *testing.T, opts ...api.Option) *env {
	t.Helper()

	e := &env{
		stt:   &sttmock.Provider{},
		llm:   &llmmock.Provider{},
		store: storetest.New(),
	}

	transcriber, err := speech.New(e.stt, speech.WithRetry(noSleep))
	if err != nil {
		t.Fatalf("speech.New: %v", err)
	}
	structurer, err := structuring.New(e.llm)
	if err != nil {
		t.Fatalf("structuring.New: %v", err)
	}

	registry := api.NewRegistry(time.Hour, nil)
	t.Cleanup(registry.Stop)

	engine, err := submission.NewEngine(structurer, e.store,
		submission.WithTranscriber(transcriber),
		submission.WithTransitionHook(registry.Dispatch),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	cat := testCatalog()
	all := append([]api.Option{api.WithRegistry(registry)}, opts...)
	e.srv, err = api.NewServer(engine, e.store, func() *catalog.Catalog { return cat }, all...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	e.router = e.srv.Router()
	return e
}

// ---- response shapes ----

type selectionJSON struct {
	Manufacturer    string `json:"manufacturer"`
	EquipmentType   string `json:"equipment_type"`
	Model           string `json:"model"`
	Specifications2 string `json:"specifications2"`
	Specifications3 string `json:"specifications3"`
}

type draftJSON struct {
	DraftID       string        `json:"draft_id"`
	State         string        `json:"state"`
	UserName      string        `json:"user_name"`
	Role          string        `json:"role"`
	Selection     selectionJSON `json:"selection"`
	Notes         string        `json:"notes"`
	TypedQA       string        `json:"typed_qa"`
	AudioBytes    int           `json:"audio_bytes"`
	AudioFilename string        `json:"audio_filename"`
	ManualBytes   int           `json:"manual_bytes"`
	Transcript    string        `json:"transcript"`
	QAText        string        `json:"qa_text"`
	NumQuestions  int           `json:"num_questions"`
	NumAnswers    int           `json:"num_answers"`
	Score         int           `json:"score"`
	SubmissionID  string        `json:"submission_id"`
	CanSubmit     bool          `json:"can_submit"`
	LastError     string        `json:"last_error"`
}

type sessionJSON struct {
	SessionID string    `json:"session_id"`
	Draft     draftJSON `json:"draft"`
}

type receiptJSON struct {
	SubmissionID string `json:"submission_id"`
	Score        int    `json:"score"`
	NumQuestions int    `json:"num_questions"`
	NumAnswers   int    `json:"num_answers"`
}

type persistJSON struct {
	Receipt receiptJSON `json:"receipt"`
	Draft   draftJSON   `json:"draft"`
}

type errorJSON struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// ---- request helpers ----

// do issues one request against the router. A non-nil body is sent as JSON.
func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// upload posts a multipart form with one file part.
func (e *env) upload(t *testing.T, path, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) createSession(t *testing.T) sessionJSON {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	wantStatus(t, rec, http.StatusCreated)
	var s sessionJSON
	decodeJSON(t, rec, &s)
	return s
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

// wantErrorCode asserts the status and the stable error code in the envelope.
func wantErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	wantStatus(t, rec, status)
	var e errorJSON
	decodeJSON(t, rec, &e)
	if e.Error.Code != code {
		t.Errorf("error code = %q, want %q; body: %s", e.Error.Code, code, rec.Body.String())
	}
	if e.Error.Message == "" {
		t.Error("error response has no message")
	}
}

// ---- session lifecycle ----

func TestCreateSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	s := e.createSession(t)
	if s.SessionID == "" {
		t.Fatal("created session has no id")
	}
	if s.Draft.DraftID == "" {
		t.Fatal("created session has no draft")
	}
	if s.Draft.State != "idle" {
		t.Errorf("fresh draft state = %q, want idle", s.Draft.State)
	}
	if s.Draft.CanSubmit {
		t.Error("empty draft reports can_submit")
	}
}

func TestGetSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodGet, "/api/v1/sessions/"+s.SessionID, nil)
	wantStatus(t, rec, http.StatusOK)
	var got sessionJSON
	decodeJSON(t, rec, &got)
	if got.Draft.DraftID != s.Draft.DraftID {
		t.Errorf("draft id = %q, want %q", got.Draft.DraftID, s.Draft.DraftID)
	}
}

func TestGetSession_Unknown(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/sessions/no-such-session", nil)
	wantErrorCode(t, rec, http.StatusNotFound, "session_not_found")
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	s := e.createSession(t)

	rec := e.do(t, http.MethodDelete, "/api/v1/sessions/"+s.SessionID, nil)
	wantStatus(t, rec, http.StatusNoContent)

	rec = e.do(t, http.MethodGet, "/api/v1/sessions/"+s.SessionID, nil)
	wantErrorCode(t, rec, http.StatusNotFound, "session_not_found")
}

// ---- operational endpoints ----

func TestHealthEndpointsMounted(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := e.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200; body: %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rec.Code)
	}
}

func TestGetCatalog(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/catalog", nil)
	wantStatus(t, rec, http.StatusOK)

	var got struct {
		Fingerprint string `json:"fingerprint"`
		Catalog     struct {
			Users         []catalog.User `json:"users"`
			Manufacturers []string       `json:"manufacturers"`
		} `json:"catalog"`
	}
	decodeJSON(t, rec, &got)
	if got.Fingerprint == "" {
		t.Error("catalog response has no fingerprint")
	}
	if len(got.Catalog.Users) != 2 {
		t.Errorf("catalog carries %d users, want 2", len(got.Catalog.Users))
	}
	if len(got.Catalog.Manufacturers) != 2 {
		t.Errorf("catalog carries %d manufacturers, want 2", len(got.Catalog.Manufacturers))
	}
}
