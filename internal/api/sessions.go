package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vdrs/dykscribe/internal/catalog"
	"github.com/vdrs/dykscribe/internal/submission"
	"github.com/vdrs/dykscribe/pkg/audio"
)

// formOverhead is the slack added to the transport cap for multipart framing
// and the non-file form fields.
const formOverhead = 1024

// selectionView mirrors submission.Selection in the JSON surface.
type selectionView struct {
	Manufacturer    string `json:"manufacturer"`
	EquipmentType   string `json:"equipment_type"`
	Model           string `json:"model"`
	Specifications2 string `json:"specifications2"`
	Specifications3 string `json:"specifications3"`
}

// draftView is the blob-free projection of a draft: attachments appear as
// sizes only.
type draftView struct {
	DraftID   string    `json:"draft_id"`
	State     string    `json:"state"`
	EnteredAt time.Time `json:"entered_at"`

	UserName  string        `json:"user_name"`
	Role      string        `json:"role"`
	Selection selectionView `json:"selection"`
	Notes     string        `json:"notes"`
	TypedQA   string        `json:"typed_qa"`

	AudioBytes    int    `json:"audio_bytes"`
	AudioFilename string `json:"audio_filename,omitempty"`
	ManualBytes   int    `json:"manual_bytes"`

	Transcript   string `json:"transcript,omitempty"`
	QAText       string `json:"qa_text,omitempty"`
	NumQuestions int    `json:"num_questions"`
	NumAnswers   int    `json:"num_answers"`
	Score        int    `json:"score"`
	SubmissionID string `json:"submission_id,omitempty"`

	CanSubmit bool   `json:"can_submit"`
	LastError string `json:"last_error,omitempty"`
}

// sessionView pairs the session identity with the current draft projection.
type sessionView struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Draft     draftView `json:"draft"`
}

// persistReceipt is returned by a successful persist.
type persistReceipt struct {
	SubmissionID  string    `json:"submission_id"`
	Score         int       `json:"score"`
	NumQuestions  int       `json:"num_questions"`
	NumAnswers    int       `json:"num_answers"`
	EntryDateTime time.Time `json:"entry_datetime"`
}

// viewDraft projects a draft for the JSON surface. Callers hold the session
// lock.
func (s *Server) viewDraft(d *submission.Draft) draftView {
	v := draftView{
		DraftID:   d.ID(),
		State:     d.State().String(),
		EnteredAt: d.EnteredAt(),
		UserName:  d.UserName,
		Role:      d.Role,
		Selection: selectionView{
			Manufacturer:    d.Selection.Manufacturer,
			EquipmentType:   d.Selection.EquipmentType,
			Model:           d.Selection.Model,
			Specifications2: d.Selection.Specifications2,
			Specifications3: d.Selection.Specifications3,
		},
		Notes:        d.Notes,
		TypedQA:      d.TypedQA,
		AudioBytes:   len(d.Audio),
		ManualBytes:  len(d.Manual),
		Transcript:   d.Transcript,
		QAText:       d.QAText,
		NumQuestions: d.NumQuestions,
		NumAnswers:   d.NumAnswers,
		Score:        d.Score,
		CanSubmit:    s.engine.CanSubmit(d),
		LastError:    d.LastError,
	}
	if d.HasAudio() {
		v.AudioFilename = d.AudioFilename
	}
	if d.SubmissionID != uuid.Nil {
		v.SubmissionID = d.SubmissionID.String()
	}
	return v
}

func (s *Server) viewSession(sess *Session) sessionView {
	return sessionView{
		SessionID: sess.ID,
		CreatedAt: sess.CreatedAt,
		Draft:     s.viewDraft(sess.draft),
	}
}

// lookupSession resolves the :id route parameter. On a miss it writes the 404
// response and reports false.
func (s *Server) lookupSession(c *gin.Context) (*Session, bool) {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "session_not_found",
			"session not found; it may have expired", nil)
		return nil, false
	}
	return sess, true
}

// createSession opens a session with a fresh Idle draft.
func (s *Server) createSession(c *gin.Context) {
	sess := s.sessions.Create(s.engine.NewDraft())

	sess.mu.Lock()
	view := s.viewSession(sess)
	sess.mu.Unlock()

	c.JSON(http.StatusCreated, view)
}

// getSession returns the session's state and draft projection.
func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	view := s.viewSession(sess)
	sess.mu.Unlock()

	c.JSON(http.StatusOK, view)
}

// deleteSession drops the session without persisting anything.
func (s *Server) deleteSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	s.sessions.Remove(sess.ID)
	c.Status(http.StatusNoContent)
}

// draftPatch is the partial update body for the draft's form fields. Absent
// fields stay untouched.
type draftPatch struct {
	UserName  *string        `json:"user_name"`
	Selection *selectionView `json:"selection"`
	Notes     *string        `json:"notes"`
	TypedQA   *string        `json:"typed_qa"`
}

// patchDraft applies identity, selection, notes and typed text changes.
//
// Identity is catalog-checked here: the user must exist and the role is taken
// from the catalog row rather than from the client. The selection must follow
// the catalog cascade (manufacturer → equipment type → model); when a model
// is chosen without specification values, the model's default pair is filled
// in.
func (s *Server) patchDraft(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	var patch draftPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}

	cat := s.catalog()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	d := sess.draft

	if patch.UserName != nil {
		role, found := cat.RoleFor(*patch.UserName)
		if !found {
			respondError(c, http.StatusUnprocessableEntity, "unknown_user",
				fmt.Sprintf("user %q is not in the catalog", *patch.UserName), nil)
			return
		}
		if err := s.engine.SetIdentity(d, *patch.UserName, role); err != nil {
			respondEngineError(c, err)
			return
		}
	}

	if patch.Selection != nil {
		sel := submission.Selection{
			Manufacturer:    patch.Selection.Manufacturer,
			EquipmentType:   patch.Selection.EquipmentType,
			Model:           patch.Selection.Model,
			Specifications2: patch.Selection.Specifications2,
			Specifications3: patch.Selection.Specifications3,
		}
		if msg := checkSelection(cat, sel); msg != "" {
			respondError(c, http.StatusUnprocessableEntity, "invalid_selection", msg, nil)
			return
		}
		if sel.Model != "" && sel.Specifications2 == "" && sel.Specifications3 == "" {
			if spec2, spec3, found := cat.DefaultSpecs(sel.Manufacturer, sel.EquipmentType, sel.Model); found {
				sel.Specifications2, sel.Specifications3 = spec2, spec3
			}
		}
		if err := s.engine.SetSelection(d, sel); err != nil {
			respondEngineError(c, err)
			return
		}
	}

	if patch.Notes != nil {
		if err := s.engine.SetNotes(d, *patch.Notes); err != nil {
			respondEngineError(c, err)
			return
		}
	}

	if patch.TypedQA != nil {
		if err := s.engine.SetTypedQA(d, *patch.TypedQA); err != nil {
			respondEngineError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, s.viewSession(sess))
}

// checkSelection verifies the cascade against the catalog. Empty levels are
// fine (the form may be half-filled); a non-empty level must exist under its
// parent. The returned message is empty when the selection is acceptable.
func checkSelection(cat *catalog.Catalog, sel submission.Selection) string {
	if sel.Manufacturer == "" {
		if sel.EquipmentType != "" || sel.Model != "" {
			return "equipment type and model require a manufacturer"
		}
		return ""
	}
	if !slices.Contains(cat.ManufacturerNames(), sel.Manufacturer) {
		return fmt.Sprintf("unknown manufacturer %q", sel.Manufacturer)
	}

	if sel.EquipmentType == "" {
		if sel.Model != "" {
			return "a model requires an equipment type"
		}
		return ""
	}
	if !slices.Contains(cat.EquipmentTypesFor(sel.Manufacturer), sel.EquipmentType) {
		return fmt.Sprintf("manufacturer %q has no equipment type %q", sel.Manufacturer, sel.EquipmentType)
	}

	if sel.Model == "" {
		return ""
	}
	if !slices.Contains(cat.ModelsFor(sel.Manufacturer, sel.EquipmentType), sel.Model) {
		return fmt.Sprintf("equipment type %q has no model %q", sel.EquipmentType, sel.Model)
	}
	return ""
}

// uploadAudio attaches a recording from a multipart form's "audio" file part.
func (s *Server) uploadAudio(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	data, filename, ok := s.readUpload(c, "audio", s.limits.MaxAudioBytes)
	if !ok {
		return
	}
	// Browsers and dictation apps often upload without a usable filename,
	// and the transcription providers pick their decoder from the
	// extension. The sniffed container format wins over the client's name.
	filename = audio.Filename(filename, data)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.engine.SetAudio(sess.draft, data, filename); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewSession(sess))
}

// removeAudio detaches the recording and its transcript.
func (s *Server) removeAudio(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.engine.ClearAudio(sess.draft); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewSession(sess))
}

// uploadManual attaches a manual PDF from a multipart form's "manual" file
// part.
func (s *Server) uploadManual(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	data, _, ok := s.readUpload(c, "manual", s.limits.MaxManualBytes)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.engine.SetManual(sess.draft, data); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewSession(sess))
}

// removeManual detaches the manual PDF.
func (s *Server) removeManual(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.engine.ClearManual(sess.draft); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewSession(sess))
}

// processDraft runs the submission pipeline. The session lock is held for the
// duration, so a concurrent process on the same session waits and is then
// rejected by the engine's state guard.
func (s *Server) processDraft(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.engine.Submit(c.Request.Context(), sess.draft); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewSession(sess))
}

// persistDraft stores the finalized draft and swaps the session over to the
// fresh draft the engine hands back.
func (s *Server) persistDraft(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	stored := sess.draft
	fresh, err := s.engine.Persist(c.Request.Context(), stored)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	receipt := persistReceipt{
		SubmissionID:  stored.SubmissionID.String(),
		Score:         stored.Score,
		NumQuestions:  stored.NumQuestions,
		NumAnswers:    stored.NumAnswers,
		EntryDateTime: stored.EnteredAt(),
	}
	s.sessions.Adopt(sess, fresh)

	c.JSON(http.StatusOK, gin.H{
		"receipt": receipt,
		"draft":   s.viewDraft(fresh),
	})
}

// readUpload extracts the named file part from a multipart form, bounded by
// the transport cap. On any failure the response has already been written and
// ok is false.
func (s *Server) readUpload(c *gin.Context, field string, limit int64) (data []byte, filename string, ok bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+formOverhead)

	mr, err := c.Request.MultipartReader()
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "expecting a multipart form upload", nil)
		return nil, "", false
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondUploadError(c, err, field, limit)
			return nil, "", false
		}
		if part.FormName() != field {
			part.Close()
			continue
		}

		data, err = io.ReadAll(io.LimitReader(part, limit+1))
		filename = part.FileName()
		part.Close()
		if err != nil {
			respondUploadError(c, err, field, limit)
			return nil, "", false
		}
		if int64(len(data)) > limit {
			respondTooLarge(c, field, limit)
			return nil, "", false
		}
		return data, filename, true
	}

	respondError(c, http.StatusBadRequest, "bad_request",
		fmt.Sprintf("multipart form has no %q file part", field), nil)
	return nil, "", false
}

// respondUploadError distinguishes the transport cap from other read
// failures.
func respondUploadError(c *gin.Context, err error, field string, limit int64) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		respondTooLarge(c, field, limit)
		return
	}
	respondError(c, http.StatusBadRequest, "bad_request", "reading the upload failed", nil)
}

func respondTooLarge(c *gin.Context, field string, limit int64) {
	respondError(c, http.StatusRequestEntityTooLarge, "too_large",
		fmt.Sprintf("%s upload exceeds the %d byte transport cap", field, limit),
		gin.H{"field": field, "limit": limit})
}
