package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vdrs/dykscribe/internal/submission"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// summaryView is the JSON shape of a listing or search row.
type summaryView struct {
	SubmissionID  string    `json:"submission_id"`
	UserName      string    `json:"user_name"`
	Role          string    `json:"role"`
	EntryDateTime time.Time `json:"entry_datetime"`

	Manufacturer  string `json:"manufacturer"`
	EquipmentType string `json:"equipment_type"`
	Model         string `json:"model"`

	NumQuestions  int `json:"num_questions"`
	NumAnswers    int `json:"num_answers"`
	PointsAwarded int `json:"points_awarded"`

	AudioBytes  int64 `json:"audio_bytes"`
	ManualBytes int64 `json:"manual_bytes"`
}

// recordView is the full stored submission minus the binary payloads, which
// appear as sizes.
type recordView struct {
	SubmissionID  string    `json:"submission_id"`
	UserName      string    `json:"user_name"`
	Role          string    `json:"role"`
	EntryDateTime time.Time `json:"entry_datetime"`

	Manufacturer    string `json:"manufacturer"`
	EquipmentType   string `json:"equipment_type"`
	Model           string `json:"model"`
	Specifications2 string `json:"specifications2"`
	Specifications3 string `json:"specifications3"`

	Notes string `json:"notes"`

	NumQuestions  int `json:"num_questions"`
	NumAnswers    int `json:"num_answers"`
	PointsAwarded int `json:"points_awarded"`

	QAText     string `json:"qa_text"`
	Transcript string `json:"transcript,omitempty"`

	AudioBytes   int  `json:"audio_bytes"`
	ManualBytes  int  `json:"manual_bytes"`
	HasEmbedding bool `json:"has_embedding"`
}

func viewSummary(sum submission.Summary) summaryView {
	return summaryView{
		SubmissionID:  sum.SubmissionID.String(),
		UserName:      sum.UserName,
		Role:          sum.Role,
		EntryDateTime: sum.EntryDateTime,
		Manufacturer:  sum.Manufacturer,
		EquipmentType: sum.EquipmentType,
		Model:         sum.Model,
		NumQuestions:  sum.NumQuestions,
		NumAnswers:    sum.NumAnswers,
		PointsAwarded: sum.PointsAwarded,
		AudioBytes:    sum.AudioBytes,
		ManualBytes:   sum.ManualBytes,
	}
}

func viewSummaries(sums []submission.Summary) []summaryView {
	views := make([]summaryView, 0, len(sums))
	for _, sum := range sums {
		views = append(views, viewSummary(sum))
	}
	return views
}

func viewRecord(rec *submission.Record) recordView {
	return recordView{
		SubmissionID:    rec.SubmissionID.String(),
		UserName:        rec.UserName,
		Role:            rec.Role,
		EntryDateTime:   rec.EntryDateTime,
		Manufacturer:    rec.Manufacturer,
		EquipmentType:   rec.EquipmentType,
		Model:           rec.Model,
		Specifications2: rec.Specifications2,
		Specifications3: rec.Specifications3,
		Notes:           rec.Notes,
		NumQuestions:    rec.NumQuestions,
		NumAnswers:      rec.NumAnswers,
		PointsAwarded:   rec.PointsAwarded,
		QAText:          rec.QAText,
		Transcript:      rec.Transcript,
		AudioBytes:      len(rec.AudioBlob),
		ManualBytes:     len(rec.ManualPDF),
		HasEmbedding:    len(rec.Embedding) > 0,
	}
}

// getCatalog serves the current reference-data snapshot. The fingerprint lets
// clients detect a refreshed catalog without diffing the payload.
func (s *Server) getCatalog(c *gin.Context) {
	cat := s.catalog()
	c.JSON(http.StatusOK, gin.H{
		"fingerprint": cat.Fingerprint(),
		"catalog":     cat,
	})
}

// listSubmissions returns the most recent submissions, newest first.
func (s *Server) listSubmissions(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	sums, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": viewSummaries(sums)})
}

// searchSubmissions runs a keyword search over the stored text columns, or a
// vector similarity search when mode=similar.
func (s *Server) searchSubmissions(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondError(c, http.StatusBadRequest, "bad_request", "missing query parameter q", nil)
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	var (
		sums []submission.Summary
		err  error
	)
	mode := c.DefaultQuery("mode", "keyword")
	switch mode {
	case "keyword":
		sums, err = s.store.Search(c.Request.Context(), query, limit)
	case "similar":
		sums, err = submission.SearchSimilarText(c.Request.Context(), s.store, s.embedder, query, limit)
	default:
		respondError(c, http.StatusBadRequest, "bad_request",
			"mode must be keyword or similar", nil)
		return
	}
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"mode":    mode,
		"results": viewSummaries(sums),
	})
}

// getSubmission returns one stored submission by ID.
func (s *Server) getSubmission(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid submission id", nil)
		return
	}

	rec, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRecord(rec))
}

// parseLimit reads the optional limit query parameter. On a bad value the
// response has been written and ok is false.
func parseLimit(c *gin.Context) (limit int, ok bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respondError(c, http.StatusBadRequest, "bad_request",
			"limit must be a positive integer", nil)
		return 0, false
	}
	return min(n, maxListLimit), true
}
