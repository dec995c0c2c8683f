package api

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vdrs/dykscribe/internal/submission"
)

// downloadPackage streams a ZIP archive of the session's processed draft:
// the flat record as inputs.csv, the recording under its upload name, the
// corrected transcript and the structured Q&A text.
func (s *Server) downloadPackage(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	d := sess.draft
	if d.QAText == "" {
		respondError(c, http.StatusConflict, "state_conflict",
			"draft has no processed Q&A to package; process it first", nil)
		return
	}

	archive, err := buildPackage(d)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error",
			"building the package failed", nil)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="package.zip"`)
	c.Data(http.StatusOK, "application/zip", archive)
}

func buildPackage(d *submission.Draft) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	fw, err := zw.Create("inputs.csv")
	if err != nil {
		return nil, fmt.Errorf("create inputs.csv: %w", err)
	}
	cw := csv.NewWriter(fw)
	rows := [][]string{
		{
			"UserName", "Role", "EntryDateTime",
			"Manufacturer", "EquipmentType", "Model",
			"Specifications2", "Specifications3",
			"Notes", "NumQuestions", "NumAnswers", "PointsAwarded",
			"QAText", "Transcript",
		},
		{
			d.UserName, d.Role, d.EnteredAt().Format(time.RFC3339),
			d.Selection.Manufacturer, d.Selection.EquipmentType, d.Selection.Model,
			d.Selection.Specifications2, d.Selection.Specifications3,
			d.Notes, strconv.Itoa(d.NumQuestions), strconv.Itoa(d.NumAnswers), strconv.Itoa(d.Score),
			d.QAText, d.Transcript,
		},
	}
	if err := cw.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write inputs.csv: %w", err)
	}

	if d.HasAudio() {
		name := path.Base(d.AudioFilename)
		if name == "." || name == "/" || name == "" {
			name = "audio.wav"
		}
		fw, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := fw.Write(d.Audio); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	if d.Transcript != "" {
		fw, err := zw.Create("transcript.txt")
		if err != nil {
			return nil, fmt.Errorf("create transcript.txt: %w", err)
		}
		if _, err := fw.Write([]byte(d.Transcript)); err != nil {
			return nil, fmt.Errorf("write transcript.txt: %w", err)
		}
	}

	fw, err = zw.Create("qa_transcript.txt")
	if err != nil {
		return nil, fmt.Errorf("create qa_transcript.txt: %w", err)
	}
	if _, err := fw.Write([]byte(d.QAText)); err != nil {
		return nil, fmt.Errorf("write qa_transcript.txt: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
