package validate_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/vdrs/dykscribe/internal/validate"
)

func TestAudio_AcceptsBlobWithinBounds(t *testing.T) {
	t.Parallel()

	blob := make([]byte, validate.MinAudioBytes)
	if err := validate.Audio(blob); err != nil {
		t.Fatalf("Audio(%d bytes): unexpected error: %v", len(blob), err)
	}
}

func TestAudio_RejectsShortBlob(t *testing.T) {
	t.Parallel()

	blob := make([]byte, validate.MinAudioBytes-1)
	err := validate.Audio(blob)
	if err == nil {
		t.Fatalf("Audio(%d bytes): want error, got nil", len(blob))
	}

	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Audio: error type %T, want *validate.Error", err)
	}
	if verr.Reason != validate.TooShort {
		t.Errorf("Audio: reason=%q, want %q", verr.Reason, validate.TooShort)
	}
	if verr.Size != int64(len(blob)) {
		t.Errorf("Audio: size=%d, want %d", verr.Size, len(blob))
	}
	if verr.Limit != validate.MinAudioBytes {
		t.Errorf("Audio: limit=%d, want %d", verr.Limit, validate.MinAudioBytes)
	}
}

func TestAudio_RejectsEmptyBlob(t *testing.T) {
	t.Parallel()

	err := validate.Audio(nil)
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Audio(nil): error type %T, want *validate.Error", err)
	}
	if verr.Reason != validate.TooShort {
		t.Errorf("Audio(nil): reason=%q, want %q", verr.Reason, validate.TooShort)
	}
}

func TestAudio_RejectsOversizedBlob(t *testing.T) {
	t.Parallel()

	blob := make([]byte, validate.MaxAudioBytes+1)
	err := validate.Audio(blob)

	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Audio: error type %T, want *validate.Error", err)
	}
	if verr.Reason != validate.TooLarge {
		t.Errorf("Audio: reason=%q, want %q", verr.Reason, validate.TooLarge)
	}
	if verr.Limit != validate.MaxAudioBytes {
		t.Errorf("Audio: limit=%d, want %d", verr.Limit, validate.MaxAudioBytes)
	}
}

func TestManual_AcceptsPDFSignature(t *testing.T) {
	t.Parallel()

	data := []byte("%PDF-1.7\nsome pdf body")
	if err := validate.Manual(data); err != nil {
		t.Fatalf("Manual: unexpected error: %v", err)
	}
}

func TestManual_RejectsNonPDF(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		nil,
		[]byte("PK\x03\x04 zip archive"),
		[]byte("plain text file"),
		[]byte(" %PDF leading space"),
	}
	for _, data := range cases {
		err := validate.Manual(data)
		var verr *validate.Error
		if !errors.As(err, &verr) {
			t.Fatalf("Manual(%q): error type %T, want *validate.Error", data, err)
		}
		if verr.Reason != validate.InvalidFormat {
			t.Errorf("Manual(%q): reason=%q, want %q", data, verr.Reason, validate.InvalidFormat)
		}
	}
}

func TestManual_RejectsOversizedPDF(t *testing.T) {
	t.Parallel()

	data := make([]byte, validate.MaxManualBytes+1)
	copy(data, "%PDF-1.4")
	err := validate.Manual(data)

	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("Manual: error type %T, want *validate.Error", err)
	}
	if verr.Reason != validate.TooLarge {
		t.Errorf("Manual: reason=%q, want %q", verr.Reason, validate.TooLarge)
	}
}

func TestIsStructuredQA(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"plain markers", "Q: What model?\nA: The X200.", true},
		{"numbered markers", "Q1: First question?\nA1: First answer.\nQ2: Second?\nA2: Yes.", true},
		{"question only", "Q: Where is the valve?", false},
		{"answer only", "A: Behind the panel.", false},
		{"mid-line markers", "see Q: above and A: below", false},
		{"marker not at line start", "note Q: something\nalso A: other", false},
		{"markers after newline", "intro text\nQ: real question\nA: real answer", true},
		{"empty", "", false},
		{"prose", "The technician replaced the filter and recalibrated.", false},
		{"prefixed words", "FAQ: overview\nBA: nothing", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := validate.IsStructuredQA(tc.text); got != tc.want {
				t.Errorf("IsStructuredQA(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestCountMarkers(t *testing.T) {
	t.Parallel()

	text := "Q1: How often is maintenance due?\nA1: Every six months.\nQ2: Which coolant?\nA2: Type B.\nQ3: Torque spec?\nA3: 45 Nm."
	q, a := validate.CountMarkers(text)
	if q != 3 {
		t.Errorf("CountMarkers: questions=%d, want 3", q)
	}
	if a != 3 {
		t.Errorf("CountMarkers: answers=%d, want 3", a)
	}
}

func TestCountMarkers_UnevenPairs(t *testing.T) {
	t.Parallel()

	text := "Q: one?\nA: yes.\nQ: two?\nsome trailing prose"
	q, a := validate.CountMarkers(text)
	if q != 2 {
		t.Errorf("CountMarkers: questions=%d, want 2", q)
	}
	if a != 1 {
		t.Errorf("CountMarkers: answers=%d, want 1", a)
	}
}

func TestCountMarkers_IgnoresMidLine(t *testing.T) {
	t.Parallel()

	text := "intro mentioning Q: inline\nQ: real\nA: real"
	q, a := validate.CountMarkers(text)
	if q != 1 {
		t.Errorf("CountMarkers: questions=%d, want 1", q)
	}
	if a != 1 {
		t.Errorf("CountMarkers: answers=%d, want 1", a)
	}
}

func TestManualInfo_ParsesMinimalPDF(t *testing.T) {
	t.Parallel()

	data := buildMinimalPDF(t, 1)
	info, err := validate.ManualInfo(data)
	if err != nil {
		t.Fatalf("ManualInfo: unexpected error: %v", err)
	}
	if info.Pages != 1 {
		t.Errorf("ManualInfo: pages=%d, want 1", info.Pages)
	}
}

func TestManualInfo_RejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := validate.ManualInfo([]byte("%PDF-1.4 but truncated garbage")); err == nil {
		t.Fatal("ManualInfo on truncated data: want error, got nil")
	}
}

// buildMinimalPDF assembles a syntactically complete single-page PDF with a
// correct cross-reference table. Offsets are computed at build time so the
// fixture stays valid if object bodies change.
func buildMinimalPDF(t *testing.T, pages int) []byte {
	t.Helper()

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")

	var offsets []int
	writeObj := func(num int, body string) {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := ""
	for i := 0; i < pages; i++ {
		if i > 0 {
			kids += " "
		}
		kids += fmt.Sprintf("%d 0 R", 3+i)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		writeObj(3+i, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(offsets)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	return b.Bytes()
}
