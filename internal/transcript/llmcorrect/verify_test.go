package llmcorrect

import (
	"strings"
	"testing"

	"github.com/vdrs/dykscribe/internal/transcript"
)

func TestVerifyCorrectedText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		original        string
		corrected       string
		corrections     []transcript.Correction
		wantText        string
		wantCorrections int
	}{
		{
			name:            "identical text",
			original:        "the ventilator runs",
			corrected:       "the ventilator runs",
			corrections:     nil,
			wantText:        "the ventilator runs",
			wantCorrections: 0,
		},
		{
			name:      "single verified correction",
			original:  "drayger serviced",
			corrected: "Dräger serviced",
			corrections: []transcript.Correction{
				{Original: "drayger", Corrected: "Dräger", Confidence: 0.9},
			},
			wantText:        "Dräger serviced",
			wantCorrections: 1,
		},
		{
			name:      "multi-word correction",
			original:  "evita v 800 passed the self test",
			corrected: "Evita V800 passed the self test",
			corrections: []transcript.Correction{
				{Original: "evita v 800", Corrected: "Evita V800", Confidence: 0.9},
			},
			wantText:        "Evita V800 passed the self test",
			wantCorrections: 1,
		},
		{
			name:            "unverified change reverted",
			original:        "the pump runs quietly",
			corrected:       "the fan runs quietly",
			corrections:     nil,
			wantText:        "the pump runs quietly",
			wantCorrections: 0,
		},
		{
			name:      "mixed verified and unverified",
			original:  "evita v 800 sits in the small ward",
			corrected: "Evita V800 sits in the pediatric ward",
			corrections: []transcript.Correction{
				{Original: "evita v 800", Corrected: "Evita V800", Confidence: 0.9},
			},
			wantText:        "Evita V800 sits in the small ward",
			wantCorrections: 1,
		},
		{
			name:            "empty corrections with changed text reverts fully",
			original:        "the technician replaced the sensor",
			corrected:       "the engineer swapped the probe",
			corrections:     []transcript.Correction{},
			wantText:        "the technician replaced the sensor",
			wantCorrections: 0,
		},
		{
			name:      "punctuation attached to tokens",
			original:  "Checked the infusomatt.",
			corrected: "Checked the Infusomat.",
			corrections: []transcript.Correction{
				{Original: "infusomatt", Corrected: "Infusomat", Confidence: 0.85},
			},
			wantText:        "Checked the Infusomat.",
			wantCorrections: 1,
		},
		{
			name:      "multiple verified corrections",
			original:  "drayger drives the infusomatt pump.",
			corrected: "Dräger drives the Infusomat pump.",
			corrections: []transcript.Correction{
				{Original: "drayger", Corrected: "Dräger", Confidence: 0.9},
				{Original: "infusomatt", Corrected: "Infusomat", Confidence: 0.85},
			},
			wantText:        "Dräger drives the Infusomat pump.",
			wantCorrections: 2,
		},
		{
			name:      "case insensitive lookup",
			original:  "DRAYGER serviced",
			corrected: "Dräger serviced",
			corrections: []transcript.Correction{
				{Original: "drayger", Corrected: "Dräger", Confidence: 0.9},
			},
			wantText:        "Dräger serviced",
			wantCorrections: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotText, gotCorr := verifyCorrectedText(tt.original, tt.corrected, tt.corrections)
			if gotText != tt.wantText {
				t.Errorf("text = %q, want %q", gotText, tt.wantText)
			}
			if len(gotCorr) != tt.wantCorrections {
				t.Errorf("corrections count = %d, want %d", len(gotCorr), tt.wantCorrections)
			}
		})
	}
}

func TestTokenLCS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    []string
		wantLen int
	}{
		{"both empty", nil, nil, 0},
		{"a empty", nil, strings.Fields("hello world"), 0},
		{"b empty", strings.Fields("hello world"), nil, 0},
		{"identical", strings.Fields("a b c"), strings.Fields("a b c"), 3},
		{"no common", strings.Fields("a b"), strings.Fields("c d"), 0},
		{"partial overlap", strings.Fields("a b c d"), strings.Fields("a x c d"), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			anchors := tokenLCS(tt.a, tt.b)
			if len(anchors) != tt.wantLen {
				t.Errorf("LCS length = %d, want %d", len(anchors), tt.wantLen)
			}
		})
	}
}

func TestExtractChangeSpans(t *testing.T) {
	t.Parallel()

	orig := strings.Fields("a X c Y e")
	corr := strings.Fields("a B c D e")
	anchors := tokenLCS(orig, corr)
	spans := extractChangeSpans(orig, corr, anchors)

	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if strings.Join(spans[0].origTokens, " ") != "X" {
		t.Errorf("span[0].orig = %q, want %q", strings.Join(spans[0].origTokens, " "), "X")
	}
	if strings.Join(spans[0].corrTokens, " ") != "B" {
		t.Errorf("span[0].corr = %q, want %q", strings.Join(spans[0].corrTokens, " "), "B")
	}
	if strings.Join(spans[1].origTokens, " ") != "Y" {
		t.Errorf("span[1].orig = %q, want %q", strings.Join(spans[1].origTokens, " "), "Y")
	}
	if strings.Join(spans[1].corrTokens, " ") != "D" {
		t.Errorf("span[1].corr = %q, want %q", strings.Join(spans[1].corrTokens, " "), "D")
	}
}
