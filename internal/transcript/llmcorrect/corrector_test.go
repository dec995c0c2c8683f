package llmcorrect_test

import (
	"context"
	"strings"
	"testing"

	"github.com/vdrs/dykscribe/internal/transcript/llmcorrect"
	"github.com/vdrs/dykscribe/pkg/provider/llm"
	"github.com/vdrs/dykscribe/pkg/provider/llm/mock"
)

func TestCorrector_SendsVocabularyAndTranscript(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"corrected_text": "The Dräger unit was serviced.", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider)

	vocabulary := []string{"Dräger", "Evita V800"}
	_, _, err := c.CorrectEntities(context.Background(), "The drayger unit was serviced.", vocabulary, nil)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("expected 1 Complete call, got %d", len(provider.CompleteCalls))
	}

	req := provider.CompleteCalls[0].Req
	for _, term := range vocabulary {
		if !strings.Contains(req.SystemPrompt, term) {
			t.Errorf("system prompt missing term %q\nprompt:\n%s", term, req.SystemPrompt)
		}
	}
	if len(req.Messages) == 0 {
		t.Fatal("request has no messages")
	}
	if !strings.Contains(req.Messages[0].Content, "drayger") {
		t.Errorf("user message missing original text, got: %s", req.Messages[0].Content)
	}
}

func TestCorrector_ParsesJSONCorrections(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{
  "corrected_text": "The Dräger needs a filter.",
  "corrections": [
    {"original": "drayger", "corrected": "Dräger", "confidence": 0.9}
  ]
}`,
		},
	}
	c := llmcorrect.New(provider)

	correctedText, corrections, err := c.CorrectEntities(
		context.Background(),
		"The drayger needs a filter.",
		[]string{"Dräger"},
		[]string{"drayger"},
	)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}

	if correctedText != "The Dräger needs a filter." {
		t.Errorf("correctedText=%q, want %q", correctedText, "The Dräger needs a filter.")
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "drayger" || corrections[0].Corrected != "Dräger" {
		t.Errorf("corrections[0]=%+v", corrections[0])
	}
	if corrections[0].Confidence != 0.9 {
		t.Errorf("corrections[0].Confidence=%f, want 0.9", corrections[0].Confidence)
	}
	if corrections[0].Method != "llm" {
		t.Errorf("corrections[0].Method=%q, want %q", corrections[0].Method, "llm")
	}
}

func TestCorrector_MultiWordTermCorrected(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{
  "corrected_text": "Calibrated the Evita V800 today.",
  "corrections": [
    {"original": "evita v 800", "corrected": "Evita V800", "confidence": 0.85}
  ]
}`,
		},
	}
	c := llmcorrect.New(provider)

	correctedText, corrections, err := c.CorrectEntities(
		context.Background(),
		"Calibrated the evita v 800 today.",
		[]string{"Evita V800"},
		nil,
	)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}
	if correctedText != "Calibrated the Evita V800 today." {
		t.Errorf("correctedText=%q", correctedText)
	}
	if len(corrections) != 1 || corrections[0].Corrected != "Evita V800" {
		t.Errorf("corrections=%+v, want the multi-word substitution", corrections)
	}
}

func TestCorrector_UndeclaredRewriteReverted(t *testing.T) {
	t.Parallel()

	// The model rewrote the sentence but declared no corrections; every
	// change must be rolled back.
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"corrected_text": "The pump got service Tuesday.", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider)

	original := "The pump was serviced on Tuesday."
	correctedText, corrections, err := c.CorrectEntities(
		context.Background(),
		original,
		[]string{"Infusomat"},
		nil,
	)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}
	if correctedText != original {
		t.Errorf("correctedText=%q, want reverted original %q", correctedText, original)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections=%+v, want none", corrections)
	}
}

func TestCorrector_MixedDeclaredAndUndeclaredChanges(t *testing.T) {
	t.Parallel()

	// One declared substitution plus one silent rewrite: the declared one
	// survives, the rewrite is reverted.
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{
  "corrected_text": "The Dräger was inspected today.",
  "corrections": [
    {"original": "drayger", "corrected": "Dräger", "confidence": 0.9}
  ]
}`,
		},
	}
	c := llmcorrect.New(provider)

	correctedText, corrections, err := c.CorrectEntities(
		context.Background(),
		"The drayger was checked today.",
		[]string{"Dräger"},
		nil,
	)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}
	if correctedText != "The Dräger was checked today." {
		t.Errorf("correctedText=%q, want declared change kept and rewrite reverted", correctedText)
	}
	if len(corrections) != 1 || corrections[0].Corrected != "Dräger" {
		t.Errorf("corrections=%+v, want only the declared substitution", corrections)
	}
}

func TestCorrector_FallbackOnUnparseable(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: "I cannot correct this transcript because it's ambiguous.",
		},
	}
	c := llmcorrect.New(provider)

	originalText := "the drayger unit hums."
	correctedText, corrections, err := c.CorrectEntities(
		context.Background(),
		originalText,
		[]string{"Dräger"},
		nil,
	)
	if err != nil {
		t.Fatalf("CorrectEntities returned error on unparseable response: %v", err)
	}
	if correctedText != originalText {
		t.Errorf("correctedText=%q, want original %q", correctedText, originalText)
	}
	if corrections != nil {
		t.Errorf("corrections=%v, want nil on fallback", corrections)
	}
}

func TestCorrector_MarkdownStripping(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: "```json\n" + `{
  "corrected_text": "Dräger waits.",
  "corrections": [
    {"original": "drayger", "corrected": "Dräger", "confidence": 0.8}
  ]
}` + "\n```",
		},
	}
	c := llmcorrect.New(provider)

	correctedText, _, err := c.CorrectEntities(
		context.Background(),
		"drayger waits.",
		[]string{"Dräger"},
		nil,
	)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}
	if correctedText != "Dräger waits." {
		t.Errorf("correctedText=%q, want %q", correctedText, "Dräger waits.")
	}
}

func TestCorrector_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	c := llmcorrect.New(provider)

	text := "some text"
	correctedText, corrections, err := c.CorrectEntities(context.Background(), text, nil, nil)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}
	if correctedText != text {
		t.Errorf("correctedText=%q, want original %q when no vocabulary", correctedText, text)
	}
	if len(corrections) != 0 {
		t.Errorf("expected no corrections when vocabulary is nil, got %d", len(corrections))
	}
	if len(provider.CompleteCalls) != 0 {
		t.Errorf("expected 0 LLM calls for empty vocabulary, got %d", len(provider.CompleteCalls))
	}
}

func TestCorrector_LLMError(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Err: context.DeadlineExceeded,
	}
	c := llmcorrect.New(provider)

	text := "some transcript"
	correctedText, _, err := c.CorrectEntities(
		context.Background(),
		text,
		[]string{"Dräger"},
		nil,
	)
	if err == nil {
		t.Fatal("expected error from LLM failure, got nil")
	}
	if correctedText != text {
		t.Errorf("correctedText=%q, want original text alongside the error", correctedText)
	}
}

func TestCorrector_WithTemperature(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"corrected_text": "hello", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider, llmcorrect.WithTemperature(0.5))

	_, _, err := c.CorrectEntities(context.Background(), "hello", []string{"Dräger"}, nil)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}

	if len(provider.CompleteCalls) == 0 {
		t.Fatal("no Complete calls recorded")
	}
	if got := provider.CompleteCalls[0].Req.Temperature; got != 0.5 {
		t.Errorf("Temperature=%f, want 0.5", got)
	}
}

func TestCorrector_UncertainSpansInUserMessage(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"corrected_text": "Dräger hums.", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider)

	spans := []string{"drayger", "evita"}
	_, _, err := c.CorrectEntities(
		context.Background(),
		"drayger evita hums.",
		[]string{"Dräger", "Evita V800"},
		spans,
	)
	if err != nil {
		t.Fatalf("CorrectEntities returned error: %v", err)
	}

	if len(provider.CompleteCalls) == 0 {
		t.Fatal("no Complete calls recorded")
	}
	userMsg := provider.CompleteCalls[0].Req.Messages[0].Content
	for _, span := range spans {
		if !strings.Contains(userMsg, span) {
			t.Errorf("user message missing uncertain span %q; got:\n%s", span, userMsg)
		}
	}
}
