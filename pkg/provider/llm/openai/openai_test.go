package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vdrs/dykscribe/pkg/provider/llm"
)

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "gpt-3.5-turbo")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	_, err := New("sk-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Options checks that optional settings are accepted without error.
func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "gpt-3.5-turbo",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}

// TestBuildParams_SystemPromptFirst checks that SystemPrompt is prepended
// before the conversation messages.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gpt-3.5-turbo"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a helpful assistant.",
		Messages:     []llm.Message{llm.User("Hello!")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be a system message")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected second message to be a user message")
	}
}

// TestBuildParams_RoleMapping checks that each role maps to its union branch.
func TestBuildParams_RoleMapping(t *testing.T) {
	p := &Provider{model: "gpt-3.5-turbo"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{
			llm.System("Be terse."),
			llm.User("What is a flow meter?"),
			llm.Assistant("A device that measures flow rate."),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected OfSystem to be set")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected OfUser to be set")
	}
	if params.Messages[2].OfAssistant == nil {
		t.Error("expected OfAssistant to be set")
	}
}

// TestBuildParams_UnknownRole checks that unknown roles return an error.
func TestBuildParams_UnknownRole(t *testing.T) {
	p := &Provider{model: "gpt-3.5-turbo"}
	_, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "tool", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestBuildParams_Tuning checks temperature and max token forwarding.
func TestBuildParams_Tuning(t *testing.T) {
	p := &Provider{model: "gpt-3.5-turbo"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{llm.User("hi")},
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(params.Model); got != "gpt-3.5-turbo" {
		t.Errorf("model = %q, want %q", got, "gpt-3.5-turbo")
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.2 {
		t.Errorf("temperature = %+v, want 0.2", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 1024 {
		t.Errorf("max completion tokens = %+v, want 1024", params.MaxCompletionTokens)
	}
}

// TestBuildParams_ZeroTuningOmitted checks that zero temperature and zero
// max tokens are left unset so the API uses its defaults.
func TestBuildParams_ZeroTuningOmitted(t *testing.T) {
	p := &Provider{model: "gpt-3.5-turbo"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{llm.User("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Temperature.Valid() {
		t.Error("expected temperature to be unset")
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("expected max completion tokens to be unset")
	}
}

// completionJSON is a minimal chat completion body the SDK can decode.
func completionJSON(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-3.5-turbo",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 7,
			"total_tokens":      19,
		},
	}
}

// TestComplete_Success runs a completion against a stub HTTP server and
// checks content, usage and request shape.
func TestComplete_Success(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(completionJSON("Q: What is it?\nA: A pump.")); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-3.5-turbo", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{llm.User("Format this transcript.")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if want := "Q: What is it?\nA: A pump."; resp.Content != want {
		t.Errorf("content = %q, want %q", resp.Content, want)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 7 || resp.Usage.TotalTokens != 19 {
		t.Errorf("usage = %+v, want 12/7/19", resp.Usage)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("request path = %q, want /chat/completions", gotPath)
	}
	if want := "Bearer sk-test"; gotAuth != want {
		t.Errorf("authorization = %q, want %q", gotAuth, want)
	}
}

// TestComplete_EmptyChoices checks that a response without choices is an error.
func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := completionJSON("")
		body["choices"] = []map[string]any{}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-3.5-turbo", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{llm.User("hi")},
	})
	if err == nil {
		t.Fatal("expected error for empty choices, got nil")
	}
}

// TestModelID checks that ModelID reports the configured model.
func TestModelID(t *testing.T) {
	p := &Provider{model: "gpt-3.5-turbo"}
	if got := p.ModelID(); got != "gpt-3.5-turbo" {
		t.Errorf("ModelID() = %q, want %q", got, "gpt-3.5-turbo")
	}
}
