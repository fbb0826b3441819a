package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type fakeMessager struct {
	params []anthropic.MessageNewParams
	resp   *anthropic.Message
	err    error
}

func (f *fakeMessager) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, params)
	return f.resp, f.err
}

func messageJSON(t *testing.T, text string) *anthropic.Message {
	t.Helper()
	raw := map[string]any{
		"id":          "msg_123",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-5",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 50, "output_tokens": 25},
	}
	data, _ := json.Marshal(raw)
	var msg anthropic.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return &msg
}

func TestAnthropicProvider_Complete_Success(t *testing.T) {
	fake := &fakeMessager{}
	fake.resp = messageJSON(t, `{"validation_result": "Not Found"}`)

	provider := NewAnthropicProviderWithMessager(fake, Config{Model: "claude-sonnet-4-5", MaxTokens: 2048})
	resp, err := provider.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "user"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != `{"validation_result": "Not Found"}` {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if resp.TokensUsed != 75 {
		t.Errorf("Unexpected token usage: %d", resp.TokensUsed)
	}

	if len(fake.params) != 1 {
		t.Fatalf("expected one call, got %d", len(fake.params))
	}
	p := fake.params[0]
	if p.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d", p.MaxTokens)
	}
	if len(p.System) != 1 || p.System[0].Text != "sys" {
		t.Errorf("System = %+v", p.System)
	}
}

func TestAnthropicProvider_Complete_Errors(t *testing.T) {
	fake := &fakeMessager{err: errors.New("status code: 529 overloaded")}
	provider := NewAnthropicProviderWithMessager(fake, Config{})
	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}

	fake = &fakeMessager{resp: messageJSON(t, "  ")}
	provider = NewAnthropicProviderWithMessager(fake, Config{})
	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestAnthropicProvider_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected path /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header test-key, got %s", r.Header.Get("x-api-key"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
			"stop_reason":"end_turn","content":[{"type":"text","text":"hello"}],
			"usage":{"input_tokens":3,"output_tokens":1}}`))
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("Text = %q", resp.Text)
	}
	if !provider.IsAvailable(context.Background()) {
		t.Error("expected available")
	}
}

func TestNewAnthropicProvider_NoKey(t *testing.T) {
	if _, err := NewAnthropicProvider(Config{}); err == nil {
		t.Error("expected error without API key")
	}
}
