package llm

import (
	"testing"

	"github.com/ppiankov/refcheck/internal/model"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		apiKey   string
		wantName string
		wantNil  bool
		wantErr  bool
	}{
		{"openai", "k", "openai", false, false},
		{"gemini", "k", "gemini", false, false},
		{"anthropic", "k", "anthropic", false, false},
		{"Claude", "k", "anthropic", false, false},
		{"ollama", "", "ollama", false, false},
		{"", "", "", true, false},
		{"openai", "", "", false, true},
		{"bard", "k", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, APIKey: tt.apiKey})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if p != nil {
					t.Errorf("expected nil provider, got %T", p)
				}
				return
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", p.Name(), tt.wantName)
			}
		})
	}
}

func TestConfigFromModel(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.LLM.Model = "gemini-2.5-pro"
	cfg.HTTP.HTTPSProxy = "http://proxy:3128"

	c := ConfigFromModel(cfg)
	if c.Provider != "gemini" || c.Model != "gemini-2.5-pro" {
		t.Errorf("unexpected config: %+v", c)
	}
	if c.HTTPSProxy != "http://proxy:3128" {
		t.Errorf("proxy not carried over: %+v", c)
	}
	if c.MaxTokens != cfg.LLM.MaxTokens || c.Timeout != cfg.LLM.Timeout {
		t.Errorf("limits not carried over: %+v", c)
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu:11434")

	if got := APIKeyFromEnv("openai"); got != "sk-openai" {
		t.Errorf("openai key = %q", got)
	}
	if got := APIKeyFromEnv("gemini"); got != "g-key" {
		t.Errorf("gemini key = %q", got)
	}
	if got := APIKeyFromEnv("claude"); got != "sk-ant" {
		t.Errorf("claude key = %q", got)
	}
	if got := APIKeyFromEnv("ollama"); got != "" {
		t.Errorf("ollama key = %q", got)
	}
	if got := BaseURLFromEnv("ollama"); got != "http://gpu:11434" {
		t.Errorf("ollama base url = %q", got)
	}
}
