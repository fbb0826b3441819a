package util

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProxyFunc_Explicit(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.local:3128", "http://secure.local:3129", "internal.example")

	tests := []struct {
		url  string
		want string
	}{
		{"http://example.com/a.pdf", "http://proxy.local:3128"},
		{"https://example.com/a.pdf", "http://secure.local:3129"},
		{"https://internal.example/a.pdf", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
		got, err := proxy(req)
		if err != nil {
			t.Fatalf("proxy(%s) error: %v", tt.url, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.url, gotStr, tt.want)
		}
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(7*time.Second, "", "", "")
	if c.Timeout != 7*time.Second {
		t.Errorf("timeout = %v", c.Timeout)
	}
	if _, ok := c.Transport.(*http.Transport); !ok {
		t.Errorf("transport = %T", c.Transport)
	}
}

func TestRobotsChecker(t *testing.T) {
	var robotsHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			_, _ = fmt.Fprint(w, "User-agent: refcheck\nDisallow: /private/\nCrawl-delay: 2\n\nUser-agent: *\nDisallow: /\n")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewRobotsChecker(server.Client(), "refcheck/0.1 (+https://github.com/ppiankov/refcheck)")
	ctx := context.Background()

	allowed, delay, err := checker.CanFetch(ctx, server.URL+"/papers/smith.pdf")
	if err != nil {
		t.Fatalf("CanFetch error: %v", err)
	}
	if !allowed {
		t.Error("expected /papers/ to be allowed for refcheck")
	}
	if delay != 2*time.Second {
		t.Errorf("crawl delay = %v, want 2s", delay)
	}

	allowed, _, _ = checker.CanFetch(ctx, server.URL+"/private/doc.pdf")
	if allowed {
		t.Error("expected /private/ to be disallowed")
	}

	if robotsHits.Load() != 1 {
		t.Errorf("robots.txt fetched %d times, want 1 (cached)", robotsHits.Load())
	}

	checker.Clear()
	_, _, _ = checker.CanFetch(ctx, server.URL+"/papers/smith.pdf")
	if robotsHits.Load() != 2 {
		t.Errorf("robots.txt fetched %d times after Clear, want 2", robotsHits.Load())
	}
}

func TestRobotsChecker_MissingRobotsAllows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	checker := NewRobotsChecker(server.Client(), "refcheck")
	allowed, _, err := checker.CanFetch(context.Background(), server.URL+"/anything.pdf")
	if err != nil || !allowed {
		t.Errorf("CanFetch = %v, %v; want allowed", allowed, err)
	}
}

func TestRobotsChecker_BadScheme(t *testing.T) {
	checker := NewRobotsChecker(nil, "refcheck")
	if _, _, err := checker.CanFetch(context.Background(), "ftp://example.com/a.pdf"); err == nil {
		t.Error("expected error for ftp URL")
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"refcheck/0.1 (+https://github.com/ppiankov/refcheck)", "refcheck"},
		{"curl/8.0", "curl"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeUserAgent(tt.in); got != tt.want {
			t.Errorf("NormalizeUserAgent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
