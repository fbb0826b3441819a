package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("llm:openai") {
			t.Fatalf("call %d should pass with limiting disabled", i)
		}
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "http://example.com/foo"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "llm:gemini"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitWithDelay(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	start := time.Now()
	err := limiter.WaitWithDelay(ctx, "llm:openai", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitWithDelay failed: %v", err)
	}

	if d := time.Since(start); d < 50*time.Millisecond {
		t.Errorf("expected delay >= 50ms, got %v", d)
	}
}

func TestLimiter_WaitWithDelayCancelled(t *testing.T) {
	limiter := NewLimiter(0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.WaitWithDelay(ctx, "llm:openai", time.Hour); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestLimiter_RateLimitPerKey(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "http://example.com/a.pdf"); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// Same host shares the bucket
	if limiter.Allow("https://example.com/b.pdf") {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}

	if !limiter.Allow("http://other.com") {
		t.Errorf("expected allow for other host")
	}
	if !limiter.Allow("llm:anthropic") {
		t.Errorf("expected allow for named key")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)

	limiter.SetRate("llm:gemini", 0.1, 1)

	if !limiter.Allow("llm:gemini") {
		t.Errorf("first call should pass")
	}
	if limiter.Allow("llm:gemini") {
		t.Errorf("second call should fail")
	}
	if !limiter.Allow("llm:openai") {
		t.Errorf("other key should pass")
	}
}

func TestKeyFor(t *testing.T) {
	tests := map[string]string{
		"http://example.com/foo":   "example.com",
		"https://a.org:8443/x.pdf": "a.org:8443",
		"llm:openai":               "llm:openai",
		"statements":               "statements",
	}
	for in, want := range tests {
		if got := keyFor(in); got != want {
			t.Errorf("keyFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(nil, "statements", 30*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := th.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d >= 30*time.Millisecond {
		t.Errorf("first call should not be delayed, took %v", d)
	}

	start = time.Now()
	if err := th.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 30*time.Millisecond {
		t.Errorf("second call should be delayed, took %v", d)
	}
}

func TestThrottle_Nil(t *testing.T) {
	var th *Throttle
	if err := th.Wait(context.Background()); err != nil {
		t.Errorf("nil throttle should not block: %v", err)
	}
}
