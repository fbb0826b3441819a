package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
)

// Policy bounds retry attempts and the exponential delay between them
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Logger       *slog.Logger
}

// DefaultPolicy returns 5 attempts starting at 1s, doubling up to 30s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// FromConfig builds a policy from configuration
func FromConfig(cfg model.RetryConfig, logger *slog.Logger) Policy {
	return Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Logger:       logger,
	}
}

// sleepFunc waits for d or until ctx is done (overridable in tests)
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-transient error, or the attempts
// run out. The last error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, transient func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if transient == nil {
		transient = IsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !transient(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		if p.Logger != nil {
			p.Logger.Warn("transient failure, retrying",
				"attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)
		}
		if err := sleepFunc(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry interrupted: %w", lastErr)
		}

		delay = time.Duration(float64(delay) * mult)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

// IsTransient reports whether err is worth retrying: timeouts, rate limits,
// quota exhaustion and server errors. Client errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "quota"):
		return true
	}

	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		return strings.HasPrefix(m[1], "5")
	}
	return strings.Contains(msg, "server error") || strings.Contains(msg, "connection reset") || strings.HasSuffix(msg, "eof")
}
