package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/retry"
	"github.com/ppiankov/refcheck/internal/util"
	"github.com/ppiankov/refcheck/internal/worker"
)

// ErrDisallowed is returned when robots.txt forbids fetching a reference URL
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Fetcher downloads reference documents given as URLs
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *util.RobotsChecker // nil when robots.txt is ignored
	limiter    *worker.Limiter
	retry      retry.Policy
}

// NewFetcher creates a new Fetcher with the given configuration
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, respectRobots bool, httpProxy, httpsProxy, noProxy string) *Fetcher {
	client := util.NewHTTPClient(timeout, httpProxy, httpsProxy, noProxy)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("stopped after 5 redirects")
		}
		return nil
	}

	f := &Fetcher{
		httpClient: client,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
		limiter:    worker.NewLimiter(2, 1), // Per host
		retry: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
	}
	if respectRobots {
		f.robots = util.NewRobotsChecker(client, userAgent)
	}
	return f
}

// FetchResult contains a fetched document and metadata
type FetchResult struct {
	Body        []byte
	ContentType string
	StatusCode  int
	FinalURL    string
	Name        string // Filename derived from the URL
}

// Fetch retrieves a document from the given URL
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/pdf,text/html;q=0.9,text/plain;q=0.8,*/*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	// One extra byte tells an oversized body from one exactly at the limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", f.maxBytes)
	}

	finalURL := resp.Request.URL.String()
	contentType := resp.Header.Get("Content-Type")

	return &FetchResult{
		Body:        body,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		FinalURL:    finalURL,
		Name:        documentName(finalURL, contentType),
	}, nil
}

// FetchWithRetry fetches with retries on transient failures (5xx, 429, connection errors)
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	res, err := retry.Do(ctx, f.retry, isRetryableFetchError, func(ctx context.Context) (*FetchResult, error) {
		return f.Fetch(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// FetchDocument checks robots.txt, waits for the host's rate limit and
// downloads rawURL as a reference document
func (f *Fetcher) FetchDocument(ctx context.Context, rawURL string) (model.ReferenceDocument, error) {
	var crawlDelay time.Duration
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return model.ReferenceDocument{}, err
		}
		if !allowed {
			return model.ReferenceDocument{}, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
		crawlDelay = delay
	}

	if err := f.limiter.WaitWithDelay(ctx, rawURL, crawlDelay); err != nil {
		return model.ReferenceDocument{}, err
	}

	res, err := f.FetchWithRetry(ctx, rawURL)
	if err != nil {
		return model.ReferenceDocument{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	slog.Debug("reference fetched", "url", res.FinalURL, "name", res.Name, "bytes", len(res.Body))
	return model.ReferenceDocument{
		Name:      res.Name,
		Content:   res.Body,
		SourceURL: res.FinalURL,
	}, nil
}

// isRetryableFetchError classifies fetch errors worth retrying
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if strings.HasPrefix(msg, "unexpected status: ") {
		code := strings.TrimPrefix(msg, "unexpected status: ")
		return strings.HasPrefix(code, "5") || strings.HasPrefix(code, "429")
	}

	return strings.HasPrefix(msg, "fetch: ")
}

// documentName derives a filename from the URL's last path segment
func documentName(rawURL, contentType string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	name := path.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		name = parsed.Host
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}

	if path.Ext(name) == "" {
		mediaType, _, _ := mime.ParseMediaType(contentType)
		switch mediaType {
		case "application/pdf":
			name += ".pdf"
		case "text/html", "application/xhtml+xml":
			name += ".html"
		case "text/plain":
			name += ".txt"
		}
	}
	return name
}
