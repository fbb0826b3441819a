package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runCommand runs an external tool and returns its stdout (overridable in tests)
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// pdfText extracts layout-preserving text with pdftotext and marks page
// boundaries as "[PAGE n]" so the model can cite page numbers
func pdfText(ctx context.Context, content []byte) (string, int, error) {
	f, err := os.CreateTemp("", "refcheck-*.pdf")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}

	out, err := runCommand(ctx, "pdftotext", "-layout", "-enc", "UTF-8", f.Name(), "-")
	if err != nil {
		return "", 0, fmt.Errorf("pdftotext: %w", err)
	}

	text, pages := markPages(string(out))
	return text, pages, nil
}

// markPages replaces pdftotext form feeds with page markers
func markPages(raw string) (string, int) {
	parts := strings.Split(raw, "\f")
	// pdftotext ends the last page with a form feed too
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}

	var b strings.Builder
	pages := 0
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		pages++
		fmt.Fprintf(&b, "[PAGE %d]\n", i+1)
		b.WriteString(strings.TrimRight(p, " \n"))
		b.WriteString("\n\n")
	}
	return b.String(), pages
}
