package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/refcheck/internal/model"
)

// Method names how text was obtained
const (
	MethodPDF   = "pdftotext"
	MethodHTML  = "html"
	MethodPlain = "plain"
)

// ErrNoText is returned when a document yields no readable text
var ErrNoText = errors.New("no extractable text found")

// Text is the readable content of one reference document
type Text struct {
	Name      string
	Content   string
	Method    string
	Pages     int
	Truncated bool
}

// Extractor turns reference document bytes into prompt-ready text
type Extractor struct {
	maxChars int
}

// NewExtractor creates an extractor that truncates text to maxChars (0 = unlimited)
func NewExtractor(maxChars int) *Extractor {
	return &Extractor{maxChars: maxChars}
}

// Extract detects the document kind and extracts its text
func (e *Extractor) Extract(ctx context.Context, doc model.ReferenceDocument) (Text, error) {
	var (
		content string
		method  string
		pages   int
		err     error
	)

	switch Kind(doc.Name, doc.Content) {
	case MethodPDF:
		content, pages, err = pdfText(ctx, doc.Content)
		method = MethodPDF
	case MethodHTML:
		content, err = htmlText(doc.Content)
		method = MethodHTML
	default:
		if !utf8.Valid(doc.Content) {
			return Text{}, fmt.Errorf("%s: not UTF-8 text", doc.Name)
		}
		content = string(doc.Content)
		method = MethodPlain
	}
	if err != nil {
		return Text{}, fmt.Errorf("extract %s: %w", doc.Name, err)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return Text{}, fmt.Errorf("extract %s: %w", doc.Name, ErrNoText)
	}

	out := Text{Name: doc.Name, Method: method, Pages: pages}
	out.Content, out.Truncated = truncate(content, e.maxChars)
	return out, nil
}

// Kind classifies a document as pdftotext, html or plain from its magic bytes,
// falling back to the file extension
func Kind(name string, content []byte) string {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.HasPrefix(bytes.TrimLeft(head, "\r\n\t "), []byte("%PDF")) {
		return MethodPDF
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return MethodPDF
	case ".html", ".htm", ".xhtml":
		return MethodHTML
	case ".txt", ".md", ".csv":
		return MethodPlain
	}

	if strings.HasPrefix(http.DetectContentType(head), "text/html") {
		return MethodHTML
	}
	return MethodPlain
}

func truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(s) <= maxChars {
		return s, false
	}
	cut := s[:maxChars]
	// Back off to a rune boundary
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "\n\n[TRUNCATED]", true
}
