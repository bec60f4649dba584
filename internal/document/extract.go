// Package document extracts plain text from uploaded documents.
package document

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/mercybot/mercybot/pkg/metrics"
)

// MIMETypePDF is the only accepted document type.
const MIMETypePDF = "application/pdf"

// DefaultMaxBytes is the default upload ceiling (10 MiB).
const DefaultMaxBytes int64 = 10 << 20

var (
	// ErrUnsupportedFormat is returned for any non-PDF input.
	ErrUnsupportedFormat = errors.New("only PDF files are allowed")
	// ErrTooLarge is returned when the document exceeds the size ceiling.
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty is returned for a zero-length document.
	ErrEmpty = errors.New("empty document")
)

// ExtractionError wraps a failure of the underlying extractor.
type ExtractionError struct {
	Cause error
}

func (e *ExtractionError) Error() string {
	return "extract text: " + e.Cause.Error()
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// Extractor turns raw document bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

// Bridge validates uploads and delegates to an Extractor.
// Extraction is never retried.
type Bridge struct {
	extractor Extractor
	maxBytes  int64
}

// NewBridge creates a bridge. A non-positive maxBytes uses DefaultMaxBytes.
func NewBridge(extractor Extractor, maxBytes int64) *Bridge {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Bridge{extractor: extractor, maxBytes: maxBytes}
}

// MaxBytes returns the size ceiling.
func (b *Bridge) MaxBytes() int64 {
	return b.maxBytes
}

// ExtractText returns the text content of a PDF document.
func (b *Bridge) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !IsPDF(mimeType) {
		metrics.ExtractionsTotal.WithLabelValues("unsupported").Inc()
		return "", ErrUnsupportedFormat
	}
	if int64(len(data)) > b.maxBytes {
		metrics.ExtractionsTotal.WithLabelValues("too_large").Inc()
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), b.maxBytes)
	}
	if len(data) == 0 {
		metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
		return "", &ExtractionError{Cause: ErrEmpty}
	}

	text, err := b.extractor.Extract(ctx, data)
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
		return "", &ExtractionError{Cause: err}
	}

	metrics.ExtractionsTotal.WithLabelValues("ok").Inc()
	return text, nil
}

// IsPDF reports whether mimeType denotes a PDF, ignoring parameters and case.
func IsPDF(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, MIMETypePDF)
}
