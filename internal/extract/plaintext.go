package extract

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// PlaintextOCR recognizes text-native documents (plain text, CSV,
// machine-readable exports). Scanned images and PDFs need an external
// OCR engine; without one those uploads are rejected up front instead
// of producing garbage downstream.
type PlaintextOCR struct {
	logger *zap.Logger
}

func NewPlaintextOCR(logger *zap.Logger) *PlaintextOCR {
	return &PlaintextOCR{logger: logger}
}

// Recognize treats the document bytes as UTF-8 text. Confidence is the
// ratio of printable runes, so mangled encodings score low and get
// flagged by the pipeline's confidence threshold.
func (o *PlaintextOCR) Recognize(_ context.Context, content []byte, contentType string) (*OCRResult, error) {
	if len(content) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "empty document")
	}
	if base := baseContentType(contentType); strings.HasPrefix(base, "image/") || base == "application/pdf" {
		return nil, fault.Newf(fault.KindInvalidInput, "content type %q requires an external ocr provider", base)
	}
	if !utf8.Valid(content) {
		return nil, fault.New(fault.KindInvalidInput, "document is not valid utf-8 text")
	}

	text := string(content)
	total, printable := 0, 0
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = float64(printable) / float64(total)
	}

	return &OCRResult{
		Text:       text,
		Confidence: confidence,
		Provider:   "plaintext",
		PageCount:  1 + strings.Count(text, "\f"),
	}, nil
}

func baseContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
