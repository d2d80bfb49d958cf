// Package extract defines the pluggable document-processing contracts:
// OCR, field extraction, summarization, and object storage. The
// orchestrator's stage workers depend on these interfaces only, so
// deployments swap providers without touching the pipeline.
package extract

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// OCRResult carries the raw text recognized from a document together
// with the provider's aggregate confidence in [0, 1].
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
	PageCount  int     `json:"page_count"`
}

// OCR recognizes text from a stored document
type OCR interface {
	Recognize(ctx context.Context, content []byte, contentType string) (*OCRResult, error)
}

// Extraction holds the structured fields pulled out of OCR text
type Extraction struct {
	VendorName    string            `json:"vendor_name"`
	VendorAddress string            `json:"vendor_address"`
	InvoiceNumber string            `json:"invoice_number"`
	InvoiceDate   time.Time         `json:"invoice_date"`
	DueDate       time.Time         `json:"due_date"`
	Currency      string            `json:"currency"`
	Subtotal      string            `json:"subtotal"`
	Tax           string            `json:"tax"`
	Total         string            `json:"total"`
	PONumber      string            `json:"po_number"`
	PaymentTerms  string            `json:"payment_terms"`
	LineItems     []models.LineItem `json:"line_items"`
	Confidence    float64           `json:"confidence"`
}

// FieldExtractor turns OCR text into structured invoice fields
type FieldExtractor interface {
	Extract(ctx context.Context, ocrText string) (*Extraction, error)
}

// Summarizer produces a short human-readable summary of an invoice for
// reviewers. Implementations may call an LLM; failures fall back to
// FallbackSummary.
type Summarizer interface {
	Summarize(ctx context.Context, inv *models.Invoice) (string, error)
}

// Storage stores and retrieves raw document content by object key
type Storage interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds the storage key for a document:
// [tenant/]YYYY/MM/DD/<document_id>.<ext>. The extension is taken from
// the original filename, lowercased; files with no extension get none.
func ObjectKey(tenantID, documentID, filename string, uploadedAt time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))

	key := uploadedAt.UTC().Format("2006/01/02") + "/" + documentID
	if ext != "" {
		key += "." + ext
	}
	if tenantID != "" {
		key = tenantID + "/" + key
	}
	return key
}

// FallbackSummary renders the template summary used when no summarizer
// is configured or the provider call fails.
func FallbackSummary(inv *models.Invoice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s from %s for %s %s",
		inv.InvoiceNumber, inv.VendorName, inv.Total.StringFixed(2), inv.Currency)
	if !inv.DueDate.IsZero() {
		fmt.Fprintf(&b, ", due %s", inv.DueDate.Format("2006-01-02"))
	}
	if inv.PONumber != "" {
		fmt.Fprintf(&b, ", references PO %s", inv.PONumber)
	}
	fmt.Fprintf(&b, ". %d line item(s).", len(inv.LineItems))
	if inv.RiskLevel != "" {
		fmt.Fprintf(&b, " Risk level: %s.", inv.RiskLevel)
	}
	return b.String()
}
