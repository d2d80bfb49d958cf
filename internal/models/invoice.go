package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
)

// Invoice is the central entity flowing through the processing pipeline
type Invoice struct {
	ID            string         `json:"id" db:"id"`
	DocumentID    string         `json:"document_id" db:"document_id"`
	TenantID      string         `json:"tenant_id" db:"tenant_id"`
	State         workflow.State `json:"state" db:"state"`
	VendorID      string         `json:"vendor_id" db:"vendor_id"`
	VendorName    string         `json:"vendor_name" db:"vendor_name"`
	VendorAddress string         `json:"vendor_address" db:"vendor_address"`
	InvoiceNumber string         `json:"invoice_number" db:"invoice_number"`
	InvoiceDate   time.Time      `json:"invoice_date" db:"invoice_date"`
	DueDate       time.Time      `json:"due_date" db:"due_date"`
	Currency      string         `json:"currency" db:"currency"`

	Subtotal decimal.Decimal `json:"subtotal" db:"subtotal"`
	Tax      decimal.Decimal `json:"tax" db:"tax"`
	Total    decimal.Decimal `json:"total" db:"total"`

	LineItems []LineItem `json:"line_items"`

	PONumber     string `json:"po_number,omitempty" db:"po_number"`
	PaymentTerms string `json:"payment_terms,omitempty" db:"payment_terms"`

	RiskScore            float64  `json:"risk_score" db:"risk_score"`
	RiskLevel            string   `json:"risk_level" db:"risk_level"`
	Anomalies            []string `json:"anomalies"`
	ExtractionConfidence float64  `json:"extraction_confidence" db:"extraction_confidence"`

	ContentHash string `json:"content_hash" db:"content_hash"`
	Filename    string `json:"filename" db:"filename"`
	FileSize    int64  `json:"file_size" db:"file_size"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	CreatedBy string    `json:"created_by" db:"created_by"`
}

// LineItem is one ordered line on an invoice
type LineItem struct {
	Description string          `json:"description" db:"description"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	TaxRate     decimal.Decimal `json:"tax_rate,omitempty" db:"tax_rate"`
}

// totalTolerance bounds the rounding drift allowed between total and
// subtotal + tax
var totalTolerance = decimal.NewFromFloat(0.01)

// TotalsConsistent reports whether total = subtotal + tax within
// rounding tolerance
func (i *Invoice) TotalsConsistent() bool {
	diff := i.Subtotal.Add(i.Tax).Sub(i.Total).Abs()
	return diff.LessThanOrEqual(totalTolerance)
}

// HasAnomaly reports whether the named anomaly tag is present
func (i *Invoice) HasAnomaly(tag string) bool {
	for _, a := range i.Anomalies {
		if a == tag {
			return true
		}
	}
	return false
}

// AddAnomaly appends an anomaly tag if not already present
func (i *Invoice) AddAnomaly(tag string) {
	if !i.HasAnomaly(tag) {
		i.Anomalies = append(i.Anomalies, tag)
	}
}

// Vendor is the statistical profile maintained per vendor
type Vendor struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	Name         string `json:"name" db:"name"`
	TaxID        string `json:"tax_id" db:"tax_id"`
	PaymentTerms string `json:"payment_terms" db:"payment_terms"`
	Currency     string `json:"currency" db:"currency"`
	RiskLevel    string `json:"risk_level" db:"risk_level"`

	TotalInvoices int64           `json:"total_invoices" db:"total_invoices"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	AverageAmount decimal.Decimal `json:"average_amount" db:"average_amount"`
	MinAmount     decimal.Decimal `json:"min_amount" db:"min_amount"`
	MaxAmount     decimal.Decimal `json:"max_amount" db:"max_amount"`
	StdDeviation  float64         `json:"std_deviation" db:"std_deviation"`

	FirstInvoiceDate     time.Time `json:"first_invoice_date" db:"first_invoice_date"`
	LastInvoiceDate      time.Time `json:"last_invoice_date" db:"last_invoice_date"`
	InvoiceFrequencyDays float64   `json:"invoice_frequency_days" db:"invoice_frequency_days"`
	Verified             bool      `json:"verified" db:"verified"`
}

// Vendor risk levels
const (
	VendorRiskLow      = "low"
	VendorRiskNormal   = "normal"
	VendorRiskHigh     = "high"
	VendorRiskCritical = "critical"
)
