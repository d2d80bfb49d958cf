package orchestrator

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/procureflow/invoice-orchestrator/internal/extract"
	"github.com/procureflow/invoice-orchestrator/internal/models"
	"github.com/procureflow/invoice-orchestrator/internal/risk"
)

// applyExtraction copies extracted fields onto the invoice. Amounts
// that fail to parse are left at zero rather than failing the stage;
// validation flags the inconsistency downstream.
func applyExtraction(inv *models.Invoice, ex *extract.Extraction) {
	inv.VendorName = ex.VendorName
	inv.VendorAddress = ex.VendorAddress
	inv.InvoiceNumber = ex.InvoiceNumber
	inv.InvoiceDate = ex.InvoiceDate
	inv.DueDate = ex.DueDate
	if ex.Currency != "" {
		inv.Currency = ex.Currency
	}
	inv.PONumber = ex.PONumber
	inv.PaymentTerms = ex.PaymentTerms
	inv.LineItems = ex.LineItems
	if ex.Confidence > 0 {
		inv.ExtractionConfidence = ex.Confidence
	}

	inv.Subtotal = parseAmount(ex.Subtotal)
	inv.Tax = parseAmount(ex.Tax)
	inv.Total = parseAmount(ex.Total)
}

func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// vendorIDFromName derives a stable vendor key when the extraction
// yields no registered vendor id
func vendorIDFromName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

func riskInput(inv *models.Invoice, vendorProfile *models.Vendor, duplicateConfidence float64) risk.Input {
	return risk.Input{
		Invoice:             inv,
		Vendor:              vendorProfile,
		DuplicateConfidence: duplicateConfidence,
	}
}
