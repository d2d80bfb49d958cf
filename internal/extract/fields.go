package extract

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// Per-field confidence assigned to pattern matches. Contextual matches
// (a labeled date or amount) are trusted slightly more than bare ones.
const (
	patternConfidence    = 0.80
	contextualConfidence = 0.85
)

var (
	invoiceNumberPatterns = compileAll(
		`invoice\s*#?\s*:?\s*([A-Z0-9][-A-Z0-9]{3,20})`,
		`inv\s*#?\s*:?\s*([A-Z0-9][-A-Z0-9]{3,20})`,
		`invoice\s*number\s*:?\s*([A-Z0-9][-A-Z0-9]{3,20})`,
		`bill\s*#?\s*:?\s*([A-Z0-9][-A-Z0-9]{3,20})`,
	)
	poNumberPatterns = compileAll(
		`p\.?o\.?\s*#?\s*:?\s*([A-Z0-9][-A-Z0-9]{3,20})`,
		`purchase\s*order\s*#?\s*:?\s*([A-Z0-9][-A-Z0-9]{3,20})`,
	)
	invoiceDatePatterns = compileAll(
		`invoice\s*date\s*:?\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`,
		`invoice\s*date\s*:?\s*(\d{4}[/-]\d{1,2}[/-]\d{1,2})`,
		`invoice\s*date\s*:?\s*(\w+\s+\d{1,2},?\s+\d{4})`,
		`\bdate\s*:?\s*(\d{4}[/-]\d{1,2}[/-]\d{1,2})`,
	)
	dueDatePatterns = compileAll(
		`(?:due\s*date|payment\s*due)\s*:?\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`,
		`(?:due\s*date|payment\s*due)\s*:?\s*(\d{4}[/-]\d{1,2}[/-]\d{1,2})`,
		`(?:due|payable)\s*(?:by|on)\s*:?\s*(\w+\s+\d{1,2},?\s+\d{4})`,
	)
	subtotalPatterns = compileAll(
		`sub\s*-?\s*total\s*:?\s*\$?\s*([\d,]+\.?\d*)`,
	)
	taxPatterns = compileAll(
		`\b(?:tax|vat|gst)\s*(?:amount)?\s*:?\s*\$?\s*([\d,]+\.?\d*)`,
	)
	totalPatterns = compileAll(
		`\b(?:grand\s*)?total\s*(?:amount|due)?\s*:?\s*\$?\s*([\d,]+\.?\d*)`,
		`\bamount\s*due\s*:?\s*\$?\s*([\d,]+\.?\d*)`,
		`\bbalance\s*due\s*:?\s*\$?\s*([\d,]+\.?\d*)`,
	)
	paymentTermsPattern = regexp.MustCompile(`(?i)(?:payment\s*)?terms\s*:?\s*(net\s*\d+|due\s*(?:up)?on\s*receipt|cod|eom)`)
	currencyPattern     = regexp.MustCompile(`\b(USD|EUR|GBP|INR|CAD|AUD|JPY|CHF)\b`)

	// "<description>  <qty> x <unit price>  <amount>"
	lineItemPattern = regexp.MustCompile(`(?m)^(.{3,60}?)\s{2,}(\d+(?:\.\d+)?)\s*[xX@]\s*\$?([\d,]+(?:\.\d+)?)\s+\$?([\d,]+(?:\.\d+)?)\s*$`)

	dateLayouts = []string{
		"2006-01-02", "2006/01/02",
		"01/02/2006", "1/2/2006", "01-02-2006",
		"01/02/06", "1/2/06",
		"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006",
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}

// RegexFieldExtractor pulls structured invoice fields out of OCR text
// with labeled patterns and layout heuristics. It needs no external
// service and is the default extractor.
type RegexFieldExtractor struct {
	logger *zap.Logger
}

func NewRegexFieldExtractor(logger *zap.Logger) *RegexFieldExtractor {
	return &RegexFieldExtractor{logger: logger}
}

// Extract never fails: missing fields are simply left zero, and the
// aggregate confidence reflects how much was found. Validation decides
// downstream what an incomplete extraction means.
func (e *RegexFieldExtractor) Extract(_ context.Context, ocrText string) (*Extraction, error) {
	ex := &Extraction{}
	found, matched := 0, 0.0

	record := func(confidence float64) {
		found++
		matched += confidence
	}

	if v := firstNumberToken(invoiceNumberPatterns, ocrText); v != "" {
		ex.InvoiceNumber = v
		record(patternConfidence)
	}
	if v := firstNumberToken(poNumberPatterns, ocrText); v != "" {
		ex.PONumber = v
		record(patternConfidence)
	}
	if t, ok := firstDate(invoiceDatePatterns, ocrText); ok {
		ex.InvoiceDate = t
		record(contextualConfidence)
	}
	if t, ok := firstDate(dueDatePatterns, ocrText); ok {
		ex.DueDate = t
		record(contextualConfidence)
	}
	if v := firstMatch(subtotalPatterns, ocrText); v != "" {
		ex.Subtotal = v
		record(contextualConfidence)
	}
	if v := firstMatch(taxPatterns, ocrText); v != "" {
		ex.Tax = v
		record(contextualConfidence)
	}
	if v := firstMatch(totalPatterns, ocrText); v != "" {
		ex.Total = v
		record(contextualConfidence)
	}
	if m := paymentTermsPattern.FindStringSubmatch(ocrText); m != nil {
		ex.PaymentTerms = strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
		record(patternConfidence)
	}
	if m := currencyPattern.FindStringSubmatch(ocrText); m != nil {
		ex.Currency = m[1]
		record(patternConfidence)
	} else if strings.ContainsRune(ocrText, '$') {
		ex.Currency = "USD"
	}

	if name, addr := vendorHeader(ocrText); name != "" {
		ex.VendorName = name
		ex.VendorAddress = addr
		record(patternConfidence)
	}

	ex.LineItems = parseLineItems(ocrText)

	if found > 0 {
		ex.Confidence = matched / float64(found)
	}
	return ex, nil
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// firstNumberToken is firstMatch restricted to candidates containing a
// digit. Document banners like "INVOICE" otherwise satisfy the loose
// reference patterns.
func firstNumberToken(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			token := strings.TrimSpace(m[1])
			if strings.ContainsAny(token, "0123456789") {
				return token
			}
		}
	}
	return ""
}

func firstDate(patterns []*regexp.Regexp, text string) (time.Time, bool) {
	raw := firstMatch(patterns, text)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// vendorHeader takes the first non-empty line that is not a document
// banner as the vendor name, and the immediately following unlabeled
// lines as the address block.
func vendorHeader(text string) (name, address string) {
	lines := strings.Split(text, "\n")
	var addrLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if name != "" {
				break
			}
			continue
		}
		upper := strings.ToUpper(line)
		if upper == "INVOICE" || upper == "TAX INVOICE" || upper == "BILL" || upper == "RECEIPT" {
			continue
		}
		if strings.ContainsRune(line, ':') {
			break
		}
		if name == "" {
			name = line
			continue
		}
		addrLines = append(addrLines, line)
		if len(addrLines) == 3 {
			break
		}
	}
	return name, strings.Join(addrLines, ", ")
}

func parseLineItems(text string) []models.LineItem {
	var items []models.LineItem
	for _, m := range lineItemPattern.FindAllStringSubmatch(text, -1) {
		qty, err := decimal.NewFromString(m[2])
		if err != nil {
			continue
		}
		unit, err := decimal.NewFromString(strings.ReplaceAll(m[3], ",", ""))
		if err != nil {
			continue
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(m[4], ",", ""))
		if err != nil {
			continue
		}
		items = append(items, models.LineItem{
			Description: strings.TrimSpace(m[1]),
			Quantity:    qty,
			UnitPrice:   unit,
			Amount:      amount,
		})
	}
	return items
}
