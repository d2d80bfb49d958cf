// Package pomatch matches invoices against purchase orders and reports
// header and line-level variances.
package pomatch

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/models"
	"github.com/procureflow/invoice-orchestrator/internal/strutil"
)

// Match statuses
const (
	StatusMatched    = "MATCHED"
	StatusPartial    = "PARTIAL"
	StatusMismatch   = "MISMATCH"
	StatusNoPO       = "NO_PO"
	StatusPONotFound = "PO_NOT_FOUND"
)

// Variance severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Matching thresholds
const (
	fuzzyLookupThreshold  = 0.8
	vendorWarnSimilarity  = 0.9
	vendorCritSimilarity  = 0.7
	amountCritTolerance   = 0.10
	taxAbsTolerance       = 1.0
	lineDescThreshold     = 0.7
	quantityWarnTolerance = 0.10
	priceWarnTolerance    = 0.02
	priceCritTolerance    = 0.10
)

// Variance is one detected discrepancy between invoice and PO
type Variance struct {
	Field      string          `json:"field"`
	Expected   string          `json:"expected"`
	Actual     string          `json:"actual"`
	Difference decimal.Decimal `json:"difference"`
	Severity   string          `json:"severity"`
}

// LineMatch pairs one invoice line with one PO line
type LineMatch struct {
	InvoiceLine   int        `json:"invoice_line"`
	POLine        int        `json:"po_line"`
	DescSimilarity float64   `json:"desc_similarity"`
	Variances     []Variance `json:"variances,omitempty"`
}

// Result is the outcome of matching one invoice against the PO store
type Result struct {
	Status          string          `json:"status"`
	PONumber        string          `json:"po_number,omitempty"`
	HeaderVariances []Variance      `json:"header_variances"`
	LineMatches     []LineMatch     `json:"line_matches"`
	UnmatchedInvoiceLines []int     `json:"unmatched_invoice_lines"`
	UnmatchedPOLines      []int     `json:"unmatched_po_lines"`
	TotalVariance   decimal.Decimal `json:"total_variance"`
	Confidence      float64         `json:"confidence"`
	Recommendation  string          `json:"recommendation"`
}

// Store is the PO lookup contract
type Store interface {
	// GetByNumber returns the PO with the given normalized number, or a
	// not-found error
	GetByNumber(ctx context.Context, tenantID, normalized string) (*models.PurchaseOrder, error)

	// ListNumbers returns all normalized PO numbers for a tenant
	ListNumbers(ctx context.Context, tenantID string) ([]string, error)
}

// Config tunes the amount tolerance
type Config struct {
	AmountTolerance float64 // relative; warning above this, default 5%
}

// Matcher matches invoices to purchase orders
type Matcher struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewMatcher creates a matcher over the given PO store
func NewMatcher(store Store, cfg Config, logger *zap.Logger) *Matcher {
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = 0.05
	}
	return &Matcher{store: store, cfg: cfg, logger: logger}
}

var poPrefixPattern = regexp.MustCompile(`(?i)^(p\.?\s?o\.?|purchase\s+order)[\s#:.-]*`)
var poCharPattern = regexp.MustCompile(`[^A-Z0-9-]`)

// NormalizePONumber strips prefixes and punctuation so lookups are
// insensitive to how the reference was written
func NormalizePONumber(raw string) string {
	s := strings.TrimSpace(raw)
	s = poPrefixPattern.ReplaceAllString(s, "")
	s = strings.ToUpper(s)
	return poCharPattern.ReplaceAllString(s, "")
}

// Match matches the invoice against the PO store
func (m *Matcher) Match(ctx context.Context, inv *models.Invoice) (*Result, error) {
	if strings.TrimSpace(inv.PONumber) == "" {
		return &Result{
			Status:         StatusNoPO,
			Confidence:     0,
			Recommendation: "no purchase order referenced; route to manual review",
		}, nil
	}

	po, err := m.lookup(ctx, inv)
	if err != nil {
		return nil, err
	}
	if po == nil {
		return &Result{
			Status:         StatusPONotFound,
			PONumber:       NormalizePONumber(inv.PONumber),
			Confidence:     0,
			Recommendation: fmt.Sprintf("purchase order %s not found; verify the reference", inv.PONumber),
		}, nil
	}

	result := &Result{
		Status:   StatusMatched,
		PONumber: po.PONumber,
	}

	result.HeaderVariances = m.compareHeaders(inv, po)
	m.matchLines(inv, po, result)

	for _, v := range result.HeaderVariances {
		result.TotalVariance = result.TotalVariance.Add(v.Difference.Abs())
	}
	for _, lm := range result.LineMatches {
		for _, v := range lm.Variances {
			result.TotalVariance = result.TotalVariance.Add(v.Difference.Abs())
		}
	}

	result.Status = m.deriveStatus(result, len(inv.LineItems))
	result.Confidence = m.deriveConfidence(result, len(inv.LineItems), len(po.LineItems))
	result.Recommendation = recommendation(result)

	m.logger.Debug("po match computed",
		zap.String("invoice_id", inv.ID),
		zap.String("po_number", po.PONumber),
		zap.String("status", result.Status),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}

// lookup finds the PO by exact normalized number, falling back to
// fuzzy similarity across the tenant's PO numbers
func (m *Matcher) lookup(ctx context.Context, inv *models.Invoice) (*models.PurchaseOrder, error) {
	normalized := NormalizePONumber(inv.PONumber)

	po, err := m.store.GetByNumber(ctx, inv.TenantID, normalized)
	if err == nil && po != nil {
		return po, nil
	}

	numbers, err := m.store.ListNumbers(ctx, inv.TenantID)
	if err != nil {
		return nil, err
	}

	bestScore := 0.0
	bestNumber := ""
	for _, candidate := range numbers {
		score := strutil.Ratio(normalized, candidate)
		if score >= fuzzyLookupThreshold && score > bestScore {
			bestScore = score
			bestNumber = candidate
		}
	}
	if bestNumber == "" {
		return nil, nil
	}

	po, err = m.store.GetByNumber(ctx, inv.TenantID, bestNumber)
	if err != nil {
		return nil, nil
	}
	return po, nil
}

func (m *Matcher) compareHeaders(inv *models.Invoice, po *models.PurchaseOrder) []Variance {
	var variances []Variance

	vendorSim := strutil.FoldRatio(inv.VendorName, po.VendorName)
	if vendorSim < vendorWarnSimilarity {
		severity := SeverityWarning
		if vendorSim < vendorCritSimilarity {
			severity = SeverityCritical
		}
		variances = append(variances, Variance{
			Field:    "vendor_name",
			Expected: po.VendorName,
			Actual:   inv.VendorName,
			Severity: severity,
		})
	}

	if !po.Total.IsZero() {
		diff := inv.Total.Sub(po.Total)
		relative := diff.Abs().Div(po.Total).InexactFloat64()
		if relative > m.cfg.AmountTolerance {
			severity := SeverityWarning
			if relative > amountCritTolerance {
				severity = SeverityCritical
			}
			variances = append(variances, Variance{
				Field:      "total_amount",
				Expected:   po.Total.String(),
				Actual:     inv.Total.String(),
				Difference: diff,
				Severity:   severity,
			})
		}
	}

	taxDiff := inv.Tax.Sub(po.Tax)
	if taxDiff.Abs().GreaterThan(decimal.NewFromFloat(taxAbsTolerance)) {
		variances = append(variances, Variance{
			Field:      "tax",
			Expected:   po.Tax.String(),
			Actual:     inv.Tax.String(),
			Difference: taxDiff,
			Severity:   SeverityWarning,
		})
	}

	if inv.Currency != "" && po.Currency != "" && !strings.EqualFold(inv.Currency, po.Currency) {
		variances = append(variances, Variance{
			Field:    "currency",
			Expected: po.Currency,
			Actual:   inv.Currency,
			Severity: SeverityCritical,
		})
	}

	return variances
}

type linePair struct {
	inv, po int
	score   float64
}

// matchLines pairs lines greedily, best description similarity first;
// each line participates in at most one pair
func (m *Matcher) matchLines(inv *models.Invoice, po *models.PurchaseOrder, result *Result) {
	var pairs []linePair
	for i, il := range inv.LineItems {
		for j, pl := range po.LineItems {
			score := strutil.FoldRatio(il.Description, pl.Description)
			if score >= lineDescThreshold {
				pairs = append(pairs, linePair{inv: i, po: j, score: score})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].score > pairs[b].score })

	usedInv := make(map[int]bool)
	usedPO := make(map[int]bool)
	for _, p := range pairs {
		if usedInv[p.inv] || usedPO[p.po] {
			continue
		}
		usedInv[p.inv] = true
		usedPO[p.po] = true

		lm := LineMatch{
			InvoiceLine:    p.inv,
			POLine:         p.po,
			DescSimilarity: p.score,
			Variances:      compareLine(inv.LineItems[p.inv], po.LineItems[p.po]),
		}
		result.LineMatches = append(result.LineMatches, lm)
	}

	for i := range inv.LineItems {
		if !usedInv[i] {
			result.UnmatchedInvoiceLines = append(result.UnmatchedInvoiceLines, i)
		}
	}
	for j := range po.LineItems {
		if !usedPO[j] {
			result.UnmatchedPOLines = append(result.UnmatchedPOLines, j)
		}
	}
}

func compareLine(il models.LineItem, pl models.POLineItem) []Variance {
	var variances []Variance

	if !pl.Quantity.IsZero() {
		diff := il.Quantity.Sub(pl.Quantity)
		if diff.Abs().Div(pl.Quantity).InexactFloat64() > quantityWarnTolerance {
			variances = append(variances, Variance{
				Field:      "quantity",
				Expected:   pl.Quantity.String(),
				Actual:     il.Quantity.String(),
				Difference: diff,
				Severity:   SeverityWarning,
			})
		}
	}

	if !pl.UnitPrice.IsZero() {
		diff := il.UnitPrice.Sub(pl.UnitPrice)
		relative := diff.Abs().Div(pl.UnitPrice).InexactFloat64()
		if relative > priceWarnTolerance {
			severity := SeverityWarning
			if relative > priceCritTolerance {
				severity = SeverityCritical
			}
			variances = append(variances, Variance{
				Field:      "unit_price",
				Expected:   pl.UnitPrice.String(),
				Actual:     il.UnitPrice.String(),
				Difference: diff,
				Severity:   severity,
			})
		}
	}

	return variances
}

func (m *Matcher) deriveStatus(result *Result, invoiceLines int) string {
	critical := false
	warnings := false
	check := func(vs []Variance) {
		for _, v := range vs {
			if v.Severity == SeverityCritical {
				critical = true
			} else {
				warnings = true
			}
		}
	}
	check(result.HeaderVariances)
	for _, lm := range result.LineMatches {
		check(lm.Variances)
	}

	switch {
	case critical:
		return StatusMismatch
	case warnings || len(result.UnmatchedInvoiceLines) > 0:
		return StatusPartial
	case invoiceLines > 0 && len(result.LineMatches) < invoiceLines:
		return StatusPartial
	default:
		return StatusMatched
	}
}

// deriveConfidence deducts for header variances only; line-level
// discrepancies enter through the clean-line coverage ceiling.
func (m *Matcher) deriveConfidence(result *Result, invLines, poLines int) float64 {
	confidence := 1.0
	for _, v := range result.HeaderVariances {
		if v.Severity == SeverityCritical {
			confidence -= 0.3
		} else {
			confidence -= 0.1
		}
	}

	// Line coverage caps the score: only pairs without variances count
	// as clean matches
	if invLines > 0 {
		clean := 0
		for _, lm := range result.LineMatches {
			if len(lm.Variances) == 0 {
				clean++
			}
		}
		maxLines := invLines
		if poLines > maxLines {
			maxLines = poLines
		}
		ceiling := float64(clean)/float64(maxLines) + 0.3
		if confidence > ceiling {
			confidence = ceiling
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func recommendation(result *Result) string {
	switch result.Status {
	case StatusMatched:
		return "invoice matches the purchase order; eligible for standard approval"
	case StatusPartial:
		if result.Confidence >= 0.7 {
			return "minor variances against the purchase order; review flagged fields"
		}
		return "partial match with significant gaps; route to procurement review"
	case StatusMismatch:
		return "critical variance against the purchase order; hold payment pending investigation"
	default:
		return "unable to match; route to manual review"
	}
}
