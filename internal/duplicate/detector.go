// Package duplicate maintains per-tenant indices over seen invoices and
// flags resubmissions by content hash, vendor/invoice-number pair, or
// similar amount in a recent window.
package duplicate

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// Match types, ordered by decreasing confidence
const (
	MatchExactHash           = "exact_hash"
	MatchVendorInvoiceNumber = "vendor_invoice_number"
	MatchSimilarAmount       = "similar_amount"
)

// Confidence assigned per match type
const (
	confidenceExactHash     = 1.0
	confidenceVendorInvoice = 0.95
	confidenceSimilarAmount = 0.7
)

// Match is one detected candidate duplicate
type Match struct {
	InvoiceID  string  `json:"invoice_id"`
	MatchType  string  `json:"match_type"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail,omitempty"`
}

// Result is the outcome of a duplicate check
type Result struct {
	IsDuplicate bool    `json:"is_duplicate"`
	Matches     []Match `json:"matches"`
}

// BestMatch returns the highest-confidence match, or nil
func (r *Result) BestMatch() *Match {
	if len(r.Matches) == 0 {
		return nil
	}
	return &r.Matches[0]
}

// Config tunes detection windows. Detection is off unless Enabled is
// set; a disabled detector registers nothing and never matches.
type Config struct {
	Enabled           bool
	HashWindowDays    int
	SimilarWindowDays int
	AmountTolerance   float64
}

type indexEntry struct {
	invoiceID     string
	vendorKey     string
	invoiceNumber string
	amount        decimal.Decimal
	invoiceDate   time.Time
	registeredAt  time.Time
}

// tenantIndex holds the three lookup maps for one tenant
type tenantIndex struct {
	byHash         map[string][]*indexEntry
	byVendorNumber map[string][]*indexEntry
	byVendor       map[string][]*indexEntry
}

func newTenantIndex() *tenantIndex {
	return &tenantIndex{
		byHash:         make(map[string][]*indexEntry),
		byVendorNumber: make(map[string][]*indexEntry),
		byVendor:       make(map[string][]*indexEntry),
	}
}

// Detector runs duplicate checks against per-tenant indices. Indices
// are append-mostly; checks are advisory and re-evaluated if an invoice
// re-enters the pipeline.
type Detector struct {
	mu      sync.RWMutex
	tenants map[string]*tenantIndex
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewDetector creates a detector with the given windows
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if cfg.HashWindowDays <= 0 {
		cfg.HashWindowDays = 90
	}
	if cfg.SimilarWindowDays <= 0 {
		cfg.SimilarWindowDays = 7
	}
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = 0.01
	}
	return &Detector{
		tenants: make(map[string]*tenantIndex),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func vendorKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func vendorNumberKey(vendor, number string) string {
	return vendorKey(vendor) + "|" + strings.TrimSpace(number)
}

// Register adds an invoice to the tenant's indices
func (d *Detector) Register(inv *models.Invoice) {
	if !d.cfg.Enabled {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.tenants[inv.TenantID]
	if !ok {
		idx = newTenantIndex()
		d.tenants[inv.TenantID] = idx
	}

	entry := &indexEntry{
		invoiceID:     inv.ID,
		vendorKey:     vendorKey(inv.VendorName),
		invoiceNumber: strings.TrimSpace(inv.InvoiceNumber),
		amount:        inv.Total,
		invoiceDate:   inv.InvoiceDate,
		registeredAt:  d.now(),
	}

	if inv.ContentHash != "" {
		idx.byHash[inv.ContentHash] = append(idx.byHash[inv.ContentHash], entry)
	}
	if entry.vendorKey != "" && entry.invoiceNumber != "" {
		key := vendorNumberKey(inv.VendorName, inv.InvoiceNumber)
		idx.byVendorNumber[key] = append(idx.byVendorNumber[key], entry)
	}
	if entry.vendorKey != "" {
		idx.byVendor[entry.vendorKey] = append(idx.byVendor[entry.vendorKey], entry)
	}
}

// Check looks for duplicates of the invoice among previously registered
// invoices of the same tenant. Matches are ordered by confidence,
// highest first.
func (d *Detector) Check(inv *models.Invoice) *Result {
	result := &Result{Matches: []Match{}}
	if !d.cfg.Enabled {
		return result
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	idx, ok := d.tenants[inv.TenantID]
	if !ok {
		return result
	}

	seen := make(map[string]bool)
	hashCutoff := d.now().AddDate(0, 0, -d.cfg.HashWindowDays)

	if inv.ContentHash != "" {
		for _, e := range idx.byHash[inv.ContentHash] {
			if e.invoiceID == inv.ID || e.registeredAt.Before(hashCutoff) || seen[e.invoiceID] {
				continue
			}
			seen[e.invoiceID] = true
			result.Matches = append(result.Matches, Match{
				InvoiceID:  e.invoiceID,
				MatchType:  MatchExactHash,
				Confidence: confidenceExactHash,
				Detail:     "identical document content",
			})
		}
	}

	if inv.VendorName != "" && inv.InvoiceNumber != "" {
		key := vendorNumberKey(inv.VendorName, inv.InvoiceNumber)
		for _, e := range idx.byVendorNumber[key] {
			if e.invoiceID == inv.ID || seen[e.invoiceID] {
				continue
			}
			seen[e.invoiceID] = true
			result.Matches = append(result.Matches, Match{
				InvoiceID:  e.invoiceID,
				MatchType:  MatchVendorInvoiceNumber,
				Confidence: confidenceVendorInvoice,
				Detail:     "same vendor and invoice number",
			})
		}
	}

	if inv.VendorName != "" && !inv.Total.IsZero() {
		for _, e := range idx.byVendor[vendorKey(inv.VendorName)] {
			if e.invoiceID == inv.ID || seen[e.invoiceID] {
				continue
			}
			if !d.withinSimilarWindow(inv.InvoiceDate, e.invoiceDate) {
				continue
			}
			if !d.amountsSimilar(inv.Total, e.amount) {
				continue
			}
			seen[e.invoiceID] = true
			result.Matches = append(result.Matches, Match{
				InvoiceID:  e.invoiceID,
				MatchType:  MatchSimilarAmount,
				Confidence: confidenceSimilarAmount,
				Detail:     "similar amount from same vendor in recent window",
			})
		}
	}

	// Checks run in decreasing-confidence order, so matches are already
	// sorted
	result.IsDuplicate = len(result.Matches) > 0
	if result.IsDuplicate {
		d.logger.Info("duplicate candidates found",
			zap.String("invoice_id", inv.ID),
			zap.String("tenant_id", inv.TenantID),
			zap.Int("matches", len(result.Matches)),
			zap.String("best_match_type", result.Matches[0].MatchType))
	}
	return result
}

func (d *Detector) withinSimilarWindow(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(d.cfg.SimilarWindowDays)*24*time.Hour
}

// amountsSimilar compares |a-b| / max(a,b) against the tolerance
func (d *Detector) amountsSimilar(a, b decimal.Decimal) bool {
	if a.IsZero() && b.IsZero() {
		return true
	}
	max := a
	if b.GreaterThan(max) {
		max = b
	}
	if max.IsZero() {
		return false
	}
	ratio := a.Sub(b).Abs().Div(max)
	return ratio.LessThanOrEqual(decimal.NewFromFloat(d.cfg.AmountTolerance))
}
