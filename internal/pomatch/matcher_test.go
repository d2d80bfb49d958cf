package pomatch

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// mockStore is a function-field PO store stub
type mockStore struct {
	getFn  func(ctx context.Context, tenantID, normalized string) (*models.PurchaseOrder, error)
	listFn func(ctx context.Context, tenantID string) ([]string, error)
}

func (m *mockStore) GetByNumber(ctx context.Context, tenantID, normalized string) (*models.PurchaseOrder, error) {
	return m.getFn(ctx, tenantID, normalized)
}

func (m *mockStore) ListNumbers(ctx context.Context, tenantID string) ([]string, error) {
	if m.listFn == nil {
		return nil, nil
	}
	return m.listFn(ctx, tenantID)
}

func singlePOStore(po *models.PurchaseOrder) *mockStore {
	return &mockStore{
		getFn: func(_ context.Context, _, normalized string) (*models.PurchaseOrder, error) {
			if normalized == po.PONumber {
				return po, nil
			}
			return nil, fault.New(fault.KindNotFound, "po not found")
		},
		listFn: func(_ context.Context, _ string) ([]string, error) {
			return []string{po.PONumber}, nil
		},
	}
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func matchedPO() *models.PurchaseOrder {
	return &models.PurchaseOrder{
		PONumber:   "PO-2026-0042",
		TenantID:   "t1",
		VendorName: "Acme Corporation",
		Currency:   "USD",
		Subtotal:   dec(2000),
		Tax:        dec(160),
		Total:      dec(2160),
		LineItems: []models.POLineItem{
			{Description: "Cloud hosting monthly", Quantity: dec(1), UnitPrice: dec(1200), Amount: dec(1200)},
			{Description: "Support retainer", Quantity: dec(8), UnitPrice: dec(100), Amount: dec(800)},
		},
	}
}

func matchingInvoice() *models.Invoice {
	return &models.Invoice{
		ID:         "inv-1",
		TenantID:   "t1",
		PONumber:   "PO-2026-0042",
		VendorName: "Acme Corporation",
		Currency:   "USD",
		Subtotal:   dec(2000),
		Tax:        dec(160),
		Total:      dec(2160),
		LineItems: []models.LineItem{
			{Description: "Cloud hosting monthly", Quantity: dec(1), UnitPrice: dec(1200), Amount: dec(1200)},
			{Description: "Support retainer", Quantity: dec(8), UnitPrice: dec(100), Amount: dec(800)},
		},
	}
}

func TestNormalizePONumber(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"PO-2026-0042", "2026-0042"},
		{"po# 2026-0042", "2026-0042"},
		{"P.O. 2026/0042", "20260042"},
		{"Purchase Order: ab-12", "AB-12"},
		{"  2026-0042  ", "2026-0042"},
	}
	for _, tt := range tests {
		if got := NormalizePONumber(tt.raw); got != tt.want {
			t.Errorf("NormalizePONumber(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestMatcher_FullMatch(t *testing.T) {
	po := matchedPO()
	po.PONumber = NormalizePONumber(po.PONumber)
	m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())

	res, err := m.Match(context.Background(), matchingInvoice())
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}

	if res.Status != StatusMatched {
		t.Errorf("status = %s, want MATCHED (variances: %v)", res.Status, res.HeaderVariances)
	}
	if len(res.HeaderVariances) != 0 {
		t.Errorf("header variances = %v, want none", res.HeaderVariances)
	}
	if len(res.LineMatches) != 2 {
		t.Errorf("line matches = %d, want 2", len(res.LineMatches))
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", res.Confidence)
	}
}

func TestMatcher_NoPOReference(t *testing.T) {
	m := NewMatcher(&mockStore{}, Config{}, zap.NewNop())

	inv := matchingInvoice()
	inv.PONumber = ""
	res, err := m.Match(context.Background(), inv)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if res.Status != StatusNoPO {
		t.Errorf("status = %s, want NO_PO", res.Status)
	}
}

func TestMatcher_PONotFound(t *testing.T) {
	store := &mockStore{
		getFn: func(_ context.Context, _, _ string) (*models.PurchaseOrder, error) {
			return nil, fault.New(fault.KindNotFound, "po not found")
		},
		listFn: func(_ context.Context, _ string) ([]string, error) {
			return []string{"9999-XYZ"}, nil
		},
	}
	m := NewMatcher(store, Config{}, zap.NewNop())

	res, err := m.Match(context.Background(), matchingInvoice())
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if res.Status != StatusPONotFound {
		t.Errorf("status = %s, want PO_NOT_FOUND", res.Status)
	}
}

func TestMatcher_FuzzyLookup(t *testing.T) {
	po := matchedPO()
	po.PONumber = "2026-0042"
	m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())

	// One transposed character still resolves through the fuzzy path
	inv := matchingInvoice()
	inv.PONumber = "PO-2026-0024"
	res, err := m.Match(context.Background(), inv)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if res.Status == StatusPONotFound {
		t.Fatal("fuzzy lookup should have resolved the PO")
	}
	if res.PONumber != "2026-0042" {
		t.Errorf("resolved po = %s, want 2026-0042", res.PONumber)
	}
}

func TestMatcher_AmountVariance(t *testing.T) {
	po := matchedPO()
	po.PONumber = NormalizePONumber(po.PONumber)

	tests := []struct {
		name     string
		total    float64
		status   string
		severity string
	}{
		{"within tolerance", 2220, StatusMatched, ""},
		{"warning above 5%", 2350, StatusPartial, SeverityWarning},
		{"critical above 10%", 2450, StatusMismatch, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())
			inv := matchingInvoice()
			inv.Total = dec(tt.total)
			res, err := m.Match(context.Background(), inv)
			if err != nil {
				t.Fatalf("Match() error: %v", err)
			}
			if res.Status != tt.status {
				t.Errorf("status = %s, want %s", res.Status, tt.status)
			}
			if tt.severity != "" {
				found := false
				for _, v := range res.HeaderVariances {
					if v.Field == "total_amount" && v.Severity == tt.severity {
						found = true
					}
				}
				if !found {
					t.Errorf("expected %s total_amount variance, got %v", tt.severity, res.HeaderVariances)
				}
			}
		})
	}
}

func TestMatcher_CurrencyMismatchIsCritical(t *testing.T) {
	po := matchedPO()
	po.PONumber = NormalizePONumber(po.PONumber)
	m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())

	inv := matchingInvoice()
	inv.Currency = "EUR"
	res, err := m.Match(context.Background(), inv)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if res.Status != StatusMismatch {
		t.Errorf("status = %s, want MISMATCH", res.Status)
	}
}

func TestMatcher_VendorNameVariance(t *testing.T) {
	po := matchedPO()
	po.PONumber = NormalizePONumber(po.PONumber)
	m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())

	inv := matchingInvoice()
	inv.VendorName = "Completely Different Supplier Ltd"
	res, err := m.Match(context.Background(), inv)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if res.Status != StatusMismatch {
		t.Errorf("status = %s, want MISMATCH for unrelated vendor name", res.Status)
	}
}

func TestMatcher_LinePriceVariance(t *testing.T) {
	po := matchedPO()
	po.PONumber = NormalizePONumber(po.PONumber)
	m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())

	// 5% unit price increase on one line: warning, partial match
	inv := matchingInvoice()
	inv.LineItems[0].UnitPrice = dec(1260)
	res, err := m.Match(context.Background(), inv)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if res.Status != StatusPartial {
		t.Errorf("status = %s, want PARTIAL", res.Status)
	}

	foundWarning := false
	for _, lm := range res.LineMatches {
		for _, v := range lm.Variances {
			if v.Field == "unit_price" && v.Severity == SeverityWarning {
				foundWarning = true
			}
		}
	}
	if !foundWarning {
		t.Error("expected a unit_price warning variance")
	}
}

func TestMatcher_LineVarianceEntersConfidenceThroughCoverage(t *testing.T) {
	po := matchedPO()
	po.PONumber = NormalizePONumber(po.PONumber)
	m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())

	// Critical price variance on one of two lines; headers are clean.
	// The dirty line drops out of the clean-coverage ceiling (1/2 + 0.3)
	// but takes no direct deduction.
	inv := matchingInvoice()
	inv.LineItems[0].UnitPrice = dec(1400)
	res, err := m.Match(context.Background(), inv)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(res.HeaderVariances) != 0 {
		t.Fatalf("header variances = %v, want none", res.HeaderVariances)
	}
	if res.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", res.Confidence)
	}
}

func TestMatcher_UnmatchedInvoiceLine(t *testing.T) {
	po := matchedPO()
	po.PONumber = NormalizePONumber(po.PONumber)
	m := NewMatcher(singlePOStore(po), Config{}, zap.NewNop())

	inv := matchingInvoice()
	inv.LineItems = append(inv.LineItems, models.LineItem{
		Description: "Unrelated extra charge",
		Quantity:    dec(1),
		UnitPrice:   dec(50),
		Amount:      dec(50),
	})
	res, err := m.Match(context.Background(), inv)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if res.Status != StatusPartial {
		t.Errorf("status = %s, want PARTIAL", res.Status)
	}
	if len(res.UnmatchedInvoiceLines) != 1 {
		t.Errorf("unmatched invoice lines = %v, want exactly one", res.UnmatchedInvoiceLines)
	}
	if res.Confidence >= 1.0 {
		t.Errorf("confidence = %v, want below 1.0", res.Confidence)
	}
}
