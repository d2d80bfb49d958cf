// Package risk scores invoices against independent fraud and anomaly
// factors and buckets the weighted result into review levels.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// Factor identifies one risk check
type Factor string

const (
	FactorAmountDeviation    Factor = "AMOUNT_DEVIATION"
	FactorNewVendor          Factor = "NEW_VENDOR"
	FactorMissingPO          Factor = "MISSING_PO"
	FactorRoundAmount        Factor = "ROUND_AMOUNT"
	FactorRushPayment        Factor = "RUSH_PAYMENT"
	FactorThresholdSplitting Factor = "THRESHOLD_SPLITTING"
	FactorDuplicateSuspected Factor = "DUPLICATE_SUSPECTED"
	FactorVendorRisk         Factor = "VENDOR_RISK"
)

// factorWeights are the fixed contribution weights per factor
var factorWeights = map[Factor]float64{
	FactorAmountDeviation:    0.20,
	FactorNewVendor:          0.15,
	FactorMissingPO:          0.10,
	FactorRoundAmount:        0.05,
	FactorRushPayment:        0.10,
	FactorThresholdSplitting: 0.20,
	FactorDuplicateSuspected: 0.25,
	FactorVendorRisk:         0.15,
}

// Risk levels, ascending
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// rushTerms flag payment terms that demand unusual speed
var rushTerms = []string{"immediate", "due upon receipt", "urgent", "asap", "net 0"}

// Indicator is one fired risk check
type Indicator struct {
	Factor      Factor  `json:"factor"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Assessment is the scoring outcome for one invoice
type Assessment struct {
	OverallScore    float64     `json:"overall_score"`
	Level           string      `json:"level"`
	Indicators      []Indicator `json:"indicators"`
	Recommendations []string    `json:"recommendations"`
	RequiresReview  bool        `json:"requires_review"`
}

// Config tunes scoring thresholds
type Config struct {
	ApprovalThresholds []float64
	ReviewThreshold    float64
}

// Input bundles the invoice with the context the orchestrator injects
type Input struct {
	Invoice *models.Invoice
	Vendor  *models.Vendor
	// DuplicateConfidence is the best duplicate-match confidence, zero
	// when the duplicate check found nothing
	DuplicateConfidence float64
}

// Scorer computes risk assessments
type Scorer struct {
	cfg    Config
	logger *zap.Logger
}

// NewScorer creates a scorer
func NewScorer(cfg Config, logger *zap.Logger) *Scorer {
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = 0.5
	}
	if len(cfg.ApprovalThresholds) == 0 {
		cfg.ApprovalThresholds = []float64{500, 5000, 25000}
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score runs every factor check and aggregates fired indicators into a
// weighted overall score
func (s *Scorer) Score(in Input) *Assessment {
	inv := in.Invoice
	amount := inv.Total.InexactFloat64()

	var indicators []Indicator
	add := func(factor Factor, score float64, desc string) {
		indicators = append(indicators, Indicator{
			Factor:      factor,
			Score:       score,
			Weight:      factorWeights[factor],
			Description: desc,
		})
	}

	if ind := checkAmountDeviation(amount, in.Vendor); ind != nil {
		indicators = append(indicators, *ind)
	}

	if in.Vendor == nil || in.Vendor.TotalInvoices == 0 {
		add(FactorNewVendor, 0.7, "first invoice from this vendor")
	} else if in.Vendor.TotalInvoices <= 2 {
		add(FactorNewVendor, 0.4, "fewer than three prior invoices from this vendor")
	}

	if inv.PONumber == "" && amount > 1000 {
		add(FactorMissingPO, 0.6, fmt.Sprintf("no purchase order reference on a %.2f invoice", amount))
	}

	if amount >= 1000 && isRoundThousand(inv.Total) {
		add(FactorRoundAmount, 0.3, "suspiciously round amount")
	}

	if terms := strings.ToLower(inv.PaymentTerms); terms != "" {
		for _, rush := range rushTerms {
			if strings.Contains(terms, rush) {
				add(FactorRushPayment, 0.5, fmt.Sprintf("rush payment terms: %q", inv.PaymentTerms))
				break
			}
		}
	}

	for _, threshold := range s.cfg.ApprovalThresholds {
		if amount >= 0.85*threshold && amount < 0.98*threshold {
			add(FactorThresholdSplitting, 0.6,
				fmt.Sprintf("amount %.2f sits just under approval threshold %.0f", amount, threshold))
			break
		}
	}

	if in.DuplicateConfidence > 0 {
		add(FactorDuplicateSuspected, in.DuplicateConfidence, "duplicate detection flagged this invoice")
	}

	if in.Vendor != nil {
		switch in.Vendor.RiskLevel {
		case models.VendorRiskHigh:
			add(FactorVendorRisk, 0.6, "vendor profile marked high risk")
		case models.VendorRiskCritical:
			add(FactorVendorRisk, 0.9, "vendor profile marked critical risk")
		}
	}

	overall := aggregate(indicators)
	level := bucketLevel(overall)

	assessment := &Assessment{
		OverallScore:    overall,
		Level:           level,
		Indicators:      indicators,
		Recommendations: recommend(indicators, level),
		RequiresReview:  overall >= s.cfg.ReviewThreshold,
	}

	s.logger.Debug("risk assessment computed",
		zap.String("invoice_id", inv.ID),
		zap.Float64("overall_score", overall),
		zap.String("level", level),
		zap.Int("indicators", len(indicators)))

	return assessment
}

func checkAmountDeviation(amount float64, vendor *models.Vendor) *Indicator {
	if vendor == nil || vendor.TotalInvoices == 0 {
		return nil
	}
	avg := vendor.AverageAmount.InexactFloat64()
	if avg <= 0 {
		return nil
	}
	deviation := math.Abs(amount-avg) / avg
	if deviation <= 0.5 {
		return nil
	}
	return &Indicator{
		Factor:      FactorAmountDeviation,
		Score:       math.Min(deviation, 1.0),
		Weight:      factorWeights[FactorAmountDeviation],
		Description: fmt.Sprintf("amount deviates %.0f%% from vendor average %.2f", deviation*100, avg),
	}
}

func isRoundThousand(amount decimal.Decimal) bool {
	return amount.Mod(decimal.NewFromInt(1000)).IsZero()
}

// aggregate computes the weighted average over fired indicators,
// rounded to three decimals
func aggregate(indicators []Indicator) float64 {
	if len(indicators) == 0 {
		return 0
	}
	var weighted, weights float64
	for _, ind := range indicators {
		weighted += ind.Score * ind.Weight
		weights += ind.Weight
	}
	if weights == 0 {
		return 0
	}
	return math.Round(weighted/weights*1000) / 1000
}

// bucketLevel maps the score to the first bucket whose upper bound
// contains it
func bucketLevel(score float64) string {
	switch {
	case score <= 0.3:
		return LevelLow
	case score <= 0.5:
		return LevelMedium
	case score <= 0.7:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func recommend(indicators []Indicator, level string) []string {
	recs := make([]string, 0, len(indicators)+1)
	for _, ind := range indicators {
		switch ind.Factor {
		case FactorAmountDeviation:
			recs = append(recs, "verify the amount against the vendor's billing history")
		case FactorNewVendor:
			recs = append(recs, "confirm vendor registration and bank details")
		case FactorMissingPO:
			recs = append(recs, "request a purchase order reference from the submitter")
		case FactorThresholdSplitting:
			recs = append(recs, "check for related invoices from the same vendor this period")
		case FactorDuplicateSuspected:
			recs = append(recs, "compare against the flagged prior invoice before paying")
		case FactorRushPayment:
			recs = append(recs, "validate the urgency claim with the requester")
		case FactorVendorRisk:
			recs = append(recs, "apply enhanced review per vendor risk policy")
		}
	}
	if level == LevelHigh || level == LevelCritical {
		recs = append(recs, "route to senior approver")
	}
	return recs
}
