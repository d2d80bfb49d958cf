// Package openai adapts the OpenAI chat API to the extraction
// contracts. An empty API key disables the adapter entirely; callers
// fall back to the template summary.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/extract"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// Config holds the chat completion parameters
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 300
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// Summarizer implements extract.Summarizer using OpenAI
type Summarizer struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewSummarizer creates an OpenAI-backed summarizer. Returns nil when
// no API key is configured so callers can wire the fallback instead.
func NewSummarizer(cfg Config, logger *zap.Logger) *Summarizer {
	if cfg.APIKey == "" {
		return nil
	}
	cfg.applyDefaults()
	return &Summarizer{
		client: openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		logger: logger,
	}
}

// Summarize produces a short reviewer-facing summary of the invoice
func (s *Summarizer) Summarize(ctx context.Context, inv *models.Invoice) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an accounts-payable assistant. Summarize invoices for human reviewers in 2-3 plain sentences. Mention the vendor, total, due date, and anything unusual. Do not use markdown.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: s.buildPrompt(inv),
			},
		},
	})
	if err != nil {
		s.logger.Warn("summarization call failed",
			zap.String("invoice_id", inv.ID),
			zap.Error(err))
		return "", fault.Wrap(fault.KindTransient, err, "summarization failed")
	}
	if len(resp.Choices) == 0 {
		return "", fault.Newf(fault.KindTransient, "no response from model")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return extract.FallbackSummary(inv), nil
	}
	return summary, nil
}

func (s *Summarizer) buildPrompt(inv *models.Invoice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s\nVendor: %s\nTotal: %s %s\n",
		inv.InvoiceNumber, inv.VendorName, inv.Total.StringFixed(2), inv.Currency)
	if !inv.DueDate.IsZero() {
		fmt.Fprintf(&b, "Due: %s\n", inv.DueDate.Format("2006-01-02"))
	}
	if inv.PONumber != "" {
		fmt.Fprintf(&b, "PO: %s\n", inv.PONumber)
	}
	if inv.PaymentTerms != "" {
		fmt.Fprintf(&b, "Payment terms: %s\n", inv.PaymentTerms)
	}
	if len(inv.Anomalies) > 0 {
		fmt.Fprintf(&b, "Flagged anomalies: %s\n", strings.Join(inv.Anomalies, ", "))
	}
	if inv.RiskLevel != "" {
		fmt.Fprintf(&b, "Risk: %s (%.3f)\n", inv.RiskLevel, inv.RiskScore)
	}
	b.WriteString("Line items:\n")
	for _, li := range inv.LineItems {
		fmt.Fprintf(&b, "- %s x%s @ %s = %s\n",
			li.Description, li.Quantity.String(), li.UnitPrice.StringFixed(2), li.Amount.StringFixed(2))
	}
	return b.String()
}
