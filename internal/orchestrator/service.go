// Package orchestrator coordinates the invoice pipeline: intake,
// document processing, validation, risk-based routing, approvals,
// payment, and SLA escalation. Stages communicate through the event
// bus; every stage handler is idempotent because delivery is
// at-least-once.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/audit"
	"github.com/procureflow/invoice-orchestrator/internal/bus"
	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/duplicate"
	"github.com/procureflow/invoice-orchestrator/internal/extract"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/metrics"
	"github.com/procureflow/invoice-orchestrator/internal/models"
	"github.com/procureflow/invoice-orchestrator/internal/pomatch"
	"github.com/procureflow/invoice-orchestrator/internal/repository"
	"github.com/procureflow/invoice-orchestrator/internal/risk"
	"github.com/procureflow/invoice-orchestrator/internal/rules"
	"github.com/procureflow/invoice-orchestrator/internal/sla"
	"github.com/procureflow/invoice-orchestrator/internal/vendor"
	"github.com/procureflow/invoice-orchestrator/internal/workflow"
)

// Config tunes pipeline behavior
type Config struct {
	OCRConfidenceThreshold float64

	// AutoApproveEnabled gates the auto_approve rule outcome; when off,
	// invoices the rules would auto-approve go to review instead.
	AutoApproveEnabled   bool
	AutoApproveMaxAmount float64

	ApprovalThresholds []float64

	// Deadlines for the external collaborator calls
	OCRTimeout     time.Duration
	LLMTimeout     time.Duration
	StorageTimeout time.Duration

	EscalationSweep time.Duration
}

func (c *Config) applyDefaults() {
	if c.OCRConfidenceThreshold <= 0 {
		c.OCRConfidenceThreshold = 0.85
	}
	if c.AutoApproveMaxAmount <= 0 {
		c.AutoApproveMaxAmount = 1000
	}
	if len(c.ApprovalThresholds) == 0 {
		c.ApprovalThresholds = []float64{500, 5000, 25000}
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 60 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 60 * time.Second
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 10 * time.Second
	}
	if c.EscalationSweep <= 0 {
		c.EscalationSweep = time.Minute
	}
}

// Deps bundles everything the service coordinates
type Deps struct {
	Bus       bus.Bus
	Workflows *workflow.Engine
	Invoices  repository.InvoiceRepository
	Tasks     repository.ApprovalTaskRepository
	Detector  *duplicate.Detector
	Scorer    *risk.Scorer
	Rules     *rules.Engine
	Matcher   *pomatch.Matcher
	SLAs      *sla.Manager
	Profiler  *vendor.Profiler
	Audit     *audit.Logger
	Metrics   *metrics.Metrics

	OCR        extract.OCR
	Extractor  extract.FieldExtractor
	Summarizer extract.Summarizer
	Storage    extract.Storage
}

// Service is the pipeline coordinator
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	now func() time.Time
}

// NewService creates the orchestrator
func NewService(cfg Config, deps Deps, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// withDeadline bounds a collaborator call. A non-positive duration
// leaves the context untouched.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// lock serializes pipeline work per invoice. Stage handlers for
// different invoices run concurrently; two deliveries for the same
// invoice never interleave.
func (s *Service) lock(invoiceID string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[invoiceID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[invoiceID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// UploadRequest is the intake input
type UploadRequest struct {
	TenantID    string
	Filename    string
	ContentType string
	Content     []byte
	UploadedBy  string
}

// Upload ingests a document: stores the content, opens the workflow,
// runs the hash-level duplicate pre-check, and publishes
// invoice.uploaded to start the pipeline.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.Invoice, error) {
	if len(req.Content) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "empty document content")
	}
	if req.TenantID == "" {
		return nil, fault.New(fault.KindInvalidInput, "tenant id is required")
	}

	sum := sha256.Sum256(req.Content)
	now := s.now().UTC()

	inv := &models.Invoice{
		ID:          uuid.New().String(),
		DocumentID:  uuid.New().String(),
		TenantID:    req.TenantID,
		State:       domain.StateUploaded,
		ContentHash: hex.EncodeToString(sum[:]),
		Filename:    req.Filename,
		FileSize:    int64(len(req.Content)),
		Currency:    "USD",
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   req.UploadedBy,
	}

	key := extract.ObjectKey(req.TenantID, inv.DocumentID, req.Filename, now)
	putCtx, cancel := withDeadline(ctx, s.cfg.StorageTimeout)
	err := s.deps.Storage.Put(putCtx, key, req.Content, req.ContentType)
	cancel()
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "failed to store document")
	}

	// Hash-level pre-check: an identical document resubmitted within
	// the window is flagged before any processing spend
	if dup := s.deps.Detector.Check(inv); dup.IsDuplicate {
		inv.AddAnomaly("duplicate_suspected")
		s.deps.Metrics.DuplicatesFlagged.Inc()
	}
	s.deps.Detector.Register(inv)

	if err := s.deps.Invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	if _, err := s.deps.Workflows.Create(inv.ID); err != nil {
		return nil, err
	}

	s.deps.SLAs.Start(inv.ID, sla.StageProcessing)

	s.deps.Audit.Log(audit.Entry{
		EventType:    audit.TypeInvoiceUploaded,
		Actor:        req.UploadedBy,
		TenantID:     req.TenantID,
		ResourceType: "invoice",
		ResourceID:   inv.ID,
		Action:       "upload",
		Details: map[string]interface{}{
			"filename":     req.Filename,
			"file_size":    inv.FileSize,
			"content_hash": inv.ContentHash,
		},
	})

	msg := bus.NewMessage(bus.EventInvoiceUploaded, map[string]interface{}{
		"invoice_id": inv.ID,
		"tenant_id":  inv.TenantID,
		"object_key": key,
	})
	if err := s.deps.Bus.Publish(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Info("invoice uploaded",
		zap.String("invoice_id", inv.ID),
		zap.String("tenant_id", inv.TenantID),
		zap.String("filename", req.Filename))
	return inv, nil
}

// Decide applies a human approval decision to the invoice's pending
// task and advances the workflow.
func (s *Service) Decide(ctx context.Context, taskID, decision, decidedBy, comments string) (*models.ApprovalTask, error) {
	task, err := s.deps.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(task.InvoiceID)
	defer unlock()

	if err := s.applyDecision(ctx, task, decision, decidedBy, comments); err != nil {
		return nil, err
	}

	msg := bus.NewMessage(bus.EventApprovalCompleted, map[string]interface{}{
		"invoice_id": task.InvoiceID,
		"task_id":    task.ID,
		"decision":   decision,
		"decided_by": decidedBy,
	})
	if err := s.deps.Bus.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish approval outcome", zap.Error(err))
	}
	return task, nil
}

// applyDecision advances the workflow for a decided task, closes the
// task and its SLA window, and publishes the invoice outcome event.
// Callers hold the invoice lock.
func (s *Service) applyDecision(ctx context.Context, task *models.ApprovalTask, decision, decidedBy, comments string) error {
	var action domain.Action
	var status models.ApprovalTaskStatus
	switch decision {
	case "approve":
		action, status = domain.ActionApprove, models.TaskStatusApproved
	case "reject":
		action, status = domain.ActionReject, models.TaskStatusRejected
	default:
		return fault.Newf(fault.KindInvalidInput, "unknown decision %q", decision)
	}

	if _, err := s.deps.Workflows.Fire(ctx, task.InvoiceID, action, decidedBy, comments, nil); err != nil {
		return err
	}

	now := s.now().UTC()
	task.Status = status
	task.ActionTaken = decision
	task.DecidedBy = decidedBy
	task.DecidedAt = &now
	task.Comments = comments
	task.UpdatedAt = now
	if err := s.deps.Tasks.Update(ctx, task); err != nil {
		return err
	}

	if m, err := s.deps.SLAs.Complete(task.InvoiceID); err == nil {
		s.deps.Metrics.ProcessingDuration.WithLabelValues(sla.StageReview).Observe(m.ProcessingTime.Seconds())
		if m.WasBreached {
			s.deps.Metrics.SLABreaches.WithLabelValues(sla.StageReview).Inc()
		}
	}

	s.deps.Audit.Log(audit.Entry{
		EventType:    audit.TypeApprovalDecision,
		Actor:        decidedBy,
		TenantID:     task.TenantID,
		ResourceType: "approval_task",
		ResourceID:   task.ID,
		Action:       decision,
		Details: map[string]interface{}{
			"invoice_id": task.InvoiceID,
			"comments":   comments,
		},
	})

	outcome := bus.EventInvoiceApproved
	if status == models.TaskStatusRejected {
		outcome = bus.EventInvoiceRejected
	}
	msg := bus.NewMessage(outcome, map[string]interface{}{
		"invoice_id": task.InvoiceID,
		"task_id":    task.ID,
		"decision":   decision,
		"decided_by": decidedBy,
	})
	if err := s.deps.Bus.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish decision event", zap.Error(err))
	}

	s.syncInvoiceState(ctx, task.InvoiceID)
	return nil
}

// ConfirmPayment records payment settlement for an invoice in
// payment_pending and moves it to paid.
func (s *Service) ConfirmPayment(ctx context.Context, invoiceID, reference, actor string) error {
	unlock := s.lock(invoiceID)
	defer unlock()

	meta := map[string]interface{}{"payment_reference": reference}
	if _, err := s.deps.Workflows.Fire(ctx, invoiceID, domain.ActionConfirmPayment, actor, "", meta); err != nil {
		return err
	}
	s.syncInvoiceState(ctx, invoiceID)

	inv, err := s.deps.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	s.deps.Audit.Log(audit.Entry{
		EventType:    audit.TypePaymentRecorded,
		Actor:        actor,
		TenantID:     inv.TenantID,
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		Action:       "confirm_payment",
		Details: map[string]interface{}{
			"reference": reference,
			"amount":    inv.Total.StringFixed(2),
			"currency":  inv.Currency,
		},
	})

	msg := bus.NewMessage(bus.EventInvoicePaid, map[string]interface{}{
		"invoice_id":     invoiceID,
		"tenant_id":      inv.TenantID,
		"amount":         inv.Total.StringFixed(2),
		"currency":       inv.Currency,
		"transaction_id": reference,
	}).WithPriority(bus.PriorityHigh)
	return s.deps.Bus.Publish(ctx, msg)
}

// Archive moves a paid, rejected, or errored invoice to the terminal
// archived state.
func (s *Service) Archive(ctx context.Context, invoiceID, actor string) error {
	unlock := s.lock(invoiceID)
	defer unlock()

	if _, err := s.deps.Workflows.Fire(ctx, invoiceID, domain.ActionArchive, actor, "", nil); err != nil {
		return err
	}
	s.syncInvoiceState(ctx, invoiceID)
	return nil
}

// Retry resubmits a rejected or errored invoice through the pipeline
func (s *Service) Retry(ctx context.Context, invoiceID, actor string) error {
	unlock := s.lock(invoiceID)
	defer unlock()

	if _, err := s.deps.Workflows.Fire(ctx, invoiceID, domain.ActionRetry, actor, "resubmitted", nil); err != nil {
		return err
	}
	s.syncInvoiceState(ctx, invoiceID)

	inv, err := s.deps.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	s.deps.SLAs.Start(invoiceID, sla.StageProcessing)

	key := extract.ObjectKey(inv.TenantID, inv.DocumentID, inv.Filename, inv.CreatedAt)
	msg := bus.NewMessage(bus.EventInvoiceUploaded, map[string]interface{}{
		"invoice_id": invoiceID,
		"tenant_id":  inv.TenantID,
		"object_key": key,
	})
	return s.deps.Bus.Publish(ctx, msg)
}

// Summarize produces the reviewer summary for an invoice, falling back
// to the template when no LLM is configured or the call fails.
func (s *Service) Summarize(ctx context.Context, invoiceID string) (string, error) {
	inv, err := s.deps.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	if s.deps.Summarizer != nil {
		llmCtx, cancel := withDeadline(ctx, s.cfg.LLMTimeout)
		summary, err := s.deps.Summarizer.Summarize(llmCtx, inv)
		cancel()
		if err == nil {
			return summary, nil
		}
	}
	return extract.FallbackSummary(inv), nil
}

// syncInvoiceState mirrors the workflow record's current state onto the
// persisted invoice. Failures are logged; the workflow record stays
// authoritative.
func (s *Service) syncInvoiceState(ctx context.Context, invoiceID string) {
	rec, err := s.deps.Workflows.Get(invoiceID)
	if err != nil {
		return
	}
	inv, err := s.deps.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return
	}
	if inv.State == rec.CurrentState {
		return
	}
	inv.State = rec.CurrentState
	inv.UpdatedAt = s.now().UTC()
	if err := s.deps.Invoices.Update(ctx, inv); err != nil {
		s.logger.Error("failed to sync invoice state",
			zap.String("invoice_id", invoiceID),
			zap.Error(err))
	}
}

// fire advances the workflow and mirrors the state, recording the
// transition outcome metric.
func (s *Service) fire(ctx context.Context, invoiceID string, action domain.Action, actor, comment string, meta map[string]interface{}) error {
	_, err := s.deps.Workflows.Fire(ctx, invoiceID, action, actor, comment, meta)
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.deps.Metrics.Transitions.WithLabelValues(action.String(), outcome).Inc()
	if err != nil {
		return err
	}
	s.syncInvoiceState(ctx, invoiceID)
	return nil
}

// failInvoice parks the invoice in the error state and raises a system
// error event. Used for permanent stage failures; transient failures
// are left to the bus retry budget instead.
func (s *Service) failInvoice(ctx context.Context, invoiceID, stage string, cause error) {
	if err := s.fire(ctx, invoiceID, domain.ActionReportError, "system", cause.Error(), nil); err != nil {
		s.logger.Error("failed to move invoice to error state",
			zap.String("invoice_id", invoiceID),
			zap.Error(err))
		return
	}

	tenantID := ""
	if inv, err := s.deps.Invoices.GetByID(ctx, invoiceID); err == nil {
		tenantID = inv.TenantID
	}

	s.deps.Audit.Log(audit.Entry{
		EventType:    audit.TypeSystemError,
		Actor:        "system",
		TenantID:     tenantID,
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		Action:       "stage_failed",
		Details: map[string]interface{}{
			"stage": stage,
			"error": cause.Error(),
		},
	})

	msg := bus.NewMessage(bus.EventSystemError, map[string]interface{}{
		"invoice_id": invoiceID,
		"stage":      stage,
		"error":      cause.Error(),
	}).WithPriority(bus.PriorityHigh)
	if err := s.deps.Bus.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish system error", zap.Error(err))
	}
}

// buildFacts assembles the nested fact map the rules engine resolves
// dotted field paths against.
func (s *Service) buildFacts(inv *models.Invoice, vendorProfile *models.Vendor, poResult *pomatch.Result) map[string]interface{} {
	facts := map[string]interface{}{
		"amount":     inv.Total.InexactFloat64(),
		"currency":   inv.Currency,
		"risk_score": inv.RiskScore,
		"risk_level": inv.RiskLevel,
		"anomalies":  inv.Anomalies,
		"po_number":  inv.PONumber,
		"invoice": map[string]interface{}{
			"number":        inv.InvoiceNumber,
			"payment_terms": inv.PaymentTerms,
			"line_count":    len(inv.LineItems),
		},
	}

	v := map[string]interface{}{
		"verified":   false,
		"risk_level": models.VendorRiskNormal,
		"name":       inv.VendorName,
	}
	if vendorProfile != nil {
		v["verified"] = vendorProfile.Verified
		v["risk_level"] = vendorProfile.RiskLevel
		v["total_invoices"] = vendorProfile.TotalInvoices
	}
	facts["vendor"] = v

	if poResult != nil {
		facts["po_match"] = map[string]interface{}{
			"status":     poResult.Status,
			"confidence": poResult.Confidence,
		}
	}
	return facts
}

func taskPriorityFrom(result *rules.Result) models.TaskPriority {
	for _, a := range result.ActionsOf(rules.ActionSetPriority) {
		switch a.Param("level") {
		case "urgent":
			return models.TaskPriorityUrgent
		case "high":
			return models.TaskPriorityHigh
		}
	}
	return models.TaskPriorityNormal
}

// approvalLevelFrom picks the highest approval level requested across
// matched rules.
func approvalLevelFrom(result *rules.Result) string {
	rank := map[string]int{rules.LevelManager: 1, rules.LevelDirector: 2, rules.LevelExecutive: 3}
	level := rules.LevelManager
	for _, a := range result.ActionsOf(rules.ActionRequireApproval) {
		if l := a.Param("level"); rank[l] > rank[level] {
			level = l
		}
	}
	return level
}

func taskID() string {
	return fmt.Sprintf("task-%s", uuid.New().String())
}
