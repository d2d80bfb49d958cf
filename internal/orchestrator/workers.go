package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/audit"
	"github.com/procureflow/invoice-orchestrator/internal/bus"
	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/models"
	"github.com/procureflow/invoice-orchestrator/internal/pomatch"
	"github.com/procureflow/invoice-orchestrator/internal/rules"
	"github.com/procureflow/invoice-orchestrator/internal/sla"
)

// RegisterWorkers subscribes the stage handlers. Call before the bus
// starts its consumers.
func (s *Service) RegisterWorkers() {
	s.deps.Bus.Subscribe(bus.EventInvoiceUploaded, s.instrument(bus.EventInvoiceUploaded, s.handleUploaded))
	s.deps.Bus.Subscribe(bus.EventInvoiceProcessed, s.instrument(bus.EventInvoiceProcessed, s.handleProcessed))
	s.deps.Bus.Subscribe(bus.EventInvoiceApproved, s.instrument(bus.EventInvoiceApproved, s.handleApproved))
	s.deps.Bus.Subscribe(bus.EventApprovalCompleted, s.instrument(bus.EventApprovalCompleted, s.handleApprovalCompleted))
}

// instrument wraps a stage handler with delivery outcome counters
func (s *Service) instrument(eventType string, h bus.Handler) bus.Handler {
	return func(ctx context.Context, msg *bus.Message) error {
		err := h(ctx, msg)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.deps.Metrics.BusDeliveries.WithLabelValues(eventType, outcome).Inc()
		return err
	}
}

// handleUploaded runs the document stage: OCR, field extraction,
// vendor profiling, and the full duplicate check. Transient failures
// return to the bus for retry; permanent failures park the invoice in
// the error state.
func (s *Service) handleUploaded(ctx context.Context, msg *bus.Message) error {
	invoiceID := msg.GetString("invoice_id")
	if invoiceID == "" {
		s.logger.Warn("uploaded event missing invoice_id, dropping", zap.String("message_id", msg.ID))
		return nil
	}

	unlock := s.lock(invoiceID)
	defer unlock()

	inv, err := s.deps.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		if fault.IsNotFound(err) {
			s.logger.Warn("uploaded event for unknown invoice, dropping", zap.String("invoice_id", invoiceID))
			return nil
		}
		return err
	}

	// Redelivery after the invoice already moved past extraction
	if !s.deps.Workflows.CanFire(invoiceID, domain.ActionStartProcessing) &&
		!s.deps.Workflows.CanFire(invoiceID, domain.ActionCompleteOCR) &&
		!s.deps.Workflows.CanFire(invoiceID, domain.ActionCompleteExtraction) &&
		!s.deps.Workflows.CanFire(invoiceID, domain.ActionValidate) {
		s.logger.Debug("document stage already complete, skipping", zap.String("invoice_id", invoiceID))
		return nil
	}

	stageStart := s.now()
	ranExtraction := false

	if s.deps.Workflows.CanFire(invoiceID, domain.ActionStartProcessing) {
		if err := s.fire(ctx, invoiceID, domain.ActionStartProcessing, "system", "", nil); err != nil {
			return err
		}
	}

	if s.deps.Workflows.CanFire(invoiceID, domain.ActionCompleteOCR) {
		objectKey := msg.GetString("object_key")
		getCtx, cancel := withDeadline(ctx, s.cfg.StorageTimeout)
		content, err := s.deps.Storage.Get(getCtx, objectKey)
		cancel()
		if err != nil {
			if fault.IsTransient(err) {
				return err
			}
			s.failInvoice(ctx, invoiceID, "ocr", err)
			return nil
		}

		ocrCtx, cancel := withDeadline(ctx, s.cfg.OCRTimeout)
		ocrResult, err := s.deps.OCR.Recognize(ocrCtx, content, "")
		cancel()
		if err != nil {
			if fault.IsTransient(err) {
				return err
			}
			s.failInvoice(ctx, invoiceID, "ocr", err)
			return nil
		}
		if ocrResult.Confidence < s.cfg.OCRConfidenceThreshold {
			inv.AddAnomaly("low_ocr_confidence")
		}
		inv.ExtractionConfidence = ocrResult.Confidence

		meta := map[string]interface{}{"ocr_confidence": ocrResult.Confidence}
		if err := s.fire(ctx, invoiceID, domain.ActionCompleteOCR, "system", "", meta); err != nil {
			return err
		}

		extractCtx, cancel := withDeadline(ctx, s.cfg.LLMTimeout)
		extraction, err := s.deps.Extractor.Extract(extractCtx, ocrResult.Text)
		cancel()
		if err != nil {
			if fault.IsTransient(err) {
				return err
			}
			s.failInvoice(ctx, invoiceID, "extraction", err)
			return nil
		}
		applyExtraction(inv, extraction)

		if err := s.deps.Invoices.Update(ctx, inv); err != nil {
			return err
		}
		if err := s.fire(ctx, invoiceID, domain.ActionCompleteExtraction, "system", "", nil); err != nil {
			return err
		}
		ranExtraction = true
	}

	// Vendor statistics fold in before scoring so the risk factors see
	// the history including this invoice. Guarded by ranExtraction so a
	// redelivery never double-counts the invoice.
	if inv.VendorID == "" && inv.VendorName != "" {
		inv.VendorID = vendorIDFromName(inv.VendorName)
	}
	if ranExtraction && inv.VendorID != "" {
		s.deps.Profiler.Observe(inv)
	}

	// Full-field duplicate check now that vendor and number are known
	if dup := s.deps.Detector.Check(inv); dup.IsDuplicate {
		if !inv.HasAnomaly("duplicate_suspected") {
			inv.AddAnomaly("duplicate_suspected")
			s.deps.Metrics.DuplicatesFlagged.Inc()
		}
	}
	s.deps.Detector.Register(inv)

	if err := s.deps.Invoices.Update(ctx, inv); err != nil {
		return err
	}

	s.deps.Metrics.ProcessingDuration.WithLabelValues("document").Observe(s.now().Sub(stageStart).Seconds())

	return s.deps.Bus.Publish(ctx, bus.NewMessage(bus.EventInvoiceProcessed, map[string]interface{}{
		"invoice_id": invoiceID,
		"tenant_id":  inv.TenantID,
	}).WithCorrelationID(msg.CorrelationID))
}

// handleProcessed runs validation, risk scoring, PO matching, and
// rule-based routing. The validate guard makes redelivery a no-op:
// an invoice transitions to validated exactly once.
func (s *Service) handleProcessed(ctx context.Context, msg *bus.Message) error {
	invoiceID := msg.GetString("invoice_id")
	if invoiceID == "" {
		s.logger.Warn("processed event missing invoice_id, dropping", zap.String("message_id", msg.ID))
		return nil
	}

	unlock := s.lock(invoiceID)
	defer unlock()

	if !s.deps.Workflows.CanFire(invoiceID, domain.ActionValidate) {
		s.logger.Debug("validation already complete, skipping", zap.String("invoice_id", invoiceID))
		return nil
	}

	inv, err := s.deps.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	if !inv.TotalsConsistent() {
		inv.AddAnomaly("totals_inconsistent")
	}

	var vendorProfile *models.Vendor
	if inv.VendorID != "" {
		vendorProfile = s.deps.Profiler.Get(inv.TenantID, inv.VendorID)
	}

	duplicateConfidence := 0.0
	if dup := s.deps.Detector.Check(inv); dup.IsDuplicate {
		if best := dup.BestMatch(); best != nil {
			duplicateConfidence = best.Confidence
		}
		if !inv.HasAnomaly("duplicate_suspected") {
			inv.AddAnomaly("duplicate_suspected")
			s.deps.Metrics.DuplicatesFlagged.Inc()
		}
	}

	var poResult *pomatch.Result
	if s.deps.Matcher != nil {
		poResult, err = s.deps.Matcher.Match(ctx, inv)
		if err != nil {
			return err
		}
		if poResult.Status == pomatch.StatusMismatch {
			inv.AddAnomaly("po_mismatch")
		}
	}

	assessment := s.deps.Scorer.Score(riskInput(inv, vendorProfile, duplicateConfidence))
	inv.RiskScore = assessment.OverallScore
	inv.RiskLevel = assessment.Level

	if err := s.deps.Invoices.Update(ctx, inv); err != nil {
		return err
	}
	if err := s.fire(ctx, invoiceID, domain.ActionValidate, "system", "", nil); err != nil {
		return err
	}

	result := s.deps.Rules.Evaluate(s.buildFacts(inv, vendorProfile, poResult))

	switch {
	case result.HasAction(rules.ActionAutoApprove):
		if s.autoApproveAllowed(inv) {
			return s.autoApprove(ctx, inv, result)
		}
		return s.routeToReview(ctx, inv, result)
	case result.HasAction(rules.ActionAutoReject):
		return s.autoReject(ctx, inv, result)
	default:
		return s.routeToReview(ctx, inv, result)
	}
}

// autoApproveAllowed applies the tenant's auto-approve policy on top of
// the rule outcome: the feature must be switched on and the invoice
// must sit under the configured ceiling.
func (s *Service) autoApproveAllowed(inv *models.Invoice) bool {
	if !s.cfg.AutoApproveEnabled {
		return false
	}
	return inv.Total.LessThanOrEqual(decimal.NewFromFloat(s.cfg.AutoApproveMaxAmount))
}

func (s *Service) autoApprove(ctx context.Context, inv *models.Invoice, result *rules.Result) error {
	if err := s.fire(ctx, inv.ID, domain.ActionApprove, "system", "auto-approved by rules", nil); err != nil {
		return err
	}
	s.deps.Metrics.AutoApprovals.Inc()

	if m, err := s.deps.SLAs.Complete(inv.ID); err == nil {
		s.deps.Metrics.ProcessingDuration.WithLabelValues(sla.StageProcessing).Observe(m.ProcessingTime.Seconds())
	}

	s.deps.Audit.Log(audit.Entry{
		EventType:    audit.TypeApprovalDecision,
		Actor:        "system",
		TenantID:     inv.TenantID,
		ResourceType: "invoice",
		ResourceID:   inv.ID,
		Action:       "auto_approve",
		Details:      map[string]interface{}{"matched_rules": result.MatchedRules},
	})

	return s.deps.Bus.Publish(ctx, bus.NewMessage(bus.EventInvoiceApproved, map[string]interface{}{
		"invoice_id": inv.ID,
		"tenant_id":  inv.TenantID,
		"decided_by": "system",
	}))
}

func (s *Service) autoReject(ctx context.Context, inv *models.Invoice, result *rules.Result) error {
	if err := s.fire(ctx, inv.ID, domain.ActionRequestReview, "system", "", nil); err != nil {
		return err
	}
	if err := s.fire(ctx, inv.ID, domain.ActionReject, "system", "auto-rejected by rules", nil); err != nil {
		return err
	}

	s.deps.Audit.Log(audit.Entry{
		EventType:    audit.TypeApprovalDecision,
		Actor:        "system",
		TenantID:     inv.TenantID,
		ResourceType: "invoice",
		ResourceID:   inv.ID,
		Action:       "auto_reject",
		Details:      map[string]interface{}{"matched_rules": result.MatchedRules},
	})

	return s.deps.Bus.Publish(ctx, bus.NewMessage(bus.EventInvoiceRejected, map[string]interface{}{
		"invoice_id": inv.ID,
		"tenant_id":  inv.TenantID,
		"decided_by": "system",
	}))
}

// routeToReview opens an approval task at the level the rules demand
// and hands SLA tracking over to the review window.
func (s *Service) routeToReview(ctx context.Context, inv *models.Invoice, result *rules.Result) error {
	if err := s.fire(ctx, inv.ID, domain.ActionRequestReview, "system", "", nil); err != nil {
		return err
	}

	level := approvalLevelFrom(result)
	now := s.now().UTC()
	rec := s.deps.SLAs.Start(inv.ID, sla.StageReview)

	task := &models.ApprovalTask{
		ID:           taskID(),
		InvoiceID:    inv.ID,
		TenantID:     inv.TenantID,
		Status:       models.TaskStatusPending,
		Priority:     taskPriorityFrom(result),
		AssignedRole: level,
		DueDate:      rec.Deadline,
		SLAStatus:    models.TaskSLAOnTrack,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Tasks.Create(ctx, task); err != nil {
		if fault.IsConflict(err) {
			// Redelivery raced an existing pending task; nothing to do
			return nil
		}
		return err
	}

	s.deps.Audit.Log(audit.Entry{
		EventType:    audit.TypeApprovalCreated,
		Actor:        "system",
		TenantID:     inv.TenantID,
		ResourceType: "approval_task",
		ResourceID:   task.ID,
		Action:       "create",
		Details: map[string]interface{}{
			"invoice_id":    inv.ID,
			"level":         level,
			"priority":      string(task.Priority),
			"matched_rules": result.MatchedRules,
		},
	})

	priority := bus.PriorityNormal
	if task.Priority == models.TaskPriorityUrgent {
		priority = bus.PriorityCritical
	} else if task.Priority == models.TaskPriorityHigh {
		priority = bus.PriorityHigh
	}

	if err := s.deps.Bus.Publish(ctx, bus.NewMessage(bus.EventApprovalRequested, map[string]interface{}{
		"invoice_id": inv.ID,
		"tenant_id":  inv.TenantID,
		"task_id":    task.ID,
		"level":      level,
	}).WithPriority(priority)); err != nil {
		return err
	}

	return s.deps.Bus.Publish(ctx, bus.NewMessage(bus.EventApprovalAssigned, map[string]interface{}{
		"task_id":     task.ID,
		"invoice_id":  inv.ID,
		"approver_id": task.AssignedRole,
	}).WithPriority(priority))
}

// handleApprovalCompleted applies a decision published straight to the
// bus, for approval frontends that record decisions without going
// through Decide. A decision already applied is a no-op, so the events
// Decide itself publishes redeliver harmlessly.
func (s *Service) handleApprovalCompleted(ctx context.Context, msg *bus.Message) error {
	taskID := msg.GetString("task_id")
	decision := msg.GetString("decision")
	switch decision {
	case "approved":
		decision = "approve"
	case "rejected":
		decision = "reject"
	}
	if taskID == "" || decision == "" {
		s.logger.Warn("approval event missing task_id or decision, dropping", zap.String("message_id", msg.ID))
		return nil
	}

	task, err := s.deps.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if fault.IsNotFound(err) {
			s.logger.Warn("approval event for unknown task, dropping", zap.String("task_id", taskID))
			return nil
		}
		return err
	}

	unlock := s.lock(task.InvoiceID)
	defer unlock()

	// Reload under the lock; Decide may have raced us to the task
	task, err = s.deps.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPending {
		return nil
	}
	action := domain.ActionApprove
	if decision == "reject" {
		action = domain.ActionReject
	}
	if !s.deps.Workflows.CanFire(task.InvoiceID, action) {
		return nil
	}

	if err := s.applyDecision(ctx, task, decision, msg.GetString("decided_by"), msg.GetString("comments")); err != nil {
		if fault.IsTransient(err) {
			return err
		}
		s.logger.Warn("approval event not applicable, dropping",
			zap.String("task_id", taskID),
			zap.Error(err))
		return nil
	}
	return nil
}

// handleApproved moves an approved invoice into payment
func (s *Service) handleApproved(ctx context.Context, msg *bus.Message) error {
	invoiceID := msg.GetString("invoice_id")
	if invoiceID == "" {
		return nil
	}

	unlock := s.lock(invoiceID)
	defer unlock()

	if !s.deps.Workflows.CanFire(invoiceID, domain.ActionRequestPayment) {
		return nil
	}
	if err := s.fire(ctx, invoiceID, domain.ActionRequestPayment, "system", "", nil); err != nil {
		return err
	}

	return s.deps.Bus.Publish(ctx, bus.NewMessage(bus.EventPaymentInitiated, map[string]interface{}{
		"invoice_id": invoiceID,
		"tenant_id":  msg.GetString("tenant_id"),
	}))
}

// EscalationSweep advances the escalation ladder for every open SLA
// window. One ladder action at most fires per invoice per sweep.
func (s *Service) EscalationSweep(ctx context.Context) {
	for _, invoiceID := range s.deps.SLAs.Active() {
		esc, err := s.deps.SLAs.NextEscalation(invoiceID)
		if err != nil || esc == nil {
			continue
		}

		s.deps.Metrics.Escalations.WithLabelValues(esc.Level.String()).Inc()

		tenantID := ""
		if inv, err := s.deps.Invoices.GetByID(ctx, invoiceID); err == nil {
			tenantID = inv.TenantID
		}

		s.deps.Audit.Log(audit.Entry{
			EventType:    audit.TypeSLAEscalated,
			Actor:        "system",
			TenantID:     tenantID,
			ResourceType: "invoice",
			ResourceID:   invoiceID,
			Action:       "escalate",
			Details: map[string]interface{}{
				"level":    esc.Level.String(),
				"reminder": esc.Reminder,
			},
		})

		// The executive level only fires on breach, and the ladder is
		// monotone, so this counts each breach exactly once
		if esc.Level == sla.EscalationExecutive {
			if rec, err := s.deps.SLAs.Check(invoiceID); err == nil {
				s.deps.Metrics.SLABreaches.WithLabelValues(rec.Stage).Inc()
			}
		}

		// A manager-or-higher escalation reassigns the pending task
		if esc.Level >= sla.EscalationManager {
			if task, err := s.deps.Tasks.GetPendingByInvoice(ctx, invoiceID); err == nil {
				task.AssignedRole = escalationRole(esc.Level)
				task.SLAStatus = s.slaStatusOf(invoiceID)
				task.UpdatedAt = s.now().UTC()
				if err := s.deps.Tasks.Update(ctx, task); err != nil {
					s.logger.Error("failed to reassign escalated task",
						zap.String("invoice_id", invoiceID),
						zap.Error(err))
				}
			}
		}

		msg := bus.NewMessage(bus.EventSystemWarning, map[string]interface{}{
			"invoice_id": invoiceID,
			"tenant_id":  tenantID,
			"level":      esc.Level.String(),
			"reminder":   esc.Reminder,
		}).WithPriority(bus.PriorityHigh)
		if err := s.deps.Bus.Publish(ctx, msg); err != nil {
			s.logger.Error("failed to publish escalation", zap.Error(err))
		}
	}
}

// RunEscalationLoop sweeps on the configured interval until the
// context is cancelled.
func (s *Service) RunEscalationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EscalationSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EscalationSweep(ctx)
		}
	}
}

func escalationRole(level sla.EscalationLevel) string {
	switch level {
	case sla.EscalationDirector:
		return rules.LevelDirector
	case sla.EscalationExecutive:
		return rules.LevelExecutive
	default:
		return rules.LevelManager
	}
}

func (s *Service) slaStatusOf(invoiceID string) models.SLAStatusValue {
	rec, err := s.deps.SLAs.Check(invoiceID)
	if err != nil {
		return models.TaskSLAOnTrack
	}
	switch rec.Status {
	case sla.StatusBreached:
		return models.TaskSLABreached
	case sla.StatusWarning:
		return models.TaskSLAWarning
	default:
		return models.TaskSLAOnTrack
	}
}
