package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

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

	"github.com/shopspring/decimal"
)

type stubOCR struct {
	fn func(ctx context.Context, content []byte, contentType string) (*extract.OCRResult, error)
}

func (s *stubOCR) Recognize(ctx context.Context, content []byte, contentType string) (*extract.OCRResult, error) {
	return s.fn(ctx, content, contentType)
}

type stubExtractor struct {
	fn func(ctx context.Context, text string) (*extract.Extraction, error)
}

func (s *stubExtractor) Extract(ctx context.Context, text string) (*extract.Extraction, error) {
	return s.fn(ctx, text)
}

type fixture struct {
	svc       *Service
	bus       *bus.MemoryBus
	invoices  *repository.MemoryInvoiceRepository
	tasks     *repository.MemoryApprovalTaskRepository
	pos       *repository.MemoryPurchaseOrderRepository
	workflows *workflow.Engine
	profiler  *vendor.Profiler
	audit     *audit.Logger
	ocr       *stubOCR
	extractor *stubExtractor
}

// smallExtraction is consistent (370 + 30 = 400) and small enough for
// the auto-approve tier
func smallExtraction() *extract.Extraction {
	return &extract.Extraction{
		VendorName:    "Acme Corp",
		InvoiceNumber: "INV-2026-100",
		InvoiceDate:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Currency:      "USD",
		Subtotal:      "370.00",
		Tax:           "30.00",
		Total:         "400.00",
		PaymentTerms:  "net 30",
		LineItems: []models.LineItem{
			{Description: "Widgets", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromFloat(37), Amount: decimal.NewFromFloat(370)},
		},
		Confidence: 0.97,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	f := &fixture{
		bus: bus.NewMemoryBus(bus.Options{
			RetryBackoff:    time.Millisecond,
			RetryBackoffCap: 4 * time.Millisecond,
			ShutdownDrain:   time.Second,
		}, logger),
		invoices:  repository.NewMemoryInvoiceRepository(),
		tasks:     repository.NewMemoryApprovalTaskRepository(),
		pos:       repository.NewMemoryPurchaseOrderRepository(),
		workflows: workflow.NewEngine(logger),
		profiler:  vendor.NewProfiler(logger),
		audit:     audit.NewLogger(0, logger),
	}
	f.ocr = &stubOCR{fn: func(_ context.Context, _ []byte, _ string) (*extract.OCRResult, error) {
		return &extract.OCRResult{Text: "recognized text", Confidence: 0.95, Provider: "stub"}, nil
	}}
	f.extractor = &stubExtractor{fn: func(_ context.Context, _ string) (*extract.Extraction, error) {
		return smallExtraction(), nil
	}}

	thresholds := []float64{500, 5000, 25000}
	deps := Deps{
		Bus:       f.bus,
		Workflows: f.workflows,
		Invoices:  f.invoices,
		Tasks:     f.tasks,
		Detector:  duplicate.NewDetector(duplicate.Config{Enabled: true}, logger),
		Scorer:    risk.NewScorer(risk.Config{ApprovalThresholds: thresholds}, logger),
		Rules:     rules.NewEngine(rules.DefaultRules(500, 5000, 25000), logger),
		Matcher:   pomatch.NewMatcher(f.pos, pomatch.Config{}, logger),
		SLAs:      sla.NewManager(sla.Config{}, logger),
		Profiler:  f.profiler,
		Audit:     f.audit,
		Metrics:   metrics.NewNop(),
		OCR:       f.ocr,
		Extractor: f.extractor,
		Storage:   extract.NewMemoryStorage(),
	}

	f.svc = NewService(Config{
		ApprovalThresholds:   thresholds,
		AutoApproveEnabled:   true,
		AutoApproveMaxAmount: 1000,
	}, deps, logger)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.svc.RegisterWorkers()
	if err := f.bus.StartConsumers(context.Background()); err != nil {
		t.Fatalf("StartConsumers() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.bus.Stop(ctx)
	})
}

// seedVerifiedVendor observes three prior invoices so the new-vendor
// factor does not fire, then marks the vendor verified
func (f *fixture) seedVerifiedVendor(tenantID string) {
	for i := 0; i < 3; i++ {
		f.profiler.Observe(&models.Invoice{
			TenantID:    tenantID,
			VendorID:    "acme-corp",
			VendorName:  "Acme Corp",
			Total:       decimal.NewFromInt(400),
			InvoiceDate: time.Date(2026, time.Month(4+i), 1, 0, 0, 0, 0, time.UTC),
			Currency:    "USD",
		})
	}
	f.profiler.SetVerified(tenantID, "acme-corp", true)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func (f *fixture) waitForState(t *testing.T, invoiceID string, state domain.State) {
	t.Helper()
	waitFor(t, 3*time.Second, func() bool {
		s, err := f.workflows.CurrentState(invoiceID)
		return err == nil && s == state
	})
}

func TestPipeline_AutoApproveThroughPayment(t *testing.T) {
	f := newFixture(t)
	f.seedVerifiedVendor("t1")
	f.start(t)
	ctx := context.Background()

	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID:   "t1",
		Filename:   "invoice.pdf",
		Content:    []byte("small invoice content"),
		UploadedBy: "uploader@acme.example",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	// Auto-approved and moved into payment without any human decision
	f.waitForState(t, inv.ID, domain.StatePaymentPending)

	stored, _ := f.invoices.GetByID(ctx, inv.ID)
	if stored.RiskLevel != risk.LevelLow {
		t.Errorf("risk level = %s, want low", stored.RiskLevel)
	}
	if stored.VendorName != "Acme Corp" {
		t.Errorf("vendor = %s, want Acme Corp", stored.VendorName)
	}

	if err := f.svc.ConfirmPayment(ctx, inv.ID, "PAY-001", "finance@acme.example"); err != nil {
		t.Fatalf("ConfirmPayment() error: %v", err)
	}
	if s, _ := f.workflows.CurrentState(inv.ID); s != domain.StatePaid {
		t.Errorf("state = %s, want paid", s)
	}

	// The settlement event carries the amount, currency, and the
	// payment reference as transaction id
	paid, _ := f.bus.GetStream(ctx, bus.EventInvoicePaid, "", 0)
	if len(paid) != 1 {
		t.Fatalf("invoice.paid events = %d, want 1", len(paid))
	}
	if got := paid[0].GetString("amount"); got != "400.00" {
		t.Errorf("paid amount = %s, want 400.00", got)
	}
	if got := paid[0].GetString("currency"); got != "USD" {
		t.Errorf("paid currency = %s, want USD", got)
	}
	if got := paid[0].GetString("transaction_id"); got != "PAY-001" {
		t.Errorf("paid transaction_id = %s, want PAY-001", got)
	}

	if err := f.svc.Archive(ctx, inv.ID, "system"); err != nil {
		t.Fatalf("Archive() error: %v", err)
	}
	if s, _ := f.workflows.CurrentState(inv.ID); s != domain.StateArchived {
		t.Errorf("state = %s, want archived", s)
	}

	// The audit trail covers upload, auto-approve, and payment
	events := f.audit.Query(audit.Filter{TenantID: "t1", ResourceID: inv.ID})
	types := map[string]bool{}
	for _, e := range events {
		types[e.EventType] = true
	}
	for _, want := range []string{audit.TypeInvoiceUploaded, audit.TypeApprovalDecision, audit.TypePaymentRecorded} {
		if !types[want] {
			t.Errorf("audit trail missing %s", want)
		}
	}
}

func TestPipeline_LargeInvoiceRoutedToDirector(t *testing.T) {
	f := newFixture(t)
	f.extractor.fn = func(_ context.Context, _ string) (*extract.Extraction, error) {
		ex := smallExtraction()
		ex.Subtotal = "9250.00"
		ex.Tax = "750.00"
		ex.Total = "10000.00"
		return ex, nil
	}
	f.start(t)
	ctx := context.Background()

	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID:   "t1",
		Filename:   "big.pdf",
		Content:    []byte("large invoice content"),
		UploadedBy: "uploader@acme.example",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	f.waitForState(t, inv.ID, domain.StateReviewPending)

	task, err := f.tasks.GetPendingByInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("no pending task: %v", err)
	}
	if task.AssignedRole != rules.LevelDirector {
		t.Errorf("assigned role = %s, want director", task.AssignedRole)
	}

	// Routing announces both the request and the assignment
	assigned, _ := f.bus.GetStream(ctx, bus.EventApprovalAssigned, "", 0)
	if len(assigned) != 1 {
		t.Fatalf("approval.assigned events = %d, want 1", len(assigned))
	}
	if got := assigned[0].GetString("task_id"); got != task.ID {
		t.Errorf("assigned task_id = %s, want %s", got, task.ID)
	}
	if got := assigned[0].GetString("invoice_id"); got != inv.ID {
		t.Errorf("assigned invoice_id = %s, want %s", got, inv.ID)
	}
	if got := assigned[0].GetString("approver_id"); got != rules.LevelDirector {
		t.Errorf("assigned approver_id = %s, want director", got)
	}

	if _, err := f.svc.Decide(ctx, task.ID, "approve", "director@acme.example", "looks fine"); err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	f.waitForState(t, inv.ID, domain.StatePaymentPending)

	decided, _ := f.tasks.GetByID(ctx, task.ID)
	if decided.Status != models.TaskStatusApproved {
		t.Errorf("task status = %s, want approved", decided.Status)
	}
	if decided.DecidedBy != "director@acme.example" {
		t.Errorf("decided_by = %s", decided.DecidedBy)
	}
}

func TestPipeline_RejectionThenRetry(t *testing.T) {
	f := newFixture(t)
	f.extractor.fn = func(_ context.Context, _ string) (*extract.Extraction, error) {
		ex := smallExtraction()
		ex.Subtotal = "1850.00"
		ex.Tax = "150.00"
		ex.Total = "2000.00"
		return ex, nil
	}
	f.start(t)
	ctx := context.Background()

	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID:   "t1",
		Filename:   "invoice.pdf",
		Content:    []byte("mid-size invoice"),
		UploadedBy: "uploader@acme.example",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	f.waitForState(t, inv.ID, domain.StateReviewPending)
	task, _ := f.tasks.GetPendingByInvoice(ctx, inv.ID)

	if _, err := f.svc.Decide(ctx, task.ID, "reject", "manager@acme.example", "wrong cost center"); err != nil {
		t.Fatalf("Decide(reject) error: %v", err)
	}
	if s, _ := f.workflows.CurrentState(inv.ID); s != domain.StateRejected {
		t.Errorf("state = %s, want rejected", s)
	}

	// Resubmission runs the pipeline again from the top
	if err := f.svc.Retry(ctx, inv.ID, "uploader@acme.example"); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	f.waitForState(t, inv.ID, domain.StateReviewPending)

	rec, _ := f.workflows.Get(inv.ID)
	var retries int
	for _, tr := range rec.History {
		if tr.Action == domain.ActionRetry {
			retries++
		}
	}
	if retries != 1 {
		t.Errorf("retry transitions = %d, want 1", retries)
	}
}

func TestPipeline_DuplicateResubmissionForcedToReview(t *testing.T) {
	f := newFixture(t)
	f.seedVerifiedVendor("t1")
	f.start(t)
	ctx := context.Background()

	content := []byte("identical document bytes")
	first, err := f.svc.Upload(ctx, UploadRequest{
		TenantID: "t1", Filename: "a.pdf", Content: content, UploadedBy: "u1",
	})
	if err != nil {
		t.Fatalf("first Upload() error: %v", err)
	}
	f.waitForState(t, first.ID, domain.StatePaymentPending)

	second, err := f.svc.Upload(ctx, UploadRequest{
		TenantID: "t1", Filename: "a-again.pdf", Content: content, UploadedBy: "u1",
	})
	if err != nil {
		t.Fatalf("second Upload() error: %v", err)
	}

	// Despite being small and from a verified vendor, the duplicate is
	// never auto-approved
	f.waitForState(t, second.ID, domain.StateReviewPending)

	stored, _ := f.invoices.GetByID(ctx, second.ID)
	if !stored.HasAnomaly("duplicate_suspected") {
		t.Error("second invoice not flagged duplicate_suspected")
	}

	task, err := f.tasks.GetPendingByInvoice(ctx, second.ID)
	if err != nil {
		t.Fatalf("no pending task for duplicate: %v", err)
	}
	if task.Priority != models.TaskPriorityHigh {
		t.Errorf("task priority = %s, want high", task.Priority)
	}
}

func TestPipeline_TransientOCRFailureRetriesToCompletion(t *testing.T) {
	f := newFixture(t)
	f.seedVerifiedVendor("t1")

	var calls int32
	f.ocr.fn = func(_ context.Context, _ []byte, _ string) (*extract.OCRResult, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, fault.New(fault.KindTransient, "ocr provider unavailable")
		}
		return &extract.OCRResult{Text: "recognized", Confidence: 0.95}, nil
	}
	f.start(t)

	inv, err := f.svc.Upload(context.Background(), UploadRequest{
		TenantID: "t1", Filename: "a.pdf", Content: []byte("flaky"), UploadedBy: "u1",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	f.waitForState(t, inv.ID, domain.StatePaymentPending)
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("ocr calls = %d, want 3", got)
	}
	if dlq := f.bus.DeadLetters(); len(dlq) != 0 {
		t.Errorf("dead letters = %d, want 0", len(dlq))
	}
}

func TestPipeline_ExhaustedRetriesDeadLetterInvoiceStaysProcessing(t *testing.T) {
	f := newFixture(t)
	f.ocr.fn = func(_ context.Context, _ []byte, _ string) (*extract.OCRResult, error) {
		return nil, fault.New(fault.KindTransient, "ocr provider down")
	}
	f.start(t)

	inv, err := f.svc.Upload(context.Background(), UploadRequest{
		TenantID: "t1", Filename: "a.pdf", Content: []byte("doomed"), UploadedBy: "u1",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return len(f.bus.DeadLetters()) == 1
	})

	// The invoice is stuck mid-stage, not errored: the failure was
	// transient and the message is recoverable from the DLQ
	if s, _ := f.workflows.CurrentState(inv.ID); s != domain.StateProcessing {
		t.Errorf("state = %s, want processing", s)
	}
	dlq := f.bus.DeadLetters()
	if dlq[0].Original.EventType != bus.EventInvoiceUploaded {
		t.Errorf("dead-lettered type = %s, want invoice.uploaded", dlq[0].Original.EventType)
	}

	// Exhaustion raises system.error alongside the dead-letter entry
	errs, _ := f.bus.GetStream(context.Background(), bus.EventSystemError, "", 0)
	if len(errs) != 1 {
		t.Fatalf("system.error events = %d, want 1", len(errs))
	}
	if got := errs[0].GetString("event_type"); got != bus.EventInvoiceUploaded {
		t.Errorf("system.error event_type = %s, want invoice.uploaded", got)
	}
	if errs[0].Priority != bus.PriorityHigh {
		t.Errorf("system.error priority = %v, want high", errs[0].Priority)
	}
}

func TestPipeline_BusPublishedDecisionCompletesApproval(t *testing.T) {
	f := newFixture(t)
	f.extractor.fn = func(_ context.Context, _ string) (*extract.Extraction, error) {
		ex := smallExtraction()
		ex.Subtotal = "9250.00"
		ex.Tax = "750.00"
		ex.Total = "10000.00"
		return ex, nil
	}
	f.start(t)
	ctx := context.Background()

	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID:   "t1",
		Filename:   "big.pdf",
		Content:    []byte("large invoice content"),
		UploadedBy: "uploader@acme.example",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	f.waitForState(t, inv.ID, domain.StateReviewPending)
	task, err := f.tasks.GetPendingByInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("no pending task: %v", err)
	}

	// An approval frontend records its decision straight on the bus
	decided := bus.NewMessage(bus.EventApprovalCompleted, map[string]interface{}{
		"invoice_id": inv.ID,
		"task_id":    task.ID,
		"decision":   "approved",
		"decided_by": "director@acme.example",
	})
	if err := f.bus.Publish(ctx, decided); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	f.waitForState(t, inv.ID, domain.StatePaymentPending)

	done, _ := f.tasks.GetByID(ctx, task.ID)
	if done.Status != models.TaskStatusApproved {
		t.Errorf("task status = %s, want approved", done.Status)
	}
	if done.DecidedBy != "director@acme.example" {
		t.Errorf("decided_by = %s", done.DecidedBy)
	}

	// Redelivery of the decision is a no-op
	if err := f.bus.Publish(ctx, decided); err != nil {
		t.Fatalf("republish error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	rec, _ := f.workflows.Get(inv.ID)
	var approvals int
	for _, tr := range rec.History {
		if tr.Action == domain.ActionApprove {
			approvals++
		}
	}
	if approvals != 1 {
		t.Errorf("approve transitions = %d, want exactly 1", approvals)
	}
}

func TestPipeline_AutoApproveDisabledRoutesToReview(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.AutoApproveEnabled = false
	f.seedVerifiedVendor("t1")
	f.start(t)
	ctx := context.Background()

	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID:   "t1",
		Filename:   "invoice.pdf",
		Content:    []byte("small invoice content"),
		UploadedBy: "uploader@acme.example",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	// Rules would auto-approve, but the tenant switched the feature off
	f.waitForState(t, inv.ID, domain.StateReviewPending)
	if _, err := f.tasks.GetPendingByInvoice(ctx, inv.ID); err != nil {
		t.Errorf("expected a pending review task: %v", err)
	}
}

func TestPipeline_AutoApproveCeilingRoutesToReview(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.AutoApproveMaxAmount = 300
	f.seedVerifiedVendor("t1")
	f.start(t)
	ctx := context.Background()

	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID:   "t1",
		Filename:   "invoice.pdf",
		Content:    []byte("small invoice content"),
		UploadedBy: "uploader@acme.example",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	// The 400.00 total clears the rule tier but not the tenant ceiling
	f.waitForState(t, inv.ID, domain.StateReviewPending)
}

func TestPipeline_PermanentExtractionFailureParksInvoiceInError(t *testing.T) {
	f := newFixture(t)
	f.extractor.fn = func(_ context.Context, _ string) (*extract.Extraction, error) {
		return nil, fault.New(fault.KindInvalidInput, "document is not an invoice")
	}
	f.start(t)
	ctx := context.Background()

	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID: "t1", Filename: "menu.pdf", Content: []byte("lunch menu"), UploadedBy: "u1",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	f.waitForState(t, inv.ID, domain.StateError)

	if dlq := f.bus.DeadLetters(); len(dlq) != 0 {
		t.Errorf("permanent failures must not dead-letter, got %d", len(dlq))
	}

	msgs, _ := f.bus.GetStream(ctx, bus.EventSystemError, "", 10)
	if len(msgs) != 1 {
		t.Fatalf("system.error events = %d, want 1", len(msgs))
	}
	if msgs[0].GetString("invoice_id") != inv.ID {
		t.Errorf("system.error invoice_id = %s", msgs[0].GetString("invoice_id"))
	}
}

func TestHandleProcessed_DoubleDeliveryValidatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Drive an invoice to the extracted state directly, bypassing the
	// bus, then deliver invoice.processed twice
	inv, err := f.svc.Upload(ctx, UploadRequest{
		TenantID: "t1", Filename: "a.pdf", Content: []byte("doc"), UploadedBy: "u1",
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	for _, a := range []domain.Action{domain.ActionStartProcessing, domain.ActionCompleteOCR, domain.ActionCompleteExtraction} {
		if _, err := f.workflows.Fire(ctx, inv.ID, a, "system", "", nil); err != nil {
			t.Fatalf("Fire(%s) error: %v", a, err)
		}
	}

	msg := bus.NewMessage(bus.EventInvoiceProcessed, map[string]interface{}{
		"invoice_id": inv.ID,
		"tenant_id":  "t1",
	})
	if err := f.svc.handleProcessed(ctx, msg); err != nil {
		t.Fatalf("first delivery error: %v", err)
	}
	if err := f.svc.handleProcessed(ctx, msg); err != nil {
		t.Fatalf("second delivery error: %v", err)
	}

	rec, _ := f.workflows.Get(inv.ID)
	var validations int
	for _, tr := range rec.History {
		if tr.Action == domain.ActionValidate {
			validations++
		}
	}
	if validations != 1 {
		t.Errorf("validate transitions = %d, want exactly 1", validations)
	}

	// Redelivery must not open a second approval task either
	tasks, _ := f.tasks.ListPending(ctx, "t1", 0)
	var forInvoice int
	for _, task := range tasks {
		if task.InvoiceID == inv.ID {
			forInvoice++
		}
	}
	if forInvoice > 1 {
		t.Errorf("pending tasks = %d, want at most 1", forInvoice)
	}
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadRequest{TenantID: "t1"})
	if fault.KindOf(err) != fault.KindInvalidInput {
		t.Errorf("empty content error = %v, want invalid_input", err)
	}

	_, err = f.svc.Upload(ctx, UploadRequest{Content: []byte("doc")})
	if fault.KindOf(err) != fault.KindInvalidInput {
		t.Errorf("missing tenant error = %v, want invalid_input", err)
	}
}

func TestDecide_UnknownDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	task := &models.ApprovalTask{
		ID: "task-1", InvoiceID: "inv-1", TenantID: "t1",
		Status: models.TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	f.tasks.Create(ctx, task)

	_, err := f.svc.Decide(ctx, "task-1", "defer", "manager", "")
	if fault.KindOf(err) != fault.KindInvalidInput {
		t.Errorf("err = %v, want invalid_input", err)
	}
}

func TestSummarize_FallbackWithoutProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := &models.Invoice{
		ID: "inv-1", TenantID: "t1", InvoiceNumber: "INV-9",
		VendorName: "Globex", Currency: "USD",
		Total:     decimal.NewFromInt(250),
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	f.invoices.Create(ctx, inv)

	summary, err := f.svc.Summarize(ctx, "inv-1")
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if summary == "" {
		t.Error("expected non-empty fallback summary")
	}
}

func TestEscalationSweep_FreshRecordIsQuiet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := &models.Invoice{
		ID: "inv-1", TenantID: "t1",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		Total: decimal.NewFromInt(2000),
	}
	f.invoices.Create(ctx, inv)
	f.svc.deps.SLAs.Start("inv-1", sla.StageReview)

	f.svc.EscalationSweep(ctx)

	events := f.audit.Query(audit.Filter{EventType: audit.TypeSLAEscalated})
	if len(events) != 0 {
		t.Errorf("escalation events on fresh record = %d, want 0", len(events))
	}
}

func TestEscalationRoleMapping(t *testing.T) {
	tests := []struct {
		level sla.EscalationLevel
		want  string
	}{
		{sla.EscalationManager, rules.LevelManager},
		{sla.EscalationDirector, rules.LevelDirector},
		{sla.EscalationExecutive, rules.LevelExecutive},
	}
	for _, tt := range tests {
		if got := escalationRole(tt.level); got != tt.want {
			t.Errorf("escalationRole(%s) = %s, want %s", tt.level, got, tt.want)
		}
	}
}
