package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/models"
)

func sampleInvoice(id, tenant string) *models.Invoice {
	now := time.Now().UTC()
	return &models.Invoice{
		ID:        id,
		TenantID:  tenant,
		State:     domain.StateUploaded,
		Total:     decimal.NewFromFloat(1200.50),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryInvoiceRepository_CRUD(t *testing.T) {
	r := NewMemoryInvoiceRepository()
	ctx := context.Background()

	inv := sampleInvoice("inv-1", "t1")
	if err := r.Create(ctx, inv); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := r.Create(ctx, inv); !fault.IsConflict(err) {
		t.Errorf("duplicate Create = %v, want conflict", err)
	}

	got, err := r.GetByID(ctx, "inv-1")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if !got.Total.Equal(inv.Total) {
		t.Errorf("total = %s, want %s", got.Total, inv.Total)
	}

	// Stored copy is isolated from caller mutation
	got.State = domain.StatePaid
	again, _ := r.GetByID(ctx, "inv-1")
	if again.State != domain.StateUploaded {
		t.Error("mutating a returned invoice must not affect the store")
	}

	got.ID = "inv-1"
	got.State = domain.StateProcessing
	if err := r.Update(ctx, got); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	updated, _ := r.GetByID(ctx, "inv-1")
	if updated.State != domain.StateProcessing {
		t.Errorf("state after update = %s, want processing", updated.State)
	}

	if _, err := r.GetByID(ctx, "missing"); !fault.IsNotFound(err) {
		t.Errorf("GetByID(missing) = %v, want not_found", err)
	}
}

func TestMemoryInvoiceRepository_ListByState(t *testing.T) {
	r := NewMemoryInvoiceRepository()
	ctx := context.Background()

	a := sampleInvoice("inv-1", "t1")
	b := sampleInvoice("inv-2", "t1")
	b.State = domain.StateReviewPending
	c := sampleInvoice("inv-3", "t2")
	c.State = domain.StateReviewPending
	for _, inv := range []*models.Invoice{a, b, c} {
		if err := r.Create(ctx, inv); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	got, err := r.ListByState(ctx, "t1", domain.StateReviewPending, 0)
	if err != nil {
		t.Fatalf("ListByState() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "inv-2" {
		t.Errorf("ListByState = %v, want [inv-2]", got)
	}
}

func TestMemoryApprovalTaskRepository_SinglePendingInvariant(t *testing.T) {
	r := NewMemoryApprovalTaskRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	first := &models.ApprovalTask{
		ID: "task-1", InvoiceID: "inv-1", TenantID: "t1",
		Status: models.TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := r.Create(ctx, first); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	second := &models.ApprovalTask{
		ID: "task-2", InvoiceID: "inv-1", TenantID: "t1",
		Status: models.TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := r.Create(ctx, second); !fault.IsConflict(err) {
		t.Errorf("second pending task = %v, want conflict", err)
	}

	// Once the first is decided, a new pending task is allowed
	first.Status = models.TaskStatusApproved
	if err := r.Update(ctx, first); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if err := r.Create(ctx, second); err != nil {
		t.Errorf("Create after decision = %v, want nil", err)
	}
}

func TestMemoryApprovalTaskRepository_TerminalImmutable(t *testing.T) {
	r := NewMemoryApprovalTaskRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	task := &models.ApprovalTask{
		ID: "task-1", InvoiceID: "inv-1", TenantID: "t1",
		Status: models.TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	r.Create(ctx, task)

	task.Status = models.TaskStatusRejected
	if err := r.Update(ctx, task); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	task.Status = models.TaskStatusApproved
	if err := r.Update(ctx, task); !fault.IsConflict(err) {
		t.Errorf("update of decided task = %v, want conflict", err)
	}
}

func TestMemoryPurchaseOrderRepository(t *testing.T) {
	r := NewMemoryPurchaseOrderRepository()
	ctx := context.Background()

	po := &models.PurchaseOrder{
		PONumber: "2026-0042", TenantID: "t1", VendorName: "Acme Corp",
		Total: decimal.NewFromInt(2160),
	}
	if err := r.Put(ctx, po); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := r.GetByNumber(ctx, "t1", "2026-0042")
	if err != nil {
		t.Fatalf("GetByNumber() error: %v", err)
	}
	if got.VendorName != "Acme Corp" {
		t.Errorf("vendor = %s, want Acme Corp", got.VendorName)
	}

	if _, err := r.GetByNumber(ctx, "t2", "2026-0042"); !fault.IsNotFound(err) {
		t.Errorf("cross-tenant get = %v, want not_found", err)
	}

	numbers, err := r.ListNumbers(ctx, "t1")
	if err != nil {
		t.Fatalf("ListNumbers() error: %v", err)
	}
	if len(numbers) != 1 || numbers[0] != "2026-0042" {
		t.Errorf("numbers = %v, want [2026-0042]", numbers)
	}
}
