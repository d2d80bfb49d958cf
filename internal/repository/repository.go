// Package repository persists invoices, approval tasks, and purchase
// orders. Two backends implement the same contracts: in-memory for
// tests and broker-less deployments, sqlite for durable single-node
// installs.
package repository

import (
	"context"

	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// InvoiceRepository stores invoice records
type InvoiceRepository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	GetByID(ctx context.Context, id string) (*models.Invoice, error)
	Update(ctx context.Context, inv *models.Invoice) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.Invoice, error)
	ListByState(ctx context.Context, tenantID string, state domain.State, limit int) ([]*models.Invoice, error)
}

// ApprovalTaskRepository stores approval tasks
type ApprovalTaskRepository interface {
	Create(ctx context.Context, task *models.ApprovalTask) error
	GetByID(ctx context.Context, id string) (*models.ApprovalTask, error)
	GetPendingByInvoice(ctx context.Context, invoiceID string) (*models.ApprovalTask, error)
	Update(ctx context.Context, task *models.ApprovalTask) error
	ListPending(ctx context.Context, tenantID string, limit int) ([]*models.ApprovalTask, error)
}

// PurchaseOrderRepository stores purchase orders keyed by normalized
// number. It satisfies the PO matcher's store contract.
type PurchaseOrderRepository interface {
	Put(ctx context.Context, po *models.PurchaseOrder) error
	GetByNumber(ctx context.Context, tenantID, normalized string) (*models.PurchaseOrder, error)
	ListNumbers(ctx context.Context, tenantID string) ([]string, error)
}
