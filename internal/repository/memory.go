package repository

import (
	"context"
	"sort"
	"sync"

	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/models"
)

// MemoryInvoiceRepository is the map-backed invoice store
type MemoryInvoiceRepository struct {
	mu       sync.RWMutex
	invoices map[string]*models.Invoice
}

// NewMemoryInvoiceRepository creates an empty in-memory invoice store
func NewMemoryInvoiceRepository() *MemoryInvoiceRepository {
	return &MemoryInvoiceRepository{invoices: make(map[string]*models.Invoice)}
}

func (r *MemoryInvoiceRepository) Create(_ context.Context, inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.invoices[inv.ID]; exists {
		return fault.Newf(fault.KindConflict, "invoice %s already exists", inv.ID)
	}
	c := *inv
	r.invoices[inv.ID] = &c
	return nil
}

func (r *MemoryInvoiceRepository) GetByID(_ context.Context, id string) (*models.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invoices[id]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "invoice %s not found", id)
	}
	c := *inv
	return &c, nil
}

func (r *MemoryInvoiceRepository) Update(_ context.Context, inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invoices[inv.ID]; !ok {
		return fault.Newf(fault.KindNotFound, "invoice %s not found", inv.ID)
	}
	c := *inv
	r.invoices[inv.ID] = &c
	return nil
}

func (r *MemoryInvoiceRepository) ListByTenant(_ context.Context, tenantID string, limit int) ([]*models.Invoice, error) {
	return r.list(tenantID, "", limit)
}

func (r *MemoryInvoiceRepository) ListByState(_ context.Context, tenantID string, state domain.State, limit int) ([]*models.Invoice, error) {
	return r.list(tenantID, state, limit)
}

func (r *MemoryInvoiceRepository) list(tenantID string, state domain.State, limit int) ([]*models.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	out := make([]*models.Invoice, 0)
	for _, inv := range r.invoices {
		if tenantID != "" && inv.TenantID != tenantID {
			continue
		}
		if state != "" && inv.State != state {
			continue
		}
		c := *inv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryApprovalTaskRepository is the map-backed task store
type MemoryApprovalTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*models.ApprovalTask
}

// NewMemoryApprovalTaskRepository creates an empty in-memory task store
func NewMemoryApprovalTaskRepository() *MemoryApprovalTaskRepository {
	return &MemoryApprovalTaskRepository{tasks: make(map[string]*models.ApprovalTask)}
}

func (r *MemoryApprovalTaskRepository) Create(_ context.Context, task *models.ApprovalTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return fault.Newf(fault.KindConflict, "task %s already exists", task.ID)
	}
	// One pending task per invoice at any time
	for _, t := range r.tasks {
		if t.InvoiceID == task.InvoiceID && t.Status == models.TaskStatusPending {
			return fault.Newf(fault.KindConflict, "invoice %s already has a pending task", task.InvoiceID)
		}
	}
	c := *task
	r.tasks[task.ID] = &c
	return nil
}

func (r *MemoryApprovalTaskRepository) GetByID(_ context.Context, id string) (*models.ApprovalTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "task %s not found", id)
	}
	c := *task
	return &c, nil
}

func (r *MemoryApprovalTaskRepository) GetPendingByInvoice(_ context.Context, invoiceID string) (*models.ApprovalTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tasks {
		if t.InvoiceID == invoiceID && t.Status == models.TaskStatusPending {
			c := *t
			return &c, nil
		}
	}
	return nil, fault.Newf(fault.KindNotFound, "no pending task for invoice %s", invoiceID)
}

func (r *MemoryApprovalTaskRepository) Update(_ context.Context, task *models.ApprovalTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tasks[task.ID]
	if !ok {
		return fault.Newf(fault.KindNotFound, "task %s not found", task.ID)
	}
	if existing.Status.IsTerminal() {
		return fault.Newf(fault.KindConflict, "task %s already decided (%s)", task.ID, existing.Status)
	}
	c := *task
	r.tasks[task.ID] = &c
	return nil
}

func (r *MemoryApprovalTaskRepository) ListPending(_ context.Context, tenantID string, limit int) ([]*models.ApprovalTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]*models.ApprovalTask, 0)
	for _, t := range r.tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}
		if tenantID != "" && t.TenantID != tenantID {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryPurchaseOrderRepository is the map-backed PO store
type MemoryPurchaseOrderRepository struct {
	mu  sync.RWMutex
	pos map[string]*models.PurchaseOrder // key: tenant|normalized number
}

// NewMemoryPurchaseOrderRepository creates an empty in-memory PO store
func NewMemoryPurchaseOrderRepository() *MemoryPurchaseOrderRepository {
	return &MemoryPurchaseOrderRepository{pos: make(map[string]*models.PurchaseOrder)}
}

func poKey(tenantID, number string) string {
	return tenantID + "|" + number
}

func (r *MemoryPurchaseOrderRepository) Put(_ context.Context, po *models.PurchaseOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *po
	r.pos[poKey(po.TenantID, po.PONumber)] = &c
	return nil
}

func (r *MemoryPurchaseOrderRepository) GetByNumber(_ context.Context, tenantID, normalized string) (*models.PurchaseOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	po, ok := r.pos[poKey(tenantID, normalized)]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "purchase order %s not found", normalized)
	}
	c := *po
	return &c, nil
}

func (r *MemoryPurchaseOrderRepository) ListNumbers(_ context.Context, tenantID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0)
	for _, po := range r.pos {
		if po.TenantID == tenantID {
			out = append(out, po.PONumber)
		}
	}
	sort.Strings(out)
	return out, nil
}
