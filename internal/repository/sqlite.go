package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/models"
	"github.com/procureflow/invoice-orchestrator/pkg/database"
)

// SQLiteInvoiceRepository persists invoices in sqlite. Line items and
// anomaly tags are stored as JSON columns; monetary fields as strings
// to keep decimal precision.
type SQLiteInvoiceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLiteInvoiceRepository creates a sqlite-backed invoice store
func NewSQLiteInvoiceRepository(db *database.DB, logger *zap.Logger) *SQLiteInvoiceRepository {
	return &SQLiteInvoiceRepository{db: db, logger: logger}
}

const invoiceColumns = `
	id, document_id, tenant_id, state, vendor_id, vendor_name, vendor_address,
	invoice_number, invoice_date, due_date, currency, subtotal, tax, total,
	line_items, po_number, payment_terms, risk_score, risk_level, anomalies,
	extraction_confidence, content_hash, filename, file_size,
	created_at, updated_at, created_by`

func (r *SQLiteInvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	anomalies, err := json.Marshal(inv.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to encode anomalies: %w", err)
	}

	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		inv.ID, inv.DocumentID, inv.TenantID, inv.State.String(),
		inv.VendorID, inv.VendorName, inv.VendorAddress,
		inv.InvoiceNumber, inv.InvoiceDate, inv.DueDate, inv.Currency,
		inv.Subtotal.String(), inv.Tax.String(), inv.Total.String(),
		string(lineItems), inv.PONumber, inv.PaymentTerms,
		inv.RiskScore, inv.RiskLevel, string(anomalies),
		inv.ExtractionConfidence, inv.ContentHash, inv.Filename, inv.FileSize,
		inv.CreatedAt, inv.UpdatedAt, inv.CreatedBy,
	)
	if err != nil {
		r.logger.Error("failed to insert invoice", zap.String("invoice_id", inv.ID), zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (r *SQLiteInvoiceRepository) GetByID(ctx context.Context, id string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

func (r *SQLiteInvoiceRepository) Update(ctx context.Context, inv *models.Invoice) error {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	anomalies, err := json.Marshal(inv.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to encode anomalies: %w", err)
	}

	query := `UPDATE invoices SET
		state = ?, vendor_id = ?, vendor_name = ?, vendor_address = ?,
		invoice_number = ?, invoice_date = ?, due_date = ?, currency = ?,
		subtotal = ?, tax = ?, total = ?, line_items = ?, po_number = ?,
		payment_terms = ?, risk_score = ?, risk_level = ?, anomalies = ?,
		extraction_confidence = ?, updated_at = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		inv.State.String(), inv.VendorID, inv.VendorName, inv.VendorAddress,
		inv.InvoiceNumber, inv.InvoiceDate, inv.DueDate, inv.Currency,
		inv.Subtotal.String(), inv.Tax.String(), inv.Total.String(),
		string(lineItems), inv.PONumber, inv.PaymentTerms,
		inv.RiskScore, inv.RiskLevel, string(anomalies),
		inv.ExtractionConfidence, inv.UpdatedAt,
		inv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fault.Newf(fault.KindNotFound, "invoice %s not found", inv.ID)
	}
	return nil
}

func (r *SQLiteInvoiceRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`
	return r.queryInvoices(ctx, query, tenantID, limit)
}

func (r *SQLiteInvoiceRepository) ListByState(ctx context.Context, tenantID string, state domain.State, limit int) ([]*models.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE tenant_id = ? AND state = ? ORDER BY created_at DESC LIMIT ?`
	return r.queryInvoices(ctx, query, tenantID, state.String(), limit)
}

func (r *SQLiteInvoiceRepository) queryInvoices(ctx context.Context, query string, args ...interface{}) ([]*models.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var state, subtotal, tax, total, lineItems, anomalies string

	err := row.Scan(
		&inv.ID, &inv.DocumentID, &inv.TenantID, &state,
		&inv.VendorID, &inv.VendorName, &inv.VendorAddress,
		&inv.InvoiceNumber, &inv.InvoiceDate, &inv.DueDate, &inv.Currency,
		&subtotal, &tax, &total, &lineItems, &inv.PONumber, &inv.PaymentTerms,
		&inv.RiskScore, &inv.RiskLevel, &anomalies,
		&inv.ExtractionConfidence, &inv.ContentHash, &inv.Filename, &inv.FileSize,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	inv.State = domain.State(state)
	if inv.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("bad subtotal %q: %w", subtotal, err)
	}
	if inv.Tax, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("bad tax %q: %w", tax, err)
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("bad total %q: %w", total, err)
	}
	if err = json.Unmarshal([]byte(lineItems), &inv.LineItems); err != nil {
		return nil, fmt.Errorf("bad line items: %w", err)
	}
	if err = json.Unmarshal([]byte(anomalies), &inv.Anomalies); err != nil {
		return nil, fmt.Errorf("bad anomalies: %w", err)
	}
	return &inv, nil
}

// SQLiteApprovalTaskRepository persists approval tasks in sqlite
type SQLiteApprovalTaskRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLiteApprovalTaskRepository creates a sqlite-backed task store
func NewSQLiteApprovalTaskRepository(db *database.DB, logger *zap.Logger) *SQLiteApprovalTaskRepository {
	return &SQLiteApprovalTaskRepository{db: db, logger: logger}
}

const taskColumns = `
	id, invoice_id, tenant_id, status, priority, assigned_to, assigned_role,
	approvers, due_date, sla_status, action_taken, decided_by, decided_at,
	comments, delegated_to, created_at, updated_at`

func (r *SQLiteApprovalTaskRepository) Create(ctx context.Context, task *models.ApprovalTask) error {
	approvers, err := json.Marshal(task.Approvers)
	if err != nil {
		return fmt.Errorf("failed to encode approvers: %w", err)
	}

	return r.db.WithTransaction(func(tx *sql.Tx) error {
		var pending int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM approval_tasks WHERE invoice_id = ? AND status = ?`,
			task.InvoiceID, string(models.TaskStatusPending)).Scan(&pending)
		if err != nil {
			return fmt.Errorf("failed to check pending tasks: %w", err)
		}
		if pending > 0 {
			return fault.Newf(fault.KindConflict, "invoice %s already has a pending task", task.InvoiceID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO approval_tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.InvoiceID, task.TenantID, string(task.Status), string(task.Priority),
			task.AssignedTo, task.AssignedRole, string(approvers), task.DueDate,
			string(task.SLAStatus), task.ActionTaken, task.DecidedBy, task.DecidedAt,
			task.Comments, task.DelegatedTo, task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	})
}

func (r *SQLiteApprovalTaskRepository) GetByID(ctx context.Context, id string) (*models.ApprovalTask, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM approval_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (r *SQLiteApprovalTaskRepository) GetPendingByInvoice(ctx context.Context, invoiceID string) (*models.ApprovalTask, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM approval_tasks WHERE invoice_id = ? AND status = ?`,
		invoiceID, string(models.TaskStatusPending))
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "no pending task for invoice %s", invoiceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending task: %w", err)
	}
	return task, nil
}

func (r *SQLiteApprovalTaskRepository) Update(ctx context.Context, task *models.ApprovalTask) error {
	approvers, err := json.Marshal(task.Approvers)
	if err != nil {
		return fmt.Errorf("failed to encode approvers: %w", err)
	}

	return r.db.WithTransaction(func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM approval_tasks WHERE id = ?`, task.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return fault.Newf(fault.KindNotFound, "task %s not found", task.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read task status: %w", err)
		}
		if models.ApprovalTaskStatus(status).IsTerminal() {
			return fault.Newf(fault.KindConflict, "task %s already decided (%s)", task.ID, status)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE approval_tasks SET
				status = ?, priority = ?, assigned_to = ?, assigned_role = ?,
				approvers = ?, due_date = ?, sla_status = ?, action_taken = ?,
				decided_by = ?, decided_at = ?, comments = ?, delegated_to = ?,
				updated_at = ?
			WHERE id = ?`,
			string(task.Status), string(task.Priority), task.AssignedTo, task.AssignedRole,
			string(approvers), task.DueDate, string(task.SLAStatus), task.ActionTaken,
			task.DecidedBy, task.DecidedAt, task.Comments, task.DelegatedTo,
			task.UpdatedAt, task.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		return nil
	})
}

func (r *SQLiteApprovalTaskRepository) ListPending(ctx context.Context, tenantID string, limit int) ([]*models.ApprovalTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM approval_tasks
		WHERE status = ? AND (? = '' OR tenant_id = ?)
		ORDER BY created_at ASC LIMIT ?`,
		string(models.TaskStatusPending), tenantID, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ApprovalTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*models.ApprovalTask, error) {
	var task models.ApprovalTask
	var status, priority, slaStatus, approvers string
	var decidedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.InvoiceID, &task.TenantID, &status, &priority,
		&task.AssignedTo, &task.AssignedRole, &approvers, &task.DueDate,
		&slaStatus, &task.ActionTaken, &task.DecidedBy, &decidedAt,
		&task.Comments, &task.DelegatedTo, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = models.ApprovalTaskStatus(status)
	task.Priority = models.TaskPriority(priority)
	task.SLAStatus = models.SLAStatusValue(slaStatus)
	if decidedAt.Valid {
		t := decidedAt.Time
		task.DecidedAt = &t
	}
	if err = json.Unmarshal([]byte(approvers), &task.Approvers); err != nil {
		return nil, fmt.Errorf("bad approvers: %w", err)
	}
	return &task, nil
}

// SQLitePurchaseOrderRepository persists purchase orders in sqlite
type SQLitePurchaseOrderRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLitePurchaseOrderRepository creates a sqlite-backed PO store
func NewSQLitePurchaseOrderRepository(db *database.DB, logger *zap.Logger) *SQLitePurchaseOrderRepository {
	return &SQLitePurchaseOrderRepository{db: db, logger: logger}
}

func (r *SQLitePurchaseOrderRepository) Put(ctx context.Context, po *models.PurchaseOrder) error {
	lineItems, err := json.Marshal(po.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode po lines: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO purchase_orders (
			po_number, tenant_id, vendor_id, vendor_name, currency,
			subtotal, tax, total, line_items, issued_at, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(po_number, tenant_id) DO UPDATE SET
			vendor_id = excluded.vendor_id, vendor_name = excluded.vendor_name,
			currency = excluded.currency, subtotal = excluded.subtotal,
			tax = excluded.tax, total = excluded.total,
			line_items = excluded.line_items, issued_at = excluded.issued_at,
			status = excluded.status`,
		po.PONumber, po.TenantID, po.VendorID, po.VendorName, po.Currency,
		po.Subtotal.String(), po.Tax.String(), po.Total.String(),
		string(lineItems), po.IssuedAt, po.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to put purchase order: %w", err)
	}
	return nil
}

func (r *SQLitePurchaseOrderRepository) GetByNumber(ctx context.Context, tenantID, normalized string) (*models.PurchaseOrder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT po_number, tenant_id, vendor_id, vendor_name, currency,
			subtotal, tax, total, line_items, issued_at, status
		FROM purchase_orders WHERE tenant_id = ? AND po_number = ?`,
		tenantID, normalized)

	var po models.PurchaseOrder
	var subtotal, tax, total, lineItems string
	err := row.Scan(
		&po.PONumber, &po.TenantID, &po.VendorID, &po.VendorName, &po.Currency,
		&subtotal, &tax, &total, &lineItems, &po.IssuedAt, &po.Status,
	)
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "purchase order %s not found", normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}

	if po.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("bad subtotal %q: %w", subtotal, err)
	}
	if po.Tax, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("bad tax %q: %w", tax, err)
	}
	if po.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("bad total %q: %w", total, err)
	}
	if err = json.Unmarshal([]byte(lineItems), &po.LineItems); err != nil {
		return nil, fmt.Errorf("bad po lines: %w", err)
	}
	return &po, nil
}

func (r *SQLitePurchaseOrderRepository) ListNumbers(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT po_number FROM purchase_orders WHERE tenant_id = ? ORDER BY po_number`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list po numbers: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
