package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/audit"
	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
	"github.com/procureflow/invoice-orchestrator/internal/orchestrator"
	"github.com/procureflow/invoice-orchestrator/internal/repository"
	"github.com/procureflow/invoice-orchestrator/internal/sla"
	"github.com/procureflow/invoice-orchestrator/internal/workflow"
)

// maxUploadBytes bounds document intake size
const maxUploadBytes = 25 << 20

// Handlers holds the HTTP request handlers
type Handlers struct {
	svc       *orchestrator.Service
	invoices  repository.InvoiceRepository
	tasks     repository.ApprovalTaskRepository
	workflows *workflow.Engine
	slas      *sla.Manager
	audit     *audit.Logger
	logger    *zap.Logger
}

// NewHandlers creates the handler set
func NewHandlers(
	svc *orchestrator.Service,
	invoices repository.InvoiceRepository,
	tasks repository.ApprovalTaskRepository,
	workflows *workflow.Engine,
	slas *sla.Manager,
	auditLog *audit.Logger,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		svc:       svc,
		invoices:  invoices,
		tasks:     tasks,
		workflows: workflows,
		slas:      slas,
		audit:     auditLog,
		logger:    logger,
	}
}

// Response is the standard JSON envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// statusOf maps error classifications onto HTTP statuses
func statusOf(err error) int {
	switch fault.KindOf(err) {
	case fault.KindInvalidInput:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindConflict:
		return http.StatusConflict
	case fault.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	c.JSON(statusOf(err), Response{Success: false, Error: err.Error()})
}

func (h *Handlers) limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		h.fail(c, fault.New(fault.KindInvalidInput, "limit must be a non-negative integer"))
		return 0, false
	}
	return limit, true
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
}

// UploadInvoice handles POST /api/invoices (multipart form: file,
// tenant_id, uploaded_by)
func (h *Handlers) UploadInvoice(c *gin.Context) {
	tenantID := c.PostForm("tenant_id")
	uploadedBy := c.PostForm("uploaded_by")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.fail(c, fault.Wrap(fault.KindInvalidInput, err, "missing file upload"))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		h.fail(c, fault.Newf(fault.KindInvalidInput, "file exceeds %d bytes", maxUploadBytes))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.fail(c, fault.Wrap(fault.KindInvalidInput, err, "unreadable file upload"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		h.fail(c, fault.Wrap(fault.KindTransient, err, "failed to read upload"))
		return
	}

	inv, err := h.svc.Upload(c.Request.Context(), orchestrator.UploadRequest{
		TenantID:    tenantID,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
		UploadedBy:  uploadedBy,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true, Data: inv})
}

// GetInvoice handles GET /api/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	inv, err := h.invoices.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inv})
}

// ListInvoices handles GET /api/invoices?tenant_id=&state=&limit=
func (h *Handlers) ListInvoices(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		h.fail(c, fault.New(fault.KindInvalidInput, "tenant_id is required"))
		return
	}

	limit, ok := h.limitParam(c)
	if !ok {
		return
	}

	state := domain.State(c.Query("state"))
	var err error
	var out interface{}
	if state != "" {
		if !state.IsValid() {
			h.fail(c, fault.Newf(fault.KindInvalidInput, "unknown state %q", state))
			return
		}
		out, err = h.invoices.ListByState(c.Request.Context(), tenantID, state, limit)
	} else {
		out, err = h.invoices.ListByTenant(c.Request.Context(), tenantID, limit)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// GetWorkflow handles GET /api/invoices/:id/workflow
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.workflows.Get(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	actions, _ := h.workflows.PermittedActions(id)

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"record":            rec,
		"permitted_actions": actions,
	}})
}

// GetSummary handles GET /api/invoices/:id/summary
func (h *Handlers) GetSummary(c *gin.Context) {
	summary, err := h.svc.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"summary": summary}})
}

// GetSLA handles GET /api/invoices/:id/sla
func (h *Handlers) GetSLA(c *gin.Context) {
	rec, err := h.slas.Check(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rec})
}

// SLAStats handles GET /api/sla/stats
func (h *Handlers) SLAStats(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.slas.Stats()})
}

// SLAAtRisk handles GET /api/sla/at-risk
func (h *Handlers) SLAAtRisk(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.slas.AtRisk()})
}

type paymentRequest struct {
	Reference string `json:"reference" binding:"required"`
	Actor     string `json:"actor"`
}

// ConfirmPayment handles POST /api/invoices/:id/payment
func (h *Handlers) ConfirmPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fault.Wrap(fault.KindInvalidInput, err, "invalid payment request"))
		return
	}
	if err := h.svc.ConfirmPayment(c.Request.Context(), c.Param("id"), req.Reference, req.Actor); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

type actorRequest struct {
	Actor string `json:"actor"`
}

// ArchiveInvoice handles POST /api/invoices/:id/archive
func (h *Handlers) ArchiveInvoice(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.svc.Archive(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RetryInvoice handles POST /api/invoices/:id/retry
func (h *Handlers) RetryInvoice(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.svc.Retry(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListPendingTasks handles GET /api/tasks?tenant_id=&limit=
func (h *Handlers) ListPendingTasks(c *gin.Context) {
	limit, ok := h.limitParam(c)
	if !ok {
		return
	}
	tasks, err := h.tasks.ListPending(c.Request.Context(), c.Query("tenant_id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

type decisionRequest struct {
	Decision  string `json:"decision" binding:"required"`
	DecidedBy string `json:"decided_by" binding:"required"`
	Comments  string `json:"comments"`
}

// DecideTask handles POST /api/tasks/:id/decision
func (h *Handlers) DecideTask(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fault.Wrap(fault.KindInvalidInput, err, "invalid decision request"))
		return
	}
	task, err := h.svc.Decide(c.Request.Context(), c.Param("id"), req.Decision, req.DecidedBy, req.Comments)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// QueryAudit handles GET /api/audit with filter query parameters
func (h *Handlers) QueryAudit(c *gin.Context) {
	f := audit.Filter{
		TenantID:     c.Query("tenant_id"),
		EventType:    c.Query("event_type"),
		Actor:        c.Query("actor"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
	}
	limit, ok := h.limitParam(c)
	if !ok {
		return
	}
	f.Limit = limit
	c.JSON(http.StatusOK, Response{Success: true, Data: h.audit.Query(f)})
}

func (h *Handlers) exportRange(c *gin.Context) (string, time.Time, time.Time, bool) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		h.fail(c, fault.New(fault.KindInvalidInput, "tenant_id is required"))
		return "", time.Time{}, time.Time{}, false
	}
	from, to := time.Time{}, time.Now().UTC()
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.fail(c, fault.New(fault.KindInvalidInput, "from must be RFC3339"))
			return "", time.Time{}, time.Time{}, false
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.fail(c, fault.New(fault.KindInvalidInput, "to must be RFC3339"))
			return "", time.Time{}, time.Time{}, false
		}
		to = t
	}
	return tenantID, from, to, true
}

// ExportAuditJSON handles GET /api/audit/export
func (h *Handlers) ExportAuditJSON(c *gin.Context) {
	tenantID, from, to, ok := h.exportRange(c)
	if !ok {
		return
	}
	raw, err := h.audit.ExportJSON(tenantID, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// ExportAuditWorkbook handles GET /api/audit/export.xlsx
func (h *Handlers) ExportAuditWorkbook(c *gin.Context) {
	tenantID, from, to, ok := h.exportRange(c)
	if !ok {
		return
	}
	wb, err := h.audit.ExportWorkbook(tenantID, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="audit-trail.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := wb.Write(c.Writer); err != nil {
		h.logger.Error("failed to stream workbook", zap.Error(err))
	}
}
