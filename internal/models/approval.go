package models

import "time"

// ApprovalTaskStatus is the lifecycle status of an approval task
type ApprovalTaskStatus string

const (
	TaskStatusPending   ApprovalTaskStatus = "pending"
	TaskStatusApproved  ApprovalTaskStatus = "approved"
	TaskStatusRejected  ApprovalTaskStatus = "rejected"
	TaskStatusEscalated ApprovalTaskStatus = "escalated"
	TaskStatusExpired   ApprovalTaskStatus = "expired"
)

// IsTerminal reports whether the status admits no further decisions
func (s ApprovalTaskStatus) IsTerminal() bool {
	return s == TaskStatusApproved || s == TaskStatusRejected || s == TaskStatusExpired
}

// TaskPriority ranks how urgently an approval task needs attention
type TaskPriority string

const (
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// SLAStatusValue mirrors the owning SLA record's state onto the task
type SLAStatusValue string

const (
	TaskSLAOnTrack  SLAStatusValue = "on_track"
	TaskSLAWarning  SLAStatusValue = "warning"
	TaskSLABreached SLAStatusValue = "breached"
)

// ApprovalTask tracks a pending human decision on an invoice
type ApprovalTask struct {
	ID           string             `json:"id" db:"id"`
	InvoiceID    string             `json:"invoice_id" db:"invoice_id"`
	TenantID     string             `json:"tenant_id" db:"tenant_id"`
	Status       ApprovalTaskStatus `json:"status" db:"status"`
	Priority     TaskPriority       `json:"priority" db:"priority"`
	AssignedTo   string             `json:"assigned_to" db:"assigned_to"`
	AssignedRole string             `json:"assigned_role" db:"assigned_role"`
	Approvers    []string           `json:"approvers"`
	DueDate      time.Time          `json:"due_date" db:"due_date"`
	SLAStatus    SLAStatusValue     `json:"sla_status" db:"sla_status"`
	ActionTaken  string             `json:"action_taken" db:"action_taken"`
	DecidedBy    string             `json:"decided_by" db:"decided_by"`
	DecidedAt    *time.Time         `json:"decided_at,omitempty" db:"decided_at"`
	Comments     string             `json:"comments" db:"comments"`
	DelegatedTo  string             `json:"delegated_to" db:"delegated_to"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" db:"updated_at"`
}
