// Package sla tracks per-invoice deadlines per pipeline stage and
// drives the escalation ladder.
package sla

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// Pipeline stages with SLA coverage
const (
	StageProcessing = "processing"
	StageReview     = "review"
	StageApproval   = "approval"
)

// SLA statuses
const (
	StatusOnTrack  = "on_track"
	StatusWarning  = "warning"
	StatusBreached = "breached"
)

// EscalationLevel orders the ladder; levels never go down
type EscalationLevel int

const (
	EscalationNone EscalationLevel = iota
	EscalationReminder
	EscalationManager
	EscalationDirector
	EscalationExecutive
)

// String returns the ladder name of the level
func (l EscalationLevel) String() string {
	switch l {
	case EscalationReminder:
		return "reminder"
	case EscalationManager:
		return "manager"
	case EscalationDirector:
		return "director"
	case EscalationExecutive:
		return "executive"
	default:
		return "none"
	}
}

const maxReminders = 3

// Record is the live SLA state for one invoice
type Record struct {
	InvoiceID       string          `json:"invoice_id"`
	Stage           string          `json:"stage"`
	CreatedAt       time.Time       `json:"created_at"`
	Deadline        time.Time       `json:"deadline"`
	Status          string          `json:"status"`
	EscalationLevel EscalationLevel `json:"escalation_level"`
	ReminderCount   int             `json:"reminder_count"`
	LastReminderAt  *time.Time      `json:"last_reminder_at,omitempty"`
	BreachedAt      *time.Time      `json:"breached_at,omitempty"`
}

// Escalation is one new ladder action
type Escalation struct {
	InvoiceID string          `json:"invoice_id"`
	Level     EscalationLevel `json:"level"`
	Reminder  int             `json:"reminder,omitempty"`
}

// Metrics summarizes a completed SLA
type Metrics struct {
	ProcessingTime       time.Duration   `json:"processing_time"`
	WasBreached          bool            `json:"was_breached"`
	FinalEscalationLevel EscalationLevel `json:"final_escalation_level"`
	ReminderCount        int             `json:"reminder_count"`
}

// Config tunes deadlines and the ladder timing
type Config struct {
	ProcessingHours         int
	ReviewHours             int
	ApprovalHours           int
	WarningThreshold        float64 // fraction of the window elapsed before WARNING
	FirstReminderHours      int
	ManagerEscalationHours  int
	DirectorEscalationHours int
}

func (c *Config) applyDefaults() {
	if c.ProcessingHours <= 0 {
		c.ProcessingHours = 24
	}
	if c.ReviewHours <= 0 {
		c.ReviewHours = 48
	}
	if c.ApprovalHours <= 0 {
		c.ApprovalHours = 72
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold >= 1 {
		c.WarningThreshold = 0.75
	}
	if c.FirstReminderHours <= 0 {
		c.FirstReminderHours = 4
	}
	if c.ManagerEscalationHours <= 0 {
		c.ManagerEscalationHours = 8
	}
	if c.DirectorEscalationHours <= 0 {
		c.DirectorEscalationHours = 24
	}
}

// Manager owns SLA records. Statuses are recomputed on every query, not
// on a timer.
type Manager struct {
	mu      sync.Mutex
	records map[string]*Record
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates an SLA manager
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		records: make(map[string]*Record),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (m *Manager) stageWindow(stage string) time.Duration {
	switch stage {
	case StageReview:
		return time.Duration(m.cfg.ReviewHours) * time.Hour
	case StageApproval:
		return time.Duration(m.cfg.ApprovalHours) * time.Hour
	default:
		return time.Duration(m.cfg.ProcessingHours) * time.Hour
	}
}

// Start opens an SLA window for the invoice at the given stage,
// replacing any prior record
func (m *Manager) Start(invoiceID, stage string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &Record{
		InvoiceID: invoiceID,
		Stage:     stage,
		CreatedAt: now,
		Deadline:  now.Add(m.stageWindow(stage)),
		Status:    StatusOnTrack,
	}
	m.records[invoiceID] = rec

	m.logger.Debug("sla started",
		zap.String("invoice_id", invoiceID),
		zap.String("stage", stage),
		zap.Time("deadline", rec.Deadline))

	return m.copyOf(rec)
}

// Check recomputes and returns the invoice's SLA record
func (m *Manager) Check(invoiceID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[invoiceID]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "no sla record for invoice %s", invoiceID)
	}
	m.recompute(rec)
	return m.copyOf(rec), nil
}

// recompute applies the status rule under the held lock
func (m *Manager) recompute(rec *Record) {
	now := m.now()
	remaining := rec.Deadline.Sub(now)
	total := rec.Deadline.Sub(rec.CreatedAt)

	switch {
	case remaining <= 0:
		if rec.Status != StatusBreached {
			breachedAt := now
			rec.BreachedAt = &breachedAt
			m.logger.Warn("sla breached",
				zap.String("invoice_id", rec.InvoiceID),
				zap.String("stage", rec.Stage))
		}
		rec.Status = StatusBreached
	case float64(remaining) <= float64(total)*(1-m.cfg.WarningThreshold):
		rec.Status = StatusWarning
	default:
		rec.Status = StatusOnTrack
	}
}

// NextEscalation returns at most one new ladder action for the
// invoice. The level never goes down; reminders repeat up to three
// times before the ladder moves on.
func (m *Manager) NextEscalation(invoiceID string) (*Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[invoiceID]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "no sla record for invoice %s", invoiceID)
	}
	m.recompute(rec)

	elapsed := m.now().Sub(rec.CreatedAt)
	target := EscalationNone
	switch {
	case rec.Status == StatusBreached:
		target = EscalationExecutive
	case elapsed >= time.Duration(m.cfg.DirectorEscalationHours)*time.Hour:
		target = EscalationDirector
	case elapsed >= time.Duration(m.cfg.ManagerEscalationHours)*time.Hour:
		target = EscalationManager
	case elapsed >= time.Duration(m.cfg.FirstReminderHours)*time.Hour:
		target = EscalationReminder
	}

	if target == EscalationReminder && rec.EscalationLevel <= EscalationReminder {
		if rec.ReminderCount >= maxReminders {
			return nil, nil
		}
		rec.EscalationLevel = EscalationReminder
		rec.ReminderCount++
		at := m.now()
		rec.LastReminderAt = &at
		return &Escalation{InvoiceID: invoiceID, Level: EscalationReminder, Reminder: rec.ReminderCount}, nil
	}

	if target <= rec.EscalationLevel {
		return nil, nil
	}

	rec.EscalationLevel = target
	m.logger.Info("sla escalated",
		zap.String("invoice_id", invoiceID),
		zap.String("level", target.String()))
	return &Escalation{InvoiceID: invoiceID, Level: target}, nil
}

// Complete closes the invoice's SLA window and returns its metrics
func (m *Manager) Complete(invoiceID string) (*Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[invoiceID]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "no sla record for invoice %s", invoiceID)
	}
	m.recompute(rec)
	delete(m.records, invoiceID)

	return &Metrics{
		ProcessingTime:       m.now().Sub(rec.CreatedAt),
		WasBreached:          rec.Status == StatusBreached,
		FinalEscalationLevel: rec.EscalationLevel,
		ReminderCount:        rec.ReminderCount,
	}, nil
}

// Stats summarizes the open SLA windows for dashboards
type Stats struct {
	TotalActive    int     `json:"total_active"`
	OnTrack        int     `json:"on_track"`
	Warning        int     `json:"warning"`
	Breached       int     `json:"breached"`
	ComplianceRate float64 `json:"compliance_rate"`
}

// AtRisk returns the records in warning or breached status, most
// urgent deadline first
func (m *Manager) AtRisk() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	for _, rec := range m.records {
		m.recompute(rec)
		if rec.Status == StatusWarning || rec.Status == StatusBreached {
			out = append(out, m.copyOf(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

// Stats recomputes every open record and returns the aggregate counts.
// An empty manager reports full compliance.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{TotalActive: len(m.records), ComplianceRate: 1.0}
	for _, rec := range m.records {
		m.recompute(rec)
		switch rec.Status {
		case StatusBreached:
			s.Breached++
		case StatusWarning:
			s.Warning++
		default:
			s.OnTrack++
		}
	}
	if s.TotalActive > 0 {
		s.ComplianceRate = float64(s.OnTrack) / float64(s.TotalActive)
	}
	return s
}

// Active returns the invoice ids with open SLA windows
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) copyOf(rec *Record) *Record {
	c := *rec
	return &c
}
