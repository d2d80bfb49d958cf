// Package workflow tracks per-invoice lifecycle records: current
// state, append-only transition history, and state-entry hooks.
package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// Transition is one history entry
type Transition struct {
	From      domain.State           `json:"from"`
	To        domain.State           `json:"to"`
	Action    domain.Action          `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Comment   string                 `json:"comment,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Record is the live workflow state for one invoice
type Record struct {
	InvoiceID    string       `json:"invoice_id"`
	CurrentState domain.State `json:"current_state"`
	History      []Transition `json:"history"`
	AssignedTo   string       `json:"assigned_to,omitempty"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// EntryHook runs synchronously when a state is entered. Hook failures
// are logged and swallowed; they never roll back the transition.
type EntryHook func(ctx context.Context, invoiceID string, t Transition) error

// Engine owns workflow records and validates every transition against
// the lifecycle machine
type Engine struct {
	mu      sync.RWMutex
	machine domain.Machine
	records map[string]*Record
	hooks   map[domain.State][]EntryHook
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates a workflow engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		machine: domain.NewInvoiceMachine(),
		records: make(map[string]*Record),
		hooks:   make(map[domain.State][]EntryHook),
		logger:  logger,
		now:     time.Now,
	}
}

// OnEnter registers a hook that runs whenever the given state is
// entered
func (e *Engine) OnEnter(state domain.State, hook EntryHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[state] = append(e.hooks[state], hook)
}

// Create opens a workflow record in the initial state
func (e *Engine) Create(invoiceID string) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.records[invoiceID]; exists {
		return nil, fault.Newf(fault.KindConflict, "workflow record for %s already exists", invoiceID)
	}

	now := e.now()
	rec := &Record{
		InvoiceID:    invoiceID,
		CurrentState: domain.StateUploaded,
		History:      []Transition{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.records[invoiceID] = rec
	return e.copyOf(rec), nil
}

// Get returns a copy of the invoice's workflow record
func (e *Engine) Get(invoiceID string) (*Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.records[invoiceID]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "no workflow record for invoice %s", invoiceID)
	}
	return e.copyOf(rec), nil
}

// CurrentState returns the invoice's current lifecycle state
func (e *Engine) CurrentState(invoiceID string) (domain.State, error) {
	rec, err := e.Get(invoiceID)
	if err != nil {
		return "", err
	}
	return rec.CurrentState, nil
}

// CanFire reports whether the action is currently permitted
func (e *Engine) CanFire(invoiceID string, action domain.Action) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.records[invoiceID]
	if !ok {
		return false
	}
	return e.machine.CanFire(rec.CurrentState, action)
}

// Fire executes the action, appends the transition to history, and runs
// entry hooks for the destination state
func (e *Engine) Fire(ctx context.Context, invoiceID string, action domain.Action, actor, comment string, metadata map[string]interface{}) (*Record, error) {
	e.mu.Lock()

	rec, ok := e.records[invoiceID]
	if !ok {
		e.mu.Unlock()
		return nil, fault.Newf(fault.KindNotFound, "no workflow record for invoice %s", invoiceID)
	}

	next, err := e.machine.Next(rec.CurrentState, action)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	t := Transition{
		From:      rec.CurrentState,
		To:        next,
		Action:    action,
		Timestamp: e.now(),
		Actor:     actor,
		Comment:   comment,
		Metadata:  metadata,
	}
	rec.CurrentState = next
	rec.History = append(rec.History, t)
	rec.UpdatedAt = t.Timestamp

	hooks := e.hooks[next]
	snapshot := e.copyOf(rec)
	e.mu.Unlock()

	e.logger.Info("workflow transition",
		zap.String("invoice_id", invoiceID),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
		zap.String("action", action.String()),
		zap.String("actor", actor))

	for _, hook := range hooks {
		if err := hook(ctx, invoiceID, t); err != nil {
			e.logger.Error("state entry hook failed",
				zap.String("invoice_id", invoiceID),
				zap.String("state", next.String()),
				zap.Error(err))
		}
	}

	return snapshot, nil
}

// Assign sets the actor responsible for moving the invoice forward
func (e *Engine) Assign(invoiceID, assignee string, dueDate *time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[invoiceID]
	if !ok {
		return fault.Newf(fault.KindNotFound, "no workflow record for invoice %s", invoiceID)
	}
	rec.AssignedTo = assignee
	rec.DueDate = dueDate
	rec.UpdatedAt = e.now()
	return nil
}

// PermittedActions returns the actions currently available for the
// invoice
func (e *Engine) PermittedActions(invoiceID string) ([]domain.Action, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.records[invoiceID]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "no workflow record for invoice %s", invoiceID)
	}
	return e.machine.PermittedActions(rec.CurrentState), nil
}

func (e *Engine) copyOf(rec *Record) *Record {
	c := *rec
	c.History = make([]Transition, len(rec.History))
	copy(c.History, rec.History)
	return &c
}
