// Package audit keeps the append-only, checksummed compliance trail.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types recorded in the trail
const (
	TypeInvoiceUploaded  = "invoice.uploaded"
	TypeInvoiceProcessed = "invoice.processed"
	TypeStateChanged     = "invoice.state_changed"
	TypeApprovalDecision = "approval.decision"
	TypeApprovalCreated  = "approval.created"
	TypePaymentRecorded  = "payment.recorded"
	TypeSLAEscalated     = "sla.escalated"
	TypeSystemError      = "system.error"
	TypeConfigChanged    = "config.changed"
)

// Event is one immutable audit record
type Event struct {
	ID           string                 `json:"id"`
	EventType    string                 `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	Actor        string                 `json:"actor"`
	TenantID     string                 `json:"tenant_id"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Action       string                 `json:"action"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Checksum     string                 `json:"checksum"`
}

// ComputeChecksum hashes the canonical serialization of the event's
// identity fields. Metadata is deliberately excluded; it may carry
// transport annotations added after the fact.
func (e *Event) ComputeChecksum() string {
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	canonical := map[string]interface{}{
		"id":            e.ID,
		"event_type":    e.EventType,
		"timestamp":     e.Timestamp.Format(time.RFC3339Nano),
		"actor":         e.Actor,
		"tenant_id":     e.TenantID,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"action":        e.Action,
		"details":       details,
	}
	// json.Marshal writes map keys in sorted order, which makes the
	// serialization canonical
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Entry is the caller-facing input for one audit record
type Entry struct {
	EventType    string
	Actor        string
	TenantID     string
	ResourceType string
	ResourceID   string
	Action       string
	Details      map[string]interface{}
	Metadata     map[string]interface{}
}

// Filter narrows a query; zero values mean "any"
type Filter struct {
	TenantID     string
	EventType    string
	Actor        string
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
	Limit        int
}

// Logger is the append-only audit store
type Logger struct {
	mu            sync.RWMutex
	events        []*Event
	counter       uint64
	retentionDays int
	logger        *zap.Logger
	now           func() time.Time
}

// NewLogger creates an audit logger with the given retention window
func NewLogger(retentionDays int, logger *zap.Logger) *Logger {
	if retentionDays <= 0 {
		retentionDays = 2555
	}
	return &Logger{
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// Log appends a new event and returns it. Events are immutable once
// appended.
func (l *Logger) Log(entry Entry) *Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counter++
	now := l.now().UTC()
	event := &Event{
		ID:           fmt.Sprintf("AE-%s-%08d", now.Format("20060102"), l.counter),
		EventType:    entry.EventType,
		Timestamp:    now,
		Actor:        entry.Actor,
		TenantID:     entry.TenantID,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Action:       entry.Action,
		Details:      entry.Details,
		Metadata:     entry.Metadata,
	}
	event.Checksum = event.ComputeChecksum()
	l.events = append(l.events, event)

	l.logger.Info("audit event logged",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("resource", event.ResourceType+":"+event.ResourceID))

	c := *event
	return &c
}

// Query returns matching events newest first, at most limit (default
// 100)
func (l *Logger) Query(f Filter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	matched := make([]*Event, 0)
	for _, e := range l.events {
		if f.TenantID != "" && e.TenantID != f.TenantID {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if f.ResourceType != "" && e.ResourceType != f.ResourceType {
			continue
		}
		if f.ResourceID != "" && e.ResourceID != f.ResourceID {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		c := *e
		matched = append(matched, &c)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// ResourceHistory returns the full trail for one resource
func (l *Logger) ResourceHistory(resourceType, resourceID string) []*Event {
	return l.Query(Filter{ResourceType: resourceType, ResourceID: resourceID, Limit: 1000})
}

// ActorActivity returns everything one actor did since a given time
func (l *Logger) ActorActivity(actor string, from time.Time) []*Event {
	return l.Query(Filter{Actor: actor, From: from, Limit: 1000})
}

// VerifyIntegrity recomputes the event's checksum and compares it to
// the stored value
func (l *Logger) VerifyIntegrity(e *Event) bool {
	return e.ComputeChecksum() == e.Checksum
}

// VerifyAll rechecks every stored event and returns the ids that fail
func (l *Logger) VerifyAll() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var failed []string
	for _, e := range l.events {
		if e.ComputeChecksum() != e.Checksum {
			failed = append(failed, e.ID)
		}
	}
	return failed
}
