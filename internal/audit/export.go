package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportLimit = 100000

// complianceExport is the JSON envelope produced for auditors
type complianceExport struct {
	ExportDate string          `json:"export_date"`
	TenantID   string          `json:"tenant_id"`
	DateRange  exportDateRange `json:"date_range"`
	EventCount int             `json:"event_count"`
	Events     []exportEvent   `json:"events"`
}

type exportDateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type exportEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Resource  string                 `json:"resource"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Checksum  string                 `json:"checksum"`
}

func (l *Logger) exportEvents(tenantID string, from, to time.Time) []*Event {
	return l.Query(Filter{
		TenantID: tenantID,
		From:     from,
		To:       to,
		Limit:    exportLimit,
	})
}

// ExportJSON renders the tenant's trail for a date range in the
// compliance envelope format
func (l *Logger) ExportJSON(tenantID string, from, to time.Time) ([]byte, error) {
	events := l.exportEvents(tenantID, from, to)

	out := complianceExport{
		ExportDate: l.now().UTC().Format(time.RFC3339),
		TenantID:   tenantID,
		DateRange: exportDateRange{
			From: from.Format(time.RFC3339),
			To:   to.Format(time.RFC3339),
		},
		EventCount: len(events),
		Events:     make([]exportEvent, 0, len(events)),
	}
	for _, e := range events {
		out.Events = append(out.Events, exportEvent{
			ID:        e.ID,
			Type:      e.EventType,
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Actor:     e.Actor,
			Resource:  e.ResourceType + ":" + e.ResourceID,
			Action:    e.Action,
			Details:   e.Details,
			Checksum:  e.Checksum,
		})
	}

	return json.MarshalIndent(out, "", "  ")
}

var workbookHeader = []string{"Event ID", "Type", "Timestamp", "Actor", "Resource", "Action", "Checksum"}

// ExportWorkbook renders the same trail as a spreadsheet for auditors
// who work in Excel
func (l *Logger) ExportWorkbook(tenantID string, from, to time.Time) (*excelize.File, error) {
	events := l.exportEvents(tenantID, from, to)

	f := excelize.NewFile()
	const sheet = "Audit Trail"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	for col, title := range workbookHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, err
		}
	}

	for row, e := range events {
		values := []interface{}{
			e.ID,
			e.EventType,
			e.Timestamp.Format(time.RFC3339),
			e.Actor,
			e.ResourceType + ":" + e.ResourceID,
			e.Action,
			e.Checksum,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}
