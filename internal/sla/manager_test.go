package sla

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

func testManager(at time.Time) (*Manager, *time.Time) {
	clock := at
	m := NewManager(Config{
		ProcessingHours:         24,
		ReviewHours:             48,
		ApprovalHours:           72,
		WarningThreshold:        0.75,
		FirstReminderHours:      4,
		ManagerEscalationHours:  8,
		DirectorEscalationHours: 24,
	}, zap.NewNop())
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestManager_StageDeadlines(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, _ := testManager(start)

	tests := []struct {
		stage string
		hours int
	}{
		{StageProcessing, 24},
		{StageReview, 48},
		{StageApproval, 72},
	}
	for _, tt := range tests {
		rec := m.Start("inv-"+tt.stage, tt.stage)
		want := start.Add(time.Duration(tt.hours) * time.Hour)
		if !rec.Deadline.Equal(want) {
			t.Errorf("stage %s deadline = %v, want %v", tt.stage, rec.Deadline, want)
		}
	}
}

func TestManager_StatusBoundaries(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	// 48h review window: warning opens at exactly 75% elapsed (36h),
	// breach at 100%
	tests := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{"fresh", 0, StatusOnTrack},
		{"just before warning", 36*time.Hour - time.Second, StatusOnTrack},
		{"at warning boundary", 36 * time.Hour, StatusWarning},
		{"deep in warning", 47 * time.Hour, StatusWarning},
		{"at deadline", 48 * time.Hour, StatusBreached},
		{"past deadline", 50 * time.Hour, StatusBreached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := testManager(start)
			m.Start("inv-1", StageReview)

			*clock = start.Add(tt.elapsed)
			rec, err := m.Check("inv-1")
			if err != nil {
				t.Fatalf("Check() error: %v", err)
			}
			if rec.Status != tt.want {
				t.Errorf("status at %v = %s, want %s", tt.elapsed, rec.Status, tt.want)
			}
		})
	}
}

func TestManager_BreachedAtSetOnce(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, clock := testManager(start)
	m.Start("inv-1", StageProcessing)

	*clock = start.Add(25 * time.Hour)
	first, _ := m.Check("inv-1")
	if first.BreachedAt == nil {
		t.Fatal("breached_at must be set on first breach observation")
	}

	*clock = start.Add(30 * time.Hour)
	second, _ := m.Check("inv-1")
	if !second.BreachedAt.Equal(*first.BreachedAt) {
		t.Error("breached_at must not move on later checks")
	}
}

func TestManager_EscalationLadder(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, clock := testManager(start)
	m.Start("inv-1", StageReview)

	// Before the first reminder window nothing fires
	*clock = start.Add(3 * time.Hour)
	esc, err := m.NextEscalation("inv-1")
	if err != nil {
		t.Fatalf("NextEscalation() error: %v", err)
	}
	if esc != nil {
		t.Fatalf("escalation at 3h = %v, want none", esc)
	}

	// Reminders fire up to three times
	*clock = start.Add(4 * time.Hour)
	for i := 1; i <= 3; i++ {
		esc, err = m.NextEscalation("inv-1")
		if err != nil {
			t.Fatalf("NextEscalation() error: %v", err)
		}
		if esc == nil || esc.Level != EscalationReminder {
			t.Fatalf("reminder %d = %v, want reminder", i, esc)
		}
		if esc.Reminder != i {
			t.Errorf("reminder counter = %d, want %d", esc.Reminder, i)
		}
	}
	esc, _ = m.NextEscalation("inv-1")
	if esc != nil {
		t.Fatalf("fourth reminder = %v, want none", esc)
	}

	// Manager at 8h
	*clock = start.Add(8 * time.Hour)
	esc, _ = m.NextEscalation("inv-1")
	if esc == nil || esc.Level != EscalationManager {
		t.Fatalf("escalation at 8h = %v, want manager", esc)
	}

	// Director at 24h
	*clock = start.Add(24 * time.Hour)
	esc, _ = m.NextEscalation("inv-1")
	if esc == nil || esc.Level != EscalationDirector {
		t.Fatalf("escalation at 24h = %v, want director", esc)
	}

	// Executive on breach (48h review window)
	*clock = start.Add(48 * time.Hour)
	esc, _ = m.NextEscalation("inv-1")
	if esc == nil || esc.Level != EscalationExecutive {
		t.Fatalf("escalation at breach = %v, want executive", esc)
	}

	// Ladder is monotone: nothing further fires
	*clock = start.Add(60 * time.Hour)
	esc, _ = m.NextEscalation("inv-1")
	if esc != nil {
		t.Fatalf("escalation after executive = %v, want none", esc)
	}
}

func TestManager_EscalationSkipsLevels(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, clock := testManager(start)
	m.Start("inv-1", StageReview)

	// First check happens late: jump straight to director, no
	// intermediate reminder or manager actions
	*clock = start.Add(25 * time.Hour)
	esc, err := m.NextEscalation("inv-1")
	if err != nil {
		t.Fatalf("NextEscalation() error: %v", err)
	}
	if esc == nil || esc.Level != EscalationDirector {
		t.Fatalf("escalation = %v, want director", esc)
	}

	esc, _ = m.NextEscalation("inv-1")
	if esc != nil {
		t.Fatalf("second call at same time = %v, want none", esc)
	}
}

func TestManager_Complete(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, clock := testManager(start)
	m.Start("inv-1", StageReview)

	*clock = start.Add(10 * time.Hour)
	if _, err := m.NextEscalation("inv-1"); err != nil {
		t.Fatalf("NextEscalation() error: %v", err)
	}

	*clock = start.Add(12 * time.Hour)
	metrics, err := m.Complete("inv-1")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if metrics.ProcessingTime != 12*time.Hour {
		t.Errorf("processing_time = %v, want 12h", metrics.ProcessingTime)
	}
	if metrics.WasBreached {
		t.Error("was_breached = true, want false")
	}
	if metrics.FinalEscalationLevel != EscalationManager {
		t.Errorf("final level = %s, want manager", metrics.FinalEscalationLevel)
	}

	// Record is gone after completion
	if _, err := m.Check("inv-1"); !fault.IsNotFound(err) {
		t.Errorf("Check after Complete = %v, want not_found", err)
	}
}

func TestManager_CompleteBreached(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, clock := testManager(start)
	m.Start("inv-1", StageProcessing)

	*clock = start.Add(26 * time.Hour)
	metrics, err := m.Complete("inv-1")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if !metrics.WasBreached {
		t.Error("was_breached = false, want true")
	}
}

func TestManager_CheckUnknownInvoice(t *testing.T) {
	m, _ := testManager(time.Now())
	if _, err := m.Check("missing"); !fault.IsNotFound(err) {
		t.Errorf("err = %v, want not_found", err)
	}
}
