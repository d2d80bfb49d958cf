package workflow

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	domain "github.com/procureflow/invoice-orchestrator/internal/domain/workflow"
	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

func TestEngine_CreateStartsUploaded(t *testing.T) {
	e := NewEngine(zap.NewNop())

	rec, err := e.Create("inv-1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rec.CurrentState != domain.StateUploaded {
		t.Errorf("initial state = %s, want uploaded", rec.CurrentState)
	}
	if len(rec.History) != 0 {
		t.Errorf("initial history length = %d, want 0", len(rec.History))
	}
}

func TestEngine_CreateDuplicateConflicts(t *testing.T) {
	e := NewEngine(zap.NewNop())

	if _, err := e.Create("inv-1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_, err := e.Create("inv-1")
	if !fault.IsConflict(err) {
		t.Errorf("second Create = %v, want conflict", err)
	}
}

func TestEngine_FireAppendsHistory(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx := context.Background()
	e.Create("inv-1")

	rec, err := e.Fire(ctx, "inv-1", domain.ActionStartProcessing, "system", "", nil)
	if err != nil {
		t.Fatalf("Fire() error: %v", err)
	}
	if rec.CurrentState != domain.StateProcessing {
		t.Errorf("state = %s, want processing", rec.CurrentState)
	}
	if len(rec.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(rec.History))
	}
	tr := rec.History[0]
	if tr.From != domain.StateUploaded || tr.To != domain.StateProcessing {
		t.Errorf("transition = %s -> %s, want uploaded -> processing", tr.From, tr.To)
	}
	if tr.Actor != "system" {
		t.Errorf("actor = %s, want system", tr.Actor)
	}
}

func TestEngine_HistoryTailMatchesState(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx := context.Background()
	e.Create("inv-1")

	actions := []domain.Action{
		domain.ActionStartProcessing,
		domain.ActionCompleteOCR,
		domain.ActionCompleteExtraction,
		domain.ActionValidate,
		domain.ActionRequestReview,
		domain.ActionApprove,
	}
	for _, a := range actions {
		if _, err := e.Fire(ctx, "inv-1", a, "system", "", nil); err != nil {
			t.Fatalf("Fire(%s) error: %v", a, err)
		}
	}

	rec, _ := e.Get("inv-1")
	if len(rec.History) != len(actions) {
		t.Fatalf("history length = %d, want %d", len(rec.History), len(actions))
	}
	if last := rec.History[len(rec.History)-1]; last.To != rec.CurrentState {
		t.Errorf("history tail %s != current state %s", last.To, rec.CurrentState)
	}
	// Consecutive entries chain: each from equals the previous to
	for i := 1; i < len(rec.History); i++ {
		if rec.History[i].From != rec.History[i-1].To {
			t.Errorf("history broken at %d: %s != %s", i, rec.History[i].From, rec.History[i-1].To)
		}
	}
}

func TestEngine_InvalidTransitionLeavesRecordUntouched(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx := context.Background()
	e.Create("inv-1")

	_, err := e.Fire(ctx, "inv-1", domain.ActionApprove, "system", "", nil)
	if fault.KindOf(err) != fault.KindInvalidTransition {
		t.Fatalf("err = %v, want invalid_transition", err)
	}

	rec, _ := e.Get("inv-1")
	if rec.CurrentState != domain.StateUploaded {
		t.Errorf("state = %s, want uploaded", rec.CurrentState)
	}
	if len(rec.History) != 0 {
		t.Errorf("rejected action must not append history, got %d entries", len(rec.History))
	}
}

func TestEngine_EntryHooksRun(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx := context.Background()

	var entered []string
	e.OnEnter(domain.StateProcessing, func(_ context.Context, invoiceID string, tr Transition) error {
		entered = append(entered, invoiceID+":"+tr.To.String())
		return nil
	})

	e.Create("inv-1")
	if _, err := e.Fire(ctx, "inv-1", domain.ActionStartProcessing, "system", "", nil); err != nil {
		t.Fatalf("Fire() error: %v", err)
	}

	if len(entered) != 1 || entered[0] != "inv-1:processing" {
		t.Errorf("hook observations = %v, want [inv-1:processing]", entered)
	}
}

func TestEngine_HookFailureDoesNotRollBack(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx := context.Background()

	e.OnEnter(domain.StateProcessing, func(_ context.Context, _ string, _ Transition) error {
		return errors.New("notification backend down")
	})

	e.Create("inv-1")
	rec, err := e.Fire(ctx, "inv-1", domain.ActionStartProcessing, "system", "", nil)
	if err != nil {
		t.Fatalf("Fire() error: %v", err)
	}
	if rec.CurrentState != domain.StateProcessing {
		t.Errorf("state = %s, want processing despite hook failure", rec.CurrentState)
	}
}

func TestEngine_RetryResetsToUploaded(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx := context.Background()
	e.Create("inv-1")

	e.Fire(ctx, "inv-1", domain.ActionStartProcessing, "system", "", nil)
	e.Fire(ctx, "inv-1", domain.ActionReportError, "system", "ocr failed", nil)

	rec, err := e.Fire(ctx, "inv-1", domain.ActionRetry, "u1", "resubmitted", nil)
	if err != nil {
		t.Fatalf("Fire(retry) error: %v", err)
	}
	if rec.CurrentState != domain.StateUploaded {
		t.Errorf("state = %s, want uploaded", rec.CurrentState)
	}
	if len(rec.History) != 3 {
		t.Errorf("history length = %d, want 3 (history is append-only)", len(rec.History))
	}
}

func TestEngine_Assign(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.Create("inv-1")

	if err := e.Assign("inv-1", "manager-7", nil); err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	rec, _ := e.Get("inv-1")
	if rec.AssignedTo != "manager-7" {
		t.Errorf("assigned_to = %s, want manager-7", rec.AssignedTo)
	}
}

func TestEngine_GetUnknown(t *testing.T) {
	e := NewEngine(zap.NewNop())
	if _, err := e.Get("missing"); !fault.IsNotFound(err) {
		t.Errorf("err = %v, want not_found", err)
	}
}
