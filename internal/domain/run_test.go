package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRunStatusTerminal(t *testing.T) {
	terminal := map[RunStatus]bool{
		RunStatusActive:        false,
		RunStatusNeedsReverify: false,
		RunStatusOnHold:        false,
		RunStatusCompleted:     true,
		RunStatusCancelled:     true,
		RunStatusMerged:        true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestNormalizeStepID(t *testing.T) {
	if got := NormalizeStepID("  Scan_QR "); got != StepScanQR {
		t.Fatalf("got %q, want %q", got, StepScanQR)
	}
	if got := NormalizeStepID("repaint"); got != "" {
		t.Fatalf("got %q, want empty for unknown step", got)
	}
}

func TestRunValidate(t *testing.T) {
	base := InspectionRun{
		ID:             "run-1",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
		ContainerType:  "drum",
		ContainerCount: 2,
		CurrentStepID:  StepScanQR,
		Status:         RunStatusActive,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*InspectionRun)
	}{
		{name: "missing id", mutate: func(r *InspectionRun) { r.ID = "" }},
		{name: "missing container type", mutate: func(r *InspectionRun) { r.ContainerType = " " }},
		{name: "zero count", mutate: func(r *InspectionRun) { r.ContainerCount = 0 }},
		{name: "unknown status", mutate: func(r *InspectionRun) { r.Status = "paused" }},
		{name: "terminal with current step", mutate: func(r *InspectionRun) { r.Status = RunStatusCompleted }},
		{name: "active without current step", mutate: func(r *InspectionRun) { r.CurrentStepID = "" }},
		{name: "held without prior status", mutate: func(r *InspectionRun) { r.Status = RunStatusOnHold }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			run := base
			tc.mutate(&run)
			if err := run.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunCloneIsDeep(t *testing.T) {
	run := InspectionRun{
		ID:             "run-1",
		ContainerType:  "drum",
		ContainerCount: 1,
		CurrentStepID:  StepScanQR,
		Status:         RunStatusActive,
		Steps: map[StepID]StepRecord{
			StepScanQR: {Outcome: StepOutcomePass, Payload: json.RawMessage(`{"code":"QR-1"}`)},
		},
		History:     []HistoryEntry{{Command: "create_runs", Actor: "qa"}},
		ChildRunIDs: []string{"run-2"},
	}

	clone := run.Clone()
	clone.Steps[StepScanQR] = StepRecord{Outcome: StepOutcomeFail}
	clone.History[0].Actor = "other"
	clone.ChildRunIDs[0] = "changed"

	if run.Steps[StepScanQR].Outcome != StepOutcomePass {
		t.Fatal("clone shares step records")
	}
	if run.History[0].Actor != "qa" {
		t.Fatal("clone shares history")
	}
	if run.ChildRunIDs[0] != "run-2" {
		t.Fatal("clone shares child ids")
	}
}
