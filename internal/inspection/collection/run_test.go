package collection

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/packline-labs/packline-go/internal/domain"
)

var stepKeys int

func nextKey() string {
	stepKeys++
	return fmt.Sprintf("key-%d", stepKeys)
}

func passStep(t *testing.T, s Snapshot, runID string, stepID domain.StepID, raw string) Snapshot {
	t.Helper()
	next, _, err := s.RecordStep(runID, stepID, json.RawMessage(raw), domain.StepOutcomePass, nextKey(), "qa", testNow)
	if err != nil {
		t.Fatalf("pass %s: %v", stepID, err)
	}
	return next
}

func failStep(t *testing.T, s Snapshot, runID string, stepID domain.StepID, raw string) Snapshot {
	t.Helper()
	next, _, err := s.RecordStep(runID, stepID, json.RawMessage(raw), domain.StepOutcomeFail, nextKey(), "qa", testNow)
	if err != nil {
		t.Fatalf("fail %s: %v", stepID, err)
	}
	return next
}

// completeRun walks one run through every step of the default pipeline.
func completeRun(t *testing.T, s Snapshot, runID string) Snapshot {
	t.Helper()
	s = passStep(t, s, runID, domain.StepScanQR, `{"code":"QR-`+runID+`"}`)
	s = passStep(t, s, runID, domain.StepInspectionInfo, `{"container_condition":"good"}`)
	s = passStep(t, s, runID, domain.StepVerifyPackingLabel, `{}`)
	s = passStep(t, s, runID, domain.StepVerifyProductLabel, `{"photos":["ord-1/label.jpg"]}`)
	s = passStep(t, s, runID, domain.StepLotExtraction, `{"entries":[{"id":"l1","raw":"LOT-A"}]}`)
	s = passStep(t, s, runID, domain.StepFinalReview, `{}`)
	return s
}

func TestRecordStepHappyPath(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 2})

	snapshot = completeRun(t, snapshot, "run-1")

	run, _ := snapshot.Run("run-1")
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.CurrentStepID != "" {
		t.Fatalf("current step = %q, want empty", run.CurrentStepID)
	}
	if len(run.Steps) != 6 {
		t.Fatalf("step records = %d, want 6", len(run.Steps))
	}
	// create_runs plus six accepted submissions.
	if len(run.History) != 7 {
		t.Fatalf("history = %d entries, want 7", len(run.History))
	}
	if err := run.Validate(); err != nil {
		t.Fatalf("completed run invalid: %v", err)
	}
}

func TestRecordStepFailThenReverify(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 2})
	snapshot = passStep(t, snapshot, "run-1", domain.StepScanQR, `{"code":"QR-1"}`)

	snapshot = failStep(t, snapshot, "run-1", domain.StepInspectionInfo,
		`{"container_condition":"dented","reason":"lid crushed","photos":["ord-1/p1.jpg"]}`)
	run, _ := snapshot.Run("run-1")
	if run.Status != domain.RunStatusNeedsReverify {
		t.Fatalf("status = %s, want needs_reverify", run.Status)
	}
	if run.CurrentStepID != domain.StepInspectionInfo {
		t.Fatalf("step = %s, want the failed step kept current", run.CurrentStepID)
	}

	// Submitting the next step while parked is an invalid transition.
	_, _, err := snapshot.RecordStep("run-1", domain.StepVerifyPackingLabel, json.RawMessage(`{}`), domain.StepOutcomePass, nextKey(), "qa", testNow)
	rej, ok := domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectInvalidTransition {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}

	// A corrective pass on the same step resumes the pipeline.
	snapshot = passStep(t, snapshot, "run-1", domain.StepInspectionInfo, `{"container_condition":"acceptable"}`)
	run, _ = snapshot.Run("run-1")
	if run.Status != domain.RunStatusActive {
		t.Fatalf("status = %s, want active", run.Status)
	}
	if run.CurrentStepID != domain.StepVerifyPackingLabel {
		t.Fatalf("step = %s, want verify_packing_label", run.CurrentStepID)
	}
	record := run.Steps[domain.StepInspectionInfo]
	if record.Outcome != domain.StepOutcomePass {
		t.Fatalf("stored outcome = %s, want the corrective pass", record.Outcome)
	}
}

func TestRecordStepIdempotentReplay(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 2})

	next, _, err := snapshot.RecordStep("run-1", domain.StepScanQR, json.RawMessage(`{"code":"QR-1"}`), domain.StepOutcomePass, "replay-key", "qa", testNow)
	if err != nil {
		t.Fatalf("RecordStep: %v", err)
	}

	// Replay with the same key echoes without applying, even though scan_qr
	// is no longer the current step.
	echoed, result, err := next.RecordStep("run-1", domain.StepScanQR, json.RawMessage(`{"code":"QR-1"}`), domain.StepOutcomePass, "replay-key", "qa", testNow)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate result")
	}
	run, _ := echoed.Run("run-1")
	if run.CurrentStepID != domain.StepInspectionInfo {
		t.Fatalf("replay advanced the run: step = %s", run.CurrentStepID)
	}
	if len(run.History) != 2 {
		t.Fatalf("replay appended history: %d entries", len(run.History))
	}
}

func TestRecordStepReplayOnCompletedRun(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 1})
	snapshot = passStep(t, snapshot, "run-1", domain.StepScanQR, `{"code":"QR-1"}`)
	snapshot = passStep(t, snapshot, "run-1", domain.StepInspectionInfo, `{"container_condition":"good"}`)
	snapshot = passStep(t, snapshot, "run-1", domain.StepVerifyPackingLabel, `{}`)
	snapshot = passStep(t, snapshot, "run-1", domain.StepVerifyProductLabel, `{"photos":["p.jpg"]}`)
	snapshot = passStep(t, snapshot, "run-1", domain.StepLotExtraction, `{"entries":[{"id":"l1","raw":"LOT-A"}]}`)

	final := json.RawMessage(`{}`)
	completed, _, err := snapshot.RecordStep("run-1", domain.StepFinalReview, final, domain.StepOutcomePass, "final-key", "qa", testNow)
	if err != nil {
		t.Fatalf("final step: %v", err)
	}

	// The terminal check must not shadow the replay: resubmitting the final
	// command echoes success instead of rejecting.
	_, result, err := completed.RecordStep("run-1", domain.StepFinalReview, final, domain.StepOutcomePass, "final-key", "qa", testNow)
	if err != nil {
		t.Fatalf("replay on completed run: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate echo")
	}

	// A fresh command against the completed run still rejects.
	_, _, err = completed.RecordStep("run-1", domain.StepFinalReview, final, domain.StepOutcomePass, "other-key", "qa", testNow)
	rej, ok := domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectInvalidTransition {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}
}

func TestRecordStepRejections(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 2})

	tests := []struct {
		name    string
		runID   string
		stepID  domain.StepID
		raw     string
		outcome domain.StepOutcome
		code    domain.RejectCode
	}{
		{name: "unknown run", runID: "missing", stepID: domain.StepScanQR, raw: `{"code":"x"}`, outcome: domain.StepOutcomePass, code: domain.RejectNotFound},
		{name: "wrong step", runID: "run-1", stepID: domain.StepLotExtraction, raw: `{"entries":[{"id":"l1","raw":"r"}]}`, outcome: domain.StepOutcomePass, code: domain.RejectInvalidTransition},
		{name: "malformed payload", runID: "run-1", stepID: domain.StepScanQR, raw: `{"code":""}`, outcome: domain.StepOutcomePass, code: domain.RejectMalformedPayload},
		{name: "unknown outcome", runID: "run-1", stepID: domain.StepScanQR, raw: `{"code":"x"}`, outcome: domain.StepOutcome("maybe"), code: domain.RejectMalformedPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := snapshot.RecordStep(tc.runID, tc.stepID, json.RawMessage(tc.raw), tc.outcome, nextKey(), "qa", testNow)
			rej, ok := domain.AsRejection(err)
			if !ok {
				t.Fatalf("err = %v, want rejection", err)
			}
			if rej.Code != tc.code {
				t.Fatalf("code = %s, want %s", rej.Code, tc.code)
			}
		})
	}
}

func TestHoldReleaseRestoresPriorStatus(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 2})
	snapshot = passStep(t, snapshot, "run-1", domain.StepScanQR, `{"code":"QR-1"}`)
	snapshot = failStep(t, snapshot, "run-1", domain.StepInspectionInfo,
		`{"container_condition":"dented","reason":"dent","photos":["p.jpg"]}`)

	held, _, err := snapshot.Hold("run-1", "await supervisor", "qa", testNow)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	run, _ := held.Run("run-1")
	if run.Status != domain.RunStatusOnHold || run.PriorStatus != domain.RunStatusNeedsReverify {
		t.Fatalf("status = %s prior = %s, want on_hold/needs_reverify", run.Status, run.PriorStatus)
	}
	if run.HoldReason != "await supervisor" {
		t.Fatalf("hold reason = %q", run.HoldReason)
	}

	// Held runs accept no step submissions.
	_, _, err = held.RecordStep("run-1", domain.StepInspectionInfo, json.RawMessage(`{"container_condition":"ok"}`), domain.StepOutcomePass, nextKey(), "qa", testNow)
	rej, ok := domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectInvalidTransition {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}

	released, _, err := held.Release("run-1", "qa", testNow)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	run, _ = released.Run("run-1")
	if run.Status != domain.RunStatusNeedsReverify || run.PriorStatus != "" || run.HoldReason != "" {
		t.Fatalf("after release: status = %s prior = %q reason = %q", run.Status, run.PriorStatus, run.HoldReason)
	}
}

func TestHoldAndReleaseTransitions(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 2})

	if _, _, err := snapshot.Release("run-1", "qa", testNow); err == nil {
		t.Fatal("release on an active run must reject")
	}

	cancelled, _, err := snapshot.Cancel("run-1", "scrapped", "qa", testNow)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, _, err := cancelled.Hold("run-1", "x", "qa", testNow); err == nil {
		t.Fatal("hold on a cancelled run must reject")
	}
}

func TestCancel(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "drum", ContainerCount: 2})

	if _, _, err := snapshot.Cancel("run-1", "  ", "qa", testNow); err == nil {
		t.Fatal("cancel without a reason must reject")
	}

	cancelled, _, err := snapshot.Cancel("run-1", "customer pulled the order", "qa", testNow)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	run, _ := cancelled.Run("run-1")
	if run.Status != domain.RunStatusCancelled || run.CurrentStepID != "" {
		t.Fatalf("status = %s step = %q", run.Status, run.CurrentStepID)
	}
	if run.CancelReason != "customer pulled the order" {
		t.Fatalf("cancel reason = %q", run.CancelReason)
	}

	// Terminal runs reject every further command.
	if _, _, err := cancelled.Cancel("run-1", "again", "qa", testNow); err == nil {
		t.Fatal("double cancel must reject")
	}
	_, _, err = cancelled.RecordStep("run-1", domain.StepScanQR, json.RawMessage(`{"code":"x"}`), domain.StepOutcomePass, nextKey(), "qa", testNow)
	rej, ok := domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectInvalidTransition {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}
}

func TestBindToCode(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids,
		RunSpec{ContainerType: "drum", ContainerCount: 2},
		RunSpec{ContainerType: "drum", ContainerCount: 3},
	)

	bound, _, err := snapshot.BindToCode("run-1", "QR-77", "qa", testNow)
	if err != nil {
		t.Fatalf("BindToCode: %v", err)
	}
	run, _ := bound.Run("run-1")
	if run.QRBinding != "QR-77" {
		t.Fatalf("binding = %q", run.QRBinding)
	}

	// Same code, same run: idempotent success.
	_, result, err := bound.BindToCode("run-1", "QR-77", "qa", testNow)
	if err != nil {
		t.Fatalf("rebind same run: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate no-op")
	}

	// Same code, different live run: conflict.
	_, _, err = bound.BindToCode("run-2", "QR-77", "qa", testNow)
	rej, ok := domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectCodeAlreadyBound {
		t.Fatalf("err = %v, want CODE_ALREADY_BOUND", err)
	}

	// A held run can only be released or cancelled; it does not take a code.
	held, _, err := bound.Hold("run-2", "awaiting supervisor", "qa", testNow)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	_, _, err = held.BindToCode("run-2", "QR-88", "qa", testNow)
	rej, ok = domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectRunNotActive {
		t.Fatalf("err = %v, want RUN_NOT_ACTIVE", err)
	}
	run, _ = held.Run("run-2")
	if run.QRBinding != "" {
		t.Fatalf("held run gained binding %q", run.QRBinding)
	}

	// Cancelling the holder frees the code for live runs.
	cancelled, _, err := bound.Cancel("run-1", "mislabeled", "qa", testNow)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rebound, _, err := cancelled.BindToCode("run-2", "QR-77", "qa", testNow)
	if err != nil {
		t.Fatalf("rebind after cancel: %v", err)
	}
	run, _ = rebound.Run("run-2")
	if run.QRBinding != "QR-77" {
		t.Fatalf("binding = %q", run.QRBinding)
	}

	// The cancelled run itself is done taking codes.
	_, _, err = rebound.BindToCode("run-1", "QR-99", "qa", testNow)
	rej, ok = domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectRunNotActive {
		t.Fatalf("err = %v, want RUN_NOT_ACTIVE", err)
	}
}

// Scenario: partial damage. One pallet of ten is dented mid-order; the
// damaged unit is split off, held for supervisor review, then cancelled,
// while the remainder finishes inspection.
func TestScenarioPartialDamage(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids, RunSpec{ContainerType: "pallet", ContainerCount: 10})
	snapshot = passStep(t, snapshot, "run-1", domain.StepScanQR, `{"code":"QR-1"}`)

	split, result, err := snapshot.Split("run-1", 1, "qa", testNow, ids)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	damagedID := result.MutatedRunIDs[1]

	held, _, err := split.Hold(damagedID, "dented corner", "qa", testNow)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	final, _, err := held.Cancel(damagedID, "unsalvageable", "supervisor", testNow)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final = passStep(t, final, "run-1", domain.StepInspectionInfo, `{"container_condition":"good"}`)
	final = passStep(t, final, "run-1", domain.StepVerifyPackingLabel, `{}`)
	final = passStep(t, final, "run-1", domain.StepVerifyProductLabel, `{"photos":["p.jpg"]}`)
	final = passStep(t, final, "run-1", domain.StepLotExtraction, `{"entries":[{"id":"l1","raw":"LOT-A"}]}`)
	final = passStep(t, final, "run-1", domain.StepFinalReview, `{}`)

	parent, _ := final.Run("run-1")
	damaged, _ := final.Run(damagedID)
	if parent.Status != domain.RunStatusCompleted || parent.ContainerCount != 9 {
		t.Fatalf("parent = %s/%d, want completed/9", parent.Status, parent.ContainerCount)
	}
	if damaged.Status != domain.RunStatusCancelled || damaged.ContainerCount != 1 {
		t.Fatalf("damaged = %s/%d, want cancelled/1", damaged.Status, damaged.ContainerCount)
	}
}

// Scenario: consolidation. Two compatible part-deliveries are grouped into
// one unit which is then inspected end to end.
func TestScenarioConsolidation(t *testing.T) {
	ids := &seqIDs{}
	snapshot := seeded(t, ids,
		RunSpec{ContainerType: "drum", ContainerCount: 2},
		RunSpec{ContainerType: "drum", ContainerCount: 2},
	)

	grouped, result, err := snapshot.Group([]string{"run-1", "run-2"}, "qa", testNow, ids)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	mergedID := result.MutatedRunIDs[0]

	done := completeRun(t, grouped, mergedID)
	merged, _ := done.Run(mergedID)
	if merged.Status != domain.RunStatusCompleted || merged.ContainerCount != 4 {
		t.Fatalf("merged = %s/%d, want completed/4", merged.Status, merged.ContainerCount)
	}

	// Retired sources reject commands.
	_, _, err = done.RecordStep("run-1", domain.StepScanQR, json.RawMessage(`{"code":"x"}`), domain.StepOutcomePass, nextKey(), "qa", testNow)
	rej, ok := domain.AsRejection(err)
	if !ok || rej.Code != domain.RejectInvalidTransition {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}
}
