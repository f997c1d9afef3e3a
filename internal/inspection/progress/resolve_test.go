package progress

import (
	"testing"

	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/pipeline"
)

func TestResolve(t *testing.T) {
	p := pipeline.Default()

	tests := []struct {
		name       string
		step       domain.StepID
		outcome    domain.StepOutcome
		wantStatus domain.RunStatus
		wantStep   domain.StepID
	}{
		{
			name:       "pass advances to the next step",
			step:       domain.StepScanQR,
			outcome:    domain.StepOutcomePass,
			wantStatus: domain.RunStatusActive,
			wantStep:   domain.StepInspectionInfo,
		},
		{
			name:       "pass mid-pipeline",
			step:       domain.StepVerifyPackingLabel,
			outcome:    domain.StepOutcomePass,
			wantStatus: domain.RunStatusActive,
			wantStep:   domain.StepVerifyProductLabel,
		},
		{
			name:       "pass on the final step completes",
			step:       domain.StepFinalReview,
			outcome:    domain.StepOutcomePass,
			wantStatus: domain.RunStatusCompleted,
			wantStep:   "",
		},
		{
			name:       "fail parks at the same step",
			step:       domain.StepLotExtraction,
			outcome:    domain.StepOutcomeFail,
			wantStatus: domain.RunStatusNeedsReverify,
			wantStep:   domain.StepLotExtraction,
		},
		{
			name:       "fail on the final step never completes",
			step:       domain.StepFinalReview,
			outcome:    domain.StepOutcomeFail,
			wantStatus: domain.RunStatusNeedsReverify,
			wantStep:   domain.StepFinalReview,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(p, tc.step, tc.outcome)
			if got.NextStatus != tc.wantStatus {
				t.Fatalf("status = %s, want %s", got.NextStatus, tc.wantStatus)
			}
			if got.NextStepID != tc.wantStep {
				t.Fatalf("step = %q, want %q", got.NextStepID, tc.wantStep)
			}
		})
	}
}

func TestResolveShortPipeline(t *testing.T) {
	p := pipeline.Pipeline{Phase: "receiving_spot_check", Steps: []domain.StepID{domain.StepScanQR}}

	got := Resolve(p, domain.StepScanQR, domain.StepOutcomePass)
	if got.NextStatus != domain.RunStatusCompleted || got.NextStepID != "" {
		t.Fatalf("got %+v, want completed with no next step", got)
	}
}
