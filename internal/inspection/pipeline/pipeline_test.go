package pipeline

import (
	"testing"

	"github.com/packline-labs/packline-go/internal/domain"
)

func TestDefaultPipeline(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Phase != DefaultPhase {
		t.Fatalf("phase = %q, want %q", p.Phase, DefaultPhase)
	}
	if p.First() != domain.StepScanQR {
		t.Fatalf("first = %s, want %s", p.First(), domain.StepScanQR)
	}
	if !p.Last(domain.StepFinalReview) {
		t.Fatal("final_review should be last")
	}
	if next := p.Next(domain.StepScanQR); next != domain.StepInspectionInfo {
		t.Fatalf("next after scan_qr = %s, want %s", next, domain.StepInspectionInfo)
	}
	if next := p.Next(domain.StepFinalReview); next != "" {
		t.Fatalf("next after final step = %q, want empty", next)
	}
	if p.Contains(domain.StepID("repaint")) {
		t.Fatal("unknown step reported as contained")
	}
}

func TestPipelineValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Pipeline
		wantErr bool
	}{
		{name: "valid", p: Default()},
		{name: "missing phase", p: Pipeline{Steps: domain.KnownSteps()}, wantErr: true},
		{name: "no steps", p: Pipeline{Phase: "x"}, wantErr: true},
		{name: "unknown step", p: Pipeline{Phase: "x", Steps: []domain.StepID{"repaint"}}, wantErr: true},
		{name: "duplicate step", p: Pipeline{Phase: "x", Steps: []domain.StepID{domain.StepScanQR, domain.StepScanQR}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}
