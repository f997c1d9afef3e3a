package domain

import "strings"

// StepID identifies one stage of an inspection pipeline.
type StepID string

const (
	StepScanQR             StepID = "scan_qr"
	StepInspectionInfo     StepID = "inspection_info"
	StepVerifyPackingLabel StepID = "verify_packing_label"
	StepVerifyProductLabel StepID = "verify_product_label"
	StepLotExtraction      StepID = "lot_extraction"
	StepFinalReview        StepID = "final_review"
)

// KnownSteps lists every step the system understands, in the canonical
// pre-mix container inspection order. Pipelines are ordered subsets of this.
func KnownSteps() []StepID {
	return []StepID{
		StepScanQR,
		StepInspectionInfo,
		StepVerifyPackingLabel,
		StepVerifyProductLabel,
		StepLotExtraction,
		StepFinalReview,
	}
}

// NormalizeStepID maps a free-form step value to a known StepID.
func NormalizeStepID(value string) StepID {
	candidate := StepID(strings.ToLower(strings.TrimSpace(value)))
	for _, step := range KnownSteps() {
		if candidate == step {
			return step
		}
	}
	return ""
}
