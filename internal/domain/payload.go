package domain

// StepPayload is the validated payload submitted for one pipeline step.
// Exactly one concrete variant exists per StepID.
type StepPayload interface {
	Step() StepID
}

// ScanQRPayload records the container code scanned at the start of a run.
type ScanQRPayload struct {
	Code   string   `json:"code"`
	Reason string   `json:"reason,omitempty"`
	Photos []string `json:"photos,omitempty"`
}

func (ScanQRPayload) Step() StepID { return StepScanQR }

// InspectionInfoPayload captures the operator's package-match assessment.
type InspectionInfoPayload struct {
	ContainerCondition string   `json:"container_condition"`
	Notes              string   `json:"notes,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	Photos             []string `json:"photos,omitempty"`
}

func (InspectionInfoPayload) Step() StepID { return StepInspectionInfo }

// LabelCheckPayload documents a label compliance check. Used by both
// verify_packing_label and verify_product_label; the Kind field pins the
// variant to its step.
type LabelCheckPayload struct {
	Kind   StepID   `json:"-"`
	Reason string   `json:"reason,omitempty"`
	Photos []string `json:"photos,omitempty"`
}

func (p LabelCheckPayload) Step() StepID { return p.Kind }

// LotEntry is one captured lot number.
type LotEntry struct {
	ID        string `json:"id"`
	Raw       string `json:"raw"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

// LotExtractionPayload carries the ordered list of captured lot numbers.
type LotExtractionPayload struct {
	Entries []LotEntry `json:"entries"`
	Reason  string     `json:"reason,omitempty"`
	Photos  []string   `json:"photos,omitempty"`
}

func (LotExtractionPayload) Step() StepID { return StepLotExtraction }

// FinalReviewPayload is the supervisor sign-off at the end of the pipeline.
type FinalReviewPayload struct {
	Notes  string   `json:"notes,omitempty"`
	Reason string   `json:"reason,omitempty"`
	Photos []string `json:"photos,omitempty"`
}

func (FinalReviewPayload) Step() StepID { return StepFinalReview }
