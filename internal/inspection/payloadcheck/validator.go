package payloadcheck

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/packline-labs/packline-go/internal/domain"
)

// Validate checks a raw submitted payload against the step's structural and
// outcome-conditional rules and returns the typed payload. Rejections carry
// code MALFORMED_PAYLOAD with one issue per violated rule. Pure: same inputs
// always produce the same verdict.
func Validate(stepID domain.StepID, raw json.RawMessage, outcome domain.StepOutcome) (domain.StepPayload, error) {
	if domain.NormalizeStepOutcome(string(outcome)) == "" {
		return nil, domain.Reject(domain.RejectMalformedPayload, "", "unknown outcome %q", outcome)
	}

	issues := &domain.Rejection{Code: domain.RejectMalformedPayload}
	payload, ok := decode(stepID, raw, issues)
	if !ok {
		return nil, issues.OrNil()
	}

	checkOutcomeRules(payload, outcome, issues)

	switch p := payload.(type) {
	case domain.ScanQRPayload:
		if strings.TrimSpace(p.Code) == "" {
			issues.Add("code is required")
		}
	case domain.InspectionInfoPayload:
		if strings.TrimSpace(p.ContainerCondition) == "" {
			issues.Add("container_condition is required")
		}
	case domain.LabelCheckPayload:
		// Product label checks are defined as visually documented, so a
		// photo is required even on pass.
		if p.Kind == domain.StepVerifyProductLabel && countPhotos(p.Photos) == 0 {
			issues.Add("at least one photo is required")
		}
	case domain.LotExtractionPayload:
		checkLotEntries(p.Entries, issues)
	}

	if err := issues.OrNil(); err != nil {
		return nil, err
	}
	return payload, nil
}

func decode(stepID domain.StepID, raw json.RawMessage, issues *domain.Rejection) (domain.StepPayload, bool) {
	if len(raw) == 0 {
		issues.Add("payload is required")
		return nil, false
	}

	var (
		payload domain.StepPayload
		err     error
	)
	switch stepID {
	case domain.StepScanQR:
		var p domain.ScanQRPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case domain.StepInspectionInfo:
		var p domain.InspectionInfoPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case domain.StepVerifyPackingLabel, domain.StepVerifyProductLabel:
		var p domain.LabelCheckPayload
		err = json.Unmarshal(raw, &p)
		p.Kind = stepID
		payload = p
	case domain.StepLotExtraction:
		var p domain.LotExtractionPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case domain.StepFinalReview:
		var p domain.FinalReviewPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		issues.Add("unknown step " + string(stepID))
		return nil, false
	}
	if err != nil {
		issues.Add("payload does not decode: " + err.Error())
		return nil, false
	}
	return payload, true
}

// checkOutcomeRules enforces the rules shared by every outcome-bearing step:
// a failed check must say why and show evidence.
func checkOutcomeRules(payload domain.StepPayload, outcome domain.StepOutcome, issues *domain.Rejection) {
	if outcome != domain.StepOutcomeFail {
		return
	}
	reason, photos := reasonAndPhotos(payload)
	if strings.TrimSpace(reason) == "" {
		issues.Add("fail outcome requires a reason")
	}
	if countPhotos(photos) == 0 {
		issues.Add("fail outcome requires at least one photo")
	}
}

func reasonAndPhotos(payload domain.StepPayload) (string, []string) {
	switch p := payload.(type) {
	case domain.ScanQRPayload:
		return p.Reason, p.Photos
	case domain.InspectionInfoPayload:
		return p.Reason, p.Photos
	case domain.LabelCheckPayload:
		return p.Reason, p.Photos
	case domain.LotExtractionPayload:
		return p.Reason, p.Photos
	case domain.FinalReviewPayload:
		return p.Reason, p.Photos
	default:
		return "", nil
	}
}

func checkLotEntries(entries []domain.LotEntry, issues *domain.Rejection) {
	if len(entries) == 0 {
		issues.Add("entries must be non-empty")
		return
	}
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			issues.Add(fmt.Sprintf("entries[%d]: id is required", i))
			continue
		}
		if strings.TrimSpace(entry.Raw) == "" {
			issues.Add(fmt.Sprintf("entries[%d]: raw is required", i))
		}
		if _, ok := seen[id]; ok {
			issues.Add(fmt.Sprintf("entries[%d]: duplicate id %q", i, id))
		}
		seen[id] = struct{}{}
	}
}

func countPhotos(photos []string) int {
	n := 0
	for _, photo := range photos {
		if strings.TrimSpace(photo) != "" {
			n++
		}
	}
	return n
}
