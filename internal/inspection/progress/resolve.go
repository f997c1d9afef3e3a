package progress

import (
	"github.com/packline-labs/packline-go/internal/domain"
	"github.com/packline-labs/packline-go/internal/inspection/pipeline"
)

// Resolution is the computed next position of a run after a step submission.
type Resolution struct {
	NextStatus domain.RunStatus
	// NextStepID is empty once the run completes.
	NextStepID domain.StepID
}

// Resolve computes the run's next status and step after a submission of
// stepID with the given outcome. Failing a step never advances the pipeline:
// the run parks in needs_reverify at the same step until a corrective pass
// resubmission. A pass on the final step completes the run. Pure and
// deterministic; legality of the submission (run not held, step matches the
// current step) is checked by the caller before resolving.
func Resolve(p pipeline.Pipeline, stepID domain.StepID, outcome domain.StepOutcome) Resolution {
	if outcome == domain.StepOutcomeFail {
		return Resolution{
			NextStatus: domain.RunStatusNeedsReverify,
			NextStepID: stepID,
		}
	}
	if p.Last(stepID) {
		return Resolution{
			NextStatus: domain.RunStatusCompleted,
			NextStepID: "",
		}
	}
	return Resolution{
		NextStatus: domain.RunStatusActive,
		NextStepID: p.Next(stepID),
	}
}
