package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/packline-labs/packline-go/internal/domain"
)

// DefaultPhase is the workflow phase the built-in pipeline serves.
const DefaultPhase = "premix_container_inspection"

// Pipeline is the ordered sequence of verification steps for one workflow
// phase. The order is fixed at load time and never changes mid-run.
type Pipeline struct {
	Phase string          `yaml:"phase"`
	Steps []domain.StepID `yaml:"steps"`
}

// Default returns the built-in pre-mix container inspection pipeline.
func Default() Pipeline {
	return Pipeline{
		Phase: DefaultPhase,
		Steps: domain.KnownSteps(),
	}
}

func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.Phase) == "" {
		return errors.New("pipeline phase is required")
	}
	if len(p.Steps) == 0 {
		return errors.New("pipeline requires at least one step")
	}
	seen := make(map[domain.StepID]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		if domain.NormalizeStepID(string(step)) == "" {
			return fmt.Errorf("steps[%d]: unknown step %q", i, step)
		}
		if _, ok := seen[step]; ok {
			return fmt.Errorf("steps[%d]: duplicate step %q", i, step)
		}
		seen[step] = struct{}{}
	}
	return nil
}

// First returns the entry step of the pipeline.
func (p Pipeline) First() domain.StepID {
	if len(p.Steps) == 0 {
		return ""
	}
	return p.Steps[0]
}

// Last reports whether step is the final step of the pipeline.
func (p Pipeline) Last(step domain.StepID) bool {
	return len(p.Steps) > 0 && p.Steps[len(p.Steps)-1] == step
}

// Next returns the successor of step, or "" when step is last or unknown.
func (p Pipeline) Next(step domain.StepID) domain.StepID {
	for i, candidate := range p.Steps {
		if candidate == step {
			if i+1 < len(p.Steps) {
				return p.Steps[i+1]
			}
			return ""
		}
	}
	return ""
}

// Contains reports whether step belongs to the pipeline.
func (p Pipeline) Contains(step domain.StepID) bool {
	for _, candidate := range p.Steps {
		if candidate == step {
			return true
		}
	}
	return false
}
