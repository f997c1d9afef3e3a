package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RejectCode classifies why a command was refused. Rejections are values,
// never panics; the snapshot a rejected command was applied to is unchanged.
type RejectCode string

const (
	RejectMalformedPayload  RejectCode = "MALFORMED_PAYLOAD"
	RejectInvalidTransition RejectCode = "INVALID_TRANSITION"
	RejectDuplicate         RejectCode = "DUPLICATE"
	RejectInvalidQuantity   RejectCode = "INVALID_QUANTITY"
	RejectIncompatibleRuns  RejectCode = "INCOMPATIBLE_RUNS"
	RejectRunNotActive      RejectCode = "RUN_NOT_ACTIVE"
	RejectNotFound          RejectCode = "NOT_FOUND"
	RejectCodeAlreadyBound  RejectCode = "CODE_ALREADY_BOUND"
)

// Rejection reports a refused command with the run it targeted and the
// individual issues found.
type Rejection struct {
	Code   RejectCode
	RunID  string
	Issues []string
}

func (r *Rejection) Error() string {
	msg := string(r.Code)
	if strings.TrimSpace(r.RunID) != "" {
		msg += " run " + r.RunID
	}
	if len(r.Issues) > 0 {
		msg += ": " + strings.Join(r.Issues, "; ")
	}
	return msg
}

func (r *Rejection) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	r.Issues = append(r.Issues, issue)
}

// OrNil returns the rejection if it carries issues, otherwise nil.
func (r *Rejection) OrNil() error {
	if r == nil || len(r.Issues) == 0 {
		return nil
	}
	return r
}

// Reject builds a single-issue rejection.
func Reject(code RejectCode, runID string, format string, args ...any) *Rejection {
	return &Rejection{
		Code:   code,
		RunID:  runID,
		Issues: []string{fmt.Sprintf(format, args...)},
	}
}

// AsRejection unwraps a Rejection from err, if there is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
