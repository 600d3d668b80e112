package compliance

import (
	"errors"
	"fmt"
	"strings"

	"caseline/internal/stage"
)

var (
	ErrInvalidStatus        = errors.New("invalid status")
	ErrWaiverReasonRequired = errors.New("waiver reason required")
	ErrGateBlocked          = errors.New("stage gate blocked")
)

// InvalidStatusError is returned when a status is outside the allowed set.
type InvalidStatusError struct {
	Entity  string
	Status  string
	Allowed []string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid %s status %q (allowed: %s)", e.Entity, e.Status, strings.Join(e.Allowed, ", "))
}

func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// GateBlockedError carries the full gate result so callers can show what
// is outstanding.
type GateBlockedError struct {
	CaseID string
	Result GateResult
}

func (e *GateBlockedError) Error() string {
	return fmt.Sprintf("case %s cannot enter %s: %d checklist item(s) and %d document(s) outstanding",
		e.CaseID, e.Result.Target, len(e.Result.BlockingChecklist), len(e.Result.BlockingDocuments))
}

func (e *GateBlockedError) Unwrap() error { return ErrGateBlocked }

// Target is the stage the blocked transition aimed for.
func (e *GateBlockedError) Target() stage.Stage { return e.Result.Target }
