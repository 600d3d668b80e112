// Package stage holds the static case stage table: ordering, display
// metadata, allowed forward transitions and the roles allowed to trigger them.
package stage

import (
	"errors"
	"fmt"
	"strings"
)

type Stage string

const (
	New        Stage = "NEW"
	Intake     Stage = "INTAKE"
	Documents  Stage = "DOCUMENTS"
	Quote      Stage = "QUOTE"
	Scheduled  Stage = "SCHEDULED"
	ServiceDay Stage = "SERVICE_DAY"
	Completed  Stage = "COMPLETED"

	// Any marks a requirement that is due at every stage.
	Any = "ANY"
)

const (
	RoleAdmin       = "admin"
	RoleDirector    = "director"
	RoleArranger    = "arranger"
	RoleCoordinator = "coordinator"
)

// ErrInvalidTransition is returned when a stage move is not in the table.
var ErrInvalidTransition = errors.New("invalid stage transition")

// ErrUnknownStage is returned by callers that require a known stage value.
var ErrUnknownStage = errors.New("unknown stage")

// Require is Lookup that returns ErrUnknownStage instead of false.
func Require(s string) (Stage, error) {
	st, ok := Lookup(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return st, nil
}

// TransitionError carries the rejected pair.
type TransitionError struct {
	From Stage
	To   Stage
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

type Meta struct {
	Stage       Stage  `json:"stage"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Terminal    bool   `json:"terminal"`
}

type entry struct {
	meta  Meta
	next  []Stage
	roles []string
}

var order = []Stage{New, Intake, Documents, Quote, Scheduled, ServiceDay, Completed}

var table = map[Stage]entry{
	New: {
		meta:  Meta{Stage: New, Label: "New", Description: "First contact received"},
		next:  []Stage{Intake},
		roles: []string{RoleAdmin, RoleDirector, RoleArranger, RoleCoordinator},
	},
	Intake: {
		meta:  Meta{Stage: Intake, Label: "Intake", Description: "Family details and removal being arranged"},
		next:  []Stage{Documents},
		roles: []string{RoleAdmin, RoleDirector, RoleArranger, RoleCoordinator},
	},
	Documents: {
		meta:  Meta{Stage: Documents, Label: "Documents", Description: "Collecting certificates and authorizations"},
		next:  []Stage{Quote},
		roles: []string{RoleAdmin, RoleDirector, RoleArranger},
	},
	Quote: {
		meta:  Meta{Stage: Quote, Label: "Quote", Description: "Arrangement priced and awaiting approval"},
		next:  []Stage{Scheduled},
		roles: []string{RoleAdmin, RoleDirector, RoleArranger},
	},
	Scheduled: {
		meta:  Meta{Stage: Scheduled, Label: "Scheduled", Description: "Service booked, logistics in progress"},
		next:  []Stage{ServiceDay},
		roles: []string{RoleAdmin, RoleDirector, RoleCoordinator},
	},
	ServiceDay: {
		meta:  Meta{Stage: ServiceDay, Label: "Service day", Description: "Service taking place"},
		next:  []Stage{Completed},
		roles: []string{RoleAdmin, RoleDirector},
	},
	Completed: {
		meta: Meta{Stage: Completed, Label: "Completed", Description: "Case closed", Terminal: true},
	},
}

// All returns the stages in lifecycle order.
func All() []Stage {
	out := make([]Stage, len(order))
	copy(out, order)
	return out
}

// Initial is the stage new cases start in and the fallback for unknown input.
func Initial() Stage { return New }

// Lookup normalizes s and reports whether it names a known stage.
func Lookup(s string) (Stage, bool) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := table[st]
	return st, ok
}

// Parse is Lookup that falls back to the initial stage for unknown input.
func Parse(s string) Stage {
	if st, ok := Lookup(s); ok {
		return st
	}
	return Initial()
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := table[s]
	return ok
}

func (s Stage) String() string { return string(s) }

// Ordinal is the position of s in the lifecycle. Unknown stages map to the
// initial stage's position.
func Ordinal(s Stage) int {
	s = Parse(string(s))
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return 0
}

// MetaFor returns display metadata for s.
func MetaFor(s Stage) Meta {
	return table[Parse(string(s))].meta
}

// IsTerminal reports whether no further transitions leave s.
func IsTerminal(s Stage) bool {
	return MetaFor(s).Terminal
}

// TerminalStages lists every terminal stage.
func TerminalStages() []Stage {
	var out []Stage
	for _, st := range order {
		if table[st].meta.Terminal {
			out = append(out, st)
		}
	}
	return out
}

// AllowedNext returns the stages a case in s may move to.
func AllowedNext(s Stage) []Stage {
	next := table[Parse(string(s))].next
	out := make([]Stage, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to Stage) bool {
	if !to.Valid() {
		return false
	}
	for _, n := range AllowedNext(from) {
		if n == to {
			return true
		}
	}
	return false
}

// CanRoleTransition reports whether role may move a case out of s.
func CanRoleTransition(s Stage, role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range table[Parse(string(s))].roles {
		if r == role {
			return true
		}
	}
	return false
}

// EnsureTransition returns a TransitionError when from -> to is not allowed.
func EnsureTransition(from, to Stage) error {
	if CanTransition(from, to) {
		return nil
	}
	return TransitionError{From: from, To: to}
}
