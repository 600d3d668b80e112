package auth

import (
	"fmt"
	"strings"

	"caseline/internal/stage"
)

// Action names checked against a caller's role.
const (
	ActionTransition   = "case.transition"
	ActionGateOverride = "gate.override"
	ActionAPIKeyCreate = "apikey.create"
)

// ForbiddenError indicates the caller's role may not perform Action.
type ForbiddenError struct {
	Role   string
	Action string
	Stage  string
}

func (e ForbiddenError) Error() string {
	role := e.Role
	if role == "" {
		role = "(none)"
	}
	if e.Stage != "" {
		return fmt.Sprintf("role %s may not perform %s from stage %s", role, e.Action, e.Stage)
	}
	return fmt.Sprintf("role %s may not perform %s", role, e.Action)
}

// Known reports whether role is one of the configured staff roles.
func Known(role string) bool {
	switch Normalize(role) {
	case stage.RoleAdmin, stage.RoleDirector, stage.RoleArranger, stage.RoleCoordinator:
		return true
	}
	return false
}

func Normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// EnsureTransition checks that role may move a case out of from.
func EnsureTransition(role string, from stage.Stage) error {
	if !stage.CanRoleTransition(from, role) {
		return ForbiddenError{Role: Normalize(role), Action: ActionTransition, Stage: string(from)}
	}
	return nil
}

// EnsureAdmin checks that role is the admin role.
func EnsureAdmin(role, action string) error {
	if Normalize(role) != stage.RoleAdmin {
		return ForbiddenError{Role: Normalize(role), Action: action}
	}
	return nil
}
