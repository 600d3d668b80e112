package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"caseline/internal/alerts"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
	"caseline/internal/stage"
	"caseline/internal/sweep"
)

func registerAlerts(api huma.API, am alerts.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "list-open-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "Open alerts, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Source string `query:"source" doc:"automation or compliance; empty for both"`
		CaseID string `query:"case_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*out[[]domain.Alert], error) {
		if _, err := requireRole(ctx, "alert.read"); err != nil {
			return nil, err
		}
		items, err := am.ListOpen(ctx, alerts.Filter{
			Source: domain.AlertSource(input.Source),
			CaseID: input.CaseID,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-alert-history",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/alerts",
		Summary:     "Every alert raised for a case, open and resolved",
	}, func(ctx context.Context, input *casePath) (*out[[]domain.Alert], error) {
		if _, err := requireRole(ctx, "alert.read"); err != nil {
			return nil, err
		}
		items, err := am.ListHistory(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-alert",
		Method:      http.MethodGet,
		Path:        "/alerts/{alert_id}",
		Summary:     "Get alert",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AlertID string `path:"alert_id"`
	}) (*out[domain.Alert], error) {
		if _, err := requireRole(ctx, "alert.read"); err != nil {
			return nil, err
		}
		a, err := am.Get(ctx, input.AlertID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/resolve",
		Summary:     "Resolve an open alert",
		Description: "Resolving an alert that is unknown or already resolved succeeds with resolved=false.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AlertID string `path:"alert_id"`
	}) (*out[ResolveAlertResponse], error) {
		p, err := requireRole(ctx, "alert.resolve")
		if err != nil {
			return nil, err
		}
		a, err := am.Resolve(ctx, input.AlertID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ResolveAlertResponse{Resolved: a != nil, Alert: a}), nil
	})
}

func registerSweeps(api huma.API, s Sweeper) {
	huma.Register(api, huma.Operation{
		OperationID: "trigger-sweep",
		Method:      http.MethodPost,
		Path:        "/sweeps",
		Summary:     "Run a sweep now",
		Errors:      []int{http.StatusForbidden, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*out[sweep.Report], error) {
		if _, err := requireRole(ctx, "sweep.run", stage.RoleAdmin, stage.RoleDirector); err != nil {
			return nil, err
		}
		if s == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "sweeps_disabled", "sweep scheduler not configured", nil)
		}
		report, err := s.RunSweep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "last-sweep",
		Method:      http.MethodGet,
		Path:        "/sweeps/last",
		Summary:     "Report of the most recent sweep",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*out[sweep.Report], error) {
		if _, err := requireRole(ctx, "sweep.read"); err != nil {
			return nil, err
		}
		if s == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no sweep has run", nil)
		}
		report, ok := s.LastReport()
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no sweep has run", nil)
		}
		return reply(report), nil
	})
}

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CaseID     string `query:"case_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[paginatedEvents], error) {
		if _, err := requireRole(ctx, "event.read"); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := r.LatestEvents(ctx, repo.EventFilters{
			CaseID:     input.CaseID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})
}

func registerAPIKeys(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key; the key is only returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*out[CreateAPIKeyResponse], error) {
		if _, err := requireRole(ctx, auth.ActionAPIKeyCreate, stage.RoleAdmin); err != nil {
			return nil, err
		}
		key, rec, err := NewAPIKey(input.Body.ActorID, input.Body.Role, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		if err := r.InsertAPIKey(ctx, nil, rec); err != nil {
			return nil, handleError(err)
		}
		rec.KeyHash = ""
		return reply(CreateAPIKeyResponse{Key: key, APIKey: rec}), nil
	})
}

// NewAPIKey generates a random key and the record that stores its hash.
func NewAPIKey(actorID, role, name string) (string, domain.APIKey, error) {
	if !auth.Known(role) {
		return "", domain.APIKey{}, &invalidRoleError{role: role}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	key := "cl_" + hex.EncodeToString(buf)
	return key, domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: actorID,
		Role:    auth.Normalize(role),
		Name:    name,
		KeyHash: repo.HashAPIKey(key),
	}, nil
}

type invalidRoleError struct{ role string }

func (e *invalidRoleError) Error() string { return "invalid role " + strconv.Quote(e.role) }
