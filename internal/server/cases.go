package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/alerts"
	"caseline/internal/compliance"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
	"caseline/internal/stage"
)

type casePath struct {
	CaseID string `path:"case_id"`
}

func registerCases(api huma.API, e engine.Engine, am alerts.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest
	}) (*out[domain.Case], error) {
		p, err := requireRole(ctx, "case.create")
		if err != nil {
			return nil, err
		}
		c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			ID:           input.Body.ID,
			Reference:    input.Body.Reference,
			DeceasedName: input.Body.DeceasedName,
			Location:     input.Body.Location,
			ServiceDate:  input.Body.ServiceDate,
			ActorID:      p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.RequireDocuments {
			if _, err := e.RequireConfiguredDocuments(ctx, c.ID, p.ActorID); err != nil {
				return nil, handleError(err)
			}
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage  string `query:"stage"`
		Open   bool   `query:"open"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*out[paginatedCases], error) {
		if _, err := requireRole(ctx, "case.read"); err != nil {
			return nil, err
		}
		f := repo.CaseFilters{Open: input.Open, Cursor: input.Cursor}
		if input.Stage != "" {
			st, err := stage.Require(input.Stage)
			if err != nil {
				return nil, handleError(err)
			}
			f.Stage = string(st)
		}
		limit := normalizeLimit(input.Limit)
		f.Limit = limit + 1
		items, err := e.Repo.ListCases(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedCases{Items: []domain.Case{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = items[limit-1].ID
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Case with stage metadata, compliance rows and open alerts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*out[CaseDetailResponse], error) {
		if _, err := requireRole(ctx, "case.read"); err != nil {
			return nil, err
		}
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		checklist, err := e.Repo.ListChecklistItems(ctx, e.DB, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		reqs, err := e.Repo.ListDocumentRequirements(ctx, e.DB, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		open, err := am.ListOpen(ctx, alerts.Filter{CaseID: c.ID})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CaseDetailResponse{
			Case:         c,
			Meta:         stage.MetaFor(c.Stage),
			Next:         nonNilSlice(stage.AllowedNext(c.Stage)),
			Checklist:    nonNilSlice(checklist),
			Requirements: nonNilSlice(reqs),
			OpenAlerts:   nonNilSlice(open),
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-stage",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/stage",
		Summary:     "Move a case to the next stage",
		Description: "Fails with 422 and the gate result when required checklist items or documents are outstanding. Admins may force past the gate with a reason.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   TransitionRequest
	}) (*out[engine.TransitionResult], error) {
		p, err := requireRole(ctx, "case.transition")
		if err != nil {
			return nil, err
		}
		res, err := e.TransitionStage(ctx, engine.TransitionRequest{
			CaseID:  input.CaseID,
			Target:  input.Body.Target,
			Role:    p.Role,
			ActorID: p.ActorID,
			Force:   input.Body.Force,
			Reason:  input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-message",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/messages",
		Summary:       "Record a message exchanged with the family",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   MessageRequest
	}) (*out[domain.Message], error) {
		p, err := requireRole(ctx, "case.update")
		if err != nil {
			return nil, err
		}
		m, err := e.RecordMessage(ctx, domain.Message{CaseID: input.CaseID, Direction: input.Body.Direction, Body: input.Body.Body}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-task",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/tasks",
		Summary:       "Add an operational task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   TaskRequest
	}) (*out[domain.CaseTask], error) {
		p, err := requireRole(ctx, "case.update")
		if err != nil {
			return nil, err
		}
		t, err := e.AddTask(ctx, domain.CaseTask{CaseID: input.CaseID, Title: input.Body.Title, Status: input.Body.Status, DueAt: input.Body.DueAt}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-document",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/documents",
		Summary:       "Record a received document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   DocumentRequest
	}) (*out[domain.Document], error) {
		p, err := requireRole(ctx, "case.update")
		if err != nil {
			return nil, err
		}
		d, err := e.AddDocument(ctx, domain.Document{CaseID: input.CaseID, DocumentType: input.Body.DocumentType, FileName: input.Body.FileName}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})
}

func registerCompliance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-gate",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/gate",
		Summary:     "Evaluate the compliance gate for a target stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Target string `query:"target" required:"true"`
	}) (*out[GateResponse], error) {
		if _, err := requireRole(ctx, "case.read"); err != nil {
			return nil, err
		}
		target, err := stage.Require(input.Target)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.Compliance.EvaluateGate(ctx, input.CaseID, target)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(GateResponse{CaseID: input.CaseID, Gate: res}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-checklist-item",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/checklist",
		Summary:       "Attach a checklist item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   ChecklistItemRequest
	}) (*out[domain.ChecklistItem], error) {
		p, err := requireRole(ctx, "compliance.update")
		if err != nil {
			return nil, err
		}
		it, err := e.AddChecklistItem(ctx, domain.ChecklistItem{
			CaseID:        input.CaseID,
			Category:      input.Body.Category,
			ItemKey:       input.Body.ItemKey,
			Label:         input.Body.Label,
			RequiredStage: input.Body.RequiredStage,
			IsRequired:    boolOr(input.Body.IsRequired, true),
		}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-document-requirement",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/document-requirements",
		Summary:       "Attach a document requirement",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   RequirementRequest
	}) (*out[domain.DocumentRequirement], error) {
		p, err := requireRole(ctx, "compliance.update")
		if err != nil {
			return nil, err
		}
		d, err := e.AddDocumentRequirement(ctx, domain.DocumentRequirement{
			CaseID:        input.CaseID,
			DocumentType:  input.Body.DocumentType,
			RequiredStage: input.Body.RequiredStage,
			IsRequired:    boolOr(input.Body.IsRequired, true),
			SLADueAt:      input.Body.SLADueAt,
		}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-checklist-status",
		Method:      http.MethodPatch,
		Path:        "/checklist/{item_id}",
		Summary:     "Set a checklist item status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   StatusUpdateRequest
	}) (*out[domain.ChecklistItem], error) {
		p, err := requireRole(ctx, "compliance.update")
		if err != nil {
			return nil, err
		}
		it, err := e.Compliance.SetChecklistStatus(ctx, compliance.ChecklistUpdate{
			ItemID: input.ItemID, Status: input.Body.Status, ActorID: p.ActorID, Reason: input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-document-status",
		Method:      http.MethodPatch,
		Path:        "/document-requirements/{requirement_id}",
		Summary:     "Set a document requirement status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequirementID string `path:"requirement_id"`
		Body          StatusUpdateRequest
	}) (*out[domain.DocumentRequirement], error) {
		p, err := requireRole(ctx, "compliance.update")
		if err != nil {
			return nil, err
		}
		d, err := e.Compliance.SetDocumentStatus(ctx, compliance.DocumentUpdate{
			RequirementID: input.RequirementID, Status: input.Body.Status, ActorID: p.ActorID, Reason: input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})
}
