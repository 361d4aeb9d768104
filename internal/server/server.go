package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fieldline/internal/checklist"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/media"
	"fieldline/internal/remote"
	"fieldline/internal/repo"
	"fieldline/internal/syncer"
	"fieldline/internal/workflow"
)

const maxMediaBytes = 512 << 20

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"step_not_ready"`
	Message string         `json:"message" example:"step photo_capture not ready: required photo items are not completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"step\":\"photo_capture\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type body[T any] struct {
	Body T `json:"body"`
}

func ok[T any](v T) *body[T] { return &body[T]{Body: v} }

// New returns an HTTP handler exposing the session API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema failures are client errors, 422 is reserved for unmet step prerequisites
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Fieldline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group)
	registerSession(group, e)
	registerChecklist(group, e)
	registerMedia(group, e)
	registerWorkflow(group, e)
	registerEvents(group, e)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	var notReady *workflow.StepNotReadyError
	if errors.As(err, &notReady) {
		details := map[string]any{"step": notReady.Step, "reason": notReady.Reason}
		if len(notReady.Missing) > 0 {
			details["missing"] = notReady.Missing
		}
		return newAPIError(http.StatusUnprocessableEntity, "step_not_ready", msg, details)
	}
	var te checklist.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", msg, map[string]any{"item_id": te.ItemID, "from": te.From, "to": te.To})
	}
	conflicts := []struct {
		err  error
		code string
	}{
		{workflow.ErrResetWhileSyncing, "reset_while_syncing"},
		{syncer.ErrSyncAlreadyInProgress, "sync_in_progress"},
		{syncer.ErrNoInspection, "no_inspection"},
		{checklist.ErrAlreadyPopulated, "already_populated"},
		{workflow.ErrWorkflowComplete, "workflow_complete"},
		{workflow.ErrAtFirstStep, "at_first_step"},
		{workflow.ErrNotComplete, "workflow_not_complete"},
		{workflow.ErrPropertyLocked, "property_locked"},
		{engine.ErrSessionActive, "session_active"},
		{media.ErrDuplicateID, "duplicate_media"},
		{media.ErrNotFailed, "not_failed"},
	}
	for _, c := range conflicts {
		if errors.Is(err, c.err) {
			return newAPIError(http.StatusConflict, c.code, msg, nil)
		}
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, checklist.ErrNotFound) || errors.Is(err, media.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	}
	if errors.Is(err, media.ErrInvalidKind) || errors.Is(err, checklist.ErrEmptyChecklist) {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		return newAPIError(http.StatusBadGateway, "remote_error", msg, map[string]any{"status": rerr.StatusCode})
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Fieldline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*body[map[string]string], error) {
		return ok(map[string]string{"status": "ok"}), nil
	})
}

func registerSession(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Snapshot of the active inspection session",
	}, func(ctx context.Context, _ *struct{}) (*body[SessionResponse], error) {
		return ok(sessionResponse(e.Snapshot(), e.Network)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/session/start",
		Summary:       "Start an inspection of a property",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *body[StartSessionRequest]) (*body[SessionResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.StartSession(ctx, actor, input.Body.PropertyRef)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(sessionResponse(snap, e.Network)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-property",
		Method:      http.MethodPost,
		Path:        "/session/property",
		Summary:     "Select the inspected property",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *body[SelectPropertyRequest]) (*body[domain.WorkflowState], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.SelectProperty(ctx, actor, input.Body.PropertyRef)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-session",
		Method:      http.MethodPost,
		Path:        "/session/reset",
		Summary:     "Abandon the session and start over",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*body[domain.WorkflowState], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Reset(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "handoff-session",
		Method:      http.MethodPost,
		Path:        "/session/handoff",
		Summary:     "Close a completed session and return its final snapshot",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*body[SessionResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		final, err := e.Handoff(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(sessionResponse(final, nil)), nil
	})
}

func registerChecklist(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/session/checklist",
		Summary:     "Checklist items and counters",
	}, func(ctx context.Context, _ *struct{}) (*body[ChecklistResponse], error) {
		return ok(ChecklistResponse{Items: nonNilSlice(e.Checklist.Items()), Counters: e.Checklist.Counters()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "set-checklist",
		Method:        http.MethodPost,
		Path:          "/session/checklist",
		Summary:       "Populate the checklist once per session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *body[SetChecklistRequest]) (*body[ChecklistResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counters, err := e.SetChecklist(ctx, actor, checklistItems(input.Body.Items))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(ChecklistResponse{Items: e.Checklist.Items(), Counters: counters}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist-item",
		Method:      http.MethodPatch,
		Path:        "/session/checklist/{item_id}",
		Summary:     "Update a checklist item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   UpdateItemRequest
	}) (*body[domain.ChecklistItem], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u := checklist.Update{Notes: input.Body.Notes, AIResult: input.Body.AIResult}
		if input.Body.Status != nil {
			s := domain.ItemStatus(*input.Body.Status)
			u.Status = &s
		}
		it, err := e.UpdateItem(ctx, actor, input.ItemID, u)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-checklist-item",
		Method:      http.MethodPost,
		Path:        "/session/checklist/{item_id}/complete",
		Summary:     "Mark a checklist item completed",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   *ItemNotesRequest
	}) (*body[domain.ChecklistItem], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var notes *string
		if input.Body != nil {
			notes = input.Body.Notes
		}
		it, err := e.CompleteItem(ctx, actor, input.ItemID, notes)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "na-checklist-item",
		Method:      http.MethodPost,
		Path:        "/session/checklist/{item_id}/not-applicable",
		Summary:     "Mark a checklist item not applicable",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   *ItemNotesRequest
	}) (*body[domain.ChecklistItem], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var notes *string
		if input.Body != nil {
			notes = input.Body.Notes
		}
		it, err := e.MarkNotApplicable(ctx, actor, input.ItemID, notes)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(it), nil
	})
}

func registerMedia(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-media",
		Method:      http.MethodGet,
		Path:        "/session/media",
		Summary:     "Captured media and upload status",
	}, func(ctx context.Context, _ *struct{}) (*body[MediaListResponse], error) {
		return ok(MediaListResponse{Items: nonNilSlice(e.Media.Items()), Counts: e.Media.Counts()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-media",
		Method:        http.MethodPost,
		Path:          "/session/media",
		Summary:       "Register a captured photo or video",
		Description:   "The request body is the raw binary.",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxMediaBytes,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Kind            string `query:"kind" enum:"photo,video" required:"true"`
		ID              string `query:"id"`
		ChecklistItemID string `query:"checklist_item_id"`
		Filename        string `query:"filename"`
		RawBody         []byte `contentType:"application/octet-stream"`
	}) (*body[domain.MediaItem], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "media body required", nil)
		}
		it, err := e.AddMediaReader(ctx, actor, engine.AddMediaOptions{
			ID:              input.ID,
			Kind:            domain.MediaKind(input.Kind),
			ChecklistItemID: input.ChecklistItemID,
		}, input.Filename, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-media",
		Method:      http.MethodPost,
		Path:        "/session/media/{media_id}/retry",
		Summary:     "Queue a failed upload for the next sync",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		MediaID string `path:"media_id"`
	}) (*body[domain.MediaItem], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.RetryMedia(ctx, actor, input.MediaID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(it), nil
	})
}

func registerWorkflow(api huma.API, e *engine.Engine) {
	type stateOp func(ctx context.Context, actorID string) (domain.WorkflowState, error)
	for _, op := range []struct {
		id, path, summary string
		run               stateOp
	}{
		{"advance", "/session/advance", "Advance to the next step", e.Advance},
		{"previous", "/session/previous", "Go back one step", e.Previous},
		{"skip-video", "/session/video/skip", "Skip the optional video walkthrough", e.SkipVideo},
	} {
		run := op.run
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        op.path,
			Summary:     op.summary,
			Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway},
		}, func(ctx context.Context, _ *struct{}) (*body[domain.WorkflowState], error) {
			actor, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			st, err := run(ctx, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return ok(st), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "sync",
		Method:      http.MethodPost,
		Path:        "/session/sync",
		Summary:     "Run one sync pass against the remote backend",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*body[domain.SyncResult], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// a dropped client must not abort uploads halfway
		res, err := e.Sync(context.WithoutCancel(ctx), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(res), nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID  string `query:"session_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"session,checklist,checklist_item,media_item,network"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*body[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.LatestEvents(ctx, limit+1, cursorID, repo.EventFilter{
			SessionID:  input.SessionID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return ok(resp), nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*body[WhoAmIResponse], error) {
		p, found := principalFromContext(ctx)
		if !found {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return ok(WhoAmIResponse{ActorID: p.ActorID, Roles: nonNilSlice(p.Roles), Source: p.Source}), nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *body[DevLoginRequest]) (*body[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Roles, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return ok(DevLoginResponse{Token: token}), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
