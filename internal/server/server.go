package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"boardline/internal/engine"
	"boardline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Relay    *Relay
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid input: title: title is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Boardline API plus the websocket
// sync endpoint.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newIdentityMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("Boardline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerVersions(group, cfg.Engine)
	if cfg.Relay != nil {
		router.Get(basePath+"/sync", cfg.Relay.Handler())
	}

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
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		fields := make([]map[string]string, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			fields = append(fields, map[string]string{"field": f.Field, "message": f.Message})
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"fields": fields})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var se *engine.StoreError
	if errors.As(err, &se) {
		return newAPIError(http.StatusInternalServerError, "store_error", "persistence failure", map[string]any{"error": se.Error()})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.CreateProject(ctx, engine.CreateProjectInput{
			Title:      input.Body.Title,
			Prd:        input.Body.Prd,
			Docs:       input.Body.Docs,
			GithubRepo: input.Body.GithubRepo,
			Pinned:     input.Body.Pinned,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.UpdateProject(ctx, input.ProjectID, engine.UpdateProjectInput{
			Title:      input.Body.Title,
			Prd:        input.Body.Prd,
			Docs:       input.Body.Docs,
			GithubRepo: input.Body.GithubRepo,
			Pinned:     input.Body.Pinned,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project permanently",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		in := engine.CreateTaskInput{
			ProjectID:    input.ProjectID,
			Title:        input.Body.Title,
			Sources:      input.Body.Sources,
			CodeExamples: input.Body.CodeExamples,
		}
		if input.Body.Description != nil {
			in.Description = *input.Body.Description
		}
		if input.Body.Status != nil {
			in.Status = *input.Body.Status
		}
		if input.Body.Assignee != nil {
			in.Assignee = *input.Body.Assignee
		}
		if input.Body.TaskOrder != nil {
			in.TaskOrder = *input.Body.TaskOrder
		}
		if input.Body.Feature != nil {
			in.Feature = *input.Body.Feature
		}
		t, err := e.CreateTask(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List project tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID       string `path:"project_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.ListTasksByProject(ctx, input.ProjectID, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, input.TaskID, engine.UpdateTaskInput{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Assignee:    input.Body.Assignee,
			Feature:     input.Body.Feature,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Move task to a status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-order",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/order",
		Summary:     "Reorder task, optionally moving status in the same write",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string                 `path:"task_id"`
		Body   UpdateTaskOrderRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTaskOrder(ctx, input.TaskID, input.Body.TaskOrder, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Archive task (logical delete)",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.ArchiveTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerVersions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/versions/{field}",
		Summary:     "Version history (metadata only)",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Field     string `path:"field"`
	}) (*struct {
		Body []VersionResponse `json:"body"`
	}, error) {
		items, err := e.GetHistory(ctx, input.ProjectID, input.Field)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []VersionResponse `json:"body"`
		}{Body: mapVersions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/versions/{field}/{version}",
		Summary:     "Version content",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Field     string `path:"field"`
		Version   int    `path:"version"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		v, err := e.GetVersionContent(ctx, input.ProjectID, input.Field, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-version",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/versions/{field}",
		Summary:       "Record a version snapshot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Field     string               `path:"field"`
		Body      RecordVersionRequest `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		v, err := e.RecordVersion(ctx, input.ProjectID, input.Field, input.Body.Content, "update", input.Body.Summary)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-version",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/versions/{field}/{version}/restore",
		Summary:     "Restore an older version as a new head",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Field     string `path:"field"`
		Version   int    `path:"version"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		v, err := e.Restore(ctx, input.ProjectID, input.Field, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})
}
