package server

import (
	"boardline/internal/domain"
	"boardline/internal/status"
)

// Request payloads

type CreateProjectRequest struct {
	Title      string `json:"title"`
	Prd        string `json:"prd,omitempty"`
	Docs       string `json:"docs,omitempty"`
	GithubRepo string `json:"github_repo,omitempty"`
	Pinned     bool   `json:"pinned,omitempty"`
}

type UpdateProjectRequest struct {
	Title      *string `json:"title,omitempty"`
	Prd        *string `json:"prd,omitempty"`
	Docs       *string `json:"docs,omitempty"`
	GithubRepo *string `json:"github_repo,omitempty"`
	Pinned     *bool   `json:"pinned,omitempty"`
}

type CreateTaskRequest struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	Status       *string  `json:"status,omitempty" enum:"backlog,in_progress,review,complete"`
	Assignee     *string  `json:"assignee,omitempty" enum:"user,agent,reviewer"`
	TaskOrder    *int     `json:"task_order,omitempty"`
	Feature      *string  `json:"feature,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	CodeExamples []string `json:"code_examples,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Assignee    *string `json:"assignee,omitempty" enum:"user,agent,reviewer"`
	Feature     *string `json:"feature,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"backlog,in_progress,review,complete"`
}

type UpdateTaskOrderRequest struct {
	TaskOrder int     `json:"task_order"`
	Status    *string `json:"status,omitempty" enum:"backlog,in_progress,review,complete"`
}

type RecordVersionRequest struct {
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`
}

// Response payloads carry the external status vocabulary; the persisted one
// never leaves the engine.

type ProjectResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Prd        string `json:"prd,omitempty"`
	Docs       string `json:"docs,omitempty"`
	GithubRepo string `json:"github_repo,omitempty"`
	Pinned     bool   `json:"pinned"`
	Progress   int    `json:"progress"`
	Updated    string `json:"updated,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status" enum:"backlog,in_progress,review,complete"`
	Assignee     string   `json:"assignee" enum:"user,agent,reviewer"`
	TaskOrder    int      `json:"task_order"`
	Feature      string   `json:"feature,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	CodeExamples []string `json:"code_examples,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
	Archived     bool     `json:"archived"`
	ArchivedAt   *string  `json:"archived_at,omitempty" format:"date-time"`
	ArchivedBy   *string  `json:"archived_by,omitempty"`
}

type VersionResponse struct {
	EntityID      string `json:"entity_id"`
	FieldName     string `json:"field_name"`
	VersionNumber int    `json:"version_number"`
	Content       string `json:"content,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	CreatedBy     string `json:"created_by"`
	ChangeType    string `json:"change_type" enum:"initial,update,restore"`
	ChangeSummary string `json:"change_summary,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:         p.ID,
		Title:      p.Title,
		Prd:        p.Prd,
		Docs:       p.Docs,
		GithubRepo: p.GithubRepo,
		Pinned:     p.Pinned,
		Progress:   p.Progress,
		Updated:    p.Updated,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	external, _ := status.ToExternal(t.Status)
	return TaskResponse{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		Title:        t.Title,
		Description:  t.Description,
		Status:       external,
		Assignee:     t.Assignee,
		TaskOrder:    t.TaskOrder,
		Feature:      t.Feature,
		Sources:      t.Sources,
		CodeExamples: t.CodeExamples,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		Archived:     t.Archived,
		ArchivedAt:   t.ArchivedAt,
		ArchivedBy:   t.ArchivedBy,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func versionResponse(v domain.DocumentVersion) VersionResponse {
	return VersionResponse{
		EntityID:      v.EntityID,
		FieldName:     v.FieldName,
		VersionNumber: v.VersionNumber,
		Content:       v.Content,
		CreatedAt:     v.CreatedAt,
		CreatedBy:     v.CreatedBy,
		ChangeType:    v.ChangeType,
		ChangeSummary: v.ChangeSummary,
	}
}

func mapVersions(items []domain.DocumentVersion) []VersionResponse {
	res := make([]VersionResponse, 0, len(items))
	for _, v := range items {
		res = append(res, versionResponse(v))
	}
	return res
}
