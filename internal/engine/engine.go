package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"boardline/internal/domain"
	"boardline/internal/identity"
	"boardline/internal/repo"
	"boardline/internal/status"
)

// Notifier receives broadcast events for mutations that committed. Delivery
// is fire-and-forget; a Notifier never reports errors back to the mutation.
type Notifier interface {
	Publish(domain.Event)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Hub      Notifier
	Identity identity.Resolver
	Log      *slog.Logger
	Now      func() time.Time
}

// New builds an Engine and verifies the status translation table. A hole in
// the table is a configuration error surfaced here, before any operation
// can run.
func New(db *sql.DB) (Engine, error) {
	if err := status.Verify(); err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Identity: identity.FromContext{},
		Log:      slog.Default(),
		Now:      time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) actor(ctx context.Context) string {
	if e.Identity == nil {
		return identity.Anonymous
	}
	return e.Identity.Resolve(ctx)
}

func (e Engine) publish(ev domain.Event) {
	if e.Hub != nil {
		e.Hub.Publish(ev)
	}
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

type CreateProjectInput struct {
	Title      string
	Prd        string
	Docs       string
	GithubRepo string
	Pinned     bool
}

func (e Engine) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	verr := &ValidationError{}
	if in.Title == "" {
		verr.add("title", "title is required")
	}
	if in.GithubRepo != "" && !validRepoURL(in.GithubRepo) {
		verr.add("github_repo", "must be an http(s) URL")
	}
	if err := verr.orNil(); err != nil {
		return domain.Project{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:         uuid.NewString(),
		Title:      in.Title,
		Prd:        in.Prd,
		Docs:       in.Docs,
		GithubRepo: in.GithubRepo,
		Pinned:     in.Pinned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, storeErr("insert project", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, storeErr("commit", err)
	}
	actor := e.actor(ctx)
	for _, field := range []struct{ name, content string }{{"docs", p.Docs}, {"prd", p.Prd}} {
		if field.content == "" {
			continue
		}
		e.recordVersionNonFatal(ctx, p.ID, field.name, field.content, domain.ChangeInitial, "Initial version", actor)
	}
	p.Progress = 0
	p.Updated = e.relTime(p.UpdatedAt)
	e.publish(domain.Event{
		Kind:      domain.ProjectCreated,
		SubjectID: p.ID,
		Actor:     actor,
		TS:        now,
		Payload:   domain.NewProjectCreated(domain.ProjectPayload{Title: p.Title}),
	})
	return p, nil
}

// ListProjects returns projects ordered pinned first then by title, with
// progress computed for every project from one grouped tally over the
// non-archived task set.
func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	items, err := e.Repo.ListProjects(ctx)
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	counts, err := e.Repo.CountTasksByProject(ctx)
	if err != nil {
		return nil, storeErr("count tasks", err)
	}
	for i := range items {
		items[i].Progress = progress(counts[items[i].ID])
		items[i].Updated = e.relTime(items[i].UpdatedAt)
	}
	return items, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, err
		}
		return domain.Project{}, storeErr("get project", err)
	}
	counts, err := e.Repo.CountTasksByStatus(ctx, id)
	if err != nil {
		return domain.Project{}, storeErr("count tasks", err)
	}
	p.Progress = progress(counts)
	p.Updated = e.relTime(p.UpdatedAt)
	return p, nil
}

type UpdateProjectInput struct {
	Title      *string
	Prd        *string
	Docs       *string
	GithubRepo *string
	Pinned     *bool
}

func (e Engine) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) (domain.Project, error) {
	verr := &ValidationError{}
	if in.Title != nil && *in.Title == "" {
		verr.add("title", "title is required")
	}
	if in.GithubRepo != nil && *in.GithubRepo != "" && !validRepoURL(*in.GithubRepo) {
		verr.add("github_repo", "must be an http(s) URL")
	}
	if err := verr.orNil(); err != nil {
		return domain.Project{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, storeErr("begin", err)
	}
	defer tx.Rollback()
	fields := repo.ProjectFields{Title: in.Title, Prd: in.Prd, Docs: in.Docs, GithubRepo: in.GithubRepo, Pinned: in.Pinned}
	if err := e.Repo.UpdateProject(ctx, tx, id, fields, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, err
		}
		return domain.Project{}, storeErr("update project", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, storeErr("commit", err)
	}
	actor := e.actor(ctx)
	if in.Docs != nil {
		e.recordVersionNonFatal(ctx, id, "docs", *in.Docs, domain.ChangeUpdate, "Updated docs", actor)
	}
	if in.Prd != nil {
		e.recordVersionNonFatal(ctx, id, "prd", *in.Prd, domain.ChangeUpdate, "Updated prd", actor)
	}
	p, err := e.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	e.publish(domain.Event{
		Kind:      domain.ProjectUpdated,
		SubjectID: id,
		Actor:     actor,
		TS:        now,
		Payload:   domain.NewProjectUpdated(domain.ProjectPayload{Title: p.Title}),
	})
	return p, nil
}

// DeleteProject removes the project physically. Deletion is irreversible;
// tasks cascade at the store level.
func (e Engine) DeleteProject(ctx context.Context, id string) error {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return storeErr("get project", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return storeErr("delete project", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	e.publish(domain.Event{
		Kind:      domain.ProjectDeleted,
		SubjectID: id,
		Actor:     e.actor(ctx),
		TS:        now,
		Payload:   domain.NewProjectDeleted(domain.ProjectPayload{Title: p.Title}),
	})
	return nil
}

type CreateTaskInput struct {
	ProjectID    string
	Title        string
	Description  string
	Status       string // external vocabulary; empty defaults to the initial state
	Assignee     string
	TaskOrder    int
	Feature      string
	Sources      []string
	CodeExamples []string
}

func (e Engine) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	verr := &ValidationError{}
	if in.Title == "" {
		verr.add("title", "title is required")
	}
	if in.ProjectID == "" {
		verr.add("project_id", "project_id is required")
	}
	if in.TaskOrder < 0 {
		verr.add("task_order", "must be non-negative")
	}
	persisted := status.Todo
	if in.Status != "" {
		p, ok := status.ToPersisted(in.Status)
		if !ok {
			verr.add("status", fmt.Sprintf("unknown status %q", in.Status))
		} else {
			persisted = p
		}
	}
	assignee := in.Assignee
	if assignee == "" {
		assignee = domain.AssigneeUser
	} else if !domain.ValidAssignee(assignee) {
		verr.add("assignee", fmt.Sprintf("unknown assignee %q", assignee))
	}
	if err := verr.orNil(); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Repo.GetProject(ctx, in.ProjectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, err
		}
		return domain.Task{}, storeErr("get project", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:           uuid.NewString(),
		ProjectID:    in.ProjectID,
		Title:        in.Title,
		Description:  in.Description,
		Status:       persisted,
		Assignee:     assignee,
		TaskOrder:    in.TaskOrder,
		Feature:      in.Feature,
		Sources:      in.Sources,
		CodeExamples: in.CodeExamples,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, storeErr("insert task", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, storeErr("commit", err)
	}
	e.publish(domain.Event{
		Kind:      domain.TaskCreated,
		SubjectID: t.ID,
		ProjectID: t.ProjectID,
		Actor:     e.actor(ctx),
		TS:        now,
		Payload:   domain.NewTaskCreated(domain.TaskPayload{Title: t.Title, Status: t.Status}),
	})
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, err
		}
		return domain.Task{}, storeErr("get task", err)
	}
	return t, nil
}

// ListTasksByProject returns the project's tasks ordered by status bucket and
// presentation order. Archived tasks are filtered out unless asked for.
func (e Engine) ListTasksByProject(ctx context.Context, projectID string, includeArchived bool) ([]domain.Task, error) {
	items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, IncludeArchived: includeArchived})
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	return items, nil
}

// UpdateTaskStatus translates the external status and writes the persisted
// one. Any status-to-status move is permitted; transition legality is a
// caller concern.
func (e Engine) UpdateTaskStatus(ctx context.Context, id, externalStatus string) (domain.Task, error) {
	persisted, ok := status.ToPersisted(externalStatus)
	if !ok {
		verr := &ValidationError{}
		verr.add("status", fmt.Sprintf("unknown status %q", externalStatus))
		return domain.Task{}, verr
	}
	if !status.ValidPersisted(persisted) {
		verr := &ValidationError{}
		verr.add("status", fmt.Sprintf("status %q not in persisted vocabulary", persisted))
		return domain.Task{}, verr
	}
	return e.moveTask(ctx, id, repo.TaskFields{Status: &persisted})
}

// UpdateTaskOrder changes the ordering key and, when newStatus is non-nil,
// the status in the same write.
func (e Engine) UpdateTaskOrder(ctx context.Context, id string, newOrder int, newStatus *string) (domain.Task, error) {
	verr := &ValidationError{}
	if newOrder < 0 {
		verr.add("task_order", "must be non-negative")
	}
	fields := repo.TaskFields{TaskOrder: &newOrder}
	if newStatus != nil {
		persisted, ok := status.ToPersisted(*newStatus)
		if !ok {
			verr.add("status", fmt.Sprintf("unknown status %q", *newStatus))
		} else {
			fields.Status = &persisted
		}
	}
	if err := verr.orNil(); err != nil {
		return domain.Task{}, err
	}
	return e.moveTask(ctx, id, fields)
}

func (e Engine) moveTask(ctx context.Context, id string, fields repo.TaskFields) (domain.Task, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, id, fields, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, err
		}
		return domain.Task{}, storeErr("update task", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, storeErr("commit", err)
	}
	t, err := e.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	e.publish(domain.Event{
		Kind:      domain.TaskMoved,
		SubjectID: t.ID,
		ProjectID: t.ProjectID,
		Actor:     e.actor(ctx),
		TS:        now,
		Payload:   domain.NewTaskMoved(domain.TaskMovePayload{Status: t.Status, TaskOrder: t.TaskOrder}),
	})
	return t, nil
}

type UpdateTaskInput struct {
	Title       *string
	Description *string
	Assignee    *string
	Feature     *string
}

func (e Engine) UpdateTask(ctx context.Context, id string, in UpdateTaskInput) (domain.Task, error) {
	verr := &ValidationError{}
	if in.Title != nil && *in.Title == "" {
		verr.add("title", "title is required")
	}
	if in.Assignee != nil && !domain.ValidAssignee(*in.Assignee) {
		verr.add("assignee", fmt.Sprintf("unknown assignee %q", *in.Assignee))
	}
	if err := verr.orNil(); err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, storeErr("begin", err)
	}
	defer tx.Rollback()
	fields := repo.TaskFields{Title: in.Title, Description: in.Description, Assignee: in.Assignee, Feature: in.Feature}
	if err := e.Repo.UpdateTask(ctx, tx, id, fields, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, err
		}
		return domain.Task{}, storeErr("update task", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, storeErr("commit", err)
	}
	t, err := e.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	e.publish(domain.Event{
		Kind:      domain.TaskUpdated,
		SubjectID: t.ID,
		ProjectID: t.ProjectID,
		Actor:     e.actor(ctx),
		TS:        now,
		Payload:   domain.NewTaskUpdated(domain.TaskPayload{Title: t.Title, Status: t.Status}),
	})
	return t, nil
}

// ArchiveTask performs the logical delete: the row stays fetchable by id but
// drops out of task listings. Emits task.archived, never task.deleted;
// physical task purge is out of scope.
func (e Engine) ArchiveTask(ctx context.Context, id string) (domain.Task, error) {
	actor := e.actor(ctx)
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.ArchiveTask(ctx, tx, id, now, actor); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, err
		}
		return domain.Task{}, storeErr("archive task", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, storeErr("commit", err)
	}
	t, err := e.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	e.publish(domain.Event{
		Kind:      domain.TaskArchived,
		SubjectID: t.ID,
		ProjectID: t.ProjectID,
		Actor:     actor,
		TS:        now,
		Payload:   domain.NewTaskArchived(domain.ArchivePayload{ArchivedBy: actor}),
	})
	return t, nil
}

// progress is round-half-up of done/total over non-archived tasks, 0 when
// the project has no tasks.
func progress(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}
	done := counts[status.Done]
	return int(float64(done)/float64(total)*100 + 0.5)
}

func (e Engine) relTime(ts string) string {
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ""
	}
	return humanize.RelTime(parsed, e.now().UTC(), "ago", "from now")
}

func validRepoURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
