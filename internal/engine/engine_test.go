package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"boardline/internal/db"
	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/identity"
	"boardline/internal/migrate"
	"boardline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Events *capture
}

// capture collects published events for assertions.
type capture struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *capture) Publish(ev domain.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *capture) kinds() []domain.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	events := &capture{}
	eng.Hub = events
	return testEnv{Engine: eng, Ctx: context.Background(), Events: events}
}

func mustProject(t *testing.T, env testEnv, title string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{Title: title})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func mustTask(t *testing.T, env testEnv, in engine.CreateTaskInput) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, in)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateProjectValidationCollectsAllFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{
		Title:      "",
		GithubRepo: "not a url",
	})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Fields) != 2 {
		t.Fatalf("expected both violations reported, got %+v", verr.Fields)
	}
	seen := map[string]bool{}
	for _, f := range verr.Fields {
		seen[f.Field] = true
	}
	if !seen["title"] || !seen["github_repo"] {
		t.Fatalf("missing field names in %+v", verr.Fields)
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Board")

	task := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "First"})
	if task.Status != "todo" {
		t.Fatalf("expected default status todo, got %s", task.Status)
	}
	if task.Assignee != domain.AssigneeUser {
		t.Fatalf("expected default assignee user, got %s", task.Assignee)
	}
	if task.TaskOrder != 0 {
		t.Fatalf("expected default order 0, got %d", task.TaskOrder)
	}
}

func TestCreateTaskTranslatesExternalStatus(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Board")

	task := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "Staged", Status: "in_progress"})
	if task.Status != "doing" {
		t.Fatalf("expected persisted doing, got %s", task.Status)
	}

	_, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskInput{ProjectID: p.ID, Title: "Bad", Status: "doing"})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("persisted vocabulary accepted at the boundary: %v", err)
	}
}

func TestCreateTaskUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskInput{ProjectID: "missing", Title: "Orphan"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskStatusRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Board")
	task := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "Move me"})

	for external, persisted := range map[string]string{
		"in_progress": "doing",
		"review":      "review",
		"complete":    "done",
		"backlog":     "todo",
	} {
		moved, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, external)
		if err != nil {
			t.Fatalf("move to %s: %v", external, err)
		}
		if moved.Status != persisted {
			t.Fatalf("move to %s: persisted %s, want %s", external, moved.Status, persisted)
		}
	}

	_, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "finished")
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("unknown status must fail validation, got %v", err)
	}
}

func TestUpdateTaskOrderWithStatus(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Board")
	task := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "Reorder"})

	external := "review"
	moved, err := env.Engine.UpdateTaskOrder(env.Ctx, task.ID, 7, &external)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if moved.TaskOrder != 7 || moved.Status != "review" {
		t.Fatalf("expected order 7 in review, got %d/%s", moved.TaskOrder, moved.Status)
	}

	if _, err := env.Engine.UpdateTaskOrder(env.Ctx, task.ID, -1, nil); err == nil {
		t.Fatalf("negative order must fail validation")
	}
}

func TestArchiveTaskKeepsRowFetchable(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Identity = identity.Static("archivist")
	p := mustProject(t, env, "Board")
	task := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "Old"})
	keep := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "Current"})

	archived, err := env.Engine.ArchiveTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.Archived || archived.ArchivedAt == nil {
		t.Fatalf("expected archived flags set, got %+v", archived)
	}
	if archived.ArchivedBy == nil || *archived.ArchivedBy != "archivist" {
		t.Fatalf("expected archived_by archivist, got %+v", archived.ArchivedBy)
	}

	listed, err := env.Engine.ListTasksByProject(env.Ctx, p.ID, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != keep.ID {
		t.Fatalf("expected only the live task listed, got %+v", listed)
	}

	all, err := env.Engine.ListTasksByProject(env.Ctx, p.ID, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both tasks with include_archived, got %d", len(all))
	}

	fetched, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("direct fetch of archived task: %v", err)
	}
	if !fetched.Archived {
		t.Fatalf("archived flag lost on direct fetch")
	}

	// Archiving an already-archived task does not match the live set.
	if _, err := env.Engine.ArchiveTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double archive, got %v", err)
	}
}

func TestProgressRounding(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Board")

	empty, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if empty.Progress != 0 {
		t.Fatalf("project without tasks must report 0, got %d", empty.Progress)
	}

	// 3 of 4 done rounds half-up to 75; 1 of 3 rounds 33.3 down to 33.
	var tasks []domain.Task
	for i := 0; i < 4; i++ {
		tasks = append(tasks, mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "t", TaskOrder: i}))
	}
	for _, task := range tasks[:3] {
		if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "complete"); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Progress != 75 {
		t.Fatalf("expected 75, got %d", got.Progress)
	}

	// Archived tasks drop out of the denominator.
	if _, err := env.Engine.ArchiveTask(env.Ctx, tasks[3].ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err = env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Progress != 100 {
		t.Fatalf("expected 100 after archiving the open task, got %d", got.Progress)
	}
}

func TestListProjectsOrderingAndProgress(t *testing.T) {
	env := newTestEnv(t)
	mustProject(t, env, "Zebra")
	pinned, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{Title: "Alpha", Pinned: true})
	if err != nil {
		t.Fatalf("create pinned: %v", err)
	}
	mustProject(t, env, "Beta")

	items, err := env.Engine.ListProjects(env.Ctx)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(items))
	}
	if items[0].ID != pinned.ID {
		t.Fatalf("pinned project must sort first, got %s", items[0].Title)
	}
	if items[1].Title != "Beta" || items[2].Title != "Zebra" {
		t.Fatalf("expected title ordering, got %s then %s", items[1].Title, items[2].Title)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Doomed")
	task := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "Goes too"})

	if err := env.Engine.DeleteProject(env.Ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected task cascade, got %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Evented")
	task := mustTask(t, env, engine.CreateTaskInput{ProjectID: p.ID, Title: "Subject"})
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "in_progress"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := env.Engine.ArchiveTask(env.Ctx, task.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	want := []domain.EventKind{domain.ProjectCreated, domain.TaskCreated, domain.TaskMoved, domain.TaskArchived}
	got := env.Events.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, got[i], want[i])
		}
	}
}
