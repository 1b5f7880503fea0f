package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"boardline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectCols = `id,title,COALESCE(prd,'') AS prd,COALESCE(docs,'') AS docs,COALESCE(github_repo,'') AS github_repo,pinned,created_at,updated_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var pinned int
	err := row.Scan(&p.ID, &p.Title, &p.Prd, &p.Docs, &p.GithubRepo, &pinned, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Pinned = pinned != 0
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,title,prd,docs,github_repo,pinned,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Prd), nullable(p.Docs), nullable(p.GithubRepo), boolInt(p.Pinned), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY pinned DESC, title ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var pinned int
		if err := rows.Scan(&p.ID, &p.Title, &p.Prd, &p.Docs, &p.GithubRepo, &pinned, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Pinned = pinned != 0
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectFields carries the optional columns of a partial project update.
type ProjectFields struct {
	Title      *string
	Prd        *string
	Docs       *string
	GithubRepo *string
	Pinned     *bool
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id string, f ProjectFields, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if f.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *f.Title)
	}
	if f.Prd != nil {
		fields = append(fields, "prd=?")
		args = append(args, nullable(*f.Prd))
	}
	if f.Docs != nil {
		fields = append(fields, "docs=?")
		args = append(args, nullable(*f.Docs))
	}
	if f.GithubRepo != nil {
		fields = append(fields, "github_repo=?")
		args = append(args, nullable(*f.GithubRepo))
	}
	if f.Pinned != nil {
		fields = append(fields, "pinned=?")
		args = append(args, boolInt(*f.Pinned))
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const taskCols = `id,project_id,title,COALESCE(description,'') AS description,status,assignee,task_order,COALESCE(feature,'') AS feature,sources_json,code_examples_json,created_at,updated_at,archived,archived_at,archived_by`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var sources, examples, archivedAt, archivedBy sql.NullString
	var archived int
	err := scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Assignee, &t.TaskOrder,
		&t.Feature, &sources, &examples, &t.CreatedAt, &t.UpdatedAt, &archived, &archivedAt, &archivedBy)
	if err != nil {
		return t, err
	}
	t.Archived = archived != 0
	if archivedAt.Valid {
		t.ArchivedAt = &archivedAt.String
	}
	if archivedBy.Valid {
		t.ArchivedBy = &archivedBy.String
	}
	if sources.Valid && sources.String != "" {
		_ = json.Unmarshal([]byte(sources.String), &t.Sources)
	}
	if examples.Valid && examples.String != "" {
		_ = json.Unmarshal([]byte(examples.String), &t.CodeExamples)
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	sources, err := marshalStringSlice(t.Sources)
	if err != nil {
		return err
	}
	examples, err := marshalStringSlice(t.CodeExamples)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status,assignee,task_order,feature,sources_json,code_examples_json,created_at,updated_at,archived)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,0)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.Status, t.Assignee, t.TaskOrder,
		nullable(t.Feature), nullableStringPtr(sources), nullableStringPtr(examples), t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask fetches by id regardless of the archived flag; archived rows stay
// reachable through a direct fetch.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	ProjectID       string
	Status          string
	IncludeArchived bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived=0")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ORDER BY status ASC, task_order ASC, created_at ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskFields carries the optional columns of a partial task update.
type TaskFields struct {
	Title       *string
	Description *string
	Status      *string
	Assignee    *string
	TaskOrder   *int
	Feature     *string
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, id string, f TaskFields, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if f.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *f.Title)
	}
	if f.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*f.Description))
	}
	if f.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *f.Status)
	}
	if f.Assignee != nil {
		fields = append(fields, "assignee=?")
		args = append(args, *f.Assignee)
	}
	if f.TaskOrder != nil {
		fields = append(fields, "task_order=?")
		args = append(args, *f.TaskOrder)
	}
	if f.Feature != nil {
		fields = append(fields, "feature=?")
		args = append(args, nullable(*f.Feature))
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ArchiveTask(ctx context.Context, tx *sql.Tx, id, archivedAt, archivedBy string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET archived=1, archived_at=?, archived_by=?, updated_at=? WHERE id=? AND archived=0`,
		archivedAt, archivedBy, archivedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksByProject tallies non-archived tasks per (project, status) in a
// single scan so list views do not issue one query per project.
func (r Repo) CountTasksByProject(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id, status, count(*) FROM tasks WHERE archived=0 GROUP BY project_id, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]map[string]int{}
	for rows.Next() {
		var projectID, st string
		var count int
		if err := rows.Scan(&projectID, &st, &count); err != nil {
			return nil, err
		}
		if res[projectID] == nil {
			res[projectID] = map[string]int{}
		}
		res[projectID][st] = count
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? AND archived=0 GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var st string
		var count int
		if err := rows.Scan(&st, &count); err != nil {
			return nil, err
		}
		res[st] = count
	}
	return res, rows.Err()
}

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
