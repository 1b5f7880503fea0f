package engine_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/repo"
)

func TestRecordVersionNumbersAreContiguous(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Docs")

	for i := 1; i <= 3; i++ {
		v, err := env.Engine.RecordVersion(env.Ctx, p.ID, "docs", fmt.Sprintf("content %d", i), domain.ChangeUpdate, "")
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if v.VersionNumber != i {
			t.Fatalf("record %d: got version %d", i, v.VersionNumber)
		}
	}

	// The prd ledger numbers independently of docs.
	v, err := env.Engine.RecordVersion(env.Ctx, p.ID, "prd", "first prd", domain.ChangeInitial, "")
	if err != nil {
		t.Fatalf("record prd: %v", err)
	}
	if v.VersionNumber != 1 {
		t.Fatalf("prd ledger must start at 1, got %d", v.VersionNumber)
	}
}

func TestRecordVersionValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name                            string
		entity, field, change, badField string
	}{
		{"missing entity", "", "docs", domain.ChangeUpdate, "entity_id"},
		{"unknown field", "e1", "notes", domain.ChangeUpdate, "field_name"},
		{"unknown change", "e1", "docs", "rewrite", "change_type"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := env.Engine.RecordVersion(env.Ctx, c.entity, c.field, "x", c.change, "")
			var verr *engine.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(verr.Fields) != 1 || verr.Fields[0].Field != c.badField {
				t.Fatalf("expected %s violation, got %+v", c.badField, verr.Fields)
			}
		})
	}
}

func TestHistoryIsMetadataOnly(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{Title: "Docs", Docs: "v1"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	docs := "v2"
	if _, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.UpdateProjectInput{Docs: &docs}); err != nil {
		t.Fatalf("update: %v", err)
	}

	hist, err := env.Engine.GetHistory(env.Ctx, p.ID, "docs")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].VersionNumber != 2 || hist[1].VersionNumber != 1 {
		t.Fatalf("expected newest-first, got %+v", hist)
	}
	for _, v := range hist {
		if v.Content != "" {
			t.Fatalf("version %d leaked content into the listing", v.VersionNumber)
		}
	}
	if hist[1].ChangeType != domain.ChangeInitial || hist[0].ChangeType != domain.ChangeUpdate {
		t.Fatalf("unexpected change types: %+v", hist)
	}

	full, err := env.Engine.GetVersionContent(env.Ctx, p.ID, "docs", 1)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if full.Content != "v1" {
		t.Fatalf("expected snapshot content v1, got %q", full.Content)
	}

	if _, err := env.Engine.GetVersionContent(env.Ctx, p.ID, "docs", 99); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing version, got %v", err)
	}
}

func TestRestoreAppendsNewHead(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{Title: "Docs", Docs: "original"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	for _, content := range []string{"second", "third"} {
		c := content
		if _, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.UpdateProjectInput{Docs: &c}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	restored, err := env.Engine.Restore(env.Ctx, p.ID, "docs", 1)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.VersionNumber != 4 {
		t.Fatalf("restoring under head 3 must yield 4, got %d", restored.VersionNumber)
	}
	if restored.ChangeType != domain.ChangeRestore {
		t.Fatalf("expected restore change type, got %s", restored.ChangeType)
	}
	if restored.Content != "original" {
		t.Fatalf("expected restored content, got %q", restored.Content)
	}

	after, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if after.Docs != "original" {
		t.Fatalf("field not rewritten, got %q", after.Docs)
	}

	// History keeps every prior version.
	hist, err := env.Engine.GetHistory(env.Ctx, p.ID, "docs")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 4 {
		t.Fatalf("restore must never truncate history, got %d entries", len(hist))
	}
}

func TestRestoreMissingVersion(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectInput{Title: "Docs", Docs: "only"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := env.Engine.Restore(env.Ctx, p.ID, "docs", 9); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.Restore(env.Ctx, p.ID, "summary", 1); err == nil {
		t.Fatalf("unknown field must fail validation")
	}
}

func TestConcurrentAppendsStayStrictlyIncreasing(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env, "Contended")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Engine.RecordVersion(env.Ctx, p.ID, "docs", fmt.Sprintf("writer %d", i), domain.ChangeUpdate, "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	hist, err := env.Engine.GetHistory(env.Ctx, p.ID, "docs")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != writers {
		t.Fatalf("expected %d versions, got %d", writers, len(hist))
	}
	// Newest-first listing of a gapless ledger counts straight down.
	for i, v := range hist {
		if want := writers - i; v.VersionNumber != want {
			t.Fatalf("entry %d: got version %d want %d", i, v.VersionNumber, want)
		}
	}
}
