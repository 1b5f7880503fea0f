package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boardline/internal/domain"
	"boardline/internal/repo"
)

// Document-bearing project fields tracked by the version ledger.
var documentFields = map[string]bool{
	"docs": true,
	"prd":  true,
}

// RecordVersion appends a snapshot for (entityID, fieldName). The repo layer
// allocates the next strictly increasing version number; numbers are never
// reused, even across restores.
func (e Engine) RecordVersion(ctx context.Context, entityID, fieldName, content, changeType, summary string) (domain.DocumentVersion, error) {
	verr := &ValidationError{}
	if entityID == "" {
		verr.add("entity_id", "entity_id is required")
	}
	if !documentFields[fieldName] {
		verr.add("field_name", fmt.Sprintf("unknown document field %q", fieldName))
	}
	switch changeType {
	case domain.ChangeInitial, domain.ChangeUpdate, domain.ChangeRestore:
	default:
		verr.add("change_type", fmt.Sprintf("unknown change type %q", changeType))
	}
	if err := verr.orNil(); err != nil {
		return domain.DocumentVersion{}, err
	}
	v := domain.DocumentVersion{
		EntityID:      entityID,
		FieldName:     fieldName,
		Content:       content,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
		CreatedBy:     e.actor(ctx),
		ChangeType:    changeType,
		ChangeSummary: summary,
	}
	n, err := e.Repo.AppendVersion(ctx, v)
	if err != nil {
		return domain.DocumentVersion{}, storeErr("append version", err)
	}
	v.VersionNumber = n
	return v, nil
}

// recordVersionNonFatal is the bookkeeping path attached to a primary write
// that already committed: a ledger failure is logged and swallowed so it
// cannot unwind the primary operation's success.
func (e Engine) recordVersionNonFatal(ctx context.Context, entityID, fieldName, content, changeType, summary, actor string) {
	v := domain.DocumentVersion{
		EntityID:      entityID,
		FieldName:     fieldName,
		Content:       content,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
		CreatedBy:     actor,
		ChangeType:    changeType,
		ChangeSummary: summary,
	}
	if _, err := e.Repo.AppendVersion(ctx, v); err != nil {
		e.log().Warn("version bookkeeping failed",
			"entity_id", entityID, "field", fieldName, "change", changeType, "err", err)
	}
}

// GetHistory lists versions newest-first with metadata only.
func (e Engine) GetHistory(ctx context.Context, entityID, fieldName string) ([]domain.DocumentVersion, error) {
	items, err := e.Repo.ListVersions(ctx, entityID, fieldName)
	if err != nil {
		return nil, storeErr("list versions", err)
	}
	return items, nil
}

// GetVersionContent fetches one version including its content snapshot.
func (e Engine) GetVersionContent(ctx context.Context, entityID, fieldName string, versionNumber int) (domain.DocumentVersion, error) {
	v, err := e.Repo.GetVersion(ctx, entityID, fieldName, versionNumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DocumentVersion{}, err
		}
		return domain.DocumentVersion{}, storeErr("get version", err)
	}
	return v, nil
}

// Restore writes an older version's content back as the entity's current
// field value, then appends a new highest-numbered ledger row classified as a
// restore. Restoring version N under head M yields version M+1; history is
// never truncated or rewritten. A ledger failure after the field write is a
// non-fatal warning.
func (e Engine) Restore(ctx context.Context, entityID, fieldName string, versionNumber int) (domain.DocumentVersion, error) {
	if !documentFields[fieldName] {
		verr := &ValidationError{}
		verr.add("field_name", fmt.Sprintf("unknown document field %q", fieldName))
		return domain.DocumentVersion{}, verr
	}
	target, err := e.GetVersionContent(ctx, entityID, fieldName, versionNumber)
	if err != nil {
		return domain.DocumentVersion{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DocumentVersion{}, storeErr("begin", err)
	}
	defer tx.Rollback()
	fields := repo.ProjectFields{}
	switch fieldName {
	case "docs":
		fields.Docs = &target.Content
	case "prd":
		fields.Prd = &target.Content
	}
	if err := e.Repo.UpdateProject(ctx, tx, entityID, fields, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DocumentVersion{}, err
		}
		return domain.DocumentVersion{}, storeErr("restore field", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.DocumentVersion{}, storeErr("commit", err)
	}
	actor := e.actor(ctx)
	summary := fmt.Sprintf("Restored from version %d", versionNumber)
	restored := domain.DocumentVersion{
		EntityID:      entityID,
		FieldName:     fieldName,
		Content:       target.Content,
		CreatedAt:     now,
		CreatedBy:     actor,
		ChangeType:    domain.ChangeRestore,
		ChangeSummary: summary,
	}
	n, err := e.Repo.AppendVersion(ctx, restored)
	if err != nil {
		// The field write is already committed; the missing ledger row is
		// bookkeeping, not a failed restore.
		e.log().Warn("restore bookkeeping failed",
			"entity_id", entityID, "field", fieldName, "version", versionNumber, "err", err)
		restored.VersionNumber = 0
		return restored, nil
	}
	restored.VersionNumber = n
	e.publish(domain.Event{
		Kind:      domain.ProjectUpdated,
		SubjectID: entityID,
		Actor:     actor,
		TS:        now,
		Payload:   domain.NewProjectUpdated(domain.ProjectPayload{}),
	})
	return restored, nil
}
