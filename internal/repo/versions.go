package repo

import (
	"context"
	"database/sql"
	"strings"

	"boardline/internal/domain"
)

// appendAttempts bounds the retry loop for version-number allocation. The
// composite primary key rejects a duplicate (entity, field, version) row, so
// a loser of a concurrent append retries with a fresh read of the max.
const appendAttempts = 5

// AppendVersion inserts the next version row for (entity, field) and returns
// the allocated version number. Numbers are strictly increasing and never
// reused, including across restores.
func (r Repo) AppendVersion(ctx context.Context, v domain.DocumentVersion) (int, error) {
	var lastErr error
	for i := 0; i < appendAttempts; i++ {
		n, err := r.tryAppendVersion(ctx, v)
		if err == nil {
			return n, nil
		}
		if !isConflict(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (r Repo) tryAppendVersion(ctx context.Context, v domain.DocumentVersion) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	var next int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number),0)+1 FROM document_versions WHERE entity_id=? AND field_name=?`,
		v.EntityID, v.FieldName).Scan(&next)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO document_versions(entity_id,field_name,version_number,content,created_at,created_by,change_type,change_summary)
VALUES (?,?,?,?,?,?,?,?)`,
		v.EntityID, v.FieldName, next, v.Content, v.CreatedAt, v.CreatedBy, v.ChangeType, nullable(v.ChangeSummary))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}

// ListVersions returns history newest-first with metadata only; content is
// left empty to bound response size.
func (r Repo) ListVersions(ctx context.Context, entityID, fieldName string) ([]domain.DocumentVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT entity_id,field_name,version_number,created_at,created_by,change_type,COALESCE(change_summary,'')
FROM document_versions WHERE entity_id=? AND field_name=? ORDER BY version_number DESC`, entityID, fieldName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentVersion
	for rows.Next() {
		var v domain.DocumentVersion
		if err := rows.Scan(&v.EntityID, &v.FieldName, &v.VersionNumber, &v.CreatedAt, &v.CreatedBy, &v.ChangeType, &v.ChangeSummary); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) GetVersion(ctx context.Context, entityID, fieldName string, versionNumber int) (domain.DocumentVersion, error) {
	var v domain.DocumentVersion
	err := r.DB.QueryRowContext(ctx, `SELECT entity_id,field_name,version_number,content,created_at,created_by,change_type,COALESCE(change_summary,'')
FROM document_versions WHERE entity_id=? AND field_name=? AND version_number=?`, entityID, fieldName, versionNumber).
		Scan(&v.EntityID, &v.FieldName, &v.VersionNumber, &v.Content, &v.CreatedAt, &v.CreatedBy, &v.ChangeType, &v.ChangeSummary)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}
