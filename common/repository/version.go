package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchhq/canvas-engine/common/db"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// VersionRepository handles database operations for flow versions.
// Versions are immutable once written; there is no update path.
type VersionRepository struct {
	db *db.DB
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(database *db.DB) *VersionRepository {
	return &VersionRepository{db: database}
}

// Create inserts a version and repoints the owning flow at it in one
// transaction, then fills the generated id and created_at.
func (r *VersionRepository) Create(ctx context.Context, v *models.FlowVersion) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO flow_versions (flow_id, visual_graph, execution_graph, commit_message, content_hash)
		VALUES ($1, $2::jsonb, $3::jsonb, $4, $5)
		RETURNING id, created_at
	`

	err = tx.QueryRow(ctx, insert,
		v.FlowID, v.VisualGraph, v.ExecutionGraph, v.CommitMessage, v.ContentHash,
	).Scan(&v.ID, &v.CreatedAt)
	if pgErrCode(err) == pgCodeForeignKeyViolation {
		return errs.NotFound("flow", v.FlowID.String())
	}
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}

	repoint := `UPDATE flows SET current_version_id = $2 WHERE id = $1 AND deleted_at IS NULL`

	tag, err := tx.Exec(ctx, repoint, v.FlowID, v.ID)
	if err != nil {
		return fmt.Errorf("failed to repoint flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("flow", v.FlowID.String())
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}

	return nil
}

// GetByID retrieves a full version including both graph blobs.
func (r *VersionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	query := `
		SELECT id, flow_id, visual_graph, execution_graph, commit_message, content_hash, created_at
		FROM flow_versions
		WHERE id = $1
	`

	v := &models.FlowVersion{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&v.ID,
		&v.FlowID,
		&v.VisualGraph,
		&v.ExecutionGraph,
		&v.CommitMessage,
		&v.ContentHash,
		&v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("version", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return v, nil
}

// ListMeta returns version metadata for a flow, newest first. Graph blobs
// are left out so history stays cheap to page through.
func (r *VersionRepository) ListMeta(ctx context.Context, flowID uuid.UUID) ([]models.VersionMeta, error) {
	query := `
		SELECT id, flow_id, commit_message, content_hash, created_at
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var metas []models.VersionMeta
	for rows.Next() {
		var m models.VersionMeta
		if err := rows.Scan(&m.ID, &m.FlowID, &m.CommitMessage, &m.ContentHash, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		metas = append(metas, m)
	}

	return metas, rows.Err()
}

// FindByContentHash returns the newest version of a flow whose content hash
// matches, or nil when no such version exists.
func (r *VersionRepository) FindByContentHash(ctx context.Context, flowID uuid.UUID, hash string) (*models.FlowVersion, error) {
	query := `
		SELECT id, flow_id, visual_graph, execution_graph, commit_message, content_hash, created_at
		FROM flow_versions
		WHERE flow_id = $1 AND content_hash = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	v := &models.FlowVersion{}
	err := r.db.QueryRow(ctx, query, flowID, hash).Scan(
		&v.ID,
		&v.FlowID,
		&v.VisualGraph,
		&v.ExecutionGraph,
		&v.CommitMessage,
		&v.ContentHash,
		&v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find version by hash: %w", err)
	}

	return v, nil
}
