package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stitchhq/canvas-engine/common/db"
	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// RunRepository handles database operations for runs. Node-state writes go
// through guarded compare-and-set statements so concurrent branch walkers
// and worker callbacks cannot clobber each other's updates.
type RunRepository struct {
	db       *db.DB
	notifier ChangeNotifier
}

// NewRunRepository creates a new run repository.
func NewRunRepository(database *db.DB, notifier ChangeNotifier) *RunRepository {
	return &RunRepository{db: database, notifier: notifier}
}

// Create inserts a new run and fills the generated id and timestamps.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.NodeStates == nil {
		run.NodeStates = map[string]*models.NodeState{}
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}

	query := `
		INSERT INTO runs (flow_id, flow_version_id, entity_id, "trigger", node_states, status)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		run.FlowID,
		run.FlowVersionID,
		run.EntityID,
		run.Trigger,
		run.NodeStates,
		run.Status,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	r.notifier.RunChanged(ctx, run.ID)
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	query := `
		SELECT id, flow_id, flow_version_id, entity_id, "trigger", node_states, status, created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	run := &models.Run{}
	err := r.db.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.FlowID,
		&run.FlowVersionID,
		&run.EntityID,
		&run.Trigger,
		&run.NodeStates,
		&run.Status,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("run", runID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateNodeState replaces one node's state if and only if its current
// status is in expectFrom and the transition to the new status is permitted
// by the node state machine. On success it returns the updated run; on a
// lost race it returns a state-conflict error reporting the observed status.
//
// Nodes with no recorded state read as pending, so a fresh node can be
// claimed with expectFrom = [pending].
func (r *RunRepository) UpdateNodeState(ctx context.Context, runID uuid.UUID, nodeID string, expectFrom []models.NodeStatus, state models.NodeState) (*models.Run, error) {
	allowed := make([]string, 0, len(expectFrom))
	for _, from := range expectFrom {
		if models.CanTransition(from, state.Status) {
			allowed = append(allowed, string(from))
		}
	}
	if len(allowed) == 0 {
		return nil, errs.Newf(errs.KindStateConflict, "node %s: no permitted transition to %s", nodeID, state.Status)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node state: %w", err)
	}

	query := `
		UPDATE runs
		SET node_states = jsonb_set(node_states, ARRAY[$2]::text[], $3::jsonb, true),
		    updated_at = now()
		WHERE id = $1
		  AND COALESCE(node_states->$2->>'status', 'pending') = ANY($4::text[])
		RETURNING id, flow_id, flow_version_id, entity_id, "trigger", node_states, status, created_at, updated_at
	`

	run := &models.Run{}
	err = withRetry(ctx, func() error {
		scanErr := r.db.QueryRow(ctx, query, runID, nodeID, stateJSON, allowed).Scan(
			&run.ID,
			&run.FlowID,
			&run.FlowVersionID,
			&run.EntityID,
			&run.Trigger,
			&run.NodeStates,
			&run.Status,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return r.casConflict(ctx, runID, nodeID, allowed)
		}
		if scanErr != nil {
			return fmt.Errorf("failed to update node state: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.notifier.RunChanged(ctx, runID)
	return run, nil
}

// casConflict distinguishes a missing run from a lost compare-and-set race
// after the guarded update matched no row.
func (r *RunRepository) casConflict(ctx context.Context, runID uuid.UUID, nodeID string, expected []string) error {
	query := `SELECT COALESCE(node_states->$2->>'status', 'pending') FROM runs WHERE id = $1`

	var observed string
	err := r.db.QueryRow(ctx, query, runID, nodeID).Scan(&observed)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound("run", runID.String())
	}
	if err != nil {
		return fmt.Errorf("failed to inspect node status: %w", err)
	}

	return errs.StateConflict(nodeID, strings.Join(expected, "|"), observed)
}

// UpdateNodeStates applies a batch of node-state patches in one transaction.
// Every patch's From status must match what the locked row holds and every
// transition must be permitted; otherwise nothing is written. Skip cascades
// use this so a branch is retired atomically.
func (r *RunRepository) UpdateNodeStates(ctx context.Context, runID uuid.UUID, patches []models.NodePatch) (*models.Run, error) {
	if len(patches) == 0 {
		return r.GetByID(ctx, runID)
	}

	run := &models.Run{}
	err := withRetry(ctx, func() error {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		selectQuery := `
			SELECT id, flow_id, flow_version_id, entity_id, "trigger", node_states, status, created_at, updated_at
			FROM runs
			WHERE id = $1
			FOR UPDATE
		`

		err = tx.QueryRow(ctx, selectQuery, runID).Scan(
			&run.ID,
			&run.FlowID,
			&run.FlowVersionID,
			&run.EntityID,
			&run.Trigger,
			&run.NodeStates,
			&run.Status,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFound("run", runID.String())
		}
		if err != nil {
			return fmt.Errorf("failed to lock run: %w", err)
		}

		if run.NodeStates == nil {
			run.NodeStates = map[string]*models.NodeState{}
		}

		for _, p := range patches {
			current := run.State(p.NodeID).Status
			if current != p.From {
				return errs.StateConflict(p.NodeID, string(p.From), string(current))
			}
			if !models.CanTransition(current, p.State.Status) {
				return errs.Newf(errs.KindStateConflict, "node %s: transition %s to %s not permitted", p.NodeID, current, p.State.Status)
			}
			st := p.State
			run.NodeStates[p.NodeID] = &st
		}

		statesJSON, err := json.Marshal(run.NodeStates)
		if err != nil {
			return fmt.Errorf("failed to marshal node states: %w", err)
		}

		updateQuery := `UPDATE runs SET node_states = $2::jsonb, updated_at = now() WHERE id = $1 RETURNING updated_at`

		if err := tx.QueryRow(ctx, updateQuery, runID, statesJSON).Scan(&run.UpdatedAt); err != nil {
			return fmt.Errorf("failed to write node states: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit node states: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.notifier.RunChanged(ctx, runID)
	return run, nil
}

// UpdateStatus updates the derived run-level status.
func (r *RunRepository) UpdateStatus(ctx context.Context, runID uuid.UUID, status models.RunStatus) error {
	query := `UPDATE runs SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, runID, status)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("run", runID.String())
	}

	r.notifier.RunChanged(ctx, runID)
	return nil
}

// FindWaitingForEntity returns the most recently touched run in which the
// entity has a node waiting for user input, or nil when there is none.
func (r *RunRepository) FindWaitingForEntity(ctx context.Context, entityID uuid.UUID) (*models.Run, error) {
	query := `
		SELECT id, flow_id, flow_version_id, entity_id, "trigger", node_states, status, created_at, updated_at
		FROM runs
		WHERE entity_id = $1
		  AND EXISTS (
			SELECT 1 FROM jsonb_each(node_states) AS ns(node_id, state)
			WHERE ns.state->>'status' = 'waiting_for_user'
		  )
		ORDER BY updated_at DESC
		LIMIT 1
	`

	run := &models.Run{}
	err := r.db.QueryRow(ctx, query, entityID).Scan(
		&run.ID,
		&run.FlowID,
		&run.FlowVersionID,
		&run.EntityID,
		&run.Trigger,
		&run.NodeStates,
		&run.Status,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find waiting run: %w", err)
	}

	return run, nil
}

// ListByFlow retrieves recent runs of a flow, newest first.
func (r *RunRepository) ListByFlow(ctx context.Context, flowID uuid.UUID, limit int) ([]*models.Run, error) {
	query := `
		SELECT id, flow_id, flow_version_id, entity_id, "trigger", node_states, status, created_at, updated_at
		FROM runs
		WHERE flow_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run := &models.Run{}
		err := rows.Scan(
			&run.ID,
			&run.FlowID,
			&run.FlowVersionID,
			&run.EntityID,
			&run.Trigger,
			&run.NodeStates,
			&run.Status,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
