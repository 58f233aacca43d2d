package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mwaldron/foreman/internal/domain"
	"github.com/mwaldron/foreman/internal/domain/task"
	"github.com/mwaldron/foreman/internal/domain/workflow"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, title, description, branch_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Title, t.Description, t.BranchRef, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, description, branch_ref, created_at FROM tasks WHERE id = $1`, id)

	var t task.Task
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.BranchRef, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

// --- Workflows ---

const workflowColumns = `id, task_id, COALESCE(plan_id::text, ''), status, active_role, phase, mutated, error, created_at, updated_at`

func (s *Store) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflows (id, task_id, plan_id, status, active_role, phase, mutated, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.TaskID, nullIfEmpty(w.PlanID), w.Status, w.ActiveRole, w.Phase, w.Mutated, w.Error, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	w, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get workflow %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return &w, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]workflow.Workflow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []workflow.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, status workflow.Status, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update workflow %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateWorkflowPhase(ctx context.Context, id, role, phase string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET active_role = $2, phase = $3, updated_at = now() WHERE id = $1`,
		id, role, phase)
	if err != nil {
		return fmt.Errorf("update workflow phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update workflow %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetWorkflowMutated(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET mutated = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set workflow mutated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update workflow %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanWorkflow(row scannable) (workflow.Workflow, error) {
	var w workflow.Workflow
	err := row.Scan(&w.ID, &w.TaskID, &w.PlanID, &w.Status, &w.ActiveRole, &w.Phase,
		&w.Mutated, &w.Error, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}
