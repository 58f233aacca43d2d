package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mwaldron/foreman/internal/domain"
	"github.com/mwaldron/foreman/internal/domain/plan"
)

// CreatePlan inserts or replaces a plan. A revision keeps the plan identity
// and bumps the version; steps are rewritten wholesale because the planner
// owns them exclusively until handoff.
func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	assumptions, err := json.Marshal(p.Assumptions)
	if err != nil {
		return fmt.Errorf("marshal assumptions: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO plans (id, workflow_id, task_id, assumptions, complete, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET assumptions = EXCLUDED.assumptions, complete = EXCLUDED.complete,
		     version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`,
		p.ID, p.WorkflowID, p.TaskID, assumptions, p.Complete, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM plan_steps WHERE plan_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	for i := range p.Steps {
		st := &p.Steps[i]
		_, err := tx.Exec(ctx,
			`INSERT INTO plan_steps (id, plan_id, position, description, depends_on, reads, writes, status, error, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			st.ID, p.ID, i, st.Description, pgTextArray(st.DependsOn), pgTextArray(st.Reads),
			pgTextArray(st.Writes), st.Status, st.Error, st.CreatedAt, st.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", i, err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE workflows SET plan_id = $2, updated_at = now() WHERE id = $1`, p.WorkflowID, p.ID)
	if err != nil {
		return fmt.Errorf("link plan to workflow: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	return s.getPlan(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetPlanByWorkflow(ctx context.Context, workflowID string) (*plan.Plan, error) {
	return s.getPlan(ctx, `WHERE workflow_id = $1`, workflowID)
}

func (s *Store) getPlan(ctx context.Context, where string, arg any) (*plan.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workflow_id, task_id, assumptions, complete, version, created_at, updated_at
		 FROM plans `+where, arg)

	var (
		p               plan.Plan
		assumptionsJSON []byte
	)
	err := row.Scan(&p.ID, &p.WorkflowID, &p.TaskID, &assumptionsJSON, &p.Complete,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get plan: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if err := json.Unmarshal(assumptionsJSON, &p.Assumptions); err != nil {
		return nil, fmt.Errorf("unmarshal assumptions: %w", err)
	}

	steps, err := s.planSteps(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Steps = steps

	markers, err := s.planMarkers(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Markers = markers

	return &p, nil
}

func (s *Store) planSteps(ctx context.Context, planID string) ([]plan.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, plan_id, description, depends_on, reads, writes, status, error, created_at, updated_at
		 FROM plan_steps WHERE plan_id = $1 ORDER BY position`, planID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []plan.Step
	for rows.Next() {
		var st plan.Step
		err := rows.Scan(&st.ID, &st.PlanID, &st.Description, &st.DependsOn, &st.Reads,
			&st.Writes, &st.Status, &st.Error, &st.CreatedAt, &st.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *Store) planMarkers(ctx context.Context, planID string) ([]plan.Marker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, note, at FROM plan_markers WHERE plan_id = $1 ORDER BY id`, planID)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	var markers []plan.Marker
	for rows.Next() {
		var m plan.Marker
		if err := rows.Scan(&m.Kind, &m.Note, &m.At); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

func (s *Store) UpdatePlanComplete(ctx context.Context, id string, complete bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET complete = $2, updated_at = now() WHERE id = $1`, id, complete)
	if err != nil {
		return fmt.Errorf("update plan complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update plan %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AppendPlanMarker adds a lifecycle marker. Markers are insert-only; there
// is no update or delete path.
func (s *Store) AppendPlanMarker(ctx context.Context, id string, m plan.Marker) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plan_markers (plan_id, kind, note, at) VALUES ($1, $2, $3, $4)`,
		id, m.Kind, m.Note, m.At)
	if err != nil {
		return fmt.Errorf("append marker: %w", err)
	}
	return nil
}

func (s *Store) UpdatePlanStepStatus(ctx context.Context, stepID string, status plan.StepStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_steps SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
		stepID, status, errMsg)
	if err != nil {
		return fmt.Errorf("update step status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update step %s: %w", stepID, domain.ErrNotFound)
	}
	return nil
}
