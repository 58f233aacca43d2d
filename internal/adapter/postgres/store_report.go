package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mwaldron/foreman/internal/domain"
	"github.com/mwaldron/foreman/internal/domain/review"
)

func (s *Store) CreateReport(ctx context.Context, r *review.Report) error {
	entries, err := json.Marshal(r.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, workflow_id, changeset_id, coverage, entries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.WorkflowID, r.ChangesetID, r.Coverage, entries, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*review.Report, error) {
	return s.getReport(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetReportByWorkflow(ctx context.Context, workflowID string) (*review.Report, error) {
	return s.getReport(ctx, `WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT 1`, workflowID)
}

func (s *Store) getReport(ctx context.Context, where string, arg any) (*review.Report, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workflow_id, changeset_id, coverage, entries, created_at FROM reports `+where, arg)

	var (
		r           review.Report
		entriesJSON []byte
	)
	err := row.Scan(&r.ID, &r.WorkflowID, &r.ChangesetID, &r.Coverage, &entriesJSON, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get report: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	if err := json.Unmarshal(entriesJSON, &r.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return &r, nil
}
