package postgres

import (
	"context"
	"fmt"

	"github.com/mwaldron/foreman/internal/domain"
	"github.com/mwaldron/foreman/internal/domain/handoff"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/workflow"
)

func (s *Store) RecordHandoff(ctx context.Context, msg *handoff.Message) error {
	_, err := s.pool.Exec(ctx, insertHandoffSQL,
		msg.ID, msg.WorkflowID, msg.SourceRole, msg.TargetRole, msg.ArtifactKind,
		msg.ArtifactID, msg.Directive, msg.AutoStart, msg.Override, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("record handoff: %w", err)
	}
	return nil
}

const insertHandoffSQL = `
	INSERT INTO handoffs (id, workflow_id, source_role, target_role, artifact_kind, artifact_id, directive, auto_start, override, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// DeliverHandoff records the message, moves the workflow to the target role
// and status, and optionally appends a plan marker, all in one transaction.
func (s *Store) DeliverHandoff(ctx context.Context, msg *handoff.Message, status workflow.Status, marker *plan.Marker) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertHandoffSQL,
		msg.ID, msg.WorkflowID, msg.SourceRole, msg.TargetRole, msg.ArtifactKind,
		msg.ArtifactID, msg.Directive, msg.AutoStart, msg.Override, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("record handoff: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE workflows SET active_role = $2, status = $3, updated_at = now() WHERE id = $1`,
		msg.WorkflowID, msg.TargetRole, status)
	if err != nil {
		return fmt.Errorf("move workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("move workflow %s: %w", msg.WorkflowID, domain.ErrNotFound)
	}

	if marker != nil {
		_, err := tx.Exec(ctx,
			`INSERT INTO plan_markers (plan_id, kind, note, at) VALUES ($1, $2, $3, $4)`,
			msg.ArtifactID, marker.Kind, marker.Note, marker.At)
		if err != nil {
			return fmt.Errorf("append marker: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) ListHandoffs(ctx context.Context, workflowID string) ([]handoff.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workflow_id, source_role, target_role, artifact_kind, artifact_id, directive, auto_start, override, created_at
		 FROM handoffs WHERE workflow_id = $1 ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list handoffs: %w", err)
	}
	defer rows.Close()

	var msgs []handoff.Message
	for rows.Next() {
		var m handoff.Message
		err := rows.Scan(&m.ID, &m.WorkflowID, &m.SourceRole, &m.TargetRole, &m.ArtifactKind,
			&m.ArtifactID, &m.Directive, &m.AutoStart, &m.Override, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan handoff: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
