package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
)

// stepEffectKey derives the deduplication key for a step's forward effect.
// Step IDs are assigned once at plan materialization, so every run of the
// same step yields the same key.
func stepEffectKey(st *plan.Step) string { return "step-effect:" + st.ID }

// stepCompensationKey derives the deduplication key for a step's undo.
func stepCompensationKey(st *plan.Step) string { return "step-compensated:" + st.ID }

// Event is the wire form of a workflow state change published on the queue
// and relayed to WebSocket subscribers.
type Event struct {
	Type       string    `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Role       string    `json:"role,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// publishEvent emits a workflow event, best-effort. State is already durable
// in the store when this is called; a failed publish only delays observers.
func publishEvent(ctx context.Context, queue messagequeue.Queue, ev Event) {
	if queue == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal workflow event", "type", ev.Type, "error", err)
		return
	}
	if err := queue.Publish(ctx, messagequeue.SubjectWorkflowEvent, data); err != nil {
		slog.Warn("publish workflow event", "type", ev.Type, "workflow_id", ev.WorkflowID, "error", err)
	}
}

// publishStepEffect records an externally visible step effect on the queue.
// The key is derived from the step's stable ID, so a verification loop-back
// or crash-retry republishes under the same key and the broker deduplicates
// instead of double-counting the effect.
func publishStepEffect(ctx context.Context, queue messagequeue.Queue, key string, ev Event) {
	if queue == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal step effect", "type", ev.Type, "error", err)
		return
	}
	if err := queue.PublishIdempotent(ctx, messagequeue.SubjectStepSideEffect, key, data); err != nil {
		slog.Warn("publish step effect", "type", ev.Type, "workflow_id", ev.WorkflowID, "error", err)
	}
}
