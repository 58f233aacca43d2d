package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mwaldron/foreman/internal/domain"
	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/handoff"
	"github.com/mwaldron/foreman/internal/domain/phase"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/task"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// validationErrs are request-shape errors that map to 400.
var validationErrs = []error{
	task.ErrTitleRequired, task.ErrDescriptionRequired,
	plan.ErrWorkflowRequired, plan.ErrTaskRequired, plan.ErrNoSteps,
	plan.ErrStepMissingDesc, plan.ErrDAGCycle, plan.ErrDAGInvalidRef,
	handoff.ErrSourceRequired, handoff.ErrTargetRequired, handoff.ErrSameRole,
	handoff.ErrArtifactRequired, handoff.ErrDirectiveRequired, handoff.ErrWorkflowRequired,
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Capability
// denials are 403; lifecycle conflicts (terminal workflow, incomplete plan,
// already-implemented plan, rejected transition) are 409; ambiguities
// surface as 409 with the blocking question.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var (
		violation  *capability.Violation
		completed  *plan.AlreadyCompletedError
		transition *phase.TransitionError
		ambiguity  *workflow.AmbiguityError
		verifyFail *workflow.VerificationFailure
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified by another request")
	case errors.As(err, &violation):
		writeError(w, http.StatusForbidden, violation.Error())
	case errors.As(err, &completed):
		writeError(w, http.StatusConflict, completed.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, transition.Error())
	case errors.As(err, &ambiguity):
		writeError(w, http.StatusConflict, ambiguity.Error())
	case errors.As(err, &verifyFail):
		writeError(w, http.StatusConflict, verifyFail.Error())
	case errors.Is(err, service.ErrWorkflowTerminal),
		errors.Is(err, service.ErrPlanIncomplete),
		errors.Is(err, service.ErrNotInPhase),
		errors.Is(err, service.ErrNotTodoOwner):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNoReviewers):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case isValidationErr(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func isValidationErr(err error) bool {
	for _, v := range validationErrs {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
