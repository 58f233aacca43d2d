package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwaldron/foreman/internal/domain/task"
	"github.com/mwaldron/foreman/internal/port/database"
)

// TaskService accepts and retrieves change requests. A task is immutable
// once accepted; everything downstream lives on the plan and the workflow.
type TaskService struct {
	db database.Store
}

// NewTaskService creates a new TaskService.
func NewTaskService(db database.Store) *TaskService {
	return &TaskService{db: db}
}

// Create accepts a new task.
func (s *TaskService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		BranchRef:   req.BranchRef,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a task by ID.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.db.GetTask(ctx, id)
}
