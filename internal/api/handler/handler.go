package handler

import (
	"log/slog"

	"github.com/ndquangr/txingest/internal/jobs"
	"github.com/ndquangr/txingest/internal/progress"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Jobs    *jobs.Service
	Fanout  *progress.Manager
	Healthz func() error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   *jobs.Service
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// UserHandler handles user registration requests
type UserHandler struct {
	logger *slog.Logger
	jobs   *jobs.Service
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(deps *Dependencies) *UserHandler {
	return &UserHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
