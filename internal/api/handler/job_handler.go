package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ndquangr/txingest/internal/api/dto"
	"github.com/ndquangr/txingest/internal/domain"
)

// CreateJob handles POST /api/v1/jobs
// Accepts a multipart CSV upload and creates an UPLOADED job for the user
func (h *JobHandler) CreateJob(c *gin.Context) {
	userID := c.PostForm("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id must be a valid UUID",
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "csv file is required",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read upload",
		})
		return
	}
	defer file.Close()

	job, err := h.jobs.CreateJob(c.Request.Context(), userID, file)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "user not found",
			})
			return
		}
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		JobID:  job.JobID,
		UserID: job.UserID,
		Status: job.Status,
	})
}

// StartJob handles POST /api/v1/jobs/:job_id/start
// Accepts the start request or reports why it was rejected
func (h *JobHandler) StartJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.jobs.StartJob(c.Request.Context(), jobID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, dto.StartJobResponse{
			JobID:  jobID,
			Status: domain.JobStatusRunning,
		})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
	case errors.Is(err, domain.ErrJobAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{
			"error": "job is already running",
		})
	case errors.Is(err, domain.ErrJobTerminal):
		c.JSON(http.StatusConflict, gin.H{
			"error": "job has already finished",
		})
	default:
		h.logger.Error("Failed to start job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start job",
		})
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job status and its durably committed counters
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	status, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// ListTransactions handles GET /api/v1/jobs/:job_id/transactions
// Pages through the job's rows in source order
func (h *JobHandler) ListTransactions(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	var req dto.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Size < 1 {
		req.Size = 20
	}
	if req.Size > 100 {
		req.Size = 100
	}

	txns, err := h.jobs.ListTransactions(c.Request.Context(), jobID, req.Page, req.Size, domain.TransactionFilter(req.Filter))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to list transactions",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	out := make([]dto.TransactionDTO, len(txns))
	for i, tx := range txns {
		out[i] = dto.TransactionDTO{
			ID:            tx.ID,
			TransactionID: tx.TransactionID,
			UserID:        tx.UserID,
			Amount:        tx.Amount.String(),
			Timestamp:     tx.Timestamp.Format(time.RFC3339),
			IsValid:       tx.IsValid,
			IsSuspicious:  tx.IsSuspicious,
			ErrorMessage:  tx.ErrorMessage,
		}
	}

	c.JSON(http.StatusOK, dto.ListTransactionsResponse{
		JobID:        jobID,
		Page:         req.Page,
		Size:         req.Size,
		Transactions: out,
	})
}
