package dto

import "github.com/ndquangr/txingest/internal/jobs"

type CreateUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

type UserResponse struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type StartJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListTransactionsRequest struct {
	Page   int    `form:"page,default=1"`
	Size   int    `form:"size,default=20"`
	Filter string `form:"filter"`
}

type TransactionDTO struct {
	ID            int64  `json:"id"`
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
	Timestamp     string `json:"timestamp"`
	IsValid       bool   `json:"is_valid"`
	IsSuspicious  bool   `json:"is_suspicious"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

type ListTransactionsResponse struct {
	JobID        string           `json:"job_id"`
	Page         int              `json:"page"`
	Size         int              `json:"size"`
	Transactions []TransactionDTO `json:"transactions"`
}

// StatusResponse is the job read-side view, shared with the service layer.
type StatusResponse = jobs.Status
