package api

import (
	"time"

	"github.com/iddaa-lens/edge/pkg/models"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// JobStatusResponse describes one registered job and its recent runs
type JobStatusResponse struct {
	Name       string                `json:"name"`
	Schedule   string                `json:"schedule"`
	Operation  string                `json:"operation"`
	State      string                `json:"state"`
	MaxRuntime string                `json:"max_runtime"`
	MaxMemory  int                   `json:"max_memory_mb"`
	NextRun    *time.Time            `json:"next_run,omitempty"`
	LastRun    *models.JobRunResult  `json:"last_run,omitempty"`
	Runs       []models.JobRunResult `json:"runs"`
}

// Response represents a general API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}
