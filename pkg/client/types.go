package client

import (
	"fmt"
	"time"
)

// ServiceStatus mirrors the status document served by the daemon.
type ServiceStatus struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	PID          int       `json:"pid"`
	StartUnix    int64     `json:"start_unix,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	RestartCount int       `json:"restart_count"`
	LastError    string    `json:"last_error,omitempty"`
	MemoryBytes  uint64    `json:"memory_bytes"`
	CPUPercent   float64   `json:"cpu_percent"`
	AutoStart    bool      `json:"auto_start"`
}

// ServiceEntry is one element of the list response.
type ServiceEntry struct {
	Name   string        `json:"name"`
	Status ServiceStatus `json:"status"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}
