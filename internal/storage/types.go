package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention caps the number of kept records; 0 keeps all.
	Retention int
}

// RunRecord is one job execution.
type RunRecord struct {
	JobID    string        `json:"job_id"`
	Job      string        `json:"job"`
	Tags     []string      `json:"tags,omitempty"`
	Due      time.Time     `json:"due"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	// NextRun is zero when the job was removed after this run.
	NextRun time.Time `json:"next_run,omitempty"`
}
