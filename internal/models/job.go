package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the queue state of a background job.
type JobStatus string

// Job states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a durable work item consumed by the worker pool.
type Job struct {
	ID string `gorm:"type:varchar(36);primaryKey"`

	Type     string         `gorm:"type:varchar(64);not null;index"`
	Payload  datatypes.JSON `gorm:"type:jsonb"`
	DedupKey *string        `gorm:"type:varchar(191);uniqueIndex"`

	Status      JobStatus `gorm:"type:varchar(16);not null;index:idx_jobs_status_run_at,priority:1"`
	Attempts    int       `gorm:"not null;default:0"`
	MaxAttempts int       `gorm:"not null;default:3"`
	RunAt       time.Time `gorm:"not null;index:idx_jobs_status_run_at,priority:2"`
	LastError   string    `gorm:"type:text"`

	LockedAt   *time.Time
	FinishedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"not null;autoUpdateTime"`
}
