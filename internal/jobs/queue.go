// Package jobs is a durable at-least-once work queue stored in the database
// and a bounded, rate-limited worker pool that drains it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueConfig tunes retries and retention. Zero values use the defaults.
type QueueConfig struct {
	MaxAttempts        int
	BackoffBase        time.Duration
	VisibilityTimeout  time.Duration
	CompletedRetention time.Duration
	CompletedMax       int
	FailedRetention    time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 10 * time.Minute
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = time.Hour
	}
	if c.CompletedMax <= 0 {
		c.CompletedMax = 1000
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 24 * time.Hour
	}
	return c
}

// Queue stores jobs in the jobs table.
type Queue struct {
	db  *gorm.DB
	cfg QueueConfig
	now func() time.Time
}

// NewQueue returns a queue. now may be nil.
func NewQueue(db *gorm.DB, cfg QueueConfig, now func() time.Time) *Queue {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{db: db, cfg: cfg.withDefaults(), now: now}
}

// EnqueueOption customizes a single Enqueue.
type EnqueueOption func(*models.Job)

// WithDedupKey drops the enqueue when a job with the same key still exists.
func WithDedupKey(key string) EnqueueOption {
	return func(j *models.Job) {
		if key = strings.TrimSpace(key); key != "" {
			j.DedupKey = &key
		}
	}
}

// WithRunAt delays the job until at.
func WithRunAt(at time.Time) EnqueueOption {
	return func(j *models.Job) { j.RunAt = at }
}

// Enqueue stores a pending job. The bool is false when a dedup key matched
// an existing job, in which case that job is returned.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (*models.Job, bool, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return nil, false, errors.New("jobs: empty job type")
	}
	if payload == nil {
		payload = struct{}{}
	}
	raw, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return nil, false, fmt.Errorf("jobs: encode payload: %w", errMarshal)
	}
	now := q.now()
	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     datatypes.JSON(raw),
		Status:      models.JobStatusPending,
		MaxAttempts: q.cfg.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(job)
	}

	res := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(job)
	if res.Error != nil {
		return nil, false, fmt.Errorf("jobs: insert: %w", res.Error)
	}
	if res.RowsAffected == 0 && job.DedupKey != nil {
		var existing models.Job
		if errFind := q.db.WithContext(ctx).Where("dedup_key = ?", *job.DedupKey).First(&existing).Error; errFind != nil {
			return nil, false, fmt.Errorf("jobs: load duplicate: %w", errFind)
		}
		return &existing, false, nil
	}
	return job, true, nil
}

// Claim moves up to limit due jobs from pending to running. A job is only
// returned to the caller that won its conditional update.
func (q *Queue) Claim(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := q.now()
	var candidates []models.Job
	if errFind := q.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", models.JobStatusPending, now).
		Order("run_at ASC, created_at ASC").
		Limit(limit).
		Find(&candidates).Error; errFind != nil {
		return nil, fmt.Errorf("jobs: find due: %w", errFind)
	}

	claimed := make([]models.Job, 0, len(candidates))
	for _, job := range candidates {
		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
			Updates(map[string]any{
				"status":     models.JobStatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"updated_at": now,
			})
		if res.Error != nil {
			return claimed, fmt.Errorf("jobs: claim %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		job.Status = models.JobStatusRunning
		job.Attempts++
		job.LockedAt = &now
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Complete marks a running job done.
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusRunning).
		Updates(map[string]any{
			"status":      models.JobStatusCompleted,
			"finished_at": now,
			"locked_at":   nil,
			"last_error":  "",
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("jobs: complete %s: %w", job.ID, res.Error)
	}
	job.Status = models.JobStatusCompleted
	job.FinishedAt = &now
	return nil
}

// Backoff returns the delay before retrying after the given attempt.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
}

// Fail records a failed attempt. The job goes back to pending with backoff
// while attempts remain, otherwise to failed. It reports whether a retry was
// scheduled.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error) (bool, error) {
	now := q.now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	updates := map[string]any{"last_error": msg, "locked_at": nil, "updated_at": now}
	retry := job.Attempts < maxAttempts
	if retry {
		updates["status"] = models.JobStatusPending
		updates["run_at"] = now.Add(q.Backoff(job.Attempts))
	} else {
		updates["status"] = models.JobStatusFailed
		updates["finished_at"] = now
	}
	res := q.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("jobs: fail %s: %w", job.ID, res.Error)
	}
	job.LastError = msg
	if retry {
		job.Status = models.JobStatusPending
	} else {
		job.Status = models.JobStatusFailed
		job.FinishedAt = &now
		log.WithFields(log.Fields{"job_id": job.ID, "type": job.Type, "attempts": job.Attempts}).
			WithError(cause).Warn("jobs: job failed permanently")
	}
	return retry, nil
}

// RequeueStale returns running jobs whose lock outlived the visibility
// timeout to pending. Jobs that already used every attempt are failed.
func (q *Queue) RequeueStale(ctx context.Context) (int64, error) {
	now := q.now()
	cutoff := now.Add(-q.cfg.VisibilityTimeout)
	requeued := q.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND locked_at < ? AND attempts < max_attempts", models.JobStatusRunning, cutoff).
		Updates(map[string]any{
			"status":     models.JobStatusPending,
			"locked_at":  nil,
			"run_at":     now,
			"last_error": "visibility timeout",
			"updated_at": now,
		})
	if requeued.Error != nil {
		return 0, fmt.Errorf("jobs: requeue stale: %w", requeued.Error)
	}
	exhausted := q.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND locked_at < ? AND attempts >= max_attempts", models.JobStatusRunning, cutoff).
		Updates(map[string]any{
			"status":      models.JobStatusFailed,
			"locked_at":   nil,
			"finished_at": now,
			"last_error":  "visibility timeout",
			"updated_at":  now,
		})
	if exhausted.Error != nil {
		return requeued.RowsAffected, fmt.Errorf("jobs: fail stale: %w", exhausted.Error)
	}
	return requeued.RowsAffected + exhausted.RowsAffected, nil
}

// Prune enforces retention: completed jobs for CompletedRetention and at
// most CompletedMax of them, failed jobs for FailedRetention.
func (q *Queue) Prune(ctx context.Context) (int64, error) {
	now := q.now()
	db := q.db.WithContext(ctx)
	var total int64

	old := db.Where("status = ? AND finished_at < ?", models.JobStatusCompleted, now.Add(-q.cfg.CompletedRetention)).
		Delete(&models.Job{})
	if old.Error != nil {
		return total, fmt.Errorf("jobs: prune completed: %w", old.Error)
	}
	total += old.RowsAffected

	keep := db.Session(&gorm.Session{NewDB: true}).Model(&models.Job{}).
		Select("id").
		Where("status = ?", models.JobStatusCompleted).
		Order("finished_at DESC").
		Limit(q.cfg.CompletedMax)
	overflow := db.Where("status = ? AND id NOT IN (?)", models.JobStatusCompleted, keep).Delete(&models.Job{})
	if overflow.Error != nil {
		return total, fmt.Errorf("jobs: prune completed overflow: %w", overflow.Error)
	}
	total += overflow.RowsAffected

	failed := db.Where("status = ? AND finished_at < ?", models.JobStatusFailed, now.Add(-q.cfg.FailedRetention)).
		Delete(&models.Job{})
	if failed.Error != nil {
		return total, fmt.Errorf("jobs: prune failed: %w", failed.Error)
	}
	total += failed.RowsAffected
	return total, nil
}

// Failed lists permanently failed jobs, newest first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Job
	if errFind := q.db.WithContext(ctx).Where("status = ?", models.JobStatusFailed).
		Order("finished_at DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("jobs: list failed: %w", errFind)
	}
	return rows, nil
}

// Counts returns the number of jobs per status.
func (q *Queue) Counts(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		N      int64
	}
	if errScan := q.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("jobs: count: %w", errScan)
	}
	out := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// Decode unmarshals a job payload into v.
func Decode(job *models.Job, v any) error {
	if job == nil || len(job.Payload) == 0 {
		return errors.New("jobs: empty payload")
	}
	if errUnmarshal := json.Unmarshal(job.Payload, v); errUnmarshal != nil {
		return fmt.Errorf("jobs: decode %s payload: %w", job.Type, errUnmarshal)
	}
	return nil
}
