package handlers

import (
	"net/http"

	"github.com/giftvault/giftvault/internal/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler reports database reachability, schema presence and queue depth.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

type healthResponse struct {
	OK          bool   `json:"ok"`
	Database    string `json:"database"`
	Schema      string `json:"schema,omitempty"`
	PendingJobs *int64 `json:"pendingJobs,omitempty"`
	FailedJobs  *int64 `json:"failedJobs,omitempty"`
}

// Healthz answers 503 when the database is unreachable or unmigrated.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	resp := healthResponse{Database: "down"}

	sqlDB, errDB := h.db.DB()
	if errDB != nil {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		log.WithError(errPing).Warn("healthz: database ping failed")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Database = "up"

	migrator := h.db.WithContext(ctx).Migrator()
	if !migrator.HasTable(&models.GiftCard{}) || !migrator.HasTable(&models.Job{}) {
		resp.Schema = "missing"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Schema = "migrated"

	var pending, failed int64
	if errCount := h.db.WithContext(ctx).Model(&models.Job{}).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusRunning}).
		Count(&pending).Error; errCount == nil {
		resp.PendingJobs = &pending
	}
	if errCount := h.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", models.JobStatusFailed).
		Count(&failed).Error; errCount == nil {
		resp.FailedJobs = &failed
	}
	resp.OK = true
	c.JSON(http.StatusOK, resp)
}
