package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/giftvault/giftvault/internal/jobs"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/notify"
	"github.com/giftvault/giftvault/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultIPEventRetentionDays = 30
	defaultDeleteBatchSize      = 5000
	maxDeleteBatchesPerRun      = 2000
)

// Handlers executes scheduler jobs against the ledger.
type Handlers struct {
	store     *ledger.Store
	notifier  *notify.Notifier
	clock     Clock
	batchSize int
}

// NewHandlers returns job handlers. notifier may be nil, in which case
// reminders are logged only.
func NewHandlers(store *ledger.Store, notifier *notify.Notifier, clock Clock) *Handlers {
	if clock == nil {
		clock = ClockFunc(store.Now)
	}
	if notifier == nil {
		notifier = notify.New(nil)
	}
	return &Handlers{store: store, notifier: notifier, clock: clock, batchSize: defaultDeleteBatchSize}
}

// Register binds every scheduler job type on pool.
func (h *Handlers) Register(pool *jobs.Pool) {
	pool.Register(JobExpiry, h.Expiry)
	pool.Register(JobReminder, h.Reminder)
	pool.Register(JobCleanupTokens, h.CleanupTokens)
	pool.Register(JobCleanupIPEvents, h.CleanupIPEvents)
}

// Expiry transitions the card only if it is still ACTIVE and past expiry.
func (h *Handlers) Expiry(ctx context.Context, job *models.Job) error {
	var payload ExpiryPayload
	if errDecode := jobs.Decode(job, &payload); errDecode != nil {
		return errDecode
	}
	_, errExpire := h.store.ExpireIfDue(ctx, payload.GiftCardID)
	if ledger.IsNotFound(errExpire) {
		return nil
	}
	return errExpire
}

// Reminder sends one expiry reminder per card and offset.
func (h *Handlers) Reminder(ctx context.Context, job *models.Job) error {
	var payload ReminderPayload
	if errDecode := jobs.Decode(job, &payload); errDecode != nil {
		return errDecode
	}
	var card models.GiftCard
	if errFind := h.store.DB().WithContext(ctx).First(&card, payload.GiftCardID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil
		}
		return errFind
	}
	fields := log.Fields{"card_id": card.ID, "days": payload.DaysUntilExpiry}
	if card.Status != models.GiftCardStatusActive || card.ExpiryDate == nil || !card.HasRecipient() {
		log.WithFields(fields).Debug("reminder skipped: card not eligible")
		return nil
	}
	if card.LastReminderDays != nil && *card.LastReminderDays == payload.DaysUntilExpiry {
		log.WithFields(fields).Debug("reminder skipped: already sent")
		return nil
	}
	from := h.clock.Now().Add(time.Duration(payload.DaysUntilExpiry) * day)
	if card.ExpiryDate.Before(from) || !card.ExpiryDate.Before(from.Add(day)) {
		log.WithFields(fields).Debug("reminder skipped: expiry moved out of window")
		return nil
	}
	if errSend := h.notifier.ExpiryReminder(ctx, &card, payload.DaysUntilExpiry); errSend != nil {
		return errSend
	}
	if errMark := h.store.MarkReminderSent(ctx, &card, payload.DaysUntilExpiry); errMark != nil {
		return errMark
	}
	log.WithFields(fields).Info("expiry reminder sent")
	return nil
}

// CleanupTokens deletes expired verification tokens in batches.
func (h *Handlers) CleanupTokens(ctx context.Context, _ *models.Job) error {
	deleted, errDelete := h.deleteInBatches(ctx, `
		DELETE FROM verification_tokens
		WHERE id IN (
			SELECT id FROM verification_tokens
			WHERE expires_at < ?
			ORDER BY expires_at ASC
			LIMIT ?
		)
	`, h.clock.Now())
	if deleted > 0 {
		log.Infof("token cleanup: deleted %d expired token(s)", deleted)
	}
	return errDelete
}

// CleanupIPEvents deletes IP tracking events older than the retention window.
func (h *Handlers) CleanupIPEvents(ctx context.Context, _ *models.Job) error {
	retentionDays := settings.Int(settings.IPEventRetentionDaysKey, defaultIPEventRetentionDays)
	if retentionDays <= 0 {
		return nil
	}
	cutoff := h.clock.Now().AddDate(0, 0, -int(retentionDays))
	deleted, errDelete := h.deleteInBatches(ctx, `
		DELETE FROM ip_tracking_events
		WHERE id IN (
			SELECT id FROM ip_tracking_events
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff)
	if deleted > 0 {
		log.Infof("ip events cleanup: deleted %d rows (cutoff=%s retention_days=%d)", deleted, cutoff.Format(time.RFC3339), retentionDays)
	}
	return errDelete
}

func (h *Handlers) deleteInBatches(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	var total int64
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if errCtx := ctx.Err(); errCtx != nil {
			return total, errCtx
		}
		res := h.store.DB().WithContext(ctx).Exec(query, cutoff, h.batchSize)
		if res.Error != nil {
			return total, res.Error
		}
		if res.RowsAffected <= 0 {
			break
		}
		total += res.RowsAffected
	}
	return total, nil
}
