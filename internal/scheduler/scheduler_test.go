package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/giftvault/giftvault/internal/db/dbtest"
	"github.com/giftvault/giftvault/internal/jobs"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/notify"
	"github.com/giftvault/giftvault/internal/settings"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingChannel struct {
	mu     sync.Mutex
	emails []string
	sms    []string
}

func (r *recordingChannel) SendEmail(_ context.Context, to, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails = append(r.emails, to)
	return nil
}

func (r *recordingChannel) SendSMS(_ context.Context, to, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sms = append(r.sms, to)
	return nil
}

type harness struct {
	clock   *testClock
	store   *ledger.Store
	queue   *jobs.Queue
	pool    *jobs.Pool
	sched   *Scheduler
	channel *recordingChannel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	clock := &testClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	store := ledger.NewStore(conn, nil, ledger.WithClock(clock.Now))
	queue := jobs.NewQueue(conn, jobs.QueueConfig{}, clock.Now)
	pool := jobs.NewPool(queue, jobs.PoolConfig{Concurrency: 2, RatePerSecond: 1000})
	channel := &recordingChannel{}
	NewHandlers(store, notify.New(channel), clock).Register(pool)
	return &harness{
		clock:   clock,
		store:   store,
		queue:   queue,
		pool:    pool,
		sched:   New(store, queue, WithClock(clock)),
		channel: channel,
	}
}

func (h *harness) card(t *testing.T, expiry time.Time, email string) *models.GiftCard {
	t.Helper()
	in := ledger.CreateCardInput{MerchantID: 1, Value: 5000, Currency: "USD", ExpiryDate: &expiry, AllowPartialRedemption: true}
	if email != "" {
		in.RecipientEmail = &email
	}
	card, err := h.store.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return card
}

func (h *harness) reload(t *testing.T, id uint64) models.GiftCard {
	t.Helper()
	var card models.GiftCard
	if err := h.store.DB().First(&card, id).Error; err != nil {
		t.Fatalf("reload card: %v", err)
	}
	return card
}

func TestExpirySweepIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expired := h.card(t, h.clock.Now().Add(-time.Hour), "")
	fresh := h.card(t, h.clock.Now().Add(48*time.Hour), "")

	n, err := h.sched.RunSweep(ctx, SweepExpiry)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("enqueued = %d, want 1", n)
	}
	if n, _ = h.sched.RunSweep(ctx, SweepExpiry); n != 0 {
		t.Fatalf("second sweep enqueued %d, want 0", n)
	}
	if err := h.pool.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := h.reload(t, expired.ID); got.Status != models.GiftCardStatusExpired || got.Version != 1 {
		t.Fatalf("expired card = %s v%d", got.Status, got.Version)
	}
	if got := h.reload(t, fresh.ID); got.Status != models.GiftCardStatusActive {
		t.Fatalf("fresh card status = %s", got.Status)
	}

	job := &models.Job{Type: JobExpiry, Payload: []byte(`{"giftCardId":` + jsonNumber(expired.ID) + `}`)}
	if err := NewHandlers(h.store, nil, h.clock).Expiry(ctx, job); err != nil {
		t.Fatalf("repeat expiry: %v", err)
	}
	if got := h.reload(t, expired.ID); got.Version != 1 {
		t.Fatalf("repeat expiry bumped version to %d", got.Version)
	}
	if balance := h.reload(t, expired.ID).Balance; balance != 5000 {
		t.Fatalf("expiry changed balance to %d", balance)
	}
}

func jsonNumber(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestExpiryHandlerIgnoresMissingCard(t *testing.T) {
	h := newHarness(t)
	job := &models.Job{Type: JobExpiry, Payload: []byte(`{"giftCardId":999}`)}
	if err := NewHandlers(h.store, nil, h.clock).Expiry(context.Background(), job); err != nil {
		t.Fatalf("missing card should be a no-op: %v", err)
	}
}

func TestReminderSweepWindowsAndDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()

	inSeven := h.card(t, now.Add(7*day+2*time.Hour), "seven@example.com")
	inThree := h.card(t, now.Add(3*day+time.Minute), "three@example.com")
	h.card(t, now.Add(5*day), "five@example.com")
	h.card(t, now.Add(day+time.Hour), "")

	n, err := h.sched.RunSweep(ctx, SweepReminder)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("enqueued = %d, want 2", n)
	}
	if err := h.pool.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(h.channel.emails) != 2 {
		t.Fatalf("emails = %v, want 2", h.channel.emails)
	}
	if got := h.reload(t, inSeven.ID); got.LastReminderDays == nil || *got.LastReminderDays != 7 {
		t.Fatalf("seven-day card reminder days = %v", got.LastReminderDays)
	}
	if got := h.reload(t, inThree.ID); got.LastReminderDays == nil || *got.LastReminderDays != 3 {
		t.Fatalf("three-day card reminder days = %v", got.LastReminderDays)
	}

	handlers := NewHandlers(h.store, notify.New(h.channel), h.clock)
	payload, _ := json.Marshal(ReminderPayload{GiftCardID: inSeven.ID, DaysUntilExpiry: 7})
	if err := handlers.Reminder(ctx, &models.Job{Type: JobReminder, Payload: payload}); err != nil {
		t.Fatalf("repeat reminder: %v", err)
	}
	if len(h.channel.emails) != 2 {
		t.Fatalf("reminder sent twice for the same offset")
	}
}

func TestReminderSkipsInactiveCard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	card := h.card(t, h.clock.Now().Add(day+time.Hour), "one@example.com")
	if err := h.store.DB().Model(&models.GiftCard{}).Where("id = ?", card.ID).
		Update("status", models.GiftCardStatusCancelled).Error; err != nil {
		t.Fatalf("cancel: %v", err)
	}
	payload, _ := json.Marshal(ReminderPayload{GiftCardID: card.ID, DaysUntilExpiry: 1})
	handlers := NewHandlers(h.store, notify.New(h.channel), h.clock)
	if err := handlers.Reminder(ctx, &models.Job{Type: JobReminder, Payload: payload}); err != nil {
		t.Fatalf("reminder: %v", err)
	}
	if len(h.channel.emails) != 0 {
		t.Fatalf("cancelled card got a reminder")
	}
}

func TestCleanupJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()
	conn := h.store.DB()

	tokens := []models.VerificationToken{
		{Token: "old", Kind: models.VerificationTokenEmail, UserID: 1, ExpiresAt: now.Add(-time.Minute)},
		{Token: "live", Kind: models.VerificationTokenPasswordReset, UserID: 1, ExpiresAt: now.Add(time.Hour)},
	}
	if err := conn.Create(&tokens).Error; err != nil {
		t.Fatalf("seed tokens: %v", err)
	}
	events := []models.IPTrackingEvent{
		{IPAddress: "10.0.0.1", Action: "gift_card.purchase", CreatedAt: now.AddDate(0, 0, -40)},
		{IPAddress: "10.0.0.1", Action: "gift_card.purchase", CreatedAt: now.AddDate(0, 0, -20)},
		{IPAddress: "10.0.0.1", Action: "gift_card.purchase", CreatedAt: now.Add(-time.Hour)},
	}
	if err := conn.Create(&events).Error; err != nil {
		t.Fatalf("seed events: %v", err)
	}

	if n, err := h.sched.RunSweep(ctx, SweepCleanup); err != nil || n != 1 {
		t.Fatalf("cleanup sweep: n=%d err=%v", n, err)
	}
	if n, err := h.sched.RunSweep(ctx, SweepIPEvents); err != nil || n != 1 {
		t.Fatalf("ip events sweep: n=%d err=%v", n, err)
	}
	if err := h.pool.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	var tokenCount, eventCount int64
	conn.Model(&models.VerificationToken{}).Count(&tokenCount)
	conn.Model(&models.IPTrackingEvent{}).Count(&eventCount)
	if tokenCount != 1 {
		t.Fatalf("tokens left = %d, want 1", tokenCount)
	}
	if eventCount != 2 {
		t.Fatalf("events left = %d, want 2", eventCount)
	}

	settings.Store(now, map[string]json.RawMessage{settings.IPEventRetentionDaysKey: json.RawMessage(`7`)})
	t.Cleanup(func() { settings.Store(time.Time{}, nil) })
	if err := NewHandlers(h.store, nil, h.clock).CleanupIPEvents(ctx, nil); err != nil {
		t.Fatalf("cleanup with override: %v", err)
	}
	conn.Model(&models.IPTrackingEvent{}).Count(&eventCount)
	if eventCount != 1 {
		t.Fatalf("events left after override = %d, want 1", eventCount)
	}
}

func TestRunDueHonorsIntervals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.card(t, h.clock.Now().Add(-time.Minute), "")

	h.sched.RunDue(ctx)
	counts, _ := h.queue.Counts(ctx)
	if counts[models.JobStatusPending] != 3 {
		t.Fatalf("pending after first run = %d, want 3 (expiry, cleanup, ip events)", counts[models.JobStatusPending])
	}

	h.clock.Advance(time.Hour)
	h.card(t, h.clock.Now().Add(-time.Minute), "")
	h.sched.RunDue(ctx)
	counts, _ = h.queue.Counts(ctx)
	if counts[models.JobStatusPending] != 3 {
		t.Fatalf("sweeps ran before their interval elapsed")
	}

	h.clock.Advance(day)
	h.sched.RunDue(ctx)
	counts, _ = h.queue.Counts(ctx)
	if counts[models.JobStatusPending] != 6 {
		t.Fatalf("pending after a day = %d, want 6", counts[models.JobStatusPending])
	}
}

func TestRunSweepUnknown(t *testing.T) {
	h := newHarness(t)
	if _, err := h.sched.RunSweep(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown sweep")
	}
}
