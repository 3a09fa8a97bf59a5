// Package scheduler runs recurring sweeps that turn due gift card work into
// jobs, and the handlers that carry those jobs out.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/giftvault/giftvault/internal/jobs"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Job types produced by the sweeps.
const (
	JobExpiry          = "expiry"
	JobReminder        = "reminder"
	JobCleanupTokens   = "cleanup.tokens"
	JobCleanupIPEvents = "cleanup.ip_events"
)

// Sweep names.
const (
	SweepExpiry   = "expiry"
	SweepReminder = "reminder"
	SweepCleanup  = "cleanup"
	SweepIPEvents = "ip_events"
)

const (
	day                   = 24 * time.Hour
	defaultTick           = time.Minute
	defaultSweepBatchSize = 500
)

// ReminderOffsets are the days-before-expiry at which reminders go out.
var ReminderOffsets = []int{7, 3, 1}

// ExpiryPayload is the payload of an expiry job.
type ExpiryPayload struct {
	GiftCardID uint64 `json:"giftCardId"`
}

// ReminderPayload is the payload of a reminder job.
type ReminderPayload struct {
	GiftCardID      uint64 `json:"giftCardId"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
}

// Sweep is a recurring task. Run returns how many jobs it enqueued.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTick sets how often due sweeps are checked.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithInterval overrides the interval of a named sweep.
func WithInterval(name string, d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.intervals[name] = d
		}
	}
}

// Scheduler enqueues jobs for due sweeps.
type Scheduler struct {
	store     *ledger.Store
	queue     *jobs.Queue
	clock     Clock
	tick      time.Duration
	intervals map[string]time.Duration

	sweeps map[string]Sweep

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// New returns a scheduler with the expiry, reminder, cleanup and IP event
// sweeps registered.
func New(store *ledger.Store, queue *jobs.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		queue: queue,
		clock: ClockFunc(store.Now),
		tick:  defaultTick,
		intervals: map[string]time.Duration{
			SweepExpiry:   day,
			SweepReminder: day,
			SweepCleanup:  day,
			SweepIPEvents: 7 * day,
		},
		lastRun: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sweeps = map[string]Sweep{
		SweepExpiry:   {Name: SweepExpiry, Interval: s.intervals[SweepExpiry], Run: s.sweepExpiry},
		SweepReminder: {Name: SweepReminder, Interval: s.intervals[SweepReminder], Run: s.sweepReminders},
		SweepCleanup:  {Name: SweepCleanup, Interval: s.intervals[SweepCleanup], Run: s.enqueueOnce(JobCleanupTokens)},
		SweepIPEvents: {Name: SweepIPEvents, Interval: s.intervals[SweepIPEvents], Run: s.enqueueOnce(JobCleanupIPEvents)},
	}
	return s
}

// Sweeps returns the registered sweeps ordered by name.
func (s *Scheduler) Sweeps() []Sweep {
	out := make([]Sweep, 0, len(s.sweeps))
	for _, sw := range s.sweeps {
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start checks for due sweeps on every tick until ctx is done. Every sweep
// runs once at startup.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.run(ctx)
	log.Infof("scheduler started (tick=%s, sweeps=%d)", s.tick, len(s.sweeps))
}

func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.RunDue(ctx)
		timer.Reset(s.tick)
	}
}

// RunDue runs every sweep whose interval elapsed since its last run.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := s.clock.Now()
	for _, sw := range s.Sweeps() {
		s.mu.Lock()
		last, seen := s.lastRun[sw.Name]
		s.mu.Unlock()
		if seen && now.Sub(last) < sw.Interval {
			continue
		}
		if _, errRun := s.RunSweep(ctx, sw.Name); errRun != nil {
			log.WithError(errRun).WithField("sweep", sw.Name).Warn("scheduler: sweep failed")
		}
	}
}

// RunSweep runs one sweep immediately and records it as run.
func (s *Scheduler) RunSweep(ctx context.Context, name string) (int, error) {
	sw, ok := s.sweeps[name]
	if !ok {
		return 0, fmt.Errorf("scheduler: unknown sweep %q", name)
	}
	started := s.clock.Now()
	n, errRun := sw.Run(ctx)
	s.mu.Lock()
	s.lastRun[name] = started
	s.mu.Unlock()
	if errRun != nil {
		return n, fmt.Errorf("scheduler: sweep %s: %w", name, errRun)
	}
	if n > 0 {
		log.WithFields(log.Fields{"sweep": name, "enqueued": n}).Info("scheduler: sweep enqueued jobs")
	}
	return n, nil
}

func (s *Scheduler) sweepExpiry(ctx context.Context) (int, error) {
	now := s.clock.Now()
	dayKey := now.Format("2006-01-02")
	enqueued := 0
	var cards []models.GiftCard
	res := s.store.DB().WithContext(ctx).
		Select("id").
		Where("status = ? AND expiry_date IS NOT NULL AND expiry_date < ?", models.GiftCardStatusActive, now).
		FindInBatches(&cards, defaultSweepBatchSize, func(_ *gorm.DB, _ int) error {
			for _, card := range cards {
				key := fmt.Sprintf("expiry:%d:%s", card.ID, dayKey)
				_, created, errEnqueue := s.queue.Enqueue(ctx, JobExpiry, ExpiryPayload{GiftCardID: card.ID}, jobs.WithDedupKey(key))
				if errEnqueue != nil {
					return errEnqueue
				}
				if created {
					enqueued++
				}
			}
			return nil
		})
	return enqueued, res.Error
}

func (s *Scheduler) sweepReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()
	dayKey := now.Format("2006-01-02")
	enqueued := 0
	for _, days := range ReminderOffsets {
		from := now.Add(time.Duration(days) * day)
		to := from.Add(day)
		var cards []models.GiftCard
		res := s.store.DB().WithContext(ctx).
			Select("id").
			Where("status = ? AND expiry_date >= ? AND expiry_date < ?", models.GiftCardStatusActive, from, to).
			Where("(recipient_email IS NOT NULL AND recipient_email <> '') OR (recipient_phone IS NOT NULL AND recipient_phone <> '')").
			FindInBatches(&cards, defaultSweepBatchSize, func(_ *gorm.DB, _ int) error {
				for _, card := range cards {
					key := fmt.Sprintf("reminder:%d:%d:%s", card.ID, days, dayKey)
					payload := ReminderPayload{GiftCardID: card.ID, DaysUntilExpiry: days}
					_, created, errEnqueue := s.queue.Enqueue(ctx, JobReminder, payload, jobs.WithDedupKey(key))
					if errEnqueue != nil {
						return errEnqueue
					}
					if created {
						enqueued++
					}
				}
				return nil
			})
		if res.Error != nil {
			return enqueued, res.Error
		}
	}
	return enqueued, nil
}

func (s *Scheduler) enqueueOnce(jobType string) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		key := fmt.Sprintf("%s:%s", jobType, s.clock.Now().Format("2006-01-02"))
		_, created, errEnqueue := s.queue.Enqueue(ctx, jobType, struct{}{}, jobs.WithDedupKey(key))
		if errEnqueue != nil || !created {
			return 0, errEnqueue
		}
		return 1, nil
	}
}
