// Package redemption applies balance mutations to gift cards. Every mutation
// runs as one database transaction that locks the card row, writes the new
// balance under a version check, and appends the matching ledger entry.
package redemption

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	dbutil "github.com/giftvault/giftvault/internal/db"
	"github.com/giftvault/giftvault/internal/events"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/metrics"
	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 15 * time.Millisecond
)

// Engine serializes balance mutations per card.
type Engine struct {
	store       *ledger.Store
	emitter     *events.Emitter
	maxAttempts int
	backoffBase time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEmitter publishes domain events after each committed mutation.
func WithEmitter(emitter *events.Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithRetry sets how many times a conflicting mutation is attempted and the
// base of the jittered backoff between attempts.
func WithRetry(attempts int, base time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.maxAttempts = attempts
		}
		if base >= 0 {
			e.backoffBase = base
		}
	}
}

// NewEngine returns an engine over store.
func NewEngine(store *ledger.Store, opts ...Option) *Engine {
	e := &Engine{store: store, maxAttempts: defaultMaxAttempts, backoffBase: defaultBackoffBase}
	for _, opt := range opts {
		opt(e)
	}
	if e.emitter == nil {
		e.emitter = events.NewEmitter(nil)
	}
	return e
}

// Store returns the underlying ledger store.
func (e *Engine) Store() *ledger.Store { return e.store }

// Mutation is the committed outcome of a balance change.
type Mutation struct {
	Card        *models.GiftCard
	Transaction *models.Transaction
	EventType   string
	eventData   any
}

// Atomically runs fn in a database transaction, retrying the whole unit when
// it fails with a version conflict or a transient write conflict.
func (e *Engine) Atomically(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var errLast error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		errLast = e.store.DB().WithContext(ctx).Transaction(fn)
		if errLast == nil {
			return nil
		}
		if !retryable(errLast) {
			return errLast
		}
		if attempt == e.maxAttempts {
			break
		}
		metrics.ConcurrentRetries.Inc()
		log.WithError(errLast).WithField("attempt", attempt).Debug("redemption: retrying after conflict")
		if errWait := e.wait(ctx, attempt); errWait != nil {
			return errWait
		}
	}
	if dbutil.IsWriteConflict(errLast) {
		return ledger.ErrConcurrentModification
	}
	return errLast
}

func retryable(err error) bool {
	return errors.Is(err, ledger.ErrConcurrentModification) || dbutil.IsWriteConflict(err)
}

func (e *Engine) wait(ctx context.Context, attempt int) error {
	if e.backoffBase <= 0 {
		return ctx.Err()
	}
	delay := e.backoffBase*time.Duration(attempt) + time.Duration(rand.Int64N(int64(e.backoffBase)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Committed runs post-commit side effects for mutations made with the Tx
// variants: cache invalidation, then event publish. Callers using the
// non-Tx methods never need it.
func (e *Engine) Committed(ctx context.Context, mutations ...*Mutation) {
	for _, m := range mutations {
		if m == nil || m.Card == nil {
			continue
		}
		e.store.Invalidate(ctx, m.Card)
		if m.EventType != "" {
			e.emitter.Emit(ctx, m.EventType, events.CardKey(m.Card.ID), m.eventData)
		}
	}
}

func actorOrNil(actor string) *string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil
	}
	return &actor
}
