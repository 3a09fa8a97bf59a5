package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giftvault/giftvault/internal/metrics"
	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Handler processes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *models.Job) error

// PoolConfig tunes the worker pool. Zero values use the defaults.
type PoolConfig struct {
	Concurrency         int
	RatePerSecond       float64
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	return c
}

// Pool claims jobs from a Queue and runs them on a bounded set of workers.
type Pool struct {
	queue   *Queue
	cfg     PoolConfig
	limiter *rate.Limiter
	sem     chan struct{}
	wg      sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewPool returns a pool over queue.
func NewPool(queue *Queue, cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Pool{
		queue:    queue,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		sem:      make(chan struct{}, cfg.Concurrency),
		handlers: make(map[string]Handler),
	}
}

// Queue returns the backing queue.
func (p *Pool) Queue() *Queue { return p.queue }

// Register binds a handler to a job type, replacing any previous one.
func (p *Pool) Register(jobType string, handler Handler) {
	if handler == nil {
		return
	}
	p.mu.Lock()
	p.handlers[jobType] = handler
	p.mu.Unlock()
}

func (p *Pool) handler(jobType string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[jobType]
	return h, ok
}

// Start runs the dispatch and maintenance loops until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	if p == nil || p.queue == nil {
		return
	}
	go p.run(ctx)
	go p.maintain(ctx)
}

func (p *Pool) run(ctx context.Context) {
	log.Infof("jobs pool started (concurrency=%d, rate=%.1f/s)", p.cfg.Concurrency, p.cfg.RatePerSecond)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			log.Info("jobs pool stopped")
			return
		case <-timer.C:
		}
		claimed, errDispatch := p.Dispatch(ctx)
		if errDispatch != nil && ctx.Err() == nil {
			log.WithError(errDispatch).Warn("jobs: dispatch failed")
		}
		next := p.cfg.PollInterval
		if claimed > 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

func (p *Pool) maintain(ctx context.Context) {
	timer := time.NewTimer(p.cfg.MaintenanceInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if n, errStale := p.queue.RequeueStale(ctx); errStale != nil {
			log.WithError(errStale).Warn("jobs: requeue stale failed")
		} else if n > 0 {
			log.Infof("jobs: requeued %d stale job(s)", n)
		}
		if n, errPrune := p.queue.Prune(ctx); errPrune != nil {
			log.WithError(errPrune).Warn("jobs: prune failed")
		} else if n > 0 {
			log.Debugf("jobs: pruned %d job(s)", n)
		}
		timer.Reset(p.cfg.MaintenanceInterval)
	}
}

// Dispatch claims as many due jobs as there are free workers and starts
// them. It returns the number of jobs claimed.
func (p *Pool) Dispatch(ctx context.Context) (int, error) {
	free := cap(p.sem) - len(p.sem)
	if free <= 0 {
		return 0, nil
	}
	claimed, errClaim := p.queue.Claim(ctx, free)
	for i := range claimed {
		job := claimed[i]
		if errWait := p.limiter.Wait(ctx); errWait != nil {
			p.release(job, errWait)
			continue
		}
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			p.release(job, ctx.Err())
			continue
		}
		p.wg.Add(1)
		metrics.JobsInFlight.Inc()
		go func() {
			defer func() {
				metrics.JobsInFlight.Dec()
				<-p.sem
				p.wg.Done()
			}()
			p.process(ctx, &job)
		}()
	}
	return len(claimed), errClaim
}

// Wait blocks until every started job finished.
func (p *Pool) Wait() { p.wg.Wait() }

// Drain dispatches until no due job remains and all workers are idle.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		claimed, errDispatch := p.Dispatch(ctx)
		if errDispatch != nil {
			p.wg.Wait()
			return errDispatch
		}
		if claimed == 0 {
			p.wg.Wait()
			more, errMore := p.Dispatch(ctx)
			if errMore != nil || more == 0 {
				p.wg.Wait()
				return errMore
			}
		}
		if errCtx := ctx.Err(); errCtx != nil {
			return errCtx
		}
	}
}

// release hands back a job claimed but never started.
func (p *Pool) release(job models.Job, cause error) {
	if _, errFail := p.queue.Fail(context.Background(), &job, fmt.Errorf("jobs: not started: %w", cause)); errFail != nil {
		log.WithError(errFail).Warn("jobs: release failed")
	}
}

func (p *Pool) process(ctx context.Context, job *models.Job) {
	errRun := p.invoke(ctx, job)
	if errRun == nil {
		if errComplete := p.queue.Complete(ctx, job); errComplete != nil {
			log.WithError(errComplete).WithField("job_id", job.ID).Warn("jobs: complete failed")
		}
		metrics.JobsProcessed.WithLabelValues(job.Type, "completed").Inc()
		return
	}

	retry, errFail := p.queue.Fail(ctx, job, errRun)
	if errFail != nil {
		log.WithError(errFail).WithField("job_id", job.ID).Warn("jobs: record failure failed")
		return
	}
	result := "failed"
	if retry {
		result = "retried"
		log.WithFields(log.Fields{"job_id": job.ID, "type": job.Type, "attempt": job.Attempts}).
			WithError(errRun).Debug("jobs: attempt failed, retry scheduled")
	}
	metrics.JobsProcessed.WithLabelValues(job.Type, result).Inc()
}

func (p *Pool) invoke(ctx context.Context, job *models.Job) (err error) {
	handler, ok := p.handler(job.Type)
	if !ok {
		return fmt.Errorf("jobs: no handler for type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}
