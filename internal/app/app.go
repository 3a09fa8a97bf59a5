// Package app wires the ledger, engine, gate, workers and HTTP surface into a
// running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/giftvault/giftvault/internal/breakage"
	"github.com/giftvault/giftvault/internal/cache"
	"github.com/giftvault/giftvault/internal/chargeback"
	"github.com/giftvault/giftvault/internal/config"
	"github.com/giftvault/giftvault/internal/db"
	"github.com/giftvault/giftvault/internal/events"
	"github.com/giftvault/giftvault/internal/fraud"
	httpapi "github.com/giftvault/giftvault/internal/http"
	v1 "github.com/giftvault/giftvault/internal/http/api/v1"
	"github.com/giftvault/giftvault/internal/jobs"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/notify"
	"github.com/giftvault/giftvault/internal/payments"
	"github.com/giftvault/giftvault/internal/redemption"
	"github.com/giftvault/giftvault/internal/scheduler"
	"github.com/giftvault/giftvault/internal/security"
	"github.com/giftvault/giftvault/internal/settings"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services is the wired core shared by the server and the CLI commands.
type Services struct {
	Config      *config.Config
	DB          *gorm.DB
	Store       *ledger.Store
	Engine      *redemption.Engine
	Gate        *fraud.Gate
	Links       *security.LinkSigner
	Notifier    *notify.Notifier
	Chargebacks *chargeback.Handler
	Payments    *payments.Service
	Breakage    *breakage.Calculator
	Emitter     *events.Emitter
	Queue       *jobs.Queue
	Pool        *jobs.Pool
	Scheduler   *scheduler.Scheduler

	redis *redis.Client
}

// LoadConfig resolves and loads the service configuration.
func LoadConfig(cfg config.AppConfig) (*config.Config, error) {
	return config.Load(config.ResolveConfigPath(cfg.ConfigPath))
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, conf *config.Config) error {
	conn, err := openDatabase(conf)
	if err != nil {
		return err
	}
	defer closeDatabase(conn)
	return db.Migrate(conn.WithContext(ctx))
}

func openDatabase(conf *config.Config) (*gorm.DB, error) {
	return db.Open(conf.Database.DSN, db.PoolConfig{
		MaxOpenConns:    conf.Database.MaxOpenConns,
		MaxIdleConns:    conf.Database.MaxIdleConns,
		ConnMaxLifetime: conf.Database.ConnMaxLifetime,
	})
}

func closeDatabase(conn *gorm.DB) {
	if conn == nil {
		return
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		_ = sqlDB.Close()
	}
}

// Build opens the database, migrates it, and constructs every component.
// Redis and Kafka are optional and degrade to no cache and logged events.
func Build(ctx context.Context, conf *config.Config) (*Services, error) {
	conn, err := openDatabase(conf)
	if err != nil {
		return nil, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		closeDatabase(conn)
		return nil, errMigrate
	}
	if errRefresh := settings.Refresh(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("settings: initial load failed")
	}

	s := &Services{Config: conf, DB: conn}

	var cardCache ledger.Cache
	if conf.Redis.Enabled() {
		client, errConnect := cache.Connect(ctx, cache.Config{
			URL:      conf.Redis.URL,
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if errConnect != nil {
			log.WithError(errConnect).Warn("redis unavailable, running without card cache")
		} else {
			s.redis = client
			cardCache = cache.NewCardCache(client, conf.Redis.TTL)
		}
	}

	var publisher events.Publisher
	if len(conf.Kafka.Brokers) > 0 {
		kafkaPub, errKafka := events.NewKafkaPublisher(conf.Kafka.Brokers, conf.Kafka.Topics)
		if errKafka != nil {
			s.Close()
			return nil, errKafka
		}
		publisher = kafkaPub
	}
	s.Emitter = events.NewEmitter(publisher)

	var channel notify.Channel = notify.LogChannel{}
	if conf.Delivery.RelayURL != "" {
		channel = notify.NewHTTPRelay(conf.Delivery.RelayURL, conf.Delivery.RelayToken)
	}
	s.Notifier = notify.New(channel)

	s.Store = ledger.NewStore(conn, cardCache)
	s.Engine = redemption.NewEngine(s.Store, redemption.WithEmitter(s.Emitter))
	s.Gate = fraud.NewGate(conn, fraud.Limits{
		MaxCardsPerDay:     conf.Fraud.MaxCardsPerDay,
		MaxDailyValue:      conf.Fraud.MaxDailyValue,
		MaxCardValue:       conf.Fraud.MaxCardValue,
		MaxIPActionsPerDay: conf.Fraud.MaxIPActionsPerDay,
		HighValueThreshold: conf.Fraud.HighValueThreshold,
	})
	if conf.Links.Secret != "" {
		s.Links = security.NewLinkSigner(conf.Links.Secret, conf.Links.TTL)
	}
	s.Chargebacks = chargeback.NewHandler(s.Engine, s.Notifier, s.Emitter)
	s.Payments = payments.NewService(s.Engine, s.Gate, s.Chargebacks, conf.Webhook.Secret)
	s.Breakage = breakage.NewCalculator(conn, nil)

	s.Queue = jobs.NewQueue(conn, jobs.QueueConfig{
		MaxAttempts:       conf.Jobs.MaxAttempts,
		BackoffBase:       conf.Jobs.BackoffBase,
		VisibilityTimeout: conf.Jobs.VisibilityTimeout,
	}, nil)
	s.Pool = jobs.NewPool(s.Queue, jobs.PoolConfig{
		Concurrency:         conf.Jobs.Concurrency,
		RatePerSecond:       conf.Jobs.RatePerSecond,
		PollInterval:        conf.Jobs.PollInterval,
		MaintenanceInterval: conf.Jobs.MaintenanceInterval,
	})
	clock := scheduler.ClockFunc(s.Store.Now)
	scheduler.NewHandlers(s.Store, s.Notifier, clock).Register(s.Pool)
	s.Scheduler = scheduler.New(s.Store, s.Queue, scheduler.WithClock(clock), scheduler.WithTick(conf.Scheduler.Tick))
	return s, nil
}

// Router builds the HTTP engine over the wired services.
func (s *Services) Router() http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		DB: s.DB,
		Deps: v1.Deps{
			Engine:      s.Engine,
			Gate:        s.Gate,
			Links:       s.Links,
			Chargebacks: s.Chargebacks,
			Payments:    s.Payments,
			Breakage:    s.Breakage,
		},
		AdminAPIKeys:   s.Config.Server.AdminAPIKeys,
		TrustedProxies: s.Config.Server.TrustedProxies,
	})
}

// Close releases the broker, cache and database handles.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if errClose := s.Emitter.Close(); errClose != nil {
		log.WithError(errClose).Warn("events: close publisher failed")
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	closeDatabase(s.DB)
}

// RunServer boots the HTTP API, the worker pool and the scheduler, and blocks
// until ctx is cancelled. Shutdown waits for in-flight jobs up to the timeout.
func RunServer(ctx context.Context, conf *config.Config) error {
	s, err := Build(ctx, conf)
	if err != nil {
		return err
	}
	defer s.Close()

	settings.StartRefresher(ctx, s.DB, conf.Settings.RefreshInterval)
	s.Pool.Start(ctx)
	if !conf.Scheduler.Disabled {
		s.Scheduler.Start(ctx)
	}

	server := &http.Server{
		Addr:              conf.Server.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("starting giftvault on %s", conf.Server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case errServe, ok := <-serveErr:
		if ok && errServe != nil {
			return fmt.Errorf("app: serve: %w", errServe)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http shutdown incomplete")
	}
	idle := make(chan struct{})
	go func() {
		s.Pool.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-shutdownCtx.Done():
		log.Warn("jobs still running at shutdown, they will be requeued after the visibility timeout")
	}
	log.Info("giftvault stopped")
	return nil
}

// Breakage computes the breakage report without starting the server.
func Breakage(ctx context.Context, conf *config.Config, filter breakage.Filter) (*breakage.Report, error) {
	conn, err := openDatabase(conf)
	if err != nil {
		return nil, err
	}
	defer closeDatabase(conn)
	return breakage.NewCalculator(conn, nil).Calculate(ctx, filter)
}

// RunSweep enqueues the jobs of one sweep and processes the queue until it is
// empty or ctx is done.
func RunSweep(ctx context.Context, conf *config.Config, name string) (int, error) {
	s, err := Build(ctx, conf)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	enqueued, errSweep := s.Scheduler.RunSweep(ctx, name)
	if errSweep != nil {
		return 0, errSweep
	}
	return enqueued, s.Pool.Drain(ctx)
}
