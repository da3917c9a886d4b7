package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/metrics"
	"github.com/ignite/mail-pipeline/internal/pkg/distlock"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/queue"
	"github.com/ignite/mail-pipeline/internal/repository/postgres"
	"github.com/ignite/mail-pipeline/internal/scheduler"
	"github.com/ignite/mail-pipeline/internal/sender"
	"github.com/ignite/mail-pipeline/internal/service/preferences"
	"github.com/ignite/mail-pipeline/internal/service/tracking"
	"github.com/ignite/mail-pipeline/internal/worker"
)

// app holds the process-wide collaborators shared by every subcommand.
type app struct {
	cfg *config.Config
	db  *sql.DB
	rdb *redis.Client

	sender      sender.Sender
	tracking    *tracking.Service
	preferences *preferences.Service
	scheduled   *postgres.ScheduledRepo
	manager     *queue.Manager
	admin       *scheduler.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis returns nil when the queue is disabled or the URL is unusable.
// The manager then dispatches synchronously.
func openRedis(cfg config.QueueConfig) *redis.Client {
	if !cfg.Enabled || cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid queue redis url, queue disabled", "error", err)
		return nil
	}
	return redis.NewClient(opts)
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	metrics.Register(prometheus.DefaultRegisterer)

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	snd, err := sender.New(ctx, cfg.Provider)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build sender: %w", err)
	}

	a := &app{cfg: cfg, db: db, rdb: openRedis(cfg.Queue), sender: snd}
	a.tracking = tracking.NewService(postgres.NewTrackingRepo(db))
	a.preferences = preferences.NewService(postgres.NewPreferencesRepo(db))
	a.scheduled = postgres.NewScheduledRepo(db)

	cfg.Queue.Enabled = cfg.Queue.Enabled && a.rdb != nil
	if cfg.Server.PublicURL == "" {
		logger.Warn("server.public_url not set, optional email goes out without List-Unsubscribe headers")
	}
	a.manager = queue.NewManager(cfg.Queue, queue.Deps{
		Redis:       a.rdb,
		Sender:      snd,
		Recorder:    a.tracking,
		Gate:        a.preferences,
		Scheduled:   a.scheduled,
		Preferences: a.preferences,
		PublicURL:   cfg.Server.PublicURL,
	})
	a.manager.Initialize(ctx)
	a.admin = scheduler.NewService(a.manager, a.scheduled, a.tracking)
	return a, nil
}

// newPool wires the worker pool and the janitor it runs. It returns nil
// when the broker is not available.
func (a *app) newPool() *worker.Pool {
	b := a.manager.Broker()
	if b == nil || !a.manager.Available() {
		return nil
	}

	var limiter worker.Limiter
	if a.cfg.Queue.UseGlobalRateLimit() {
		limiter = worker.NewRateLimiter(a.rdb, a.cfg.Queue.Name, a.cfg.Queue.RatePerSecond)
	} else {
		limiter = worker.NewLocalLimiter(a.cfg.Queue.RatePerSecond)
	}

	lock := distlock.NewLock(a.rdb, a.db, "mailpipe:janitor:"+a.cfg.Queue.Name, a.cfg.Queue.JanitorInterval)

	return worker.NewPool(worker.Options{
		Concurrency:  a.cfg.Queue.Concurrency,
		PollInterval: a.cfg.Queue.PollInterval,
		SendTimeout:  a.cfg.Provider.Timeout,
	}, worker.Deps{
		Queue:     b,
		Sender:    a.sender,
		Limiter:   limiter,
		Recorder:  a.tracking,
		Scheduled: a.scheduled,
		Janitor:   worker.NewJanitor(b, lock, a.cfg.Queue.JanitorInterval, a.cfg.Queue.StalledAfter),
	})
}

// close releases resources in dependency order: stop accepting sends, then
// drop the Redis client, then the database.
func (a *app) close(ctx context.Context) {
	if err := a.manager.Shutdown(ctx); err != nil {
		logger.Warn("queue manager shutdown", "error", err)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warn("redis close", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("database close", "error", err)
	}
}
