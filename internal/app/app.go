// Package app wires configuration into the stores, brokers and services the
// binaries share.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/gymcall-scheduler/internal/config"
	"github.com/unclebandit/gymcall-scheduler/internal/db"
	"github.com/unclebandit/gymcall-scheduler/internal/lock"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
	"github.com/unclebandit/gymcall-scheduler/internal/repository"
	"github.com/unclebandit/gymcall-scheduler/internal/service"
	"github.com/unclebandit/gymcall-scheduler/internal/voice"
)

type App struct {
	Config *config.Config
	Log    *zap.Logger

	DB     *sqlx.DB
	Redis  goredis.UniversalClient
	Broker queue.WorkerBroker
	Locker lock.Locker
	Passes queue.PassQueue

	CampaignRepo *repository.CampaignRepository
	LeadRepo     *repository.LeadRepository
	CallRepo     *repository.CallRepository
	Service      *service.CampaignService

	closers []func() error
}

// New connects to Postgres, Redis and RabbitMQ. Without REDIS_URL the broker
// and lock are process-local; without AMQP_URL so is the pass queue.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	if err := a.openBroker(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openPasses(); err != nil {
		a.Close()
		return nil, err
	}

	a.CampaignRepo = &repository.CampaignRepository{DB: conn}
	a.LeadRepo = &repository.LeadRepository{DB: conn}
	a.CallRepo = &repository.CallRepository{DB: conn}

	a.Service = &service.CampaignService{
		CampaignRepo: a.CampaignRepo,
		LeadRepo:     a.LeadRepo,
		CallRepo:     a.CallRepo,
		Dispatcher:   service.NewTaskDispatcher(a.Broker, log, cfg.JobMaxAttempts),
		Revoker: &service.CancellationRevoker{
			Broker:   a.Broker,
			CallRepo: a.CallRepo,
			Log:      log,
		},
		Locker:           a.Locker,
		Log:              log,
		SlotDuration:     cfg.SlotDuration,
		PassTimeout:      cfg.PassTimeout,
		SweepConcurrency: cfg.SweepConcurrency,
	}
	return a, nil
}

func (a *App) openBroker(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		a.Log.Warn("REDIS_URL not set, using in-process broker and lock")
		a.Broker = queue.NewMemoryBroker()
		a.Locker = lock.NewMemoryLocker(a.Config.LockTTL)
		return nil
	}

	opts, err := goredis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	a.Broker = queue.NewRedisBroker(client)
	a.Locker = lock.NewRedisLocker(client, a.Config.LockTTL)
	return nil
}

func (a *App) openPasses() error {
	if a.Config.AMQPURL == "" {
		a.Log.Warn("AMQP_URL not set, pass requests stay in this process")
		a.Passes = queue.NewInMemoryPassQueue(a.Log, 0)
		return nil
	}
	q, err := queue.DialAMQPPassQueue(a.Config.AMQPURL, a.Log)
	if err != nil {
		return err
	}
	a.Passes = q.WithRetryDelay(a.Config.PassRetryDelay)
	a.closers = append(a.closers, q.Close)
	return nil
}

// Worker builds the call worker from configuration.
func (a *App) Worker() *service.Worker {
	cfg := a.Config
	return &service.Worker{
		Broker:            a.Broker,
		CampaignRepo:      a.CampaignRepo,
		LeadRepo:          a.LeadRepo,
		CallRepo:          a.CallRepo,
		Voice:             voice.NewHTTPClient(cfg.VoiceAPIURL, cfg.VoiceAPIKey, cfg.VoiceTimeout),
		Log:               a.Log,
		ID:                cfg.WorkerID,
		Concurrency:       cfg.WorkerCount,
		PollInterval:      cfg.WorkerPollInterval,
		RetryBackoff:      cfg.WorkerRetryBackoff,
		DefaultAttempts:   cfg.JobMaxAttempts,
		CallPollInterval:  cfg.CallPollInterval,
		CallPollMaxChecks: cfg.CallPollMaxChecks,
		FromNumber:        cfg.VoiceFromNumber,
		AgentID:           cfg.VoiceAgentID,
		Greeting:          cfg.VoiceGreeting,
	}
}

func (a *App) PassRunner() *service.PassRunner {
	return &service.PassRunner{Service: a.Service, Location: a.Config.Timezone, Log: a.Log}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
