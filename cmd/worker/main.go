package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/gymcall-scheduler/internal/app"
	"github.com/unclebandit/gymcall-scheduler/internal/config"
	"github.com/unclebandit/gymcall-scheduler/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	beat, err := app.NewBeat(cfg.ScheduleCron, cfg.Timezone, a.Passes, logger)
	if err != nil {
		logger.Fatal("failed to start beat", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Worker().Start(ctx)
	})
	g.Go(func() error {
		return a.Passes.Consume(ctx, a.PassRunner().Handle)
	})
	g.Go(func() error {
		beat.Start()
		logger.Info("beat running", zap.String("schedule", cfg.ScheduleCron))
		<-ctx.Done()
		<-beat.Stop().Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
