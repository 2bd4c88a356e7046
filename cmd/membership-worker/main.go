package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/internal/config"
	opshttp "github.com/openctemio/membership/internal/infra/http"
	"github.com/openctemio/membership/internal/infra/http/handler"
	"github.com/openctemio/membership/internal/infra/jobs"
	"github.com/openctemio/membership/internal/infra/postgres"
	"github.com/openctemio/membership/internal/infra/redis"
	"github.com/openctemio/membership/pkg/email"
	"github.com/openctemio/membership/pkg/logger"
)

const poolStatsInterval = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}
	log := logger.New(cfg.Log.Logger())
	log.SetDefault()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}
	log.Info("starting membership worker", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	stopPoolStats := redis.StartPoolStatsCollector(ctx, redisClient, poolStatsInterval)
	defer stopPoolStats()

	// ==========================================================================
	// Services
	// ==========================================================================
	orgs := postgres.NewOrganizationRepository(db)
	memberships := postgres.NewMembershipRepository(db)

	twoFactor, err := redis.NewTwoFactorCache(redisClient, postgres.NewUserRepository(db), cfg.Redis.TwoFactorCacheTTL, log)
	if err != nil {
		log.Error("failed to create two-factor cache", "error", err)
		return 1
	}

	mail := app.NewMailService(newMailSender(cfg, log), cfg.App.WebURL, cfg.App.Name, log)
	reporter := app.NewSeatUsageReporter(orgs, memberships, cfg.Metrics.SeatUsageTimeout, log)

	// ==========================================================================
	// Workers
	// ==========================================================================
	worker := jobs.NewWorker(&cfg.Redis, cfg.Worker, mail, log)

	scheduler := cron.New()
	if _, err := reporter.Schedule(scheduler, cfg.Metrics.SeatUsageSchedule); err != nil {
		log.Error("failed to schedule seat usage report", "error", err)
		return 1
	}

	health := handler.NewHealthHandler(
		handler.WithDatabase(db),
		handler.WithRedis(redisClient),
	)
	server := opshttp.NewServer(cfg.Metrics.ListenAddr, health, log,
		opshttp.WithProduction(cfg.IsProduction()),
	)

	// ==========================================================================
	// Run until signalled
	// ==========================================================================
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(server.Start)
	g.Go(func() error {
		return twoFactor.Listen(gctx, cfg.Redis.TwoFactorChangedChannel)
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		log.Info("seat usage scheduler stopped")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	log.Info("membership worker started", "ops_addr", cfg.Metrics.ListenAddr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("membership worker failed", "error", err)
		return 1
	}

	log.Info("membership worker stopped")
	return 0
}

// newMailSender returns an SMTP sender, or a no-op sender when SMTP is not
// configured so invite tasks still drain.
func newMailSender(cfg *config.Config, log *logger.Logger) email.Sender {
	if !cfg.SMTP.IsConfigured() {
		log.Warn("SMTP not configured - invite and seat notice emails will be dropped")
		return email.NewNoOpSender()
	}

	sender := email.NewSMTPSender(email.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		User:       cfg.SMTP.User,
		Password:   cfg.SMTP.Password,
		From:       cfg.SMTP.From,
		FromName:   cfg.SMTP.FromName,
		TLS:        cfg.SMTP.TLS,
		SkipVerify: cfg.SMTP.SkipVerify,
		Timeout:    cfg.SMTP.Timeout,
	})
	log.Info("email sender initialized", "host", cfg.SMTP.Host, "from", cfg.SMTP.From)
	return email.NewLoggingSender(sender, log.With("component", "email"))
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
