package cmd

import (
	"context"
	"fmt"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/internal/config"
	"github.com/openctemio/membership/internal/infra/jobs"
	"github.com/openctemio/membership/internal/infra/postgres"
	"github.com/openctemio/membership/internal/infra/redis"
	"github.com/openctemio/membership/pkg/invitetoken"
	"github.com/openctemio/membership/pkg/logger"
	"github.com/openctemio/membership/pkg/validator"
)

// deps holds the services a command runs against.
type deps struct {
	cfg *config.Config
	log *logger.Logger

	db    *postgres.DB
	redis *redis.Client
	jobs  *jobs.Client

	orgs        *postgres.OrganizationRepository
	memberships *postgres.MembershipRepository

	autoscaler  *app.SeatAutoscaler
	invitations *app.InvitationService
	members     *app.MembershipService
	events      *app.EventService
}

func newLogger(cfg *config.Config) *logger.Logger {
	logCfg := cfg.Log.Logger()
	if flagVerbose {
		logCfg.Level = "debug"
	} else if logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	return logger.New(logCfg)
}

// openDB connects to the database only, for commands that need nothing else.
func openDB() (*config.Config, *logger.Logger, *postgres.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	log := newLogger(cfg)
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, log, db, nil
}

// openDeps connects to postgres and redis and wires the services.
func openDeps() (*deps, error) {
	cfg, log, db, err := openDB()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &deps{cfg: cfg, log: log, db: db}
	if err := d.wire(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deps) wire() error {
	cfg, log := d.cfg, d.log

	rdb, err := redis.New(&cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	d.redis = rdb
	d.jobs = jobs.NewClient(&cfg.Redis, cfg.Worker.MaxRetry, log)

	d.orgs = postgres.NewOrganizationRepository(d.db)
	d.memberships = postgres.NewMembershipRepository(d.db)
	policies := postgres.NewPolicyRepository(d.db)
	eventRepo := postgres.NewEventRepository(d.db)

	users, err := redis.NewTwoFactorCache(rdb, postgres.NewUserRepository(d.db), cfg.Redis.TwoFactorCacheTTL, log)
	if err != nil {
		return fmt.Errorf("two-factor cache: %w", err)
	}
	keySync, err := redis.NewKeySyncPublisher(rdb, cfg.Redis.KeySyncChannel, log)
	if err != nil {
		return fmt.Errorf("key sync publisher: %w", err)
	}
	tokens, err := invitetoken.NewSigner(invitetoken.Config{
		Secret:     cfg.InviteToken.Secret,
		Issuer:     cfg.InviteToken.Issuer,
		ExpiryDays: cfg.InviteToken.ExpiryDays,
	})
	if err != nil {
		return fmt.Errorf("invite token signer: %w", err)
	}

	d.events = app.NewEventService(eventRepo, log)
	gate := app.NewPolicyGate(d.memberships, policies, users, log)
	d.autoscaler = app.NewSeatAutoscaler(d.orgs, d.memberships, d.orgs, log,
		app.WithSelfHosted(cfg.Features.SelfHosted),
		app.WithSeatNotices(users, d.jobs),
	)
	d.invitations = app.NewInvitationService(d.orgs, d.memberships, d.autoscaler, tokens, d.jobs, d.events, log,
		app.WithInviteValidator(validator.New()),
	)
	d.members = app.NewMembershipService(d.orgs, d.memberships, users, gate, d.autoscaler, tokens, d.events, log,
		app.WithKeySync(keySync, app.StaticFeatureFlags{
			app.FeaturePushSyncOrgKeysOnRevokeRestore: cfg.Features.PushSyncOrgKeysOnRevokeRestore,
		}),
		app.WithTwoFactorRefresh(users),
	)
	return nil
}

// Close releases every connection deps opened.
func (d *deps) Close() {
	if d.jobs != nil {
		closeWithLog(d.jobs, "job client", d.log)
	}
	if d.redis != nil {
		closeWithLog(d.redis, "redis", d.log)
	}
	closeWithLog(d.db, "database", d.log)
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}

// withDeps runs fn against freshly wired services.
func withDeps(ctx context.Context, fn func(ctx context.Context, d *deps) error) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}
