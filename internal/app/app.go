// Package app assembles the sequencer from configuration. The server,
// worker and seqctl binaries all build the same graph and start different
// parts of it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/investor-outreach/internal/activity"
	"github.com/ignite/investor-outreach/internal/api"
	"github.com/ignite/investor-outreach/internal/config"
	"github.com/ignite/investor-outreach/internal/delivery"
	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/mailing"
	"github.com/ignite/investor-outreach/internal/pkg/distlock"
	"github.com/ignite/investor-outreach/internal/pkg/httpretry"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
	"github.com/ignite/investor-outreach/internal/repository/memory"
	"github.com/ignite/investor-outreach/internal/repository/postgres"
	"github.com/ignite/investor-outreach/internal/service/directory"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
	"github.com/ignite/investor-outreach/internal/service/outreach"
	"github.com/ignite/investor-outreach/internal/service/sequence"
	"github.com/ignite/investor-outreach/internal/storage"
	"github.com/ignite/investor-outreach/internal/worker"
)

// SweepLockKey names the lock that keeps the claim sweep single-instance.
const SweepLockKey = "investor-outreach:claim-sweep"

// App is the wired object graph.
type App struct {
	Config *config.Config
	Clock  clockwork.Clock

	DB    *sql.DB
	Redis *redis.Client

	Sequences   *sequence.Service
	Enrollments *enrollment.Service
	Tracker     *outreach.Tracker
	Processor   *worker.Processor
	Sweeper     *worker.ClaimSweeper
	Archive     *storage.RunArchive

	closers []func() error
}

type repositories struct {
	sequences   sequence.Repository
	enrollments enrollment.Repository
	outreach    outreach.Repository
	directory   directory.Directory
}

// New builds every component cfg enables. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Clock: clockwork.NewRealClock()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	repos, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limits and redis lock disabled", "error", err.Error())
			a.Redis = nil
		}
	}

	publisher, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	gateway, err := a.gateway(ctx)
	if err != nil {
		return err
	}

	var archive worker.RunArchive
	if cfg.Reports.Enabled {
		a.Archive, err = storage.Load(ctx, storage.Config{
			Region:        cfg.Reports.Region,
			Profile:       cfg.Reports.Profile,
			Bucket:        cfg.Reports.Bucket,
			Prefix:        cfg.Reports.Prefix,
			Table:         cfg.Reports.Table,
			RetentionDays: cfg.Reports.RetentionDays,
		})
		if err != nil {
			return fmt.Errorf("run archive: %w", err)
		}
		archive = a.Archive
	}

	a.Sequences = sequence.NewService(repos.sequences, a.Clock)
	a.Enrollments = enrollment.NewService(repos.enrollments, repos.sequences, a.Clock, cfg.Scheduler.OverdueAfter())
	a.Tracker = outreach.NewTracker(repos.outreach, publisher, a.Clock)

	a.Processor = worker.NewProcessor(worker.ProcessorDeps{
		Enrollments: repos.enrollments,
		Sequences:   repos.sequences,
		Outreach:    repos.outreach,
		Directory:   repos.directory,
		Gateway:     gateway,
		Renderer:    mailing.NewRenderer(),
		Preparer:    mailing.NewPreparer(cfg.Tracking.BaseURL),
		Publisher:   publisher,
		Archive:     archive,
		Clock:       a.Clock,
	}, worker.ProcessorConfig{
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.Concurrency,
		ClaimTTL:    cfg.Scheduler.ClaimTTL(),
		Tracking:    mailing.Options{TrackOpens: cfg.Tracking.TrackOpens, TrackClicks: cfg.Tracking.TrackClicks},
		FromName:    cfg.Delivery.FromName,
		FromEmail:   cfg.Delivery.FromEmail,
		ReplyTo:     cfg.Delivery.ReplyTo,
	})

	lock, err := distlock.NewLock(a.Redis, a.DB, SweepLockKey, cfg.Scheduler.SweepInterval())
	if err != nil && !errors.Is(err, distlock.ErrNoBackend) {
		return err
	}
	a.Sweeper = worker.NewClaimSweeper(repos.enrollments, lock, a.Clock, cfg.Scheduler.SweepInterval())
	return nil
}

func (a *App) openStore(ctx context.Context) (repositories, error) {
	cfg := a.Config
	switch cfg.Store {
	case "postgres":
		pool := postgres.DefaultPoolConfig()
		pool.MaxOpenConns = cfg.Database.MaxOpenConns
		pool.MaxIdleConns = cfg.Database.MaxIdleConns
		pool.ConnMaxLifetime = time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute
		db, err := postgres.Open(ctx, cfg.Database.URL, pool)
		if err != nil {
			return repositories{}, err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		logger.Info("using postgres store")
		return repositories{
			sequences:   postgres.NewSequenceRepo(db),
			enrollments: postgres.NewEnrollmentRepo(db),
			outreach:    postgres.NewOutreachRepo(db),
			directory:   postgres.NewDirectoryRepo(db),
		}, nil
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.New()
		return repositories{
			sequences:   store.Sequences(),
			enrollments: store.Enrollments(),
			outreach:    store.Outreach(),
			directory:   store.Directory(),
		}, nil
	}
	return repositories{}, fmt.Errorf("unknown store %q", cfg.Store)
}

func (a *App) publisher(ctx context.Context) (activity.Publisher, error) {
	cfg := a.Config.Activity
	switch cfg.Driver {
	case "nats":
		nc, err := activity.Connect(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return drain(nc) })
		return activity.NewNATSPublisher(nc, cfg.SubjectPrefix), nil
	case "sqs":
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.SQSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.SQSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for SQS: %w", err)
		}
		return activity.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL), nil
	case "none":
		return activity.Nop{}, nil
	}
	return activity.LogPublisher{}, nil
}

func drain(nc *nats.Conn) error {
	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}
	return nil
}

func (a *App) gateway(ctx context.Context) (delivery.Gateway, error) {
	cfg := a.Config
	channels := map[domain.StepType]delivery.Gateway{}
	switch cfg.Delivery.Provider {
	case "ses":
		ch, err := delivery.NewSESChannel(ctx, delivery.SESConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKey,
			SecretAccessKey:  cfg.SES.SecretKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, err
		}
		channels[domain.StepEmail] = ch
	case "smtp":
		channels[domain.StepEmail] = delivery.NewSMTPChannel(delivery.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
	default:
		channels[domain.StepEmail] = delivery.NewLogChannel("email", a.Clock)
	}

	client := httpretry.NewRetryClient(nil, cfg.Webhooks.MaxRetries)
	channels[domain.StepLinkedIn] = webhookOrLog("linkedin", cfg.Webhooks.LinkedIn, client, a.Clock)
	channels[domain.StepTask] = webhookOrLog("task", cfg.Webhooks.Task, client, a.Clock)

	var limiter *delivery.RateLimiter
	if a.Redis != nil && len(cfg.RateLimits) > 0 {
		limits := make(map[string]delivery.Limit, len(cfg.RateLimits))
		for name, l := range cfg.RateLimits {
			limits[name] = delivery.Limit{PerSecond: l.PerSecond, PerMinute: l.PerMinute, PerDay: l.PerDay}
		}
		limiter = delivery.NewRateLimiter(a.Redis, limits, a.Clock)
	}

	router := delivery.NewRouter()
	for typ, g := range channels {
		if limiter != nil {
			g = delivery.RateLimited(g, limiter, string(typ))
		}
		router.Register(typ, delivery.WithTimeout(g, cfg.Scheduler.SendTimeout()))
	}
	return router, nil
}

func webhookOrLog(name string, target config.WebhookTarget, client httpretry.HTTPDoer, clock clockwork.Clock) delivery.Gateway {
	if target.URL == "" {
		return delivery.NewLogChannel(name, clock)
	}
	return delivery.NewWebhookChannel(name, target.URL, target.Token, client, clock)
}

// APIServer builds the HTTP API over the wired services.
func (a *App) APIServer() *api.Server {
	cfg := a.Config
	return api.NewServer(api.Config{
		CronSecret:     cfg.CronSecret,
		DevMode:        cfg.DevMode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, api.Deps{
		Sequences:   a.Sequences,
		Enrollments: a.Enrollments,
		Tracker:     a.Tracker,
		Runner:      a.Processor,
	})
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
