package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/alerts"
	"github.com/sudo-init-do/mkopo/internal/auth"
	"github.com/sudo-init-do/mkopo/internal/config"
	"github.com/sudo-init-do/mkopo/internal/db"
	"github.com/sudo-init-do/mkopo/internal/gateway"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/live"
	"github.com/sudo-init-do/mkopo/internal/reconcile"
)

type notifier interface {
	reconcile.Notifier
	WithdrawalRequested(ctx context.Context, tx *ledger.Transaction) error
}

// App owns every long-lived dependency of the service.
type App struct {
	Config     *config.Config
	Log        *zap.Logger
	Store      ledger.Store
	Pool       *pgxpool.Pool
	Gateway    gateway.Client
	Hub        *live.Hub
	Reconciler *reconcile.Reconciler
	Notifier   notifier
	Admin      *auth.Admin

	registry  *reconcile.Registry
	queue     *asynq.Client
	processor *alerts.Processor
	cancel    context.CancelFunc
}

// New connects the store and builds the reconciler with the configured poll
// driver. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Hub: live.NewHub(log)}

	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory ledger; data is lost on restart")
		a.Store = ledger.NewMemoryStore()
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		a.Pool = pool
		a.Store = db.NewStore(pool)
	}

	a.Gateway = gateway.NewHTTPClient(gateway.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		APIKey:          cfg.Gateway.APIKey,
		Email:           cfg.Gateway.Email,
		InitiateTimeout: cfg.Gateway.InitiateTimeout,
		StatusTimeout:   cfg.Gateway.StatusTimeout,
	}, log.Named("gateway"))

	var sender alerts.Sender = alerts.LogSender{Log: log.Named("notify")}
	if cfg.AlertWebhookURL != "" {
		sender = alerts.NewWebhookSender(cfg.AlertWebhookURL)
	}

	var redisOpt asynq.RedisClientOpt
	if cfg.PollDriver == "queue" {
		redisOpt = asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		a.queue = asynq.NewClient(redisOpt)
		a.Notifier = alerts.NewQueueNotifier(a.queue)
	} else {
		a.Notifier = alerts.DirectNotifier{Sender: sender, Log: log}
	}

	a.Reconciler = reconcile.New(reconcile.Options{
		Store:             a.Store,
		Gateway:           a.Gateway,
		Publisher:         a.Hub,
		Notifier:          a.Notifier,
		DefaultLoanAmount: cfg.DefaultLoanAmount,
		Logger:            log.Named("reconcile"),
	})

	backoff := reconcile.Backoff{Base: cfg.Poll.Interval, Max: cfg.Poll.MaxInterval, MaxAttempts: cfg.Poll.MaxAttempts}
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.queue != nil {
		polls := alerts.NewPollQueue(a.queue, a.Reconciler, backoff, log.Named("poll"))
		a.Reconciler.UseTracker(polls)
		a.processor = alerts.NewProcessor(redisOpt, polls, sender, log.Named("worker"))
	} else {
		a.registry = reconcile.NewRegistry(runCtx, a.Reconciler, backoff, log.Named("poll"))
		a.Reconciler.UseTracker(a.registry)
	}

	a.Admin = auth.NewAdmin(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret)
	return a, nil
}

// Start runs the queue worker (if any) and re-arms polling for payments a
// previous process left open.
func (a *App) Start(ctx context.Context) error {
	if a.processor != nil {
		if err := a.processor.Start(); err != nil {
			return err
		}
	}
	if _, err := a.Reconciler.Recover(ctx); err != nil {
		return fmt.Errorf("recover open payments: %w", err)
	}
	return nil
}

// Close stops background work and releases connections.
func (a *App) Close() {
	if a.registry != nil {
		a.registry.Shutdown()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.processor != nil {
		a.processor.Shutdown()
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
	a.Hub.Close(context.Background())
	if a.Pool != nil {
		a.Pool.Close()
	}
}
