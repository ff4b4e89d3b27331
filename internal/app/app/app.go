package app

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"metalink/internal/app/config"
	"metalink/internal/app/logger"
	"metalink/internal/app/notify"
	"metalink/internal/app/ratelimit"
	"metalink/internal/app/service/syncer"
	"metalink/internal/app/service/transaction"
	"metalink/internal/app/session"
	"metalink/internal/app/storage"
	"metalink/internal/app/storage/memory"
	"metalink/internal/app/storage/postgres"
	"metalink/pkg/ledger"
	"metalink/pkg/rates"
	"time"
)

type App struct {
	config       config.Config
	logger       logger.Logger
	db           *sql.DB
	redis        *redis.Client
	nats         *nats.Conn
	transactions *transaction.Service
	syncer       *syncer.Service
	limiter      ratelimit.Limiter
	session      session.Manager
	registry     *prometheus.Registry
}

func New(cfg config.Config, l logger.Logger, e embed.FS) (*App, error) {
	a := &App{
		config:   cfg,
		logger:   l,
		session:  session.NewJWT(cfg.SecretKey),
		registry: newRegistry(),
	}

	repo, err := a.openStore(e)
	if err != nil {
		a.Stop()
		return nil, err
	}

	rs, err := rates.NewService(
		rates.WithLogger(l.Logger),
		rates.WithFiatURL(cfg.Rates.FiatURL),
		rates.WithCryptoURL(cfg.Rates.CryptoURL),
		rates.WithAPIKey(cfg.Rates.APIKey),
		rates.WithTimeout(cfg.Rates.Timeout),
		rates.WithCache(rates.NewCache(cfg.Rates.CacheTTL)),
	)
	if err != nil {
		a.Stop()
		return nil, fmt.Errorf("rates client init: %w", err)
	}

	lc, err := ledger.NewClient(cfg.Ledger.EndpointList(),
		ledger.WithLogger(l.Logger),
		ledger.WithTimeout(cfg.Ledger.Timeout),
	)
	if err != nil {
		a.Stop()
		return nil, fmt.Errorf("ledger client init: %w", err)
	}

	var events notify.Publisher = notify.Nop{}
	if cfg.NATS.URL != "" {
		a.nats, err = notify.Connect(cfg.NATS.URL)
		if err != nil {
			a.Stop()
			return nil, err
		}
		events = notify.NewNATS(a.nats, cfg.NATS.Subject)
	}

	a.transactions = transaction.New(repo,
		transaction.WithLedger(lc),
		transaction.WithRates(rs),
		transaction.WithPublisher(events),
	)

	a.syncer = syncer.New(lc, a.transactions,
		syncer.WithLogger(l),
		syncer.WithWorkers(cfg.Syncer.Workers),
		syncer.WithPollInterval(cfg.Syncer.PollInterval),
		syncer.WithMaxAttempts(cfg.Syncer.MaxAttempts),
	)

	a.limiter = ratelimit.NewMemory(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Stop()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.limiter = ratelimit.NewRedis(a.redis, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	}

	l.Info().
		Bool("postgres", a.db != nil).
		Bool("redis", a.redis != nil).
		Bool("nats", a.nats != nil).
		Int("wallet_endpoints", len(cfg.Ledger.EndpointList())).
		Msg("Application initialized")

	return a, nil
}

func (a *App) openStore(e embed.FS) (storage.TransactionRepository, error) {
	if a.config.Database.DSN == "" {
		a.logger.Warn().Msg("DATABASE_URI is empty, using in-memory store")
		return memory.NewTransactionRepository(), nil
	}

	db, err := sql.Open("postgres", a.config.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	a.db = db

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := applyMigrations(e, db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	repo, err := postgres.NewTransactionRepository(db)
	if err != nil {
		return nil, fmt.Errorf("transaction repository init: %w", err)
	}

	return repo, nil
}

// newRegistry with the Go runtime and process collectors registered.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Syncer resolves submitted transfers, run it next to the HTTP server.
func (a *App) Syncer() *syncer.Service {
	return a.syncer
}

// Stop releases external connections.
func (a *App) Stop() {
	a.logger.Info().Msg("Shutting down application")
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.logger.Error().Err(err).Msg("NATS drain")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Redis close")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("DB close")
		}
	}
}
