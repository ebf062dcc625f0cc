package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/betchannel/internal/blob/s3"
	"github.com/alanyoungcy/betchannel/internal/cache/redis"
	"github.com/alanyoungcy/betchannel/internal/chain"
	"github.com/alanyoungcy/betchannel/internal/config"
	"github.com/alanyoungcy/betchannel/internal/crypto"
	"github.com/alanyoungcy/betchannel/internal/domain"
	"github.com/alanyoungcy/betchannel/internal/notify"
	"github.com/alanyoungcy/betchannel/internal/oracle"
	"github.com/alanyoungcy/betchannel/internal/relay"
	"github.com/alanyoungcy/betchannel/internal/server"
	"github.com/alanyoungcy/betchannel/internal/server/handler"
	"github.com/alanyoungcy/betchannel/internal/server/ws"
	"github.com/alanyoungcy/betchannel/internal/session"
	"github.com/alanyoungcy/betchannel/internal/settlement"
	"github.com/alanyoungcy/betchannel/internal/store/memory"
	"github.com/alanyoungcy/betchannel/internal/store/postgres"
)

// Dependencies bundles every constructed component the application runs. It
// is built by Wire and torn down by the returned cleanup function. Optional
// components (chain, relay, archiver) are nil when disabled in the config.
type Dependencies struct {
	Store       domain.SessionStore
	Leaderboard domain.LeaderboardStore
	RateLimiter domain.RateLimiter

	Oracle   *oracle.ManifoldClient
	Chain    *chain.CustodyClient
	Relay    *relay.Client
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier

	Hub      *ws.Hub
	Sessions *session.Manager
	Trigger  *settlement.Trigger
	Server   *server.Server
}

// settleService runs settlement and pushes the result to connected
// WebSocket clients. It sits between the HTTP handler and the trigger so
// the trigger itself stays transport-agnostic.
type settleService struct {
	trigger *settlement.Trigger
	hub     *ws.Hub
}

func (s *settleService) SettleMarket(ctx context.Context, marketID string) (settlement.Result, error) {
	res, err := s.trigger.SettleMarket(ctx, marketID)
	if err != nil {
		return res, err
	}
	s.hub.MarketSettled(res.MarketID, res.ResolvedYes, res.TxHash, res.BetsSettled)
	return res, nil
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Session ledger ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewSessionStore(pgClient.Pool())
	case "memory":
		deps.Store = memory.NewSessionStore()
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown store backend %q", cfg.Store.Backend)
	}

	// --- Redis (leaderboard + rate limiting) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Leaderboard = redis.NewLeaderboard(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Market oracle ---
	deps.Oracle = oracle.NewManifoldClient(cfg.Oracle.BaseURL)

	// --- Custody contract (optional) ---
	if cfg.Chain.Enabled {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.OracleKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: settlement key: %w", err)
		}
		custody, err := chain.NewCustodyClient(ctx, chain.Config{
			RPCURL:         cfg.Chain.RPCURL,
			ChainID:        cfg.Chain.ChainID,
			CustodyAddress: cfg.Chain.CustodyAddress,
			OracleKeyHex:   keyHex,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, custody.Close)
		deps.Chain = custody
	}

	// --- Relay (optional) ---
	if cfg.Relay.Enabled {
		deps.Relay = relay.NewClient(relay.Config{
			URL:            cfg.Relay.URL,
			RequestTimeout: cfg.Relay.RequestTimeout.Duration,
			QueueSize:      cfg.Relay.QueueSize,
		}, logger)
		closers = append(closers, func() { _ = deps.Relay.Close() })
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Settled-bet archive (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		// Fail fast on a misconfigured bucket rather than on the first
		// archive run.
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Store,
			cfg.Archive.BatchSize,
			logger,
		)
	}

	// --- Core services ---
	deps.Hub = ws.NewHub(logger)

	// A nil *relay.Client must not become a non-nil interface.
	var sessionRelay session.Relay
	if deps.Relay != nil {
		sessionRelay = deps.Relay
	}
	deps.Sessions = session.NewManager(deps.Store, sessionRelay, logger).
		WithEventSink(deps.Hub)

	var settler settlement.Settler
	if deps.Chain != nil {
		settler = deps.Chain
	}
	deps.Trigger = settlement.NewTrigger(deps.Oracle, settler, deps.Sessions, logger).
		WithScores(deps.Leaderboard).
		WithNotifier(deps.Notifier)

	// --- HTTP server ---
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(logger),
		Markets:     handler.NewMarketHandler(deps.Oracle, cfg.Oracle.MaxMarkets, logger),
		Sessions:    handler.NewSessionHandler(deps.Sessions, logger),
		Settle:      handler.NewSettleHandler(&settleService{trigger: deps.Trigger, hub: deps.Hub}, logger),
		Leaderboard: handler.NewLeaderboardHandler(deps.Leaderboard, logger),
	}
	deps.Server = server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
	}, handlers, deps.Hub, deps.RateLimiter, logger)

	return deps, cleanup, nil
}
