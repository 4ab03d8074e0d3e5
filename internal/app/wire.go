package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/alanyoungcy/venuebot/internal/blob/s3"
	"github.com/alanyoungcy/venuebot/internal/cache/redis"
	"github.com/alanyoungcy/venuebot/internal/config"
	"github.com/alanyoungcy/venuebot/internal/crypto"
	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/gateway"
	"github.com/alanyoungcy/venuebot/internal/metrics"
	"github.com/alanyoungcy/venuebot/internal/notify"
	"github.com/alanyoungcy/venuebot/internal/store/postgres"
	"github.com/alanyoungcy/venuebot/internal/venue/gmx"
	"github.com/alanyoungcy/venuebot/internal/venue/hyperliquid"
	"github.com/alanyoungcy/venuebot/internal/venue/ostium"
	"github.com/alanyoungcy/venuebot/internal/venue/spot"
)

// Supported chain ids. The spot DEX runs on Base, the on-chain perp protocol
// on Arbitrum.
const (
	chainArbitrum int64 = 42161
	chainBase     int64 = 8453
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Deployments domain.DeploymentStore
	Signals     domain.SignalStore
	Positions   domain.PositionStore
	Statuses    domain.VenueStatusStore
	Registry    domain.TokenRegistryStore
	Fees        domain.FeeEventStore

	// Caches
	Prices      domain.PriceCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager

	// On-chain
	Signer  *crypto.Signer
	Gateway *gateway.Gateway

	// Venue adapters keyed by venue.
	Adapters map[domain.Venue]domain.VenueAdapter

	// HLFeed streams off-chain venue mid prices into the price cache. Nil
	// when no websocket endpoint is configured.
	HLFeed *hyperliquid.PriceFeed

	// Observability and side channels.
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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

	pool := pgClient.Pool()
	deps.Deployments = postgres.NewDeploymentStore(pool)
	deps.Signals = postgres.NewSignalStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Statuses = postgres.NewVenueStatusStore(pool)
	deps.Registry = postgres.NewTokenRegistryStore(pool)
	deps.Fees = postgres.NewFeeEventStore(pool)

	// --- Redis ---
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

	priceTTL := 30 * time.Second
	if cfg.Redis.PriceTTLSec > 0 {
		priceTTL = time.Duration(cfg.Redis.PriceTTLSec) * time.Second
	}
	deps.Prices = redis.NewPriceCache(redisClient, priceTTL)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- Executor key and on-chain gateway ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Executor.PrivateKey,
		EncryptedKeyPath: cfg.Executor.EncryptedKeyPath,
		KeyPassword:      cfg.Executor.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: executor key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	deps.Signer = signer

	rpcs := map[int64]string{}
	if cfg.Chains.ArbitrumRPC != "" {
		rpcs[chainArbitrum] = cfg.Chains.ArbitrumRPC
	}
	if cfg.Chains.BaseRPC != "" {
		rpcs[chainBase] = cfg.Chains.BaseRPC
	}
	confirmTimeout := 60 * time.Second
	if cfg.Chains.ConfirmTimeoutSec > 0 {
		confirmTimeout = time.Duration(cfg.Chains.ConfirmTimeoutSec) * time.Second
	}
	gw, err := gateway.New(ctx, rpcs, signer, confirmTimeout, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: gateway: %w", err)
	}
	closers = append(closers, gw.Close)
	deps.Gateway = gw

	// --- Venue adapters ---
	adapters, hlFeed, err := wireAdapters(cfg, deps, gw, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Adapters = adapters
	deps.HLFeed = hlFeed

	// --- Metrics, notifications ---
	deps.Metrics = metrics.New(prometheus.DefaultRegisterer)
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	// --- Cold-storage archival ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.Positions,
			deps.Fees,
			s3blob.NewWriter(s3Client),
			cfg.Archive.RetentionDays,
			cfg.Archive.IntervalHours,
			logger,
		)
	}

	return deps, cleanup, nil
}

// wireAdapters builds the venue adapter map. A venue whose endpoints are not
// configured is simply left out of the map; the coordinator and monitor treat
// a missing adapter as "venue not served by this instance".
func wireAdapters(cfg *config.Config, deps *Dependencies, gw *gateway.Gateway, logger *slog.Logger) (map[domain.Venue]domain.VenueAdapter, *hyperliquid.PriceFeed, error) {
	adapters := make(map[domain.Venue]domain.VenueAdapter)

	fundingFor := func(chainID int64) string {
		return cfg.Module.FundingToken[fmt.Sprintf("%d", chainID)]
	}

	if cfg.Spot.RouterAddress != "" {
		a, err := spot.New(gw, deps.Registry, cfg.Spot, chainBase, fundingFor(chainBase), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: spot adapter: %w", err)
		}
		adapters[domain.VenueSpot] = a
	}

	if cfg.GMX.ReaderAddress != "" {
		a, err := gmx.New(gw, deps.Registry, cfg.GMX, chainArbitrum, fundingFor(chainArbitrum), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: gmx adapter: %w", err)
		}
		adapters[domain.VenueGMX] = a
	}

	var hlFeed *hyperliquid.PriceFeed
	if cfg.Hyperliquid.ServiceURL != "" {
		client := hyperliquid.NewClient(
			cfg.Hyperliquid.ServiceURL,
			time.Duration(cfg.Hyperliquid.TimeoutSec)*time.Second,
			deps.RateLimiter,
			cfg.Hyperliquid.RatePerMinute,
		)
		adapters[domain.VenueHyperliquid] = hyperliquid.NewAdapter(client, deps.Prices, logger)
		if cfg.Hyperliquid.WsURL != "" {
			hlFeed = hyperliquid.NewPriceFeed(cfg.Hyperliquid.WsURL, deps.Prices, logger)
		}
	}

	if cfg.Ostium.ServiceURL != "" {
		client := ostium.NewClient(
			cfg.Ostium.ServiceURL,
			time.Duration(cfg.Ostium.TimeoutSec)*time.Second,
			deps.RateLimiter,
			cfg.Ostium.RatePerMinute,
		)
		adapters[domain.VenueOstium] = ostium.NewAdapter(client, logger)
	}

	return adapters, hlFeed, nil
}
