package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-matchmaking/internal/auth"
	"github.com/example/ride-matchmaking/internal/config"
	"github.com/example/ride-matchmaking/internal/dispatch"
	"github.com/example/ride-matchmaking/internal/geo"
	httpapi "github.com/example/ride-matchmaking/internal/http"
	"github.com/example/ride-matchmaking/internal/location"
	"github.com/example/ride-matchmaking/internal/logging"
	"github.com/example/ride-matchmaking/internal/matcher"
	"github.com/example/ride-matchmaking/internal/pricing"
	"github.com/example/ride-matchmaking/internal/rides"
	"github.com/example/ride-matchmaking/internal/storage"
)

const migrationFile = "migrations/001_create_rides.sql"

// stateStore is everything the server needs from the state store.
type stateStore interface {
	location.Cache
	geo.SpatialIndex
	geo.LeaseStore
	pricing.Counters
	rides.HashStore
	Ping(ctx context.Context) error
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close resource", "error", err)
			}
		}
	}()

	hub := dispatch.NewHub(logger.With("component", "ws"))
	defer hub.Close()

	var (
		store stateStore
		sinks []dispatch.Sink
	)
	if len(cfg.RedisAddrs) > 0 {
		client := storage.NewRedisClient(storage.RedisOptions{
			Addrs:      cfg.RedisAddrs,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MasterName: cfg.RedisMasterName,
		})
		rs := storage.NewRedisStore(client, cfg.StoreOpTimeout)
		closers = append(closers, rs.Close)
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup", "addrs", cfg.RedisAddrs, "error", err)
		}
		store = rs

		// every instance relays the shared channel into its own hub
		relay := dispatch.NewRedisRelay(client, cfg.NotifyChannel, hub, logger.With("component", "relay"))
		go relay.Run(ctx)
		sinks = append(sinks, relay)
		logger.Info("using redis state store", "addrs", cfg.RedisAddrs, "channel", cfg.NotifyChannel)
	} else {
		store = storage.NewMemoryStore()
		sinks = append(sinks, hub)
		logger.Warn("REDIS_ADDR not set, using in-process state store")
	}

	if len(cfg.KafkaBrokers) > 0 {
		ks := dispatch.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger.With("component", "kafka"))
		closers = append(closers, ks.Close)
		sinks = append(sinks, ks)
	}
	if cfg.AMQPURL != "" {
		as, err := dispatch.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		closers = append(closers, as.Close)
		sinks = append(sinks, as)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.WebhookURL))
	}

	var archive storage.RideArchive
	if cfg.PGDSN != "" {
		pa, err := storage.NewPostgresArchive(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		closers = append(closers, pa.Close)
		if cfg.RunMigrations {
			if err := pa.Migrate(ctx, migrationFile); err != nil {
				return err
			}
			logger.Info("migration applied", "file", migrationFile)
		}
		archive = pa
	}

	var geocoder location.Geocoder
	if cfg.GoogleMapsAPIKey != "" {
		g, err := location.NewGoogleGeocoder(cfg.GoogleMapsAPIKey)
		if err != nil {
			return err
		}
		geocoder = g
	} else {
		logger.Warn("GOOGLE_MAPS_API_KEY not set, caching pickup points without geocoding")
	}

	locator := geo.NewLocator(store, cfg.RedisGeoKey, cfg.MatchRadiusMeters, cfg.MatchMaxResults)
	svc := &matcher.Service{
		Resolver:        location.NewResolver(store, geocoder, cfg.LocationCacheTTL, cfg.GeocodeTimeout, logger.With("component", "location")),
		Locator:         locator,
		Pricing:         pricing.NewEngine(store, cfg.BaseFare),
		Rides:           rides.NewManager(store, cfg.RedisRideHash, archive, logger.With("component", "rides")),
		Notifier:        dispatch.NewDispatcher(logger.With("component", "dispatch"), cfg.FinalizeTimeout, sinks...),
		Logger:          logger.With("component", "matcher"),
		RadiusMeters:    cfg.MatchRadiusMeters,
		MaxResults:      cfg.MatchMaxResults,
		FinalizeTimeout: cfg.FinalizeTimeout,
	}
	if cfg.DriverLeaseTTL > 0 {
		svc.Claims = geo.NewLeaser(store, cfg.DriverLeaseTTL)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Rides:        svc,
		Drivers:      locator,
		Store:        store,
		Hub:          hub,
		Auth:         auth.NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword, cfg.JWTSecret, cfg.JWTTTL),
		AuthRequired: cfg.AuthRequired,
		Logger:       logger.With("component", "http"),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-matchmaking listening", "addr", cfg.HTTPAddr, "sinks", len(sinks), "auth_required", cfg.AuthRequired)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}
