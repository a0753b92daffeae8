package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/config"
	"github.com/example/ride-matchmaking/internal/logging"
	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/rides"
	"github.com/example/ride-matchmaking/internal/storage"
)

// The consumer tails ride status events from Kafka and mirrors the current
// ride record from the state store into the Postgres archive. It lets API
// instances run without database access.

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_events_consumed_total",
		Help: "Total ride events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_events_invalid_total",
		Help: "Total undecodable ride events",
	})
	ridesArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_rides_archived_total",
		Help: "Total ride records written to the archive",
	})
	archiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_errors_total",
		Help: "Total events that could not be archived",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, ridesArchived, archiveErrors)
}

func main() {
	var metricsAddr, group string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.StringVar(&group, "group", "ride-archiver", "kafka consumer group")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel).With("component", "archiver")

	if len(cfg.KafkaBrokers) == 0 || cfg.PGDSN == "" || len(cfg.RedisAddrs) == 0 {
		logger.Error("KAFKA_BROKERS, PG_DSN and REDIS_ADDR are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewRedisStore(storage.NewRedisClient(storage.RedisOptions{
		Addrs:      cfg.RedisAddrs,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MasterName: cfg.RedisMasterName,
	}), cfg.StoreOpTimeout)
	defer store.Close()

	archive, err := storage.NewPostgresArchive(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("open archive", "error", err)
		os.Exit(1)
	}
	defer archive.Close()

	manager := rides.NewManager(store, cfg.RedisRideHash, nil, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		eventsConsumed.Inc()

		var ev models.RideEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.RideID == "" {
			eventsInvalid.Inc()
			logger.Warn("invalid ride event", "offset", m.Offset, "error", err)
			continue
		}

		if err := archiveWithRetry(ctx, manager, archive, ev.RideID, 3, 200*time.Millisecond); err != nil {
			archiveErrors.Inc()
			logger.Error("archive failed", "ride_id", ev.RideID, "error", err)
			continue
		}
		ridesArchived.Inc()
	}
}

type rideReader interface {
	Get(ctx context.Context, rideID string) (models.RideStatus, error)
}

// archiveWithRetry copies the current ride record into the archive. The
// record is re-read on every attempt so the latest status wins. A ride that
// no longer exists in the state store is skipped.
func archiveWithRetry(ctx context.Context, src rideReader, dst storage.RideArchive, rideID string, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		ride, err := src.Get(ctx, rideID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		if err := dst.SaveRide(ctx, ride); err != nil {
			lastErr = err
			continue
		}
		if err := dst.UpdateRide(ctx, ride); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
