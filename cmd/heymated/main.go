package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harinnig/heymateBackend/internal/config"
	"github.com/harinnig/heymateBackend/internal/directory"
	"github.com/harinnig/heymateBackend/internal/httpapi"
	"github.com/harinnig/heymateBackend/internal/httpclient"
	"github.com/harinnig/heymateBackend/internal/lifecycle"
	"github.com/harinnig/heymateBackend/internal/matching"
	"github.com/harinnig/heymateBackend/internal/notify"
	"github.com/harinnig/heymateBackend/internal/payment"
	"github.com/harinnig/heymateBackend/internal/places"
	"github.com/harinnig/heymateBackend/internal/store"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Environment == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting heymated",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store_type", cfg.StoreType,
	)

	var requests store.RequestStore
	var orders payment.OrderStore
	var mongoClient *mongo.Client

	switch cfg.StoreType {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		clientOpts := options.Client().ApplyURI(cfg.MongoURI)
		var mongoErr error
		mongoClient, mongoErr = mongo.Connect(ctx, clientOpts)
		if mongoErr != nil {
			slog.Error("failed to connect to mongodb", "error", mongoErr)
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, nil); err != nil {
			slog.Error("failed to ping mongodb", "error", err)
			os.Exit(1)
		}

		mongoStore := store.NewMongoStore(mongoClient, cfg.MongoDB, cfg.MongoCollection)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			slog.Warn("failed to create request indexes", "error", err)
		}
		requests = mongoStore

		orderStore := payment.NewMongoOrderStore(mongoClient, cfg.MongoDB, cfg.MongoOrderCollection)
		if err := orderStore.EnsureIndexes(ctx); err != nil {
			slog.Warn("failed to create order indexes", "error", err)
		}
		orders = orderStore
		slog.Info("using mongodb store", "db", cfg.MongoDB, "collection", cfg.MongoCollection)

	case "postgres":
		runMigrations(cfg.MigrationURL, cfg.PostgresConn)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, poolErr := pgxpool.New(ctx, cfg.PostgresConn)
		if poolErr != nil {
			slog.Error("failed to connect to postgres", "error", poolErr)
			os.Exit(1)
		}
		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping postgres", "error", err)
			os.Exit(1)
		}
		requests = store.NewPostgresStore(pool)
		orders = payment.NewMemoryOrderStore()
		slog.Info("using postgres store")

	default:
		requests = store.NewMemoryStore()
		orders = payment.NewMemoryOrderStore()
		slog.Info("using in-memory store (development mode)")
	}
	defer func() { _ = requests.Close() }()
	if mongoClient != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(ctx); err != nil {
				slog.Error("failed to disconnect mongodb", "error", err)
			}
		}()
	}

	var transports []notify.Transport
	if cfg.WebhookEndpoint != "" {
		transports = append(transports, notify.NewWebhookTransport(cfg.WebhookEndpoint))
		slog.Info("webhook notifications enabled", "endpoint", cfg.WebhookEndpoint)
	}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kafkaTransport := notify.NewKafkaTransport(brokers, cfg.KafkaTopic)
		defer func() { _ = kafkaTransport.Close() }()
		transports = append(transports, kafkaTransport)
		slog.Info("kafka notifications enabled", "topic", cfg.KafkaTopic)
	}
	if len(transports) == 0 {
		transports = append(transports, notify.NewLogTransport())
	}
	fanout := notify.NewFanout(transports...)

	// In remote mode the registry service owns provider profiles, so
	// the local profile endpoints stay unwired.
	var dir directory.Directory
	var jobs directory.JobCounter
	var profiles *directory.Local
	if cfg.DirectoryMode == "remote" {
		remote := directory.NewClient(cfg.DirectoryURL)
		dir = remote
		jobs = remote
		slog.Info("using remote provider directory", "url", cfg.DirectoryURL)
	} else {
		local := directory.NewLocal()
		dir = local
		jobs = local
		profiles = local
	}

	engine := matching.New(dir, requests, fanout, cfg.MatchBatchSize)

	svc := lifecycle.New(
		requests,
		engine,
		fanout,
		payment.NewGatewayGate(cfg.GatewayKeySecret, orders),
		payment.NewCashGate(),
		orders,
		jobs,
		lifecycle.Policy{
			AllowCancelActive: cfg.AllowCancelActive,
			CashSkipsPayment:  cfg.CashSkipsPayment,
		},
	)

	placesClient := httpclient.NewClient("places", 15*time.Second)
	chain := places.NewChain(0,
		places.NewOverpassSource(cfg.OverpassURL, placesClient),
		places.NewNominatimSource(cfg.NominatimURL, cfg.NominatimUserAgent, placesClient),
	)

	router := httpapi.NewRouter(svc, profiles, chain)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func runMigrations(migrationURL, dbSource string) {
	migration, err := migrate.New(migrationURL, dbSource)
	if err != nil {
		slog.Error("cannot create migrate instance", "error", err)
		os.Exit(1)
	}
	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("db migrated successfully")
}
