package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apotek/backend/internal/alerts"
	"apotek/backend/internal/cache"
	"apotek/backend/internal/config"
	"apotek/backend/internal/events"
	"apotek/backend/internal/httpapi"
	"apotek/backend/internal/lock"
	"apotek/backend/internal/logging"
	"apotek/backend/internal/realtime"
	"apotek/backend/internal/service"
	"apotek/backend/internal/store"
	"apotek/backend/internal/store/memory"
	pgstore "apotek/backend/internal/store/postgres"
)

const initialAPAEmail = "apa@apotek.local"

func main() {
	cfg := config.Load()
	logging.Configure(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	log := logging.For("main")

	if err := validateSecurityConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(runCtx, 15*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(startCtx); err != nil {
			log.WithError(err).Fatal("failed to apply schema")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	var (
		cacheStore cache.Cache = cache.NewMemory()
		locker     lock.Locker = lock.NewLocal(5 * time.Second)
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedis(client)
		if err := redisCache.Ping(startCtx); err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process cache and locks")
			_ = client.Close()
		} else {
			cacheStore = redisCache
			locker = lock.NewRedis(client, 10*time.Second)
			closers = append(closers, client.Close)
			log.Info("cache and locks: redis")
		}
	} else {
		log.Info("cache and locks: in-process")
	}

	hub := realtime.NewHub(cfg.AllowedOrigin)
	go hub.Run(runCtx)
	publishers := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		publishers = append(publishers, producer)
		closers = append(closers, producer.Close)
		log.WithField("topic", cfg.KafkaTopic).Info("stock events: kafka")
	}

	alertEngine := alerts.NewEngine(cacheStore, time.Minute, cfg.LowStockThreshold, cfg.ExpiryWarningDays)
	svc := service.New(repo, service.Options{
		Cache:              cacheStore,
		IncompleteCacheTTL: time.Duration(cfg.IncompleteCacheTTLSeconds) * time.Second,
		Locker:             locker,
		Publisher:          publishers,
		Alerts:             alertEngine,
		PriceMerge:         cfg.SalePriceMerge,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if cfg.DatabaseURL != "" {
		bootstrapAPA(startCtx, auth, cfg.SeedAPAPassword)
	}
	api := httpapi.New(svc, auth, hub, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("apotek backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("server stopped")
}

// bootstrapAPA makes sure a fresh database has someone who can log in.
func bootstrapAPA(ctx context.Context, auth *httpapi.AuthManager, password string) {
	log := logging.For("main")
	if password == "" {
		users, err := auth.ListUsers(ctx)
		if err == nil && len(users) == 0 {
			log.Warn("no users exist and SEED_APA_PASSWORD is unset; nobody can log in")
		}
		return
	}
	created, err := auth.EnsureInitialAPA(ctx, initialAPAEmail, password)
	if err != nil {
		log.WithError(err).Fatal("failed to create initial APA account")
	}
	if created {
		log.WithField("email", initialAPAEmail).Info("initial APA account created")
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when DATABASE_URL is set")
	}
	return nil
}
