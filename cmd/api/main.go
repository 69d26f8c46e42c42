package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"noteledger/internal/app"
	"noteledger/internal/authpw"
	"noteledger/internal/config"
	"noteledger/internal/logging"
	"noteledger/internal/metrics"
	"noteledger/internal/mirror"
	"noteledger/internal/retention"
	"noteledger/internal/search"
	"noteledger/internal/session"
	"noteledger/internal/store"
	"noteledger/internal/version"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.MirrorsDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create mirrors dir")
	}

	dataStore := store.NewPostgres(db)
	mirrorService := mirror.New(cfg.MirrorsDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, log)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer sessions.Close()
		log.Info().Msg("refresh sessions stored in redis")
	} else {
		log.Warn().Msg("REDIS_URL not set, refresh tokens disabled")
	}

	service := app.New(app.Deps{
		Cfg:       cfg,
		Store:     dataStore,
		Versioner: version.NewVersioner(dataStore, cfg.DiffMaxLines),
		Sweeper:   retention.NewEngine(dataStore),
		Accounts:  authpw.NewService(dataStore),
		Sessions:  sessions,
		Search:    searchService,
		Mirror:    mirrorService,
		Metrics:   metrics.New(),
		Log:       log,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("noteledger api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
