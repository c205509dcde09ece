package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mbenitez/solemarket/internal/api"
	"github.com/mbenitez/solemarket/internal/auth"
	"github.com/mbenitez/solemarket/internal/config"
	"github.com/mbenitez/solemarket/internal/db"
	"github.com/mbenitez/solemarket/internal/market"
	"github.com/mbenitez/solemarket/internal/rates"
	"github.com/mbenitez/solemarket/internal/stats"
)

// Main entry point: wires the store, rate provider, matching service and
// HTTP server together.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	rateSvc := rates.New(database, cfg.Market.RateCacheTTL, logger)
	go rateSvc.Run(ctx, cfg.Market.RateRefreshInterval)

	hub := stats.NewHub(logger)
	marketSvc := market.NewService(database, rateSvc, hub, logger)
	go marketSvc.RunSweeper(ctx, cfg.Market.SweepInterval)

	authSvc := auth.New(database, cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	handler := api.NewHandler(marketSvc, authSvc, logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Trade feed for market-stats consumers.
	r.Get("/ws", hub.Handler())
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handler.Routes())

	logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
	if err := http.ListenAndServe(cfg.Server.Addr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
