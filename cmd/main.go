package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"braibit-api/internal/app"
	"braibit-api/internal/config"
	"braibit-api/internal/events"
	"braibit-api/internal/handlers"
	"braibit-api/internal/ledger"
	"braibit-api/internal/market"
	"braibit-api/internal/seed"
	"braibit-api/internal/services"
	"braibit-api/pkg/database"
	"braibit-api/pkg/utils"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.IsProduction(), cfg.LogFile)
	defer logger.Sync()

	logger.Info("Starting braibit api",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.StoreDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, database.Config{
		Driver:   cfg.StoreDriver,
		DSN:      cfg.DBDSN,
		BoltPath: cfg.BoltPath,
	})
	if err != nil {
		logger.Fatal("Failed to open document store", zap.Error(err))
	}
	defer store.Close()

	gen := utils.NewGenerator()
	hub := events.NewHub(logger)

	l := ledger.New(store, logger, ledger.Options{
		Policy:                ledger.AwardPolicy(cfg.AwardPolicy),
		RequiredConfirmations: cfg.RequiredConfirmations,
		Generator:             gen,
		OnPersist:             func(name string) { hub.Publish(name) },
	})

	err = l.Load(ctx, func() (*ledger.Genesis, error) {
		roster, err := seed.LoadRoster(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		return seed.Build(roster, gen, seed.Options{
			HashSecrets:           cfg.HashSecrets(),
			RequiredConfirmations: cfg.RequiredConfirmations,
		})
	})
	if err != nil {
		logger.Fatal("Failed to load ledger", zap.Error(err))
	}
	logger.Info("Ledger ready",
		zap.String("award_policy", string(l.Policy())),
		zap.Int("required_confirmations", l.RequiredConfirmations()),
	)

	quoter := market.NewQuoter(cfg.QuoteURL, logger)
	price := market.NewTokenPrice(gen)
	mkt := market.New(quoter, price)

	scheduler := app.NewScheduler(logger,
		app.ConfirmationTask(l, cfg.BlockInterval, logger),
		app.Task{
			Name:       "btc-quote",
			Interval:   cfg.QuoteInterval,
			RunAtStart: true,
			Run: func(ctx context.Context) {
				// A failed fetch keeps the previous quote.
				_ = quoter.Refresh(ctx)
			},
		},
		app.Task{
			Name:       "token-price",
			Interval:   cfg.PriceInterval,
			RunAtStart: true,
			Run: func(context.Context) {
				price.Step(time.Now())
			},
		},
	)
	scheduler.Start(ctx)

	svc := services.NewService(l, mkt, cfg.JWTSecret, cfg.TutorSecret, logger)
	h := handlers.NewHandler(svc, hub, logger)
	server := handlers.NewApp(h, cfg.CORSOrigins, true)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		hub.Close()
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Warn("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Server listening", zap.String("port", cfg.Port))
	if err := server.Listen(":" + cfg.Port); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}

	scheduler.Stop()
}
