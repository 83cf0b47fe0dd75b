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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mpesa-billing/internal/admin"
	"mpesa-billing/internal/cache"
	"mpesa-billing/internal/config"
	"mpesa-billing/internal/database"
	"mpesa-billing/internal/events"
	"mpesa-billing/internal/mpesa"
	"mpesa-billing/internal/notify"
	"mpesa-billing/internal/payment"
	"mpesa-billing/internal/recharge"
	"mpesa-billing/internal/store"
)

func main() {
	cfg := config.LoadConfig()

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info("M-PESA gateway starting...")

	db, err := database.ConnectPostgres(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Could not connect to database", zap.Error(err))
	}

	var notifier payment.Notifier = notify.NewLog(appLogger.With(zap.String("component", "Notifier")))
	if cfg.BotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.BotToken, cfg.TelegramChatID, appLogger.With(zap.String("component", "TelegramNotifier")))
		if err != nil {
			appLogger.Fatal("Could not create telegram bot", zap.Error(err))
		}
		notifier = tg
		appLogger.Info("Telegram notifications enabled", zap.Int64("chat_id", cfg.TelegramChatID))
	}

	clientOpts := []mpesa.Option{
		mpesa.WithLogger(appLogger),
		mpesa.WithNotifier(notifier),
	}
	if cfg.Mpesa.CacheToken {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := database.ConnectRedis(ctx, cfg, appLogger)
		cancel()
		if err != nil {
			appLogger.Warn("Token cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			clientOpts = append(clientOpts, mpesa.WithTokenCache(cache.NewRedisTokenCache(rdb, appLogger)))
		}
	}

	var publisher payment.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := events.EnsureTopic(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, appLogger); err != nil {
			appLogger.Warn("Failed to ensure Kafka topic", zap.Error(err))
		}
		cancel()

		producer := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, appLogger.With(zap.String("component", "KafkaProducer")))
		defer func() {
			if err := producer.Close(); err != nil {
				appLogger.Error("Error closing Kafka producer", zap.Error(err))
			}
		}()
		publisher = producer
	}

	if cfg.RechargeURL == "" {
		appLogger.Warn("RECHARGE_API_URL is not set, plan activation will fail")
	}

	transactions := store.NewTransactions(db)
	customers := store.NewCustomers(db)
	settings := store.NewSettings(db)

	gateway := payment.NewGatewayFactory(cfg.Mpesa, settings, appLogger, clientOpts...)
	service := payment.NewService(
		transactions,
		customers,
		gateway,
		recharge.NewClient(cfg.RechargeURL, cfg.RechargeKey),
		payment.WithNotifier(notifier),
		payment.WithPublisher(publisher),
		payment.WithLogger(appLogger),
	)

	router := newRouter(
		pingDatabase(db),
		payment.NewHandler(service, transactions, customers, cfg.AllowedMpesaIP, cfg.TrustedProxies, appLogger),
		admin.NewHandler(settings, cfg.Mpesa, cfg.AdminToken, appLogger),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down application...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}
}
