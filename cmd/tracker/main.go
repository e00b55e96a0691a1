// Package main запускает HTTP-сервер сервиса отслеживания заказов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/order-tracker/internal/config"
	"github.com/mmeshcher/order-tracker/internal/events"
	"github.com/mmeshcher/order-tracker/internal/handler"
	"github.com/mmeshcher/order-tracker/internal/inflight"
	"github.com/mmeshcher/order-tracker/internal/metrics"
	"github.com/mmeshcher/order-tracker/internal/middleware"
	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/orderapi"
	"github.com/mmeshcher/order-tracker/internal/repository"
	"github.com/mmeshcher/order-tracker/internal/tracker"
)

const serviceActorID = "order-tracker"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orders := orderapi.NewClient(cfg.OrderServiceAddress, cfg.RequestTimeout)
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)

	opts := []tracker.Option{tracker.WithMetrics(m)}

	var history handler.HistoryStore
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer repo.Close()

		history = repo
		opts = append(opts, tracker.WithListeners(repo))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, m)
		defer publisher.Close()

		opts = append(opts, tracker.WithListeners(publisher))
		sugar.Infow("publishing status events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		guard := inflight.NewGuard(rdb, inflight.DefaultTTL)
		if err := guard.Ping(ctx); err != nil {
			// флаг остаётся подключённым: при недоступности Redis синхронизатор полагается на локальный
			sugar.Warnw("redis is unavailable", "addr", cfg.RedisAddr, "error", err.Error())
		}
		opts = append(opts, tracker.WithGuard(guard))
	}

	synchronizer := tracker.NewSynchronizer(orders, logger, opts...)

	serviceActor, err := newServiceActor(cfg, authMiddleware)
	if err != nil {
		sugar.Fatalw("service credentials error", "error", err.Error())
	}

	h := handler.NewHandler(synchronizer, orders, history, logger, authMiddleware)
	r := h.SetupRouter(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое обновление отслеживаемых заказов
	g.Go(func() error {
		synchronizer.Run(ctx, cfg.RefreshInterval, serviceActor)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting order tracker", "addr", cfg.RunAddress, "orderService", cfg.OrderServiceAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// newServiceActor возвращает учётные данные фонового обновления.
// Без ORDER_SERVICE_TOKEN токен подписывается собственным секретом.
func newServiceActor(cfg *config.Config, auth *middleware.AuthMiddleware) (model.Actor, error) {
	actor := model.Actor{Role: model.RoleSystem, ID: serviceActorID, Token: cfg.OrderServiceToken}
	if actor.Token != "" {
		return actor, nil
	}

	token, err := auth.IssueToken(actor, 0)
	if err != nil {
		return model.Actor{}, err
	}
	actor.Token = token
	return actor, nil
}
