package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/queued-reservation/internal/config"
	"github.com/iliyamo/queued-reservation/internal/database"
	"github.com/iliyamo/queued-reservation/internal/handler"
	"github.com/iliyamo/queued-reservation/internal/logging"
	"github.com/iliyamo/queued-reservation/internal/middleware"
	"github.com/iliyamo/queued-reservation/internal/model"
	"github.com/iliyamo/queued-reservation/internal/queue"
	"github.com/iliyamo/queued-reservation/internal/router"
	"github.com/iliyamo/queued-reservation/internal/service"
	"github.com/iliyamo/queued-reservation/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is mandatory for the redis store; otherwise it only backs the
	// rate limiter and the catalog cache, which are skipped without it.
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		if cfg.StoreDriver == "redis" {
			return err
		}
		logger.Warn("redis unavailable, rate limiting and caching disabled", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	st, closeStore, err := openStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer closeStore()

	q, err := openQueue(cfg, logger)
	if err != nil {
		return err
	}

	seats := service.NewSeatService(st, q, service.SeatConfig{
		CounterKey: cfg.SeatsKey,
		Initial:    cfg.SeatsInitial,
	}, logger)
	if err := seats.Init(ctx); err != nil {
		return err
	}
	if err := seats.StartProcessing(); err != nil {
		return fmt.Errorf("start seat worker: %w", err)
	}
	stock := service.NewStockService(st, model.Catalog(), service.ReserveMode(cfg.StockMode), logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))

	guards := router.Guards{}
	if rdb != nil {
		guards.RateLimit = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
		guards.Cache = middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	}
	sh := handler.NewSeatHandler(seats, logger)
	router.RegisterRoutes(e, sh)
	router.RegisterSeats(e, sh, guards)
	router.RegisterStock(e, handler.NewStockHandler(stock, logger), guards)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreDriver),
			zap.String("queue", cfg.QueueDriver),
			zap.String("stock_mode", string(stock.Mode())),
		)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			_ = q.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := q.Close(sctx); err != nil {
		logger.Error("queue shutdown", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "redis":
		return store.NewRedis(rdb), func() {}, nil
	case "mysql":
		db, err := database.Open(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		kv := store.NewMySQL(db)
		if err := kv.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return kv, func() { _ = db.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}

func openQueue(cfg config.Config, logger *zap.Logger) (queue.Queue, error) {
	if cfg.QueueDriver == "amqp" {
		q, err := queue.DialAMQP(cfg.AMQPURL, cfg.AMQPPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		return q, nil
	}
	return queue.NewMemory(cfg.QueueBuffer, logger), nil
}
