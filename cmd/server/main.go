package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/chat"
	"github.com/timeegg/timeegg-server/internal/config"
	"github.com/timeegg/timeegg-server/internal/database"
	"github.com/timeegg/timeegg-server/internal/handler"
	"github.com/timeegg/timeegg-server/internal/logging"
	"github.com/timeegg/timeegg-server/internal/media"
	"github.com/timeegg/timeegg-server/internal/middleware"
	"github.com/timeegg/timeegg-server/internal/monitoring"
	"github.com/timeegg/timeegg-server/internal/payment"
	"github.com/timeegg/timeegg-server/internal/queue"
	"github.com/timeegg/timeegg-server/internal/repository"
	"github.com/timeegg/timeegg-server/internal/router"
	"github.com/timeegg/timeegg-server/internal/scheduler"
	"github.com/timeegg/timeegg-server/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// No logger yet: the env decides its format.
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, logger); err != nil {
		return err
	}

	rdb := config.NewRedisClient(logger)
	if rdb != nil {
		defer rdb.Close()
	}
	clk := clockwork.NewRealClock()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	orders := repository.NewOrderRepo(db)
	rooms := repository.NewRoomRepo(db)
	capsules := repository.NewCapsuleRepo(db)
	notices := repository.NewNoticeRepo(db)
	inquiries := repository.NewInquiryRepo(db)

	var events service.Publisher = service.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, logger)
		go pub.Run(ctx)
		events = pub
		consumer := queue.NewConsumer(cfg.AMQPURL, logger, queue.ActivityLog(logger))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("AMQP_URL not set; domain events are dropped")
	}

	// An untyped nil keeps PaymentService's "not configured" check working.
	var gateway service.Gateway
	if cfg.TossSecretKey != "" {
		gateway = payment.NewClient(cfg.TossAPIURL, cfg.TossSecretKey, cfg.TossTimeout, logger)
	} else {
		logger.Warn("TOSS_SECRET_KEY not set; payment confirmation is disabled")
	}

	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, logger)

	roomSvc := service.NewRoomService(rooms, orders, capsules, clk, events, cache, logger)
	orderSvc := service.NewOrderService(orders, cfg.Prices, clk, logger)
	paySvc := service.NewPaymentService(orders, gateway, events, clk, logger)
	capsuleSvc := service.NewCapsuleService(capsules, cfg.EggSlots, cfg.DiscoveryRadiusM, clk, events, logger)
	supportSvc := service.NewSupportService(notices, inquiries, clk)

	store, err := media.NewStore(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(roomSvc, tokens, monitoring.NewMonitor(rooms, logger),
		scheduler.Specs{AutoSubmit: cfg.AutoSubmitSpec}, clk, logger)
	if err != nil {
		return err
	}
	sched.Start()

	hub := chat.NewHub(supportSvc, cfg.JWTSecret, cfg.AllowedOrigins, logger)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Use(echomw.Recover())
	e.Use(logging.RequestLogger(logger))
	if cfg.MetricsEnabled {
		e.Use(monitoring.RequestMetrics())
	}
	corsCfg := echomw.DefaultCORSConfig
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	e.Use(echomw.CORSWithConfig(corsCfg))

	guards := router.Guards{
		JWTSecret: cfg.JWTSecret,
		Cache:     cache,
		Limit:     middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, clk, logger),
	}
	router.RegisterRoutes(e, db, cfg.MetricsEnabled, cfg.MediaDir, cfg.MediaBaseURL)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, clk, logger), guards)
	router.RegisterCapsules(e, handler.NewRoomHandler(roomSvc, logger), handler.NewCapsuleHandler(capsuleSvc, logger), guards)
	router.RegisterOrders(e, handler.NewOrderHandler(orderSvc, paySvc, logger), guards)
	router.RegisterSupport(e, handler.NewSupportHandler(supportSvc, logger), handler.NewMediaHandler(store, logger), guards)
	router.RegisterChat(e, hub)

	addr := ":" + cfg.Port
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case err := <-srvErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Shutdown()
	sched.Stop(shutdownCtx)
	return e.Shutdown(shutdownCtx)
}
