package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"account-auth/internal/config"
	"account-auth/internal/db"
	apihttp "account-auth/internal/http"
	"account-auth/internal/notify"
	"account-auth/internal/repository"
	"account-auth/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.LogDevelopment)
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	accountRepo := repository.NewPgAccountRepository(pool)
	hasher := service.NewBcryptHasher(cfg.BcryptCost)
	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTTTL(), cfg.JWTIssuer)

	var limiter service.LoginRateLimiter
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory login limiter", zap.Error(err))
		} else {
			limiter = service.NewRedisLoginRateLimiter(redisClient, cfg.LoginRateWindow(), cfg.LoginRateMax)
		}
		cancel()
	}
	if limiter == nil {
		limiter = service.NewMemoryLoginRateLimiter(cfg.LoginRateWindow(), cfg.LoginRateMax)
	}

	var publisher notify.VerificationPublisher = notify.NewDisabledPublisher("AMQP_URL not configured")
	var amqpPublisher *notify.AMQPPublisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err = notify.NewAMQPPublisher(cfg.AMQPURL, notify.Topology{
			Exchange:   cfg.AMQPExchange,
			Queue:      cfg.AMQPQueue,
			RoutingKey: cfg.AMQPRoutingKey,
		}, cfg.AMQPPublishTimeout(), logger)
		if err != nil {
			logger.Warn("amqp publisher init failed, verification emails disabled", zap.Error(err))
		} else {
			publisher = amqpPublisher
		}
	} else {
		logger.Warn("AMQP_URL not configured, verification emails disabled")
	}

	authSvc := service.NewAuthService(logger, accountRepo, hasher, jwtSvc, publisher,
		service.WithVerificationTTL(cfg.VerificationTTL()),
		service.WithLoginRateLimiter(limiter),
		service.WithMaskAccountState(cfg.MaskAccountState),
	)
	authHandler := apihttp.NewAuthHandler(logger, authSvc)
	router := apihttp.NewRouter(logger, authHandler, jwtSvc, func(ctx context.Context) error {
		return db.Ping(ctx, pool)
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var closeErr error
	closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	if amqpPublisher != nil {
		closeErr = multierr.Append(closeErr, amqpPublisher.Close())
	}
	if redisClient != nil {
		closeErr = multierr.Append(closeErr, redisClient.Close())
	}
	if closeErr != nil {
		logger.Warn("shutdown finished with errors", zap.Error(closeErr))
	}
}

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return logger
}
