package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"account-auth/internal/config"
	"account-auth/internal/email"
	"account-auth/internal/notify"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadMailerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.LogDevelopment {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
	if err != nil {
		logger.Fatal("smtp sender init", zap.Error(err))
	}
	mailer, err := email.NewLinkMailer(sender, cfg.VerifyBaseURL, logger)
	if err != nil {
		logger.Fatal("verify base url", zap.Error(err))
	}

	consumer, err := notify.NewConsumer(cfg.AMQPURL, notify.Topology{
		Exchange:   cfg.AMQPExchange,
		Queue:      cfg.AMQPQueue,
		RoutingKey: cfg.AMQPRoutingKey,
	}, logger)
	if err != nil {
		logger.Fatal("amqp consumer init", zap.Error(err))
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Warn("amqp consumer close", zap.Error(err))
		}
	}()

	logger.Info("mailer consuming", zap.String("queue", cfg.AMQPQueue))
	err = consumer.Run(ctx, func(ctx context.Context, msg notify.VerificationMessage) error {
		return mailer.Deliver(ctx, msg.Email, msg.Token)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
	}
}
