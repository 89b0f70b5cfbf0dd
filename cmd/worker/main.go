package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/suPer8Hu/echoroom/internal/chat"
	"github.com/suPer8Hu/echoroom/internal/config"
	"github.com/suPer8Hu/echoroom/internal/db"
	"github.com/suPer8Hu/echoroom/internal/logging"
	"github.com/suPer8Hu/echoroom/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env).With().Str("component", "worker").Logger()

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("RABBIT_URL is required for the worker")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect")
	}

	recorder := chat.NewActivityRecorder(chat.NewRepo(gdb))

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, recorder.MessageCreated, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbit consumer")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
	}
}
