package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/echoroom/internal/chat"
	"github.com/suPer8Hu/echoroom/internal/config"
	"github.com/suPer8Hu/echoroom/internal/db"
	"github.com/suPer8Hu/echoroom/internal/httpapi"
	"github.com/suPer8Hu/echoroom/internal/identity"
	"github.com/suPer8Hu/echoroom/internal/logging"
	"github.com/suPer8Hu/echoroom/internal/socket"
	"github.com/suPer8Hu/echoroom/internal/store/rabbitmq"
	"github.com/suPer8Hu/echoroom/internal/store/redisstore"
	"github.com/suPer8Hu/echoroom/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := tracing.Setup(cfg.OTelStdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect")
	}
	repo := chat.NewRepo(gdb)
	if err := chat.SeedRooms(ctx, repo); err != nil {
		logger.Fatal().Err(err).Msg("seed rooms")
	}

	// no traffic without knowing every room's persisted maximum
	seq := chat.NewAllocator()
	if err := seq.Bootstrap(ctx, repo); err != nil {
		logger.Fatal().Err(err).Msg("sequence bootstrap")
	}

	opts := chat.Options{
		BacklogSize:   cfg.BacklogSize,
		MaxTextLength: cfg.MaxMessageLength,
		Logger:        logger.With().Str("component", "chat").Logger(),
	}
	if cfg.SeedDemoContent {
		opts.Seeder = chat.NewDemoSeeder(gdb)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect")
		}
		defer client.Close()
		opts.Cache = redisstore.New(client, cfg.BacklogSize, 0)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("backlog cache enabled")
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbit publisher")
		}
		defer pub.Close()
		opts.Activity = pub
		logger.Info().Str("queue", cfg.RabbitQueue).Msg("publishing room activity")
	} else {
		opts.Activity = chat.NewActivityRecorder(repo)
	}

	svc := chat.NewService(repo, chat.NewResolver(repo), seq, chat.NewHub(), opts)
	binder := identity.NewBinder(
		identity.NewJWTVerifier(cfg.JWTSecret, identity.NewGormUsers(gdb)),
		logger.With().Str("component", "identity").Logger(),
	)
	gw := socket.NewGateway(svc, binder, logger.With().Str("component", "socket").Logger(), originHost(cfg.CORSOrigin))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(gdb, cfg, svc, gw, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}
}

// originHost turns "http://localhost:5173" into the host pattern the
// websocket origin check expects.
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
