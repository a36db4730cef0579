package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"casino-tx-relay/internal/api"
	"casino-tx-relay/internal/archive"
	"casino-tx-relay/internal/chain"
	"casino-tx-relay/internal/config"
	"casino-tx-relay/internal/nft"
	"casino-tx-relay/internal/ratelimit"
	"casino-tx-relay/internal/relay"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	var store *archive.Store
	if cfg.PostgresDSN != "" {
		var err error
		store, err = archive.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer store.Close()
		if err := store.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
	}

	var publisher nft.Publisher
	if cfg.S3Bucket != "" {
		p, err := nft.NewS3Publisher(ctx, cfg.S3Bucket, cfg.S3BaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("init s3 publisher")
		}
		publisher = p
	}
	pipeline := nft.NewPipeline(publisher, cfg.SnapshotEdge, cfg.SnapshotLimit, log)

	// Missing relayer key is a supported degraded mode: the queue accepts
	// operations but dispatches nothing.
	var submitter relay.Submitter
	if cfg.RelayerKey != "" {
		client, err := chain.New(chain.Config{
			RPCURL:         cfg.RPCURL,
			ChainID:        cfg.ChainID,
			PrivateKey:     cfg.RelayerKey,
			GameLogAddr:    cfg.GameLogAddr,
			GameNFTAddr:    cfg.GameNFTAddr,
			GasLimit:       cfg.GasLimit,
			ConfirmTimeout: cfg.ConfirmTimeout,
		}, pipeline, log)
		if err != nil {
			log.Fatal().Err(err).Msg("init chain client")
		}
		defer client.Close()
		submitter = client
		log.Info().Str("relayer", client.From().Hex()).Int64("chain_id", cfg.ChainID).Msg("chain client ready")
	} else {
		log.Warn().Msg("no relayer key configured, queue runs in degraded mode")
	}

	var queueArchive relay.Archive
	if store != nil {
		queueArchive = store
	}
	queue := relay.New(relay.Options{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		Retention:   cfg.RetentionWindow,
	}, submitter, queueArchive, log)
	defer queue.Close()

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.New(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	var history api.Historian
	if store != nil {
		history = store
	}
	server := api.New(queue, limiter, history, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("relay listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("relay stopped")
}
