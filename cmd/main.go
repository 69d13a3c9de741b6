package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JJ-Intelligence/duel-lobby/pkg/config"
	"github.com/JJ-Intelligence/duel-lobby/pkg/ratelimit"
	"github.com/JJ-Intelligence/duel-lobby/pkg/server"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var dev = flag.Bool("dev", false, "Use human readable development logging")

// newLimiter shares rate limit counters through Redis when an address is
// configured and keeps them in memory otherwise.
func newLimiter(ctx context.Context, log *zap.Logger, cfg config.RateLimit) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		limiter := ratelimit.NewMemoryLimiter(cfg.Max, cfg.Window)
		go limiter.RunPruner(ctx)
		return limiter
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unavailable, rate limiting will fail open",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return ratelimit.NewRedisLimiter(log.Named("ratelimit"), client, "connect", cfg.Max, cfg.Window)
}

func main() {
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	var log *zap.Logger
	if *dev {
		log, _ = zap.NewDevelopment()
	} else {
		log, _ = zap.NewProduction()
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start-up the server
	s, err := server.NewServer(log, cfg, newLimiter(ctx, log, cfg.RateLimit))
	if err != nil {
		log.Fatal("Unable to create server", zap.Error(err))
	}
	log.Info(fmt.Sprintf("Starting server on port %s", cfg.Port),
		zap.String("roomMode", cfg.Rooms.Mode))
	if err := s.Run(ctx); err != nil {
		log.Fatal("Server stopped", zap.Error(err))
	}
	log.Info("Server exited")
}
