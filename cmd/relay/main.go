package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"labcase/internal/config"
	"labcase/internal/relay"
	"labcase/internal/relay/activecache"
	"labcase/internal/relay/apiclient"
)

func main() {
	cfg := config.Load()

	if cfg.Relay.BotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.Relay.RedisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := apiclient.New(cfg.Relay.APIBaseURL)

	cache, err := activecache.New(cfg.Relay.RedisURL, time.Duration(cfg.Relay.CacheTTLSec)*time.Second)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer cache.Close()

	bot, err := relay.NewBot(cfg.Relay.BotToken, client, cache)
	if err != nil {
		log.Fatalf("failed to start bot: %v", err)
	}

	if err := bot.Run(ctx); err != nil {
		log.Fatalf("bot stopped: %v", err)
	}
}
